package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go-micro.dev/v4/server"
	"go.uber.org/zap"

	fcfg "github.com/awaketai/urlfrontier/internal/config"
	"github.com/awaketai/urlfrontier/internal/frontier"
	"github.com/awaketai/urlfrontier/internal/rpcapi"
)

// RunHTTPServer serves the read-only control operations, plus
// Checkpoint (POST /v1/checkpoint), as REST/JSON,
// using grpc-gateway's runtime.ServeMux the way teacher server/http.go
// wires generated Gw endpoints. spec.md §1 puts wire-protocol code
// generation out of scope, so there is no protoc-gen-grpc-gateway
// output to register a reverse proxy against; instead the mux's routes
// are hand-registered directly onto rpcapi.Service, in-process, the
// same object the gRPC server dispatches to.
func RunHTTPServer(logger *zap.Logger, cfg fcfg.ServerConfig, engine *frontier.Engine) error {
	mux := runtime.NewServeMux()
	svc := rpcapi.NewService(engine, logger)

	mustHandle(mux, http.MethodGet, "/v1/crawls", handleListCrawls(svc))
	mustHandle(mux, http.MethodGet, "/v1/crawls/{crawl_id}/queues", handleListQueues(svc))
	mustHandle(mux, http.MethodGet, "/v1/crawls/{crawl_id}/stats", handleGetStats(svc))
	mustHandle(mux, http.MethodGet, "/v1/nodes", handleListNodes(svc))
	mustHandle(mux, http.MethodPost, "/v1/checkpoint", handleCheckpoint(svc))

	logger.Info("starting frontier http server",
		zap.String("addr", cfg.HTTPListenAddress),
		zap.String("proxy_to", cfg.GRPCListenAddress),
	)
	return http.ListenAndServe(cfg.HTTPListenAddress, mux)
}

func mustHandle(mux *runtime.ServeMux, method, pattern string, h runtime.HandlerFunc) {
	if err := mux.HandlePath(method, pattern, h); err != nil {
		zap.L().Fatal("register http route failed", zap.String("pattern", pattern), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func handleListCrawls(svc *rpcapi.Service) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		var rsp rpcapi.ListCrawlsResponse
		if err := svc.ListCrawls(r.Context(), &rpcapi.ListCrawlsRequest{}, &rsp); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rsp)
	}
}

func handleListQueues(svc *rpcapi.Service) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))
		req := &rpcapi.ListQueuesRequest{CrawlID: params["crawl_id"], IncludeInactive: includeInactive}

		var queues []rpcapi.QueueStatsWire
		stream := &collectingStream{onSend: func(v interface{}) { queues = append(queues, *v.(*rpcapi.QueueStatsWire)) }}
		if err := svc.ListQueues(r.Context(), req, stream); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"queues": queues})
	}
}

func handleGetStats(svc *rpcapi.Service) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		var rsp rpcapi.GetStatsResponse
		if err := svc.GetStats(r.Context(), &rpcapi.GetStatsRequest{CrawlID: params["crawl_id"]}, &rsp); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rsp)
	}
}

func handleListNodes(svc *rpcapi.Service) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		var rsp rpcapi.ListNodesResponse
		if err := svc.ListNodes(r.Context(), &rpcapi.ListNodesRequest{}, &rsp); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rsp)
	}
}

func handleCheckpoint(svc *rpcapi.Service) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		var rsp rpcapi.CheckpointResponse
		if err := svc.Checkpoint(r.Context(), &rpcapi.CheckpointRequest{}, &rsp); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rsp)
	}
}

// collectingStream is a server.Stream stub used to drive
// Service.ListQueues from an HTTP handler that has no real gRPC
// stream to send on: it forwards every Send call to onSend instead of
// writing to a wire connection.
type collectingStream struct {
	onSend func(v interface{})
}

func (s *collectingStream) Send(v interface{}) error {
	s.onSend(v)
	return nil
}
func (s *collectingStream) Recv(v interface{}) error   { return errNoInboundMessages }
func (s *collectingStream) Close() error               { return nil }
func (s *collectingStream) Context() context.Context   { return context.Background() }
func (s *collectingStream) Request() server.Request     { return nil }
func (s *collectingStream) Response() server.Response   { return nil }
func (s *collectingStream) Error() error                { return nil }

var errNoInboundMessages = errors.New("collectingStream: no inbound messages")

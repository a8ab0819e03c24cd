// Package serve runs the frontier as one coordinated service:
// collapsed from the teacher's cmd/master and cmd/worker, which
// started a master (leader-elected, resource-assigning) process and a
// worker (fetching) process separately. spec.md's engine is neither:
// every replica runs the same code and shares one Queue Store, so
// there is exactly one command to start.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-micro/plugins/v4/registry/etcd"
	"go-micro.dev/v4/registry"
	"go.uber.org/zap"

	fcfg "github.com/awaketai/urlfrontier/internal/config"
	"github.com/awaketai/urlfrontier/internal/coordination"
	"github.com/awaketai/urlfrontier/internal/frontier"
	"github.com/awaketai/urlfrontier/internal/logging"
	"github.com/awaketai/urlfrontier/internal/store"
	"github.com/awaketai/urlfrontier/internal/store/memstore"
	"github.com/awaketai/urlfrontier/internal/store/mysqlstore"
	"github.com/awaketai/urlfrontier/server"
)

// Run loads config.toml, assembles the frontier engine, and serves it
// over gRPC and REST until interrupted.
func Run() error {
	cfg, err := fcfg.LoadServerConfig()
	if err != nil {
		return err
	}

	logger, closer, err := logging.FromServerConfig(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	logger.Info("frontier starting", zap.String("id", cfg.ID), zap.String("store", cfg.StoreBackend))

	ctx := context.Background()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	var node *coordination.Node
	if len(cfg.EtcdEndpoints) > 0 {
		node, err = coordination.New(cfg.GRPCListenAddress,
			coordination.WithLogger(logger),
			coordination.WithEtcdEndpoints(cfg.EtcdEndpoints...),
			coordination.WithElectionKey(cfg.ElectionKey),
			coordination.WithSessionTTL(cfg.SessionTTL),
			coordination.WithNodeNumber(cfg.NodeNumber),
		)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := node.Campaign(ctx); err != nil && ctx.Err() == nil {
				logger.Error("coordination campaign stopped", zap.Error(err))
			}
		}()
	}

	engine, err := frontier.New(ctx, st, node, frontier.Config{
		DefaultMinDelay:         cfg.MinDelay(),
		DefaultMaxQueueSize:     cfg.DefaultMaxQueueSize,
		IngestOutstandingLimit:  cfg.IngestOutstandingLimit,
		DefaultMaxURLs:          cfg.DefaultMaxURLs,
		DefaultMaxQueues:        cfg.DefaultMaxQueues,
		DefaultDelayRequestable: cfg.DelayRequestable(),
		FetchDeadline:           cfg.FetchDeadline(),
	}, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	reg := etcd.NewRegistry(registry.Addrs(cfg.RegistryAddress))

	go func() {
		if err := server.RunHTTPServer(logger, cfg, engine); err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := server.RunGRPCServer(logger, cfg, reg, engine); err != nil {
			logger.Fatal("grpc server stopped", zap.Error(err))
		}
	}()

	quitCh := make(chan os.Signal, 1)
	signal.Notify(quitCh, os.Interrupt, syscall.SIGTERM)
	<-quitCh
	logger.Info("frontier shutting down")
	return nil
}

func openStore(cfg fcfg.ServerConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case "mysql":
		return mysqlstore.New(context.Background(), mysqlstore.WithLogger(logger), mysqlstore.WithDSN(cfg.MySQLDSN))
	default:
		return memstore.New(), nil
	}
}

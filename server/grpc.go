package server

import (
	"time"

	"github.com/go-micro/plugins/v4/server/grpc"
	"go-micro.dev/v4"
	"go-micro.dev/v4/client"
	"go-micro.dev/v4/registry"
	"go-micro.dev/v4/server"
	"go.uber.org/zap"

	fcfg "github.com/awaketai/urlfrontier/internal/config"
	"github.com/awaketai/urlfrontier/internal/frontier"
	"github.com/awaketai/urlfrontier/internal/rpcapi"
	"github.com/awaketai/urlfrontier/middleware"
)

// RunGRPCServer starts the frontier's gRPC service: PutURLs/GetURLs
// streams plus the C6 control operations, all dispatched through
// engine.
func RunGRPCServer(logger *zap.Logger, cfg fcfg.ServerConfig, reg registry.Registry, engine *frontier.Engine) error {
	svc := micro.NewService(
		micro.Server(grpc.NewServer(
			server.Id(cfg.ID),
		)),
		micro.Address(cfg.GRPCListenAddress),
		micro.Registry(reg),
		micro.RegisterTTL(time.Duration(cfg.RegisterTTL)*time.Second),
		micro.RegisterInterval(time.Duration(cfg.RegisterInterval)*time.Second),
		micro.WrapHandler(middleware.LogWrapper(logger)),
		micro.Name(cfg.Name),
	)

	if err := svc.Client().Init(client.RequestTimeout(time.Duration(cfg.ClientTimeOut) * time.Second)); err != nil {
		logger.Error("micro client init failed", zap.Error(err))
		return err
	}

	svc.Init()

	if err := rpcapi.RegisterURLFrontierHandler(svc.Server(), rpcapi.NewService(engine, logger)); err != nil {
		logger.Error("register url frontier handler failed", zap.Error(err))
		return err
	}

	return svc.Run()
}

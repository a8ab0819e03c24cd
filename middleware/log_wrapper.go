package middleware

import (
	"context"

	"go-micro.dev/v4/server"
	"go.uber.org/zap"
)

// LogWrapper logs every inbound call the frontier service handles,
// unary or streaming. PutURLs and GetURLs (internal/rpcapi) are
// bidirectional streams: the go-micro grpc plugin invokes the same
// HandlerFunc chain for them, but rsp arrives as the server.Stream
// itself rather than a decoded response pointer, and req.Body() holds
// nothing worth dumping for a stream open. Those calls get a shorter
// log line instead of zap.Reflect-ing an empty body.
func LogWrapper(log *zap.Logger) server.HandlerWrapper {
	return func(hf server.HandlerFunc) server.HandlerFunc {
		return func(ctx context.Context, req server.Request, rsp interface{}) error {
			if _, streaming := rsp.(server.Stream); streaming {
				log.Info("receive stream",
					zap.String("method", req.Method()),
					zap.String("service", req.Service()),
				)
				return hf(ctx, req, rsp)
			}

			log.Info("receive request",
				zap.String("method", req.Method()),
				zap.String("service", req.Service()),
				zap.Reflect("request params", req.Body()),
			)
			err := hf(ctx, req, rsp)
			return err
		}
	}
}

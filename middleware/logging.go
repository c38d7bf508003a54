package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// WithAccessLog logs who is executing what before the chain proceeds.
func WithAccessLog(log *zap.Logger) Middleware {
	return func(ctx context.Context, req *Request, next Next) (any, error) {
		log.Info("access",
			zap.String("identity", req.Identity),
			zap.String("model", req.Model),
			zap.String("operation", req.Op),
		)
		return next(ctx, req)
	}
}

// WithTiming logs the duration and outcome of the operation.
func WithTiming(log *zap.Logger) Middleware {
	return func(ctx context.Context, req *Request, next Next) (any, error) {
		start := time.Now()
		res, err := next(ctx, req)
		log.Info("operation finished",
			zap.String("identity", req.Identity),
			zap.String("model", req.Model),
			zap.String("operation", req.Op),
			zap.Duration("took", time.Since(start)),
			zap.Bool("rejected", err != nil),
		)
		return res, err
	}
}

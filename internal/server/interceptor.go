package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/entolabel/specimen-digitizer/internal/common"
)

// UnaryRequestID tags every unary call with a request ID and logs the
// call outcome. Downstream model calls pick the ID up from the context
// so their log lines correlate with the RPC that triggered them.
func UnaryRequestID(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		rid := uuid.New().String()
		ctx = common.WithRequestID(ctx, rid)

		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start).Milliseconds()

		if err != nil {
			logger.Error("grpc.request",
				"method", info.FullMethod,
				"req_id", rid,
				"elapsed_ms", elapsed,
				"error", err)
			return resp, err
		}
		logger.Info("grpc.request",
			"method", info.FullMethod,
			"req_id", rid,
			"elapsed_ms", elapsed)
		return resp, nil
	}
}

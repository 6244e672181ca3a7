package interceptors

import (
	"context"
	"log/slog"
	"runtime/debug"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pribylovaa/command-my-startup/internal/pkg/log"
)

// Recover перехватывает панику в обработчике, логирует метод и стек
// и отвечает клиенту codes.Internal без деталей.
// Логгер из контекста предпочтительнее base.
func Recover(base *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		l := log.From(ctx)
		if l == slog.Default() && base != nil {
			l = base
		}

		defer func() {
			if r := recover(); r != nil {
				l.Error("panic_recovered",
					slog.String("method", info.FullMethod),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)

				err = status.Error(codes.Internal, "internal server error")
				resp = nil
			}
		}()

		return handler(ctx, req)
	}
}

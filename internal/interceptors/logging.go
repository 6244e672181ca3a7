// interceptors — серверные unary-интерсепторы gRPC: recover, логирование, таймаут.
package interceptors

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/pribylovaa/command-my-startup/internal/pkg/log"
)

// Успешные вызовы health-сервиса пишутся уровнем debug.
const healthPrefix = "/grpc.health.v1.Health/"

// UnaryLoggingInterceptor логирует unary-вызовы и кладёт обогащённый логгер в context.
//
// Формат: одна запись msg="grpc" с request_id (из x-request-id или новый UUID),
// method, peer, code и dur.
func UnaryLoggingInterceptor(base *slog.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = slog.Default()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		var rid string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("x-request-id"); len(v) > 0 && v[0] != "" {
				rid = v[0]
			}
		}
		if rid == "" {
			rid = uuid.NewString()
		}

		peerStr := "-"
		if p, ok := peer.FromContext(ctx); ok && p != nil && p.Addr != nil {
			peerStr = p.Addr.String()
		}

		l := base.With(
			slog.String("request_id", rid),
			slog.String("method", info.FullMethod),
			slog.String("peer", peerStr),
		)
		ctx = log.Into(ctx, l)

		resp, err := handler(ctx, req)

		level := slog.LevelInfo
		if err == nil && strings.HasPrefix(info.FullMethod, healthPrefix) {
			level = slog.LevelDebug
		}

		l.LogAttrs(ctx, level, "grpc",
			slog.String("code", status.Code(err).String()),
			slog.Duration("dur", time.Since(start)),
		)

		return resp, err
	}
}

// transport/grpc поднимает gRPC-порт сервиса для оркестратора.
// Бизнес-RPC здесь нет: порт обслуживает grpc.health.v1 и рефлексию,
// а статусы выставляет Watchdog по результатам проверок зависимостей.
//
// Статусы health:
//   - "" — общий статус: SERVING, пока живы все критичные зависимости;
//   - имя проверки ("postgres", "redis", ...) — статус конкретной зависимости.
//
// Некритичная зависимость (Redis при включённом in-process fallback лимитера)
// меняет только собственный статус, общий остаётся SERVING.
package grpc

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pribylovaa/command-my-startup/internal/interceptors"
)

// ServerOptions — параметры gRPC-сервера.
type ServerOptions struct {
	Logger *slog.Logger
	// Timeout — дедлайн unary-вызова; 0 — без дедлайна.
	Timeout time.Duration
	// Reflection включается только в local/dev.
	Reflection bool
}

// NewServer собирает grpc.Server с интерсепторами и health-сервисом.
// Метрики go-grpc-prometheus регистрируются в prometheus.DefaultRegisterer.
func NewServer(opts ServerOptions) (*grpc.Server, *health.Server) {
	grpc_prometheus.EnableHandlingTimeHistogram()

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			interceptors.Recover(opts.Logger),
			interceptors.UnaryLoggingInterceptor(opts.Logger),
			interceptors.WithTimeout(opts.Timeout),
			grpc_prometheus.UnaryServerInterceptor,
		),
		grpc.ChainStreamInterceptor(
			grpc_prometheus.StreamServerInterceptor,
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	if opts.Reflection {
		reflection.Register(srv)
	}

	grpc_prometheus.Register(srv)

	return srv, hs
}

// CheckFunc проверяет доступность одной зависимости.
type CheckFunc func(ctx context.Context) error

// Check — именованная проверка зависимости.
type Check struct {
	Name     string
	Probe    CheckFunc
	Critical bool
}

// Watchdog периодически опрашивает зависимости и публикует статусы в health.Server.
type Watchdog struct {
	hs      *health.Server
	checks  []Check
	timeout time.Duration
	log     *slog.Logger

	ready    atomic.Bool
	draining atomic.Bool
}

// NewWatchdog создаёт сторож; timeout ограничивает одну проверку.
func NewWatchdog(hs *health.Server, log *slog.Logger, timeout time.Duration, checks ...Check) *Watchdog {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &Watchdog{hs: hs, checks: checks, timeout: timeout, log: log}
}

// Ready — результат последнего CheckOnce (для HTTP /healthz).
func (w *Watchdog) Ready() bool { return w.ready.Load() }

// CheckOnce выполняет все проверки и обновляет статусы. Возвращает общий статус.
func (w *Watchdog) CheckOnce(ctx context.Context) bool {
	if w.draining.Load() {
		return false
	}

	ok := true
	for _, c := range w.checks {
		cctx, cancel := context.WithTimeout(ctx, w.timeout)
		err := c.Probe(cctx)
		cancel()

		st := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			if c.Critical {
				ok = false
			}
			w.log.Warn("dependency_unhealthy",
				slog.String("dependency", c.Name),
				slog.Bool("critical", c.Critical),
				slog.String("err", err.Error()),
			)
		}
		w.hs.SetServingStatus(c.Name, st)
	}

	if w.draining.Load() {
		return false
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if !ok {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	w.hs.SetServingStatus("", overall)

	if prev := w.ready.Swap(ok); prev != ok {
		w.log.Info("readiness_changed", slog.Bool("ready", ok))
	}

	return ok
}

// Run вызывает CheckOnce сразу и затем каждые every до отмены ctx.
func (w *Watchdog) Run(ctx context.Context, every time.Duration) {
	w.CheckOnce(ctx)
	if every <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				w.CheckOnce(ctx)
			}
		}
	}()
}

// Drain переводит все статусы в NOT_SERVING перед остановкой.
// Последующие проверки статусы не возвращают.
func (w *Watchdog) Drain() {
	w.draining.Store(true)
	w.ready.Store(false)
	w.hs.Shutdown()
}

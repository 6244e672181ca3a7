package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/pribylovaa/command-my-startup/internal/ai"
	"github.com/pribylovaa/command-my-startup/internal/billing"
	"github.com/pribylovaa/command-my-startup/internal/cache"
	"github.com/pribylovaa/command-my-startup/internal/config"
	gwhttp "github.com/pribylovaa/command-my-startup/internal/http"
	"github.com/pribylovaa/command-my-startup/internal/http/handlers"
	"github.com/pribylovaa/command-my-startup/internal/identity"
	"github.com/pribylovaa/command-my-startup/internal/identity/google"
	"github.com/pribylovaa/command-my-startup/internal/identity/supabase"
	"github.com/pribylovaa/command-my-startup/internal/metrics"
	"github.com/pribylovaa/command-my-startup/internal/models"
	logctx "github.com/pribylovaa/command-my-startup/internal/pkg/log"
	"github.com/pribylovaa/command-my-startup/internal/ratelimit"
	"github.com/pribylovaa/command-my-startup/internal/ratelimit/memory"
	rlredis "github.com/pribylovaa/command-my-startup/internal/ratelimit/redis"
	"github.com/pribylovaa/command-my-startup/internal/service"
	"github.com/pribylovaa/command-my-startup/internal/storage"
	"github.com/pribylovaa/command-my-startup/internal/storage/minio"
	"github.com/pribylovaa/command-my-startup/internal/storage/mongo"
	"github.com/pribylovaa/command-my-startup/internal/storage/postgres"
	"github.com/pribylovaa/command-my-startup/internal/token"
	transport "github.com/pribylovaa/command-my-startup/internal/transport/grpc"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", "env", cfg.Env)

	// Корневой контекст по сигналам; логгер доступен всем конструкторам через ctx.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	rootCtx = logctx.Into(rootCtx, log)

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("service_failed", slog.String("err", err.Error()))
		rootCancel()
		os.Exit(1)
	}

	rootCancel()
	log.Info("service_stopped")
}

// run собирает зависимости, поднимает HTTP и gRPC и ждёт сигнала остановки.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// Подключение к БД c таймаутом.
	dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second)
	pg, err := postgres.New(dbCtx, cfg.DB.DatabaseURL)
	dbCancel()
	if err != nil {
		return err
	}
	defer pg.Close()
	log.Info("postgres_connected")

	if cfg.DB.Migrate {
		mctx, mcancel := context.WithTimeout(ctx, 30*time.Second)
		n, err := pg.Migrate(mctx)
		mcancel()
		if err != nil {
			return err
		}
		log.Info("migrations_applied", slog.Int("count", n))
	}

	checks := []transport.Check{{Name: "postgres", Probe: pg.Ping, Critical: true}}

	// История: postgres по умолчанию или mongo.
	var history storage.HistoryStorage = pg
	if cfg.History.Driver == "mongo" {
		mctx, mcancel := context.WithTimeout(ctx, 10*time.Second)
		mg, err := mongo.New(mctx, cfg.History.MongoURL)
		mcancel()
		if err != nil {
			return err
		}
		defer func() { _ = mg.Close(context.Background()) }()

		history = mg
		checks = append(checks, transport.Check{Name: "mongo", Probe: mg.Ping, Critical: true})
		log.Info("mongo_connected")
	}

	// Redis необязателен: без него лимитер и denylist живут в процессе.
	var rdb *goredis.Client
	if cfg.Redis.RedisURL != "" {
		rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, err = cache.Connect(rctx, cfg.Redis.RedisURL)
		rcancel()
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()

		checks = append(checks, transport.Check{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		log.Info("redis_connected")
	}

	var revocations cache.Revocations
	if rdb != nil {
		revocations = cache.NewRedisRevocations(rdb, cfg.Redis.Prefix)
	} else {
		mem := cache.NewMemoryRevocations()
		startSweeper(ctx, "revocations", mem.Sweep, log, 10*time.Minute)
		revocations = mem
		log.Warn("revocations_in_memory")
	}

	reg := prometheus.DefaultRegisterer
	m := metrics.New(reg)

	codec, err := token.New(cfg.Auth)
	if err != nil {
		return err
	}

	deps := service.Deps{
		Users:       pg,
		Keys:        pg,
		History:     history,
		Revocations: revocations,
		Codec:       codec,
		AI:          ai.NewRouter(ctx, cfg.AI),
	}

	// Avatars/Billing присваиваются только если сконфигурированы:
	// nil-указатель в интерфейсе сервис считал бы включённой функцией.
	if cfg.S3.Endpoint != "" {
		sctx, scancel := context.WithTimeout(ctx, 10*time.Second)
		avatars, err := minio.New(sctx, cfg.S3)
		scancel()
		if err != nil {
			return err
		}
		deps.Avatars = avatars
		log.Info("minio_connected", slog.String("bucket", cfg.S3.Bucket))
	}

	if cfg.Stripe.APIKey != "" || cfg.Stripe.WebhookSecret != "" {
		deps.Billing = billing.New(cfg.Stripe, nil)
	}

	svc := service.New(deps)
	log.Info("service_initialized")

	resolver := identity.New(pg, pg, buildVerifiers(ctx, cfg, codec, log),
		identity.WithObserver(func(method models.AuthMethod, outcome identity.Outcome) {
			m.AuthResolution(string(method), string(outcome))
		}),
	)

	opts := gwhttp.Options{
		Logger:      log,
		Timeout:     cfg.Timeouts.Service,
		Resolver:    resolver,
		Metrics:     m,
		TrustProxy:  cfg.HTTP.TrustProxy,
		CORSOrigins: cfg.CORS.Origins,
		HSTS:        cfg.Env == envProd,
		Cookies: handlers.CookieOptions{
			Secure: cfg.Auth.CookieSecure,
			Domain: cfg.Auth.CookieDomain,
		},
	}
	if cfg.RateLimit.Enabled {
		opts.Limiter = buildLimiter(ctx, cfg, rdb, m)
		opts.Policy = ratelimit.NewPolicy(cfg.RateLimit)
		if cfg.RateLimit.RecordStats && rdb != nil {
			opts.Stats = rlredis.NewStatsStore(rdb,
				rlredis.WithStatsPrefix(cfg.Redis.Prefix),
				rlredis.WithStatsTimeout(cfg.Timeouts.Store),
			)
		}
	} else {
		log.Warn("rate_limit_disabled")
	}

	// gRPC: health + рефлексия в local/dev.
	grpcServer, hs := transport.NewServer(transport.ServerOptions{
		Logger:     log,
		Timeout:    cfg.Timeouts.Service,
		Reflection: cfg.Env == envLocal || cfg.Env == envDev,
	})
	watchdog := transport.NewWatchdog(hs, log, 2*time.Second, checks...)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if watchdog.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})

	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", gwhttp.NewRouter(svc, opts))

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	addr := cfg.GRPC.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("grpc_listen_failed",
			slog.String("addr", addr),
			slog.String("err", err.Error()),
		)
		return err
	}
	log.Info("grpc_listen_start", slog.String("addr", addr))

	serveErrCh := make(chan error, 2)
	go func() {
		log.Info("http_listen_start", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
	}()
	go func() {
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErrCh <- err
		}
	}()

	// Первый прогон проверок синхронный: readiness выставляется по факту.
	watchdog.Run(ctx, 15*time.Second)

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown_requested")
	case serveErr = <-serveErrCh:
		log.Error("serve_failed", slog.String("err", serveErr.Error()))
	}

	// Переводим в NOT_SERVING и снимаем ready.
	watchdog.Drain()

	shutdown(log, grpcServer, httpSrv)

	return serveErr
}

// shutdown останавливает gRPC и HTTP с общим таймаутом 10s.
func shutdown(log *slog.Logger, grpcServer *grpc.Server, httpSrv *http.Server) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc_stopped")
	case <-shutdownCtx.Done():
		log.Warn("grpc_force_stop")
		grpcServer.Stop()
	}

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_failed", slog.String("err", err.Error()))
	}
}

// buildVerifiers собирает цепочку проверки токенов:
// собственный кодек, затем Supabase (JWKS или удалённый запрос), затем Google.
func buildVerifiers(ctx context.Context, cfg *config.Config, codec *token.Codec, log *slog.Logger) []identity.Verifier {
	chain := []identity.Verifier{identity.NewLocalVerifier(codec)}

	switch {
	case cfg.Supabase.JWKSURL != "":
		p, err := supabase.NewJWKSProvider(ctx, cfg.Supabase)
		if err != nil {
			log.Warn("supabase_jwks_disabled", slog.String("err", err.Error()))
			break
		}

		wctx, wcancel := context.WithTimeout(ctx, cfg.Supabase.HTTPTimeout)
		if err := p.Warmup(wctx); err != nil {
			// Ключи догрузятся при первом запросе.
			log.Warn("supabase_jwks_warmup_failed", slog.String("err", err.Error()))
		}
		wcancel()

		chain = append(chain, identity.NewExternalVerifier("supabase", p))
	case cfg.Supabase.URL != "":
		p, err := supabase.NewRemoteProvider(cfg.Supabase, nil)
		if err != nil {
			log.Warn("supabase_remote_disabled", slog.String("err", err.Error()))
			break
		}
		chain = append(chain, identity.NewExternalVerifier("supabase", p))
	}

	if cfg.Google.ClientID != "" {
		p, err := google.New(cfg.Google.ClientID)
		if err != nil {
			log.Warn("google_disabled", slog.String("err", err.Error()))
		} else {
			chain = append(chain, identity.NewExternalVerifier("google", p))
		}
	}

	names := make([]string, 0, len(chain))
	for _, v := range chain {
		names = append(names, v.Name())
	}
	log.Info("verifier_chain", slog.Any("verifiers", names))

	return chain
}

// buildLimiter: общий счётчик в Redis с ограниченной in-process таблицей
// на случай его недоступности; без Redis — только таблица.
func buildLimiter(ctx context.Context, cfg *config.Config, rdb *goredis.Client, m *metrics.Metrics) *ratelimit.Limiter {
	local := memory.New(
		memory.WithMaxEntries(cfg.RateLimit.FallbackMaxEntries),
		memory.WithEvictHook(m.RateLimitEviction),
	)
	local.StartJanitor(ctx, cfg.RateLimit.FallbackSweep)

	if rdb == nil {
		return ratelimit.NewLimiter(local)
	}

	shared := rlredis.New(rdb,
		rlredis.WithPrefix(cfg.Redis.Prefix),
		rlredis.WithTimeout(cfg.Timeouts.Store),
	)

	return ratelimit.NewLimiter(ratelimit.NewFailoverStore(shared, local,
		ratelimit.WithFallbackHook(m.RateLimitFallback),
	))
}

// startSweeper периодически вызывает sweep до отмены ctx.
func startSweeper(ctx context.Context, name string, sweep func() int, log *slog.Logger, period time.Duration) {
	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := sweep(); n > 0 {
					log.Debug("sweep_done", slog.String("table", name), slog.Int("removed", n))
				}
			}
		}
	}()
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}

package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	backendadapter "github.com/cxdexx/codex-passport/internal/adapters/backend"
	cacheadapter "github.com/cxdexx/codex-passport/internal/adapters/cache"
	eventadapter "github.com/cxdexx/codex-passport/internal/adapters/events"
	grpcadapter "github.com/cxdexx/codex-passport/internal/adapters/grpc"
	httpadapter "github.com/cxdexx/codex-passport/internal/adapters/http"
	"github.com/cxdexx/codex-passport/internal/adapters/postgres"
	"github.com/cxdexx/codex-passport/internal/adapters/security"
	"github.com/cxdexx/codex-passport/internal/application"
	"github.com/cxdexx/codex-passport/internal/ports"
)

// stores bundles the stateful connections so readiness checks and shutdown
// share one place that knows about all of them. Fields fill in as
// construction progresses; close tolerates a half-built set.
type stores struct {
	sqlDB    *sql.DB
	redis    *redis.Client
	closePub func() error
}

func (s *stores) ready(ctx context.Context) error {
	if err := s.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (s *stores) close() {
	if s.closePub != nil {
		_ = s.closePub()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.sqlDB != nil {
		_ = s.sqlDB.Close()
	}
}

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcAddr   string
	outbox     *eventadapter.OutboxWorker
	stores     *stores
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	opts := slog.HandlerOptions{Level: slog.LevelInfo}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &opts))
	slog.SetDefault(logger)
	logger.Info("bootstrapping passport gateway", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort)

	st := &stores{}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, err
	}
	st.sqlDB, err = pool.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql pool: %w", err)
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		st.close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	st.redis, err = cacheadapter.Connect(ctx, cfg.RedisURL)
	if err != nil {
		st.close()
		return nil, err
	}
	if err := st.redis.Ping(ctx).Err(); err != nil {
		st.close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	repos := postgres.NewRepositories(pool, postgres.TierLimits{
		Free: cfg.FreeTierLimit,
		Pro:  cfg.ProTierLimit,
	})
	limiter := application.NewRateLimiter(
		cacheadapter.NewRedisCounterStore(st.redis),
		application.RateLimitPolicy{Limit: cfg.IPRateLimit, Window: cfg.IPRateWindow, FailOpen: true},
		application.RateLimitPolicy{Limit: cfg.GlobalRateLimit, Window: cfg.GlobalRateWindow, FailOpen: false},
		logger,
	)

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			RequestType:       "generate",
			MaxSnippetBytes:   cfg.MaxSnippetBytes,
			StreamIdleTimeout: cfg.StreamIdleTimeout,
			StreamMaxDuration: cfg.StreamMaxDuration,
		},
		Ledger:   repos.Ledger,
		Limiter:  limiter,
		Verifier: security.NewEd25519Verifier(cfg.Challenge),
		Hasher:   security.NewBlake3Hasher(),
		Backend: backendadapter.NewClient(backendadapter.Config{
			CompletionURL: cfg.BackendCompletionURL,
			APIKey:        cfg.BackendAPIKey,
			Model:         cfg.BackendModel,
		}),
		Logger: logger,
	})

	handler := httpadapter.NewHandler(svc, st.ready, cfg.WSAllowedOrigins)

	publisher := ports.EventPublisher(eventadapter.NewLoggingPublisher(logger))
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopics)
		if err != nil {
			st.close()
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		publisher = kp
		st.closePub = kp.Close
		logger.Info("kafka publisher enabled", "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("kafka brokers not configured; ledger events will only be logged")
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewPassportInternalServer(svc))

	return &Runtime{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:           httpadapter.NewRouter(handler),
			ReadHeaderTimeout: 5 * time.Second,
		},
		grpcServer: grpcServer,
		grpcAddr:   fmt.Sprintf(":%d", cfg.GRPCPort),
		outbox: eventadapter.NewOutboxWorker(
			logger,
			repos.Outbox,
			publisher,
			cfg.OutboxPollInterval,
			cfg.OutboxBatchSize,
			cfg.OutboxClaimTTL,
			cfg.OutboxMaxRetries,
		),
		stores: st,
	}, nil
}

// RunAPI serves HTTP and gRPC until a signal or a listener error, then
// drains both and closes the stores.
func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Listening here rather than in NewRuntime keeps the worker process off
	// the gRPC port.
	lis, err := net.Listen("tcp", r.grpcAddr)
	if err != nil {
		return fmt.Errorf("listen gRPC: %w", err)
	}

	errCh := make(chan error, 2)
	serve := func(name, addr string, fn func() error) {
		r.logger.Info(name+" listening", "addr", addr)
		go func() {
			if err := fn(); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	serve("http", r.httpServer.Addr, func() error {
		err := r.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	serve("grpc", lis.Addr().String(), func() error {
		return r.grpcServer.Serve(lis)
	})

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown requested")
	case err := <-errCh:
		r.logger.Error("serve error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.stores.close()
	return nil
}

// RunWorker drives the outbox publish loop until a signal arrives.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.logger.Info("outbox worker running", "poll_interval", r.cfg.OutboxPollInterval.String())
	err := r.outbox.Run(ctx)
	r.stores.close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

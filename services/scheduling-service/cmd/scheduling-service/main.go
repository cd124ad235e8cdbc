package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/auth"
	"github.com/md-rashed-zaman/clinicsched/libs/config"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/libs/kafkax"
	otelx "github.com/md-rashed-zaman/clinicsched/libs/otel"
	"github.com/md-rashed-zaman/clinicsched/libs/runtime"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/appointments"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/calendar"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/directory"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/grpcserver"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/stats"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// healthcheck queries the local gRPC health server and returns the process exit code.
func healthcheck(service string, logger *slog.Logger) int {
	port, err := config.Port("GRPC_PORT", "9090")
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := grpcserver.CheckHealth(ctx, "127.0.0.1:"+port, service); err != nil {
		logger.Error("unhealthy", "err", err)
		return 1
	}
	return 0
}

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(healthcheck(service, logger))
	}

	settings, err := loadSettings()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		panic(err)
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	m := metrics.New(service)
	var checks []runtime.ReadyCheck

	var (
		st        store.Store
		calendars calendar.Provider
		patients  directory.Patients
	)
	if settings.DatabaseURL != "" {
		pool, err := db.Open(ctx, settings.DatabaseURL, db.Options{StatementTimeout: settings.StatementTimeout})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		if settings.Migrate {
			if err := storage.Migrate(ctx, pool); err != nil {
				logger.Error("db migration failed", "err", err)
				panic(err)
			}
		}

		outboxRepo := outbox.NewRepository()
		st = storage.NewPostgresStore(pool, outboxRepo)
		calendars = calendar.NewPostgresProvider(pool)
		patients = directory.NewPostgresPatients(pool)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   settings.KafkaBrokers,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
			OnPublish: m.OutboxPublished,
		})
		go publisher.Run(ctx)
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory store and empty calendars")
		st = storage.NewMemoryStore()
		calendars = calendar.NewStaticProvider()
		patients = directory.StaticPatients{}
	}
	if settings.KafkaBrokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(settings.KafkaBrokers)})
	}

	limiter := httpx.NewRateLimiter(settings.RateLimitPerMinute, time.Minute, httpx.PrincipalOrClientKey).Middleware()
	if settings.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     settings.RedisAddr,
			Password: settings.RedisPassword,
			DB:       settings.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
		calendars = calendar.NewCachedProvider(calendars, rdb, settings.CalendarCacheTTL, logger)
		limiter = httpx.NewRedisRateLimiter(rdb, settings.RateLimitPerMinute, time.Minute, "rl:"+service, httpx.PrincipalOrClientKey).
			Middleware(logger, true)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	slots := availability.NewCalculator(calendars, st, settings.Location).WithLeadTime(settings.Rules.MinBookAhead)
	svc := appointments.NewService(appointments.Options{
		Store:     st,
		Validator: booking.NewValidator(settings.Rules, slots),
		Slots:     slots,
		Patients:  patients,
		Metrics:   m,
		Logger:    logger,
	})
	aggregator := stats.NewAggregator(st, slots, nil)
	schedulingHandler := handlers.NewSchedulingHandler(svc, slots, aggregator, logger, settings.Location)

	verifier := auth.Verifier{Secret: settings.JWTSecret}
	if settings.JWKSURL != "" {
		verifier.Keys = auth.NewJWKSClient(settings.JWKSURL, settings.JWKSCacheTTL)
	}
	if !verifier.Enabled() && !settings.TrustGatewayHeaders {
		logger.Warn("no token verification or trusted gateway headers configured; every API call will be rejected")
	}
	authn := handlers.NewAuthenticator(verifier, settings.TrustGatewayHeaders).Middleware()

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("GET /metrics", m.Handler())
	schedulingHandler.Register(mux, func(next http.Handler) http.Handler {
		return httpx.Chain(next, authn, limiter)
	})

	// The observer wraps the mux directly: it reads r.Pattern, which the mux sets on the request it
	// receives, and hands it back to the access log through the timeout layer.
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(settings.RequestTimeout),
		m.Middleware(),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpcserver.New(service, logger, checks...)
	lis, err := net.Listen("tcp", ":"+settings.GRPCPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		panic(err)
	}
	go grpcSrv.Watch(ctx, 10*time.Second)
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	grpcSrv.Stop()
	logger.Info("servers stopped", slog.String("service", service))
}

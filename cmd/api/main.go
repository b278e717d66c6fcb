package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinovet/reserve-api/internal/app"
	"github.com/clinovet/reserve-api/internal/appointments"
	"github.com/clinovet/reserve-api/internal/clock"
	"github.com/clinovet/reserve-api/internal/config"
	"github.com/clinovet/reserve-api/internal/events"
	"github.com/clinovet/reserve-api/internal/storage/memory"
	"github.com/clinovet/reserve-api/internal/storage/postgres"
	redisstore "github.com/clinovet/reserve-api/internal/storage/redis"
	transporthttp "github.com/clinovet/reserve-api/internal/transport/http"
	"github.com/clinovet/reserve-api/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := log.Default()
	cfg := config.Load(logger)

	startupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, cleanup, err := buildStore(startupCtx, cfg, logger)
	if err != nil {
		log.Fatalf("init %s store: %v", cfg.StoreBackend, err)
	}
	defer cleanup()

	opts := []app.ReservationServiceOption{app.WithTTL(cfg.ReservationTTL)}
	var publisher *events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer publisher.Close()
		opts = append(opts, app.WithNotifier(publisher))
		logger.Printf("publishing reservation events to %s", cfg.KafkaTopic)
	}

	svc := app.NewReservationService(store, clock.NewSystem(), opts...)

	var creator app.AppointmentCreator
	if cfg.AppointmentsURL != "" {
		creator = appointments.NewClient(cfg.AppointmentsURL)
	} else {
		logger.Printf("WARN: %s not set, confirmed reservations are not handed off", config.EnvAppointmentsURL)
		creator = appointments.NewLogOnly(logger)
	}
	flow := app.NewBookingFlow(svc, creator, logger)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := app.NewSweeper(store, clock.NewSystem(), cfg.SweepInterval, logger)
	go sweeper.Run(runCtx)

	// Terminal records only matter for a short idempotency window; a nightly
	// purge keeps the table from growing without bound. Run one at startup
	// too so a long-stopped instance catches up immediately.
	purgeTerminal := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		purged, err := store.PurgeTerminal(ctx, time.Now().UTC().Add(-cfg.Retention))
		if err != nil {
			logger.Printf("purge terminal reservations: %v", err)
			return
		}
		if purged > 0 {
			logger.Printf("purged %d terminal reservations", purged)
		}
	}
	purgeTerminal()
	purger := cron.New()
	if _, err := purger.AddFunc("15 3 * * *", purgeTerminal); err != nil {
		log.Fatalf("schedule purge: %v", err)
	}
	purger.Start()
	defer purger.Stop()

	limiter := transporthttp.NewRateLimiter(cfg.ReserveRateRPS, cfg.ReserveRateBurst)
	limiter.StartJanitor(runCtx)

	router := transporthttp.NewRouter(transporthttp.RouterDeps{
		Starter:   flow,
		Completer: flow,
		Abandoner: flow,
		Renewer:   svc,
		Getter:    svc,
		Limiter:   limiter,
	})
	handler := transporthttp.RequestLogger(transporthttp.CORS(cfg.CORSOrigins, router), logger)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	logger.Printf("reservation api listening on :%s (store=%s ttl=%s sweep=%s)",
		cfg.Port, cfg.StoreBackend, cfg.ReservationTTL, cfg.SweepInterval)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server error: %v", err)
		}
	case <-runCtx.Done():
		logger.Printf("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("server shutdown error: %v", err)
	}
	logger.Printf("server stopped")
}

func buildStore(ctx context.Context, cfg config.Config, logger *log.Logger) (app.ReservationStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := migrations.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.NewStore(pool), pool.Close, nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		store := redisstore.NewStore(rdb, redisstore.WithRetention(cfg.Retention))
		return store, func() { _ = rdb.Close() }, nil

	default:
		logger.Printf("WARN: in-memory store holds reservations in one process only")
		return memory.NewStore(), func() {}, nil
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-api/internal/config"
	appointmenthandler "github.com/jwalitptl/clinic-api/internal/handler/appointment"
	"github.com/jwalitptl/clinic-api/internal/handler/health"
	promhandler "github.com/jwalitptl/clinic-api/internal/handler/prometheus"
	reviewhandler "github.com/jwalitptl/clinic-api/internal/handler/review"
	schedulehandler "github.com/jwalitptl/clinic-api/internal/handler/schedule"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	"github.com/jwalitptl/clinic-api/internal/repository/postgres"
	"github.com/jwalitptl/clinic-api/internal/router"
	"github.com/jwalitptl/clinic-api/internal/service"
	"github.com/jwalitptl/clinic-api/internal/service/appointment"
	"github.com/jwalitptl/clinic-api/internal/service/review"
	"github.com/jwalitptl/clinic-api/internal/service/schedule"
	"github.com/jwalitptl/clinic-api/pkg/auth"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
	"github.com/jwalitptl/clinic-api/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
	"github.com/jwalitptl/clinic-api/pkg/worker"
)

func serveCmd(load loader) *cobra.Command {
	var (
		relay      bool
		demoDoctor bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, log, relay, demoDoctor)
		},
	}
	cmd.Flags().BoolVar(&relay, "relay", false, "also run the outbox relay in this process")
	cmd.Flags().BoolVar(&demoDoctor, "demo-doctor", false, "seed one active doctor (memory driver only)")
	return cmd
}

// backend is the persistence chosen by database.driver
type backend struct {
	store  repository.Store
	outbox repository.OutboxRepository
	db     *sqlx.DB
	memory *memory.Store
}

func (b *backend) Close() {
	if b.db != nil {
		_ = b.db.Close()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*backend, error) {
	if cfg.Database.Driver == "memory" {
		st := memory.NewStore()
		return &backend{store: st, outbox: st, memory: st}, nil
	}
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return &backend{
		store:  postgres.NewStore(db, cfg.Booking.LockTimeout(), m),
		outbox: postgres.NewOutboxRepository(db),
		db:     db,
	}, nil
}

func runServer(ctx context.Context, cfg *config.Config, log *logger.Logger, relay, demoDoctor bool) error {
	promH := promhandler.New()
	m := metrics.NewMetrics("clinic", promH.Registry())

	be, err := openBackend(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer be.Close()

	if demoDoctor {
		if be.memory == nil {
			return errors.New("--demo-doctor needs the memory driver")
		}
		d, err := model.NewDoctor(model.NewDoctorParams{ID: uuid.New(), IsActive: true, ConsultationFee: 5000}, time.Now())
		if err != nil {
			return err
		}
		be.memory.SeedDoctor(d)
		log.Info("seeded demo doctor", "doctor_id", d.ID().String())
	}

	tokens, err := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry())
	if err != nil {
		return fmt.Errorf("invalid jwt settings: %w", err)
	}

	opts := service.OptionsFromConfig(cfg.Booking)
	schedules := schedule.NewService(be.store, opts, m, log)
	appointments := appointment.NewService(be.store, schedules, opts, m, log)
	reviews := review.NewService(be.store, opts, m, log)

	checks := map[string]health.Pinger{"database": be.store}

	if relay {
		broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), log.Zerolog())
		if err != nil {
			return err
		}
		defer broker.Close()
		checks["broker"] = broker

		processor, err := worker.NewOutboxProcessor(be.outbox,
			messaging.NewPublisher(broker, cfg.Redis.ChannelPrefix),
			cfg.Outbox.ToWorkerConfig(), log, m)
		if err != nil {
			return err
		}
		relayCtx, stopRelay := context.WithCancel(ctx)
		relayDone := make(chan struct{})
		go func() {
			defer close(relayDone)
			processor.Start(relayCtx)
		}()
		// runs before the broker and store are closed
		defer func() {
			stopRelay()
			<-relayDone
			log.Info("outbox relay stopped")
		}()
	}

	r, err := router.NewRouter(router.RouterConfig{
		Mode:           cfg.Server.Mode,
		RateLimit:      rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst:      cfg.RateLimit.Burst,
		RequestTimeout: cfg.Server.RequestTimeout(),
		MaxBodySize:    cfg.Server.MaxBodyBytes,
	}, log, m,
		middleware.NewAuthMiddleware(tokens),
		health.NewHandler(checks),
		promH,
		appointmenthandler.NewHandler(appointments),
		reviewhandler.NewHandler(reviews),
		schedulehandler.NewHandler(schedules),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}

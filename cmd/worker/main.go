package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/handler/health"
	promhandler "github.com/jwalitptl/clinic-api/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/repository/postgres"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
	"github.com/jwalitptl/clinic-api/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
	"github.com/jwalitptl/clinic-api/pkg/worker"
)

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "clinic-worker",
		Short:         "Relays booking events from the outbox to Redis",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml")

	if err := rootCmd.Execute(); err != nil {
		logger.NewLogger(nil).Error(err, "worker failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.NewLogger(&logger.Config{
		Level:   logger.ParseLevel(cfg.Log.Level),
		Console: cfg.Log.Format == "console",
	}).WithFields(map[string]interface{}{"component": "outbox_relay"})

	if cfg.Database.Driver != "postgres" {
		return errors.New("the relay needs database.driver=postgres; use serve --relay with the memory driver")
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), log.Zerolog())
	if err != nil {
		return err
	}
	defer broker.Close()

	promH := promhandler.New()
	m := metrics.NewMetrics("clinic", promH.Registry())

	processor, err := worker.NewOutboxProcessor(
		postgres.NewOutboxRepository(db),
		messaging.NewPublisher(broker, cfg.Redis.ChannelPrefix),
		cfg.Outbox.ToWorkerConfig(),
		log,
		m,
	)
	if err != nil {
		return err
	}

	srv := healthServer(cfg, log, promH, map[string]health.Pinger{
		"database": postgres.NewStore(db, 0, nil),
		"broker":   broker,
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "health server failed")
		}
	}()

	log.Info("relay started", "batch_size", cfg.Outbox.BatchSize)
	processor.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health server shutdown: %w", err)
	}
	log.Info("relay stopped")
	return nil
}

func healthServer(cfg *config.Config, log *logger.Logger, promH *promhandler.Handler, checks map[string]health.Pinger) *http.Server {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	engine := gin.New()
	engine.Use(middleware.Recovery(log))
	health.NewHandler(checks).RegisterRoutes(engine)
	engine.GET("/metrics", promH.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HealthPort),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aquasync/internal/config"
	"aquasync/internal/handlers"
	"aquasync/internal/logger"
	"aquasync/internal/models"
	"aquasync/internal/repository"
	"aquasync/internal/repository/db"
	"aquasync/internal/server"
	"aquasync/internal/service"
	"aquasync/internal/sms"
)

func main() {
	// configs/config.yml, then AQUASYNC_* env
	cfg, err := config.Load("configs")
	if err != nil {
		logger.New(logger.InfoLevel, logger.FormatConsole).Fatalw("error reading config", "err", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = log.Sync() }()

	conn, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		log.Fatalw("failed to init sqlite", "path", cfg.DB.Path, "err", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker, notifier := openNotifier(cfg, log)
	if broker != nil {
		defer func() { _ = broker.Close() }()
	}

	repos := repository.NewRepository(conn)
	services := service.NewService(repos, cfg, notifier, log)

	if broker != nil {
		startSMSConsumer(ctx, broker, cfg, services, log)
	}
	if cfg.Simulator.Enabled {
		startSimulator(ctx, cfg, services, log)
	}

	apiHandler := handlers.NewHandler(services, log)
	srv := &server.Server{}
	runHTTPServer(srv, cfg.HTTP.Port, apiHandler, log)

	waitForShutdown(cancel, srv, cfg.HTTP.ShutdownTimeout, log)
}

// openNotifier connects to the SMS broker when one is configured. Without it alerts are only logged.
func openNotifier(cfg *config.Config, log *logger.Logger) (*sms.Connection, service.Notifier) {
	if cfg.SMS.URL == "" {
		log.Infow("sms.url not set; alerts are logged only")
		return nil, sms.NewLogNotifier(log)
	}
	broker, err := sms.Dial(cfg.SMS.URL, log)
	if err != nil {
		log.Fatalw("failed to connect to sms broker", "err", err)
	}
	pub, err := sms.NewPublisher(broker, cfg.SMS.Exchange, cfg.SMS.RoutingKey, log)
	if err != nil {
		log.Fatalw("failed to create sms publisher", "err", err)
	}
	return broker, pub
}

func startSMSConsumer(ctx context.Context, broker *sms.Connection, cfg *config.Config, services *service.Service, log *logger.Logger) {
	consumer, err := sms.NewConsumer(sms.ConsumerConfig{
		Connection: broker,
		Exchange:   cfg.SMS.Exchange,
		Queue:      cfg.SMS.InboundQueue,
		RoutingKey: cfg.SMS.InboundKey,
		Commands:   services,
		Retryable:  service.IsRetryable,
		Log:        log,
	})
	if err != nil {
		log.Fatalw("failed to create sms consumer", "err", err)
	}
	if err := consumer.Start(ctx); err != nil {
		log.Fatalw("failed to start sms consumer", "err", err)
	}
}

// startSimulator provisions the simulated device's account and drives it in the background.
func startSimulator(ctx context.Context, cfg *config.Config, services *service.Service, log *logger.Logger) {
	err := services.ProvisionAccount(ctx, models.Account{
		ID:           cfg.Simulator.AccountID,
		Active:       true,
		DeviceName:   "Simulated pump",
		AdminContact: cfg.SMS.DefaultAdmin,
	})
	if err != nil {
		log.Fatalw("failed to provision simulator account", "account_id", cfg.Simulator.AccountID, "err", err)
	}
	go services.Simulator.Run(ctx, cfg.Simulator.Tick)
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, timeout time.Duration, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop the simulator and the sms consumer
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
}

// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"actuator-hub/internal/advertise"
	"actuator-hub/internal/capture"
	"actuator-hub/internal/config"
	"actuator-hub/internal/database"
	"actuator-hub/internal/handler"
	"actuator-hub/internal/message"
	"actuator-hub/internal/mqtt"
	"actuator-hub/internal/repository"
	"actuator-hub/internal/routes"
	"actuator-hub/internal/service"
	"actuator-hub/internal/utils"
)

const (
	shutdownTimeout  = 30 * time.Second
	cleanupInterval  = time.Hour
	cleanupTimeout   = 5 * time.Minute
	advertiseBuffer  = 16
	sessionCloseNote = "server shutting down"
)

// Application represents the main application
type Application struct {
	config    *config.Config
	logger    *zap.Logger
	logStream *utils.LogStream
	server    *http.Server
	router    *routes.Router

	// Device core
	events    *service.EventBus
	manager   *service.DeviceManager
	discovery *service.DiscoveryService

	// Optional components
	database   *database.DB
	eventRepo  repository.EventRepository
	journal    *service.EventJournal
	mqttClient *mqtt.Client
	bridge     *mqtt.Bridge
	recorder   *capture.Recorder
	advertiser *advertise.Advertiser

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func main() {
	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Printf("Invalid arguments: %v\n", err)
		os.Exit(2)
	}

	// Initialize application
	app, err := NewApplication(flags)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	// Start the application
	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(flags *pflag.FlagSet) (*Application, error) {
	// Load configuration
	cfg, err := config.Load(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger; the log stream feeds RequestLog subscribers
	logStream := utils.NewLogStream()
	logger, err := utils.NewLogger(&cfg.Logging, logStream.Core())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, cfg.App.Name)
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config:    cfg,
		logger:    logger,
		logStream: logStream,
	}

	// Initialize components
	if err := app.initializeDevices(); err != nil {
		return nil, fmt.Errorf("failed to initialize devices: %w", err)
	}

	if err := app.initializeJournal(); err != nil {
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}

	if err := app.initializeBridge(); err != nil {
		return nil, fmt.Errorf("failed to initialize mqtt bridge: %w", err)
	}

	if err := app.initializeCapture(); err != nil {
		return nil, fmt.Errorf("failed to initialize capture: %w", err)
	}

	if err := app.initializeAdvertiser(); err != nil {
		return nil, fmt.Errorf("failed to initialize advertiser: %w", err)
	}

	app.initializeServer()

	return app, nil
}

// initializeDevices creates the event bus, the device manager and its scanners
func (app *Application) initializeDevices() error {
	app.events = service.NewEventBus(app.logger)
	app.manager = service.NewDeviceManager(&app.config.Device, app.events, app.logger)

	discovery, err := service.NewDiscoveryService(app.manager, &app.config.Scanning, app.logger)
	if err != nil {
		return err
	}
	app.discovery = discovery

	app.logger.Info("Device manager initialized",
		zap.Int("scanners", discovery.ScannerCount()),
	)
	return nil
}

// initializeJournal connects to postgres, runs migrations and subscribes the journal
func (app *Application) initializeJournal() error {
	cfg := &app.config.Journal
	if !cfg.Enabled {
		return nil
	}

	db, err := database.Connect(cfg, app.config.GetJournalDSN(), app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	migrator := database.NewMigrator(db, cfg.MigrationsPath, app.logger)
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	app.eventRepo = repository.NewEventRepository(db, app.logger)
	app.journal = service.NewEventJournal(app.eventRepo, app.config.App.Name, cfg.BufferSize, app.logger)
	app.journal.Start(app.events)

	app.logger.Info("Event journal initialized", zap.String("database", cfg.DBName))
	return nil
}

// initializeBridge connects to the broker and republishes device events
func (app *Application) initializeBridge() error {
	cfg := &app.config.MQTT
	if !cfg.Enabled {
		return nil
	}

	client, err := mqtt.Connect(cfg, app.logger)
	if err != nil {
		return err
	}
	app.mqttClient = client
	app.bridge = mqtt.NewBridge(client, cfg.TopicPrefix, app.config.App.Name, app.logger)
	app.bridge.Start(app.events)

	app.logger.Info("MQTT bridge initialized", zap.String("broker", cfg.Broker))
	return nil
}

// initializeCapture opens the frame capture file
func (app *Application) initializeCapture() error {
	if !app.config.Capture.Enabled {
		return nil
	}

	recorder, err := capture.Open(app.config.Capture.Path, app.logger)
	if err != nil {
		return err
	}
	app.recorder = recorder
	return nil
}

// initializeAdvertiser prepares the mDNS announcement of the WebSocket endpoint
func (app *Application) initializeAdvertiser() error {
	if !app.config.Advertise.Enabled {
		return nil
	}

	advertiser, err := advertise.NewAdvertiser(&app.config.Advertise, &app.config.App, app.config.Server.Port, app.logger)
	if err != nil {
		return err
	}
	app.advertiser = advertiser
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	major, minor, build := app.config.App.VersionParts()

	deps := routes.Dependencies{
		Manager:   app.manager,
		Discovery: app.discovery,
		WebSocket: handler.WebSocketDeps{
			Config:    app.config,
			Build:     service.BuildInfo{Major: major, Minor: minor, Build: build},
			Router:    app.manager,
			Events:    app.events,
			LogStream: app.logStream,
		},
	}
	// Interface fields stay nil unless the component exists
	if app.database != nil {
		deps.Journal = app.database
	}
	if app.eventRepo != nil {
		deps.Events = app.eventRepo
	}
	if app.recorder != nil {
		deps.WebSocket.Recorder = app.recorder
	}

	app.router = routes.NewRouter(app.config, app.logger, deps)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      app.router.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)
}

// startBackgroundServices starts the manager loop and the optional workers
func (app *Application) startBackgroundServices(ctx context.Context) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.manager.Run(ctx)
	}()

	if app.eventRepo != nil && app.config.Journal.Retention > 0 {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.startCleanupService(ctx)
		}()
	}

	if app.advertiser != nil {
		if err := app.advertiser.Start(); err != nil {
			app.logger.Error("Failed to advertise service", zap.Error(err))
		} else {
			app.wg.Add(1)
			go func() {
				defer app.wg.Done()
				app.trackDeviceCount(ctx)
			}()
		}
	}

	app.logger.Info("Background services started")
}

// startCleanupService prunes journal entries older than the retention window
func (app *Application) startCleanupService(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	app.logger.Info("Journal cleanup started",
		zap.Duration("retention", app.config.Journal.Retention),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cleanupCtx, cancel := context.WithTimeout(ctx, cleanupTimeout)
		before := time.Now().Add(-app.config.Journal.Retention)
		if _, err := app.eventRepo.DeleteOlderThan(cleanupCtx, before); err != nil {
			app.logger.Error("Failed to cleanup old events", zap.Error(err))
		}
		cancel()
	}
}

// trackDeviceCount keeps the advertised device count current
func (app *Application) trackDeviceCount(ctx context.Context) {
	events, unsubscribe := app.events.Subscribe("advertise", advertiseBuffer)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			switch msg.(type) {
			case *message.DeviceAdded, *message.DeviceRemoved:
				app.advertiser.SetDeviceCount(app.manager.DeviceCount())
			}
		}
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if app.advertiser != nil {
		app.advertiser.Stop()
	}

	// Hijacked WebSocket connections are not tracked by Shutdown
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	closed := app.router.Sessions().CloseAll(sessionCloseNote)
	app.logger.Info("Client sessions closed", zap.Int("sessions", closed))

	if err := app.manager.Shutdown(ctx); err != nil {
		app.logger.Error("Device manager shutdown error", zap.Error(err))
	} else {
		app.logger.Info("Device manager stopped")
	}

	app.cancel()
	app.wg.Wait()

	if app.bridge != nil {
		app.bridge.Stop()
	}
	if app.mqttClient != nil {
		if err := app.mqttClient.Close(); err != nil {
			app.logger.Error("MQTT close error", zap.Error(err))
		}
	}

	if app.journal != nil {
		app.journal.Stop()
	}
	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	if app.recorder != nil {
		if err := app.recorder.Close(); err != nil {
			app.logger.Error("Capture close error", zap.Error(err))
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start runs the server until a shutdown signal arrives
func (app *Application) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	app.startBackgroundServices(ctx)

	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.waitForShutdown()

	return nil
}

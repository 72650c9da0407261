// cmd/carexplore-server/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/app"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/config"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/health"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/logging"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/network"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/resource"
)

// maxFrameStall is how long the session may go without a frame before the
// readiness probe fails.
const maxFrameStall = 2 * time.Second

func main() {
	logger := logging.NewLogger()
	ctx := context.Background()

	configPath := flag.String("config", "carexplore.json", "Path to configuration file")
	createDefault := flag.Bool("default", false, "Create default configuration file")
	address := flag.String("addr", "", "Listen address (overrides config)")
	flag.Parse()

	if *createDefault {
		if err := config.SaveConfig(config.DefaultConfig(), *configPath); err != nil {
			logger.Error(ctx, "Failed to create default configuration", err, "config_path", *configPath)
			os.Exit(1)
		}
		logger.Info(ctx, "Created default configuration file", "config_path", *configPath)
		return
	}

	cfg, err := app.LoadConfig(*configPath, logger)
	if err != nil {
		logger.Error(ctx, "Failed to load configuration", err, "config_path", *configPath)
		os.Exit(1)
	}
	if *address != "" {
		cfg.Server.Address = *address
	}
	logger = logging.NewLoggerWithWriter(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	// The server needs the session and the session needs the server as a
	// sink, so frames go through a forwarding sink.
	var server *network.DriveServer
	forward := engine.SinkFunc(func(state *engine.FrameState) error {
		if server == nil {
			return nil
		}
		return server.Publish(state)
	})

	a, err := app.New(cfg, logger, app.WithSinks(forward))
	if err != nil {
		logger.Error(ctx, "Failed to create session", err)
		os.Exit(1)
	}
	server = network.NewDriveServer(a.Session, cfg.Server, logger)

	resources := resource.NewResourceManager(cfg.Runtime, logger)
	if err := resources.Start(); err != nil {
		logger.Error(ctx, "Failed to start resource manager", err)
		os.Exit(1)
	}

	checker := health.NewHealthChecker()
	checker.AddCheck(health.NewSessionHealthCheck(
		func() bool { return a.Session.Status() == engine.StatusRunning },
		a.Session.LastFrame,
		maxFrameStall,
	))
	checker.AddCheck(health.NewNetworkHealthCheck(server.GetListenerAddress))
	checker.AddCheck(resource.NewResourceHealthCheck(resources))
	if a.Monitor != nil {
		budget := time.Duration(cfg.Physics.FixedStep * float64(time.Second))
		checker.AddCheck(health.NewStepBudgetHealthCheck(budget, func() time.Duration {
			return a.Monitor.Snapshot().Average
		}))
	}
	checker.Register(server.Mux())

	logger.Info(ctx, "Starting server",
		"address", cfg.Server.Address,
		"max_clients", cfg.Server.MaxClients,
		"health_checks", checker.Names(),
	)
	if err := server.Start(cfg.Server.Address); err != nil {
		logger.Error(ctx, "Failed to start server", err, "address", cfg.Server.Address)
		os.Exit(1)
	}

	if err := resources.StartGoroutine(resources.Context(), "session", a.Session.Run); err != nil {
		logger.Error(ctx, "Failed to start session loop", err)
		os.Exit(1)
	}
	if ch := a.AttachModel(resources.Context()); ch != nil {
		resources.StartGoroutine(resources.Context(), "asset", func(ctx context.Context) error {
			select {
			case res := <-ch:
				return res.Err
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Runtime.ShutdownTimeout+time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error(ctx, "Server shutdown failed", err)
	}
	if err := resources.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Resource shutdown incomplete", err)
	}
	if err := a.Close(); err != nil {
		logger.Error(ctx, "Telemetry shutdown incomplete", err)
	}
}

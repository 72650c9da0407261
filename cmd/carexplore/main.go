// cmd/carexplore/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/EngoEngine/engo"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/app"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/config"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/logging"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/render"
	engorender "github.com/Y0UF0UNDM3/Car-Explore/pkg/render/engo"
)

func main() {
	configPath := flag.String("config", "carexplore.json", "Path to configuration file")
	createDefault := flag.Bool("default", false, "Create default configuration file")
	mode := flag.String("mode", "", "View: 'engo', 'terminal' or 'log' (overrides config)")
	traceDir := flag.String("trace", "", "Record a trace under this directory (overrides config)")
	cols := flag.Int("cols", 80, "Terminal view width in characters")
	rows := flag.Int("rows", 24, "Terminal view height in characters")
	flag.Parse()

	logger := logging.NewLogger()
	ctx := context.Background()

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
	if *mode != "" {
		cfg.Render.Mode = *mode
	}
	if *traceDir != "" {
		cfg.Telemetry.TraceDir = *traceDir
	}
	if err := cfg.Validate(); err != nil {
		logger.Error(ctx, "Invalid configuration", err)
		os.Exit(1)
	}
	logger = logging.NewLoggerWithWriter(os.Stderr, logging.ParseLevel(cfg.LogLevel))

	var sinks []engine.Sink
	var terminal *render.TerminalRenderer
	switch cfg.Render.Mode {
	case "log":
		sinks = append(sinks, render.NewLogSink(logger, 30))
	case "terminal":
		// The terrain is only known once the session exists.
		sinks = append(sinks, engine.SinkFunc(func(state *engine.FrameState) error {
			if terminal == nil {
				return nil
			}
			return terminal.Publish(state)
		}))
	}

	a, err := app.New(cfg, logger, app.WithSinks(sinks...))
	if err != nil {
		logger.Error(ctx, "Failed to create session", err)
		os.Exit(1)
	}
	if cfg.Render.Mode == "terminal" {
		terminal = render.NewTerminalRenderer(*cols, *rows, cfg.Render.MetresPerChar, a.Session.World().Terrain(), os.Stdout)
		terminal.SetClearScreen(true)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.AttachModel(runCtx)

	switch cfg.Render.Mode {
	case "engo":
		runWindow(a)
	default:
		if cfg.Render.Mode == "terminal" {
			go func() {
				if err := readConsole(runCtx, os.Stdin, a.Session); err != nil {
					logger.Warn(runCtx, "Console input stopped", "error", err.Error())
				}
			}()
		}
		if err := a.Session.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(ctx, "Session failed", err)
		}
	}

	stop()
	if err := a.Close(); err != nil {
		logger.Error(ctx, "Shutdown incomplete", err)
		os.Exit(1)
	}
}

// runWindow blocks until the window closes.
func runWindow(a *app.App) {
	cfg := a.Config.Render
	opts := engo.RunOptions{
		Title:      "Car Explore",
		Width:      cfg.Width,
		Height:     cfg.Height,
		Fullscreen: cfg.Fullscreen,
		VSync:      true,
		FPSLimit:   int(cfg.FrameRate),
	}
	engo.Run(opts, engorender.NewDriveScene(a.Session))
}

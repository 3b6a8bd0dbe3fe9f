// Package app wires the engine, hub, bridge, library and HTTP surface into
// a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	rerun "github.com/HowardHan99/RerunPublicRobot"
	"github.com/HowardHan99/RerunPublicRobot/internal/config"
	"github.com/HowardHan99/RerunPublicRobot/internal/library"
	servernet "github.com/HowardHan99/RerunPublicRobot/internal/net"
	"github.com/HowardHan99/RerunPublicRobot/internal/net/ws"
	"github.com/HowardHan99/RerunPublicRobot/internal/observability"
	"github.com/HowardHan99/RerunPublicRobot/internal/telemetry"
	"github.com/HowardHan99/RerunPublicRobot/logging"
	loggingSinks "github.com/HowardHan99/RerunPublicRobot/logging/sinks"
)

const shutdownTimeout = 10 * time.Second

type Config struct {
	Logger   telemetry.Logger
	Settings *config.Config
}

func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	fallbackLogger := log.Default()
	if provider, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}

	settings := cfg.Settings
	if settings == nil {
		settings = config.NewDefaultConfig()
	}
	settings.ApplyEnvOverrides(fallbackLogger)

	routerCfg := settings.Logging.RouterConfig()
	var namedSinks []logging.NamedSink
	for _, name := range routerCfg.EnabledSinks {
		switch name {
		case config.SinkConsole:
			namedSinks = append(namedSinks, logging.NamedSink{
				Name: name,
				Sink: loggingSinks.NewConsoleSink(os.Stdout, routerCfg.Console),
			})
		case config.SinkJSON:
			file, err := os.OpenFile(routerCfg.JSON.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open event log %s: %w", routerCfg.JSON.FilePath, err)
			}
			defer file.Close()
			namedSinks = append(namedSinks, logging.NamedSink{
				Name: name,
				Sink: loggingSinks.NewJSON(file, routerCfg.JSON),
			})
		default:
			telemetryLogger.Printf("skipping unknown log sink %q", name)
		}
	}

	router, err := logging.NewRouter(nil, routerCfg, namedSinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	engineCfg := rerun.DefaultEngineConfig()
	if len(settings.Engine.SecondaryContainers) > 0 {
		engineCfg.SecondaryContainers = settings.Engine.SecondaryContainers
	}
	engineCfg.Recorder.SampleInterval = settings.Engine.SampleInterval
	engineCfg.Transition.PositionTolerance = settings.Engine.PositionTolerance
	engineCfg.Transition.RotationToleranceDeg = settings.Engine.RotationToleranceDeg
	engineCfg.Transition.SettleTicks = settings.Engine.SettleTicks

	counters := telemetry.NewCounters()
	engine := rerun.NewEngine(engineCfg, rerun.Deps{
		Logger:    telemetryLogger,
		Metrics:   telemetry.WrapMetrics(counters),
		Publisher: router,
	})

	hub := rerun.NewHub(engine, rerun.HubConfig{TickRate: settings.Engine.TickRate})

	bridge := ws.NewBridge(engine, ws.BridgeConfig{Logger: fallbackLogger})
	hub.AttachIntake(bridge)

	var lib *library.Library
	if settings.Library.Dir != "" {
		lib, err = library.Open(library.Config{
			Dir:       settings.Library.Dir,
			IndexPath: settings.Library.IndexPath,
			Logger:    fallbackLogger,
			Publisher: router,
			Tick:      engine.Tick,
		})
		if err != nil {
			return fmt.Errorf("failed to open recording library: %w", err)
		}
		defer lib.Close()

		if err := lib.Scan(); err != nil {
			telemetryLogger.Printf("initial library scan failed: %v", err)
		}
	}

	var observabilityCfg observability.Config
	if raw := os.Getenv("ENABLE_PPROF_TRACE"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			observabilityCfg.EnablePprofTrace = value
		} else {
			telemetryLogger.Printf("invalid ENABLE_PPROF_TRACE=%q: %v", raw, err)
		}
	}

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		Logger:        fallbackLogger,
		Counters:      counters,
		Library:       lib,
		Bridge:        bridge,
		Observability: observabilityCfg,
	})

	httpServer := &nethttp.Server{Addr: settings.HTTP.Address(), Handler: handler}
	telemetryLogger.Printf("server listening on %s", httpServer.Addr)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		hub.RunTicks(gCtx.Done())
		return nil
	})

	if lib != nil && settings.Library.Watch {
		g.Go(func() error {
			return lib.Watch(gCtx)
		})
	}

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			telemetryLogger.Printf("received signal %s, shutting down", sig)
		case <-gCtx.Done():
		}

		// Stops the tick loop and the library watcher.
		cancelRun()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			telemetryLogger.Printf("server shutdown: %v", err)
		}
		return nil
	})

	return g.Wait()
}

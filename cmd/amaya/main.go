// Command amaya runs the assistant daemon: it bridges Telegram to an LLM
// brain and keeps reminders and day schedules firing across restarts.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/amayahq/amaya/internal/bus"
	"github.com/amayahq/amaya/internal/channels"
	"github.com/amayahq/amaya/internal/config"
	"github.com/amayahq/amaya/internal/cron"
	"github.com/amayahq/amaya/internal/engine"
	"github.com/amayahq/amaya/internal/memory"
	otelPkg "github.com/amayahq/amaya/internal/otel"
	"github.com/amayahq/amaya/internal/persistence"
	"github.com/amayahq/amaya/internal/reminder"
	"github.com/amayahq/amaya/internal/telemetry"
	"github.com/amayahq/amaya/internal/timer"
	"github.com/amayahq/amaya/internal/tools"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.2-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                  Start the assistant daemon
  %s -quiet           Start with file-only logging (stdout stays clean)

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  AMAYA_HOME           Data directory (default: ~/.amaya)
  TELEGRAM_BOT_TOKEN   Telegram bot token (overrides config.yaml)
  GEMINI_API_KEY       API key for the google provider
  ANTHROPIC_API_KEY    API key for the anthropic provider
`)
}

func main() {
	loadDotEnv(".env")

	quiet := flag.Bool("quiet", false, "log to file only, keep stdout clean")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "config load", err)
	}

	sink, err := telemetry.NewSink(cfg.HomeDir, cfg.LogLevel, *quiet)
	if err != nil {
		fatalStartup(nil, "logger init", err)
	}
	defer sink.Close()
	logger := sink.Logger
	slog.SetDefault(logger)

	if !*quiet && isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("amaya %s (home: %s)\n", Version, cfg.HomeDir)
	}
	logger.Info("starting", "version", Version, "home", cfg.HomeDir)

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.OTel.Enabled,
		Exporter:    cfg.OTel.Exporter,
		Endpoint:    cfg.OTel.Endpoint,
		ServiceName: "amaya",
		SampleRate:  cfg.OTel.SampleRate,
	})
	if err != nil {
		fatalStartup(logger, "otel init", err)
	}
	defer otelProvider.Shutdown(context.Background())

	instruments, err := otelPkg.NewInstruments(otelProvider)
	if err != nil {
		logger.Warn("metric instruments unavailable, continuing without", "error", err)
		instruments = nil
	}

	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "amaya.db"))
	if err != nil {
		fatalStartup(logger, "store open", err)
	}
	defer store.Close()

	eventBus := bus.New(store, logger)

	jobs := timer.New(timer.Config{Logger: logger})
	jobs.Start(ctx)

	bank := memory.NewBank(filepath.Join(cfg.HomeDir, "memory_bank"))
	pins := memory.NewPinManager(store)
	contextBuilder := &memory.ContextBuilder{
		Bank:   bank,
		Pins:   pins,
		Logger: logger,
	}

	registry := tools.NewRegistry(store, eventBus, bank, pins, logger)
	registry.Tel = instruments

	brain := engine.NewGenkitBrain(ctx, store, registry, contextBuilder, logger, instruments, engine.BrainConfig{
		Provider:                 cfg.LLM.Provider,
		Model:                    cfg.LLM.Model,
		APIKey:                   cfg.LLM.APIKey,
		Persona:                  cfg.Persona,
		OpenAICompatibleProvider: cfg.LLM.OpenAICompatibleProvider,
		OpenAICompatibleBaseURL:  cfg.LLM.OpenAICompatibleBaseURL,
		HistoryLimit:             cfg.LLM.HistoryLimit,
		HistoryKeep:              cfg.LLM.HistoryKeep,
	})

	telegram := channels.NewTelegramChannel(cfg.Telegram.Token, cfg.Telegram.AllowedIDs, brain, store, logger, instruments)

	scheduler := reminder.NewScheduler(reminder.Config{
		Store:        store,
		Bus:          eventBus,
		Jobs:         jobs,
		Sender:       telegram,
		Composer:     brain,
		Logger:       logger,
		Telemetry:    instruments,
		PollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
	})
	// The system prompt lists pending reminders so the model never
	// double-schedules.
	contextBuilder.Reminders = scheduler.Summary
	scheduler.Start(ctx)

	daySchedules := cron.NewScheduler(cron.Config{
		Store:  store,
		Bus:    eventBus,
		Logger: logger,
	})
	daySchedules.Start(ctx)

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable, hot-reload disabled", "error", err)
	} else {
		go watchReloads(ctx, watcher, brain, sink, logger)
	}

	go maintenanceLoop(ctx, store, cfg, logger)

	if cfg.Telegram.Token == "" {
		logger.Warn("no telegram token configured; channel disabled, reminders cannot be delivered")
	} else {
		go func() {
			if err := telegram.Start(ctx); err != nil {
				logger.Error("telegram channel failed", "error", err)
			}
		}()
	}

	logger.Info("started", "llm_enabled", brain.LLMEnabled(), "provider", cfg.LLM.Provider)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	daySchedules.Stop()
	scheduler.Stop()
	jobs.Stop()
	logger.Info("shutdown complete")
}

// watchReloads applies persona edits and log-level changes to the running
// daemon without a restart.
func watchReloads(ctx context.Context, w *config.Watcher, brain *engine.GenkitBrain, sink *telemetry.Sink, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			switch filepath.Base(ev.Path) {
			case config.PersonaFile:
				data, err := os.ReadFile(ev.Path)
				if err != nil {
					logger.Warn("persona reload failed", "error", err)
					continue
				}
				brain.UpdatePersona(string(data))
				logger.Info("persona reloaded", "bytes", len(data))
			case "config.yaml":
				cfg, err := config.Load()
				if err != nil {
					logger.Warn("config reload failed", "error", err)
					continue
				}
				sink.SetLevel(cfg.LogLevel)
				logger.Info("log level reloaded", "level", cfg.LogLevel)
			}
		}
	}
}

// maintenanceLoop periodically trims conversation history and prunes settled
// bus events past the retention window. Pending events are never pruned.
func maintenanceLoop(ctx context.Context, store *persistence.Store, cfg config.Config, logger *slog.Logger) {
	interval := time.Duration(cfg.Maintenance.IntervalHours) * time.Hour
	retention := time.Duration(cfg.Maintenance.EventRetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pruned, err := store.PruneSysEvents(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Warn("event prune failed", "error", err)
		}

		var trimmed int64
		users, err := store.ListUsers(ctx)
		if err != nil {
			logger.Warn("maintenance user scan failed", "error", err)
		}
		for _, u := range users {
			n, err := store.TrimHistory(ctx, u.UserID, cfg.LLM.HistoryKeep)
			if err != nil {
				logger.Warn("history trim failed", "owner_id", u.UserID, "error", err)
				continue
			}
			trimmed += n
		}

		logger.Info("maintenance pass complete", "events_pruned", pruned, "history_trimmed", trimmed)
	}
}

func fatalStartup(logger *slog.Logger, phase string, err error) {
	if logger != nil {
		logger.Error("startup failure", "phase", phase, "error", err)
	} else {
		fmt.Fprintf(os.Stderr, "amaya: %s: %v\n", phase, err)
	}
	os.Exit(1)
}

// loadDotEnv reads KEY=VALUE pairs from a local .env file into the process
// environment. Existing variables win.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}

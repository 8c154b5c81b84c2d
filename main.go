package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowbotio/flowbot/actions/control"
	"github.com/flowbotio/flowbot/actions/core"
	actionhttp "github.com/flowbotio/flowbot/actions/http"
	actionstate "github.com/flowbotio/flowbot/actions/state"
	"github.com/flowbotio/flowbot/actions/timer"
	"github.com/flowbotio/flowbot/botspec"
	"github.com/flowbotio/flowbot/runtime"
	"github.com/flowbotio/flowbot/runtime/exprlang"
	"github.com/flowbotio/flowbot/runtime/state"
	"github.com/flowbotio/flowbot/server"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := runtime.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	store, err := newStore(cfg.State)
	if err != nil {
		log.Fatalf("error opening state store: %v", err)
	}

	registry := runtime.NewRegistry(logger)
	evaluator := exprlang.New()
	executor := runtime.NewExecutor(logger, registry, evaluator, cfg.Limits)
	engine := runtime.NewFlowEngine(logger, executor)

	deps := &runtime.Deps{
		Evaluator: evaluator,
		State:     store,
		Flows:     engine,
		Registry:  registry,
		Logger:    logger,
	}

	control.Register(registry)
	core.Register(registry)
	actionstate.Register(registry)

	httpHandler, err := actionhttp.New(actionhttp.Config{})
	if err != nil {
		log.Fatalf("error building http client: %v", err)
	}
	registry.Register(httpHandler)

	timers := timer.NewManager(logger, executor)
	timer.Register(registry, deps, timers)

	spec, err := botspec.Load(cfg.SpecDir)
	if err != nil {
		log.Fatalf("error loading bot spec: %v", err)
	}
	if err := botspec.Validate(spec, registry); err != nil {
		log.Fatalf("%v", err)
	}
	if err := engine.RegisterAll(spec.Flows); err != nil {
		log.Fatalf("error registering flows: %v", err)
	}

	logger.Info("bot spec loaded",
		"name", spec.Name,
		"commands", len(spec.Commands),
		"events", len(spec.Events),
		"flows", len(spec.Flows))

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(logger, deps, executor, engine, spec).Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	timers.Shutdown()
	if err := store.Close(); err != nil {
		logger.Error("state store close failed", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func newStore(cfg runtime.StateConfig) (state.Manager, error) {
	if cfg.Backend == "bolt" {
		return state.OpenBolt(cfg.Path)
	}
	return state.NewMemoryStore(), nil
}

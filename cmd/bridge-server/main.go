package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/opshub/bridge/internal/config"
	"github.com/opshub/bridge/internal/dispatch"
	"github.com/opshub/bridge/internal/event"
	eventrepo "github.com/opshub/bridge/internal/event/repositoryimpl"
	"github.com/opshub/bridge/internal/eventbus"
	"github.com/opshub/bridge/internal/heartbeat"
	"github.com/opshub/bridge/internal/janitor"
	"github.com/opshub/bridge/internal/pushnotification"
	pushsubrepo "github.com/opshub/bridge/internal/pushsubscription/repositoryimpl"
	"github.com/opshub/bridge/internal/slot"
	"github.com/opshub/bridge/internal/task"
	taskrepo "github.com/opshub/bridge/internal/task/repositoryimpl"
	"github.com/opshub/bridge/internal/worker"
	"github.com/opshub/bridge/pkg/clog"
	"github.com/opshub/bridge/pkg/storage"

	server "github.com/opshub/bridge/internal"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "sentinel" {
		runSentinel()
		return
	}
	serve()
}

func serve() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Local runs get the colorized text handler, everything else JSON.
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewHTTPTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	var store storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3Storage(context.Background(), env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
	case "sqlite":
		store, err = storage.NewSQLiteStorage(context.Background(), env.StorageEnv.SQLitePath)
		if err != nil {
			slog.Error("failed to create SQLite storage", "error", err)
			os.Exit(1)
		}
	default:
		store, err = storage.NewLocalStorage(env.StorageEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
	}

	bus := eventbus.New()

	taskRepo := taskrepo.NewJSONRepository(store)
	eventRepo := eventrepo.NewJSONRepository(store)
	pushSubRepo := pushsubrepo.NewJSONRepository(store)

	taskService := task.NewService(taskRepo, eventRepo, bus)

	roster, err := slot.LoadRoster(env.RosterPath)
	if err != nil {
		slog.Error("failed to load roster", "error", err)
		os.Exit(1)
	}
	beats := heartbeat.NewStore(env.DispatchEnv.HeartbeatDir)
	if err := beats.Start(); err != nil {
		slog.Error("failed to start heartbeat store", "error", err)
		os.Exit(1)
	}

	dispatchEnv := config.DispatchEnvFromEnv(env)
	dispatcher := dispatch.New(taskService, roster, beats)
	dispatcher.SetInterval(dispatchEnv.Interval)
	dispatcher.SetStaleAfter(dispatchEnv.StaleAfter)

	jan, err := janitor.New(config.JanitorEnvFromEnv(env), taskRepo, eventRepo)
	if err != nil {
		slog.Error("failed to create janitor", "error", err)
		os.Exit(1)
	}

	vapidEnv := config.VAPIDEnvFromEnv(env)
	pushSender := pushnotification.NewSender(vapidEnv, pushSubRepo)
	pushNotificationServer := pushnotification.NewServer(vapidEnv, pushSubRepo, pushSender)
	pushDispatcher := pushnotification.NewDispatcher(bus, taskRepo, pushSender)

	taskServer := task.NewServer(taskService, dispatcher)
	eventServer := event.NewServer(eventRepo)
	workerServer := worker.NewServer(roster, taskService, beats, dispatchEnv.StaleAfter)

	srv := server.NewServer(
		env,
		taskServer,
		eventServer,
		workerServer,
		pushNotificationServer,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := dispatcher.Start(ctx); err != nil {
		slog.Error("failed to start dispatcher", "error", err)
		os.Exit(1)
	}
	if err := jan.Start(); err != nil {
		slog.Error("failed to start janitor", "error", err)
		os.Exit(1)
	}

	wg := conc.NewWaitGroup()
	wg.Go(func() {
		pushDispatcher.Start(ctx)
	})
	wg.Go(func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	})

	<-ctx.Done()
	slog.Info("shutting down server")

	if err := dispatcher.Stop(); err != nil {
		slog.Error("failed to stop dispatcher", "error", err)
	}
	jan.Stop()
	if err := beats.Close(); err != nil {
		slog.Error("failed to close heartbeat store", "error", err)
	}

	// Give active connections time to finish.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if r := wg.WaitAndRecover(); r != nil {
		slog.Error("component goroutine panicked", "error", r.String())
	}
}

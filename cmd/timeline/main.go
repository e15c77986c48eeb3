package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MosinFAM/timeline/internal/api"
	"github.com/MosinFAM/timeline/internal/config"
	"github.com/MosinFAM/timeline/internal/db"
	"github.com/MosinFAM/timeline/internal/logger"
	"github.com/MosinFAM/timeline/internal/metric"
	"github.com/MosinFAM/timeline/internal/storage"
	tsync "github.com/MosinFAM/timeline/internal/sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

type store interface {
	storage.Storage
	storage.Notifier
}

func openStore(cfg *config.Config) (store, func(), error) {
	if cfg.StorageType != config.StoragePostgres {
		return storage.NewMemoryStorage(), func() {}, nil
	}

	dbConn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(dbConn, cfg.MigrationsDir); err != nil {
		dbConn.Close()
		return nil, nil, err
	}
	return storage.NewPostgresStorage(dbConn, cfg.DatabaseURL), func() { dbConn.Close() }, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	if err := (logger.Config{Production: cfg.LogProduction, Level: cfg.LogLevel}).ApplyGlobal(); err != nil {
		log.Fatal("Failed to set up logging:", err)
	}
	l := logger.NewNamed("main")
	defer l.Sync()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		l.Fatal("failed to open store", zap.String("type", cfg.StorageType), zap.Error(err))
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine := tsync.New(st, tsync.WithMetrics(metric.NewSyncMetrics(reg, "timeline")))
	defer engine.Close()
	subs := tsync.NewSubscriptions(st, engine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := subs.SubscribeToNewPosts(ctx); err != nil {
		l.Warn("unable to subscribe to new posts", zap.Error(err))
	}
	if cfg.SyncOnStartup {
		engine.PerformFullSync()
	}

	notes, err := st.Listen(ctx)
	if err != nil {
		l.Warn("push notifications disabled", zap.Error(err))
	} else {
		go engine.Trigger(ctx, notes)
	}

	if cfg.LogProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewRouter(api.NewHandler(engine, subs), reg),
	}

	go func() {
		l.Info("server is running", zap.String("port", cfg.Port), zap.String("storage", cfg.StorageType))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	l.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Warn("server shutdown", zap.Error(err))
	}
}

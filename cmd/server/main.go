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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/courtside/volley-live-backend/internal/broadcast"
	"github.com/courtside/volley-live-backend/internal/config"
	"github.com/courtside/volley-live-backend/internal/httpapi"
	"github.com/courtside/volley-live-backend/internal/hub"
	"github.com/courtside/volley-live-backend/internal/logger"
	"github.com/courtside/volley-live-backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPGStore(ctx, cfg.DatabaseURL, zlog)
		if err != nil {
			zlog.Fatal("postgres store", zap.Error(err))
		}
		st = pg
		zlog.Info("using postgres store")
	} else {
		st = store.NewMemStore()
		zlog.Info("using in-memory store")
	}
	defer st.Close()

	pub := broadcast.NewPublisher(st, zlog, cfg.SnapshotEventWindow)
	h := hub.NewHub(ctx, pub, nil, zlog)

	api := &httpapi.API{Hub: h, Store: st, Pub: pub, Log: zlog}
	handler := httpapi.SetupRoutes(api, nil, nil, cfg.HeartbeatInterval)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info("listening", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zlog.Info("shutting down")
		h.Inbox() <- hub.ShutdownHub{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zlog.Fatal("server error", zap.Error(err))
	}
}

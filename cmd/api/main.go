package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/visionquest-ai/backend/internal/config"
	"github.com/visionquest-ai/backend/internal/db"
	"github.com/visionquest-ai/backend/internal/events"
	"github.com/visionquest-ai/backend/internal/httpapi"
	"github.com/visionquest-ai/backend/internal/httpapi/handlers"
	"github.com/visionquest-ai/backend/internal/jobs"
	"github.com/visionquest-ai/backend/internal/logger"
	"github.com/visionquest-ai/backend/internal/storage"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Mode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect", "err", err)
	}
	repo := jobs.NewRepo(gdb)

	ctx := context.Background()
	store, err := storage.NewGCSStore(ctx, log)
	if err != nil {
		log.Fatal("storage client", "err", err)
	}
	defer store.Close()

	pub, err := events.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal("rabbit connect", "err", err)
	}
	defer pub.Close()

	h := handlers.NewHandler(log, cfg, repo, store, pub)
	router := httpapi.NewRouter(log, cfg, h)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http serve", "err", err)
		}
	}()

	stop, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-stop.Done()

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"scoring-backend/cmd"
	"scoring-backend/internal/api"
	"scoring-backend/internal/config"
	"scoring-backend/internal/core"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	log.Println("Starting API Server...")

	cfg := cmd.LoadConfig[config.APIConfig]()

	store, err := cmd.CreateStore(cfg.StoreConfig)
	if err != nil {
		log.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	publisher, err := cmd.CreatePublisher(cfg.QueueConfig)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer publisher.Close()

	submitter := core.NewSubmissionService(store, publisher, core.SubmissionOptions{
		PublishAttempts:   cfg.PublishAttempts,
		PublishRetryDelay: cfg.PublishRetryDelay,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RequeueInterval > 0 {
		go submitter.RunRequeueLoop(ctx, cfg.RequeueInterval, cfg.RequeueAfter)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(submitter, core.NewQueryService(store), store)
	apiHandler.AddRoutes(r)

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}

package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"scoring-backend/cmd"
	"scoring-backend/internal/api"
	"scoring-backend/internal/config"
	"scoring-backend/internal/core"
	"scoring-backend/internal/database"
	"scoring-backend/internal/messaging"
	"scoring-backend/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func createServer(submitter *core.SubmissionService, s store.Store, port string) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(submitter, core.NewQueryService(s), s)
	apiHandler.AddRoutes(r)

	return &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
}

func main() {
	cfg := cmd.LoadConfig[config.LocalConfig]()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(filepath.Dir(cfg.SqlitePath), os.ModePerm); err != nil {
		log.Fatalf("error creating data directory: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(filepath.Dir(cfg.SqlitePath), "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "sqlite_path", cfg.SqlitePath, "port", cfg.Port, "trainer", cfg.TrainerBackend)

	db, err := database.NewSqliteDatabase(cfg.SqlitePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	sqlStore := store.NewSQLStore(db)
	defer sqlStore.Close()

	trainer, release, err := cmd.CreateTrainer(cfg.TrainerConfig)
	if err != nil {
		log.Fatalf("Failed to create trainer: %v", err)
	}
	defer release()

	queue := messaging.NewInMemoryQueue()

	submitter := core.NewSubmissionService(sqlStore, queue, core.SubmissionOptions{})

	// The in-memory queue does not survive a restart, replay everything that
	// was still waiting when the process last exited.
	requeued, err := submitter.RequeuePending(context.Background(), 0, 0)
	if err != nil {
		log.Fatalf("Failed to requeue pending requests: %v", err)
	}
	slog.Info("replayed pending requests", "count", requeued)

	worker := core.NewTaskProcessor(sqlStore, queue, trainer, core.ProcessorOptions{
		WorkerId:    "local",
		Concurrency: cfg.Concurrency,
	})

	server := createServer(submitter, sqlStore, cfg.Port)

	slog.Info("starting worker")
	go worker.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("server started", "port", cfg.Port)
	if err := serve(server, worker, quit); err != nil {
		log.Fatalf("Could not listen on %s: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}

type stopper interface {
	Stop()
}

// serve runs server until a signal arrives on quit, then shuts down the
// server and the worker. It returns only once the worker has stopped, so
// claimed requests are finished before the process exits.
func serve(server *http.Server, worker stopper, quit <-chan os.Signal) error {
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-stopped
	return nil
}

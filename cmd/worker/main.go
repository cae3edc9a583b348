package main

import (
	"log"
	"os"
	"os/signal"
	"scoring-backend/cmd"
	"scoring-backend/internal/config"
	"scoring-backend/internal/core"
	"syscall"
)

func main() {
	log.Println("Starting Worker Process...")

	cfg := cmd.LoadConfig[config.WorkerConfig]()

	store, err := cmd.CreateStore(cfg.StoreConfig)
	if err != nil {
		log.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	receiver, err := cmd.CreateReceiver(cfg.QueueConfig, cfg.Concurrency)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}

	trainer, release, err := cmd.CreateTrainer(cfg.TrainerConfig)
	if err != nil {
		log.Fatalf("Failed to create trainer: %v", err)
	}
	defer release()

	worker := core.NewTaskProcessor(store, receiver, trainer, core.ProcessorOptions{
		WorkerId:    cfg.WorkerId,
		Queue:       cfg.QueueName,
		Concurrency: cfg.Concurrency,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Start()
	}()

	log.Printf("Worker %s started. Waiting for tasks. Press Ctrl+C to exit.", worker.WorkerId())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Shutdown signal received, waiting for in-flight tasks to finish...")
		worker.Stop()
		<-done
	case <-done:
		log.Println("Task receiver closed.")
		receiver.Close()
	}

	log.Println("Worker process stopped.")
}

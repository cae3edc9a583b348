package main

import (
	"log"
	"scoring-backend/internal/trainer"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config selects what the plugin process trains with. The plugin wraps either
// the deterministic dry-run scores or a remote training service.
type Config struct {
	TrainerURL     string        `env:"TRAINER_URL"`
	TrainerTimeout time.Duration `env:"TRAINER_TIMEOUT" envDefault:"0s"`
	DryRunDelay    time.Duration `env:"DRYRUN_DELAY" envDefault:"0s"`
}

func main() {
	// stdout belongs to the plugin handshake, go-plugin forwards stderr to the host.
	log.SetPrefix("trainer-plugin: ")

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	var impl trainer.Trainer
	if cfg.TrainerURL != "" {
		impl = trainer.NewHTTPTrainer(cfg.TrainerURL, cfg.TrainerTimeout)
	} else {
		impl = trainer.NewDryRunTrainer(cfg.DryRunDelay)
	}

	trainer.ServePlugin(impl)
}

package cmd

import (
	"flag"
	"fmt"
	"log"
	"scoring-backend/internal/config"
	"scoring-backend/internal/database"
	"scoring-backend/internal/messaging"
	"scoring-backend/internal/store"
	"scoring-backend/internal/trainer"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

type validator interface {
	Validate() error
}

// LoadConfig loads the optional env file, parses the environment into T and
// validates the result, exiting the process on any failure.
func LoadConfig[T validator]() T {
	LoadEnvFile()

	var cfg T
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	return cfg
}

func CreateStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err := database.NewDatabase(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store.NewSQLStore(db), nil
	case config.StoreSqlite:
		db, err := database.NewSqliteDatabase(cfg.SqlitePath)
		if err != nil {
			return nil, err
		}
		return store.NewSQLStore(db), nil
	case config.StoreRedis:
		return store.NewRedisStore(cfg.RedisURL, cfg.RedisKeyPrefix)
	default:
		return nil, fmt.Errorf("unknown store backend '%s'", cfg.StoreBackend)
	}
}

func CreatePublisher(cfg config.QueueConfig) (messaging.Publisher, error) {
	switch cfg.QueueBackend {
	case config.QueueRabbitMQ:
		return messaging.NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.QueueName)
	case config.QueueNSQ:
		return messaging.NewNSQPublisher(cfg.NsqdAddr, cfg.QueueName)
	default:
		return nil, fmt.Errorf("unknown queue backend '%s'", cfg.QueueBackend)
	}
}

func CreateReceiver(cfg config.QueueConfig, concurrency int) (messaging.Receiver, error) {
	switch cfg.QueueBackend {
	case config.QueueRabbitMQ:
		return messaging.NewRabbitMQReceiver(cfg.RabbitMQURL, cfg.QueueName, concurrency)
	case config.QueueNSQ:
		return messaging.NewNSQReceiver(messaging.NSQOptions{
			NsqdAddr:     cfg.NsqdAddr,
			LookupdAddrs: cfg.NsqLookupdAddrs,
			Topic:        cfg.QueueName,
			Channel:      cfg.NsqChannel,
			MsgTimeout:   cfg.NsqMsgTimeout,
			Concurrency:  concurrency,
		})
	default:
		return nil, fmt.Errorf("unknown queue backend '%s'", cfg.QueueBackend)
	}
}

// CreateTrainer returns the configured trainer and a function that releases
// any resources it holds, such as a plugin subprocess.
func CreateTrainer(cfg config.TrainerConfig) (trainer.Trainer, func(), error) {
	switch cfg.TrainerBackend {
	case config.TrainerHTTP:
		return trainer.NewHTTPTrainer(cfg.TrainerURL, cfg.TrainerTimeout), func() {}, nil
	case config.TrainerPlugin:
		t, err := trainer.LoadPluginTrainer(cfg.TrainerPluginPath)
		if err != nil {
			return nil, nil, err
		}
		return t, t.Release, nil
	case config.TrainerDryRun:
		return trainer.NewDryRunTrainer(cfg.DryRunDelay), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown trainer backend '%s'", cfg.TrainerBackend)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/cuongbtq/media-pipeline/internal/bootstrap"
	"github.com/cuongbtq/media-pipeline/internal/config"
	"github.com/cuongbtq/media-pipeline/internal/queue"
	"github.com/cuongbtq/media-pipeline/internal/storage"
	"github.com/cuongbtq/media-pipeline/shared/logger"
	"github.com/joho/godotenv"
)

const defaultConfigPath = "configs/worker-service/config.yaml"

var errNoBroker = errors.New("this command does not publish to the broker")

type commandContext struct {
	configFlag string
	verbose    bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	// overridable in tests
	openPublisher func(cfg *config.Config, logger *slog.Logger) (queue.Publisher, func(), error)
}

func newCommandContext() *commandContext {
	return &commandContext{openPublisher: dialPublisher}
}

func (c *commandContext) configPath() string {
	if path := strings.TrimSpace(c.configFlag); path != "" {
		return path
	}
	if path := os.Getenv("PIPELINECTL_CONFIG_PATH"); path != "" {
		return path
	}
	return defaultConfigPath
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		_ = godotenv.Load()

		cfg, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = fmt.Errorf("invalid config: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *slog.Logger {
	level := "warn"
	if c.verbose {
		level = "debug"
	}
	l, err := logger.New(&logger.Config{Level: level, Format: "console", Output: "stderr"})
	if err != nil {
		return slog.Default()
	}
	return l.Logger
}

// withStore opens the configured database for the duration of fn
func (c *commandContext) withStore(ctx context.Context, fn func(*storage.Storage) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	client, store, err := bootstrap.OpenStore(ctx, &cfg.Database, c.logger())
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(store)
}

// withQueue opens the store and, when publish is set, the broker
func (c *commandContext) withQueue(ctx context.Context, publish bool, fn func(*queue.Queue) error) error {
	return c.withStore(ctx, func(store *storage.Storage) error {
		log := c.logger()

		var publisher queue.Publisher = offlinePublisher{}
		if publish {
			p, closeFn, err := c.openPublisher(c.config, log)
			if err != nil {
				return err
			}
			defer closeFn()
			publisher = p
		}

		return fn(queue.New(store, publisher, log, queue.WithDedupe(c.config.Pipeline.DedupeEnabled())))
	})
}

func dialPublisher(cfg *config.Config, logger *slog.Logger) (queue.Publisher, func(), error) {
	client, err := bootstrap.NewRabbitMQ(&cfg.RabbitMQ, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to broker: %w", err)
	}
	return client, func() { client.Close() }, nil
}

// offlinePublisher backs read-only commands
type offlinePublisher struct{}

func (offlinePublisher) PublishWithRetry(context.Context, []byte, string) error {
	return errNoBroker
}

// Package bootstrap turns a loaded config into the clients the services share.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/api/auth"
	"github.com/cuongbtq/media-pipeline/internal/config"
	"github.com/cuongbtq/media-pipeline/internal/pipeline"
	"github.com/cuongbtq/media-pipeline/internal/storage"
	"github.com/cuongbtq/media-pipeline/internal/sweeper"
	"github.com/cuongbtq/media-pipeline/shared/database"
	"github.com/cuongbtq/media-pipeline/shared/logger"
	"github.com/cuongbtq/media-pipeline/shared/rabbitmq"
)

// NewLogger initializes and configures the application logger
func NewLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		NoColor:      cfg.NoColor,
		TimeFormat:   time.RFC3339,
	})
}

// OpenStore connects to the configured database and runs migrations when auto_migrate is set
func OpenStore(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, *storage.Storage, error) {
	client, err := database.NewClient(&database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStorage(client.GetDB(), logger)
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return client, store, nil
}

// RabbitMQConfig maps the config section onto the client's settings
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.DeadLetter.Exchange,
		DeadLetterQueue:    cfg.DeadLetter.Queue,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// NewRabbitMQ connects to the broker and declares the job topology
func NewRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(RabbitMQConfig(cfg), logger)
}

// NewJWTService builds the token service from the auth section
func NewJWTService(cfg *config.AuthConfig) (*auth.JWTService, error) {
	return auth.NewJWTService(cfg.JWTSecret, cfg.Issuer, cfg.TokenTTL)
}

// RetryPolicy maps the pipeline retry section
func RetryPolicy(cfg *config.RetryConfig) pipeline.RetryPolicy {
	return pipeline.RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Multiplier:     cfg.Multiplier,
		AttemptTimeout: cfg.AttemptTimeout,
	}
}

// SweeperConfig maps the sweeper section
func SweeperConfig(cfg *config.SweeperConfig) sweeper.Config {
	return sweeper.Config{
		Schedule:        cfg.Schedule,
		LeaseTimeout:    cfg.LeaseTimeout,
		RedispatchAfter: cfg.RedispatchAfter,
		RedispatchLimit: cfg.RedispatchLimit,
	}
}

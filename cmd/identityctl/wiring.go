package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/mail"
	"github.com/MrEthical07/goIdentity/storage/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func openPool(ctx context.Context, cfg goIdentity.Config) (*pgxpool.Pool, error) {
	if cfg.Database.DSN == "" {
		return nil, errors.New("GOIDENTITY_DATABASE_DSN is required")
	}
	return postgres.Open(ctx, cfg.Database.DSN, postgres.PoolConfig{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
}

func openRedis(ctx context.Context, cfg goIdentity.RedisConfig) (redis.UniversalClient, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// openMailer returns the NATS outbox when one is configured and a log
// sender otherwise. The returned func releases the connection.
func openMailer(cfg goIdentity.MailConfig, logger *slog.Logger) (mail.Sender, func(), error) {
	if cfg.NATSURL == "" {
		return mail.LogSender{Logger: logger}, func() {}, nil
	}
	outbox, err := mail.DialOutbox(cfg.NATSURL, cfg.Subject)
	if err != nil {
		return nil, nil, err
	}
	return outbox, outbox.Close, nil
}

// withEngine builds a Postgres and Redis backed engine from the environment
// for the duration of one command.
func withEngine(run func(cmd *cobra.Command, engine *goIdentity.Engine, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		cfg, err := goIdentity.LoadConfigFromEnv()
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

		pool, err := openPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		rdb, err := openRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()

		mailer, closeMailer, err := openMailer(cfg.Mail, logger)
		if err != nil {
			return err
		}
		defer closeMailer()

		engine, err := goIdentity.New().
			WithConfig(cfg).
			WithRedis(rdb).
			WithIdentityStore(postgres.NewStore(postgres.SQLDB(pool))).
			WithMailer(mailer).
			WithLogger(logger).
			Build()
		if err != nil {
			return err
		}
		defer engine.Close()

		return run(cmd, engine, args)
	}
}

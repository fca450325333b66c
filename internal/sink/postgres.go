package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresSink inserts each emitted record into a result_log table,
// for deployments that collect results centrally instead of shipping
// log files.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to PostgreSQL and ensures the result_log table
// exists.
func NewPostgres(ctx context.Context, dsn string) (*PostgresSink, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing sink DSN: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to sink database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging sink database: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS result_log (
			id         BIGSERIAL PRIMARY KEY,
			record     JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating result_log schema: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL sink")
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Write(ctx context.Context, lines []string) error {
	for _, line := range lines {
		_, err := s.pool.Exec(ctx,
			"INSERT INTO result_log (record) VALUES ($1)", line)
		if err != nil {
			return fmt.Errorf("inserting result record: %w", err)
		}
	}
	return nil
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}

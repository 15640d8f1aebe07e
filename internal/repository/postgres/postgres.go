package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CoolE88/aurora-telemetry-service/internal/config"
	"github.com/CoolE88/aurora-telemetry-service/internal/domain"
	"github.com/CoolE88/aurora-telemetry-service/internal/metrics"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore хранит очередь переотправки в таблице resend_queue:
//
//	sequence    BIGINT PRIMARY KEY
//	enqueued_at TIMESTAMPTZ NOT NULL
//	record      JSONB NOT NULL
//
// Порядок очереди — порядок номеров, удаление только кумулятивное.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(ctx context.Context, dbConfig config.DBConfig, logger *zap.Logger) (*PostgresStore, error) {
	// Конфигурация пула
	poolConfig, err := pgxpool.ParseConfig(dbConfig.DBSource)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	poolConfig.MaxConns = int32(dbConfig.MaxDBConnections)
	poolConfig.MinConns = int32(dbConfig.MinDBConnections)
	poolConfig.MaxConnLifetime = dbConfig.MaxConnLifetime
	poolConfig.MaxConnIdleTime = dbConfig.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Проверка соединения
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Запуск горутины для мониторинга соединений
	go monitorConnections(ctx, pool, logger)

	return &PostgresStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// monitorConnections периодически обновляет метрики соединений и завершается при отмене ctx
func monitorConnections(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping monitorConnections goroutine due to context cancellation")
			return
		case <-ticker.C:
			stats := pool.Stat()
			metrics.DBActiveConnections.Set(float64(stats.AcquiredConns()))
			metrics.DBIdleConnections.Set(float64(stats.IdleConns()))

			logger.Debug("Database connection stats",
				zap.Int("acquired", int(stats.AcquiredConns())),
				zap.Int("idle", int(stats.IdleConns())),
				zap.Int("max", int(stats.MaxConns())),
			)
		}
	}
}

func (s *PostgresStore) Append(ctx context.Context, entry domain.QueueEntry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("queue_append").Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(entry.Record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	query := "INSERT INTO resend_queue (sequence, enqueued_at, record) VALUES ($1, $2, $3) ON CONFLICT (sequence) DO NOTHING"
	if _, err := s.pool.Exec(ctx, query, int64(entry.Sequence), entry.EnqueuedAt, payload); err != nil {
		return fmt.Errorf("failed to append queue entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) PeekBatch(ctx context.Context, limit int) ([]domain.QueueEntry, error) {
	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("queue_peek_batch").Observe(time.Since(start).Seconds())
	}()

	query := "SELECT sequence, enqueued_at, record FROM resend_queue ORDER BY sequence LIMIT $1"

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.QueueEntry
	for rows.Next() {
		var (
			seq     int64
			payload []byte
			entry   domain.QueueEntry
		)
		if err := rows.Scan(&seq, &entry.EnqueuedAt, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(payload, &entry.Record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record at sequence %d: %w", seq, err)
		}
		entry.Sequence = uint64(seq)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}

func (s *PostgresStore) DeleteThrough(ctx context.Context, sequence uint64) error {
	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("queue_delete_through").Observe(time.Since(start).Seconds())
	}()

	query := "DELETE FROM resend_queue WHERE sequence <= $1"
	tag, err := s.pool.Exec(ctx, query, int64(sequence))
	if err != nil {
		return fmt.Errorf("failed to delete queue entries: %w", err)
	}

	s.logger.Debug("queue entries deleted",
		zap.Uint64("through", sequence),
		zap.Int64("deleted", tag.RowsAffected()))
	return nil
}

func (s *PostgresStore) MaxSequence(ctx context.Context) (uint64, error) {
	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("queue_max_sequence").Observe(time.Since(start).Seconds())
	}()

	query := "SELECT sequence FROM resend_queue ORDER BY sequence DESC LIMIT 1"

	var seq int64
	err := s.pool.QueryRow(ctx, query).Scan(&seq)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get max sequence: %w", err)
	}
	return uint64(seq), nil
}

func (s *PostgresStore) Depth(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("queue_depth").Observe(time.Since(start).Seconds())
	}()

	var depth int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM resend_queue").Scan(&depth); err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return depth, nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.DBQueryDuration.WithLabelValues("health_check").Observe(duration)
	}()

	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

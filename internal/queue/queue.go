package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CoolE88/aurora-telemetry-service/internal/domain"
	"github.com/CoolE88/aurora-telemetry-service/internal/metrics"

	"go.uber.org/zap"
)

var ErrEmptyBatch = errors.New("empty batch requested")

// Store — долговременное хранилище очереди. Записи лежат в порядке
// возрастания номеров; удаление только кумулятивное, по границе.
type Store interface {
	Append(ctx context.Context, entry domain.QueueEntry) error
	PeekBatch(ctx context.Context, limit int) ([]domain.QueueEntry, error)
	DeleteThrough(ctx context.Context, sequence uint64) error
	MaxSequence(ctx context.Context) (uint64, error)
	Depth(ctx context.Context) (int, error)
	HealthCheck(ctx context.Context) error
	Close()
}

// ResendQueue — очередь неподтверждённых записей. Поверх хранилища
// поддерживает монотонную нумерацию, переживающую перезапуск: номер
// следующей записи восстанавливается из хранилища при старте.
type ResendQueue struct {
	mu      sync.Mutex
	store   Store
	nextSeq uint64
	logger  *zap.Logger
}

// NewResendQueue восстанавливает нумерацию из хранилища. Номера,
// выданные до перезапуска, никогда не переиспользуются.
func NewResendQueue(ctx context.Context, store Store, logger *zap.Logger) (*ResendQueue, error) {
	maxSeq, err := store.MaxSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore sequence: %w", err)
	}
	depth, err := store.Depth(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore depth: %w", err)
	}
	metrics.QueueDepth.Set(float64(depth))
	logger.Info("resend queue restored",
		zap.Uint64("max_sequence", maxSeq),
		zap.Int("depth", depth))
	return &ResendQueue{
		store:   store,
		nextSeq: maxSeq + 1,
		logger:  logger,
	}, nil
}

// Enqueue добавляет запись в хвост очереди под следующим номером
func (q *ResendQueue) Enqueue(ctx context.Context, record *domain.MeasurementRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := domain.QueueEntry{
		Sequence:   q.nextSeq,
		Record:     *record,
		EnqueuedAt: time.Now(),
	}
	if err := q.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("append entry %d: %w", entry.Sequence, err)
	}
	q.nextSeq++

	depth, err := q.store.Depth(ctx)
	if err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
	q.logger.Debug("record enqueued",
		zap.Uint64("sequence", entry.Sequence),
		zap.String("record_id", entry.Record.ID.String()))
	return nil
}

// PeekBatch возвращает до limit старейших записей, не удаляя их
func (q *ResendQueue) PeekBatch(ctx context.Context, limit int) ([]domain.QueueEntry, error) {
	if limit <= 0 {
		return nil, ErrEmptyBatch
	}
	return q.store.PeekBatch(ctx, limit)
}

// Acknowledge кумулятивно удаляет все записи с номерами не выше
// sequence. Повторное подтверждение той же границы безвредно.
func (q *ResendQueue) Acknowledge(ctx context.Context, sequence uint64) error {
	if err := q.store.DeleteThrough(ctx, sequence); err != nil {
		return fmt.Errorf("acknowledge through %d: %w", sequence, err)
	}
	depth, err := q.store.Depth(ctx)
	if err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
	q.logger.Debug("entries acknowledged", zap.Uint64("through", sequence))
	return nil
}

// Depth — текущее число неподтверждённых записей
func (q *ResendQueue) Depth(ctx context.Context) (int, error) {
	return q.store.Depth(ctx)
}

func (q *ResendQueue) HealthCheck(ctx context.Context) error {
	return q.store.HealthCheck(ctx)
}

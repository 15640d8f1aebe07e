package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CoolE88/aurora-telemetry-service/internal/domain"
	"github.com/CoolE88/aurora-telemetry-service/internal/metrics"
	"github.com/CoolE88/aurora-telemetry-service/internal/pvoutput"

	"go.uber.org/zap"
)

// Queue — долговременная очередь неподтверждённых записей
type Queue interface {
	Enqueue(ctx context.Context, record *domain.MeasurementRecord) error
	PeekBatch(ctx context.Context, limit int) ([]domain.QueueEntry, error)
	Acknowledge(ctx context.Context, sequence uint64) error
	Depth(ctx context.Context) (int, error)
}

// Uploader — клиент удалённого сервиса телеметрии
type Uploader interface {
	AddStatus(ctx context.Context, record *domain.MeasurementRecord) error
	AddBatchStatus(ctx context.Context, entries []domain.QueueEntry) error
}

type Options struct {
	// MaxBatchSize — предел размера пачки при разборе очереди
	MaxBatchSize int
	// RequestInterval — минимальный интервал между запросами к сервису
	RequestInterval time.Duration
	// MaxRejectRetries — сколько раз головная запись может быть
	// отвергнута сервисом, прежде чем будет выброшена из очереди
	MaxRejectRetries int
}

// Relay доставляет записи в удалённый сервис, переживая его простои.
// Пока сервис доступен и очередь пуста, записи уходят напрямую; при
// сбое накапливаются в очереди и доставляются пачками по порядку.
// Запись, которую сервис отвергает раз за разом, выбрасывается, чтобы
// не закупорить очередь навсегда.
type Relay struct {
	queue    Queue
	uploader Uploader
	opts     Options
	logger   *zap.Logger

	mu          sync.Mutex
	lastRequest time.Time
	lastRecord  *domain.MeasurementRecord

	// учёт отказов головной записи очереди
	rejectSeq   uint64
	rejectCount int
}

func NewRelay(queue Queue, uploader Uploader, opts Options, logger *zap.Logger) *Relay {
	if opts.MaxBatchSize <= 0 || opts.MaxBatchSize > pvoutput.MaxBatchSize {
		opts.MaxBatchSize = pvoutput.MaxBatchSize
	}
	if opts.MaxRejectRetries <= 0 {
		opts.MaxRejectRetries = 3
	}
	return &Relay{
		queue:    queue,
		uploader: uploader,
		opts:     opts,
		logger:   logger,
	}
}

// Process принимает очередную собранную запись. Записи без единого
// отправляемого поля (инвертор спит) не доставляются и в очередь не
// попадают. При пустой очереди запись уходит напрямую; при непустой —
// встаёт в хвост, порядок доставки не нарушается никогда.
func (r *Relay) Process(ctx context.Context, record *domain.MeasurementRecord) error {
	r.mu.Lock()
	r.lastRecord = record
	r.mu.Unlock()

	if !pvoutput.Postable(record) {
		r.logger.Debug("record has no postable fields, skipping",
			zap.String("record_id", record.ID.String()))
		return nil
	}

	depth, err := r.queue.Depth(ctx)
	if err != nil {
		return fmt.Errorf("queue depth: %w", err)
	}

	if depth == 0 {
		if err := r.throttle(ctx); err != nil {
			return err
		}
		err := r.uploader.AddStatus(ctx, record)
		if err == nil {
			metrics.RelayPosts.Inc()
			return nil
		}
		r.logger.Warn("direct upload failed, record queued for resend",
			zap.String("record_id", record.ID.String()),
			zap.Error(err))
		metrics.RelayPostsFailed.WithLabelValues(failureKind(err)).Inc()
		return r.queue.Enqueue(ctx, record)
	}

	if err := r.queue.Enqueue(ctx, record); err != nil {
		return err
	}
	return r.Drain(ctx)
}

// Drain разбирает очередь пачками, пока она не опустеет либо сервис
// не станет недоступен. Преходящий сбой останавливает разбор: записи
// остаются на месте до следующего цикла. Отказ сервиса сужает пачку
// до одной записи, чтобы изолировать испорченную голову; после
// MaxRejectRetries отказов подряд голова выбрасывается.
func (r *Relay) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		limit := r.opts.MaxBatchSize
		r.mu.Lock()
		if r.rejectCount > 0 {
			limit = 1
		}
		r.mu.Unlock()

		batch, err := r.queue.PeekBatch(ctx, limit)
		if err != nil {
			return fmt.Errorf("peek batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		if err := r.throttle(ctx); err != nil {
			return err
		}

		head := batch[0].Sequence
		last := batch[len(batch)-1].Sequence
		err = r.uploader.AddBatchStatus(ctx, batch)
		if err == nil {
			if err := r.queue.Acknowledge(ctx, last); err != nil {
				return fmt.Errorf("acknowledge through %d: %w", last, err)
			}
			metrics.RelayPosts.Inc()
			r.resetRejects()
			r.logger.Info("queued records delivered",
				zap.Int("count", len(batch)),
				zap.Uint64("through", last))
			continue
		}

		metrics.RelayPostsFailed.WithLabelValues(failureKind(err)).Inc()
		if errors.Is(err, pvoutput.ErrRejected) {
			if dropErr := r.noteReject(ctx, head, err); dropErr != nil {
				return dropErr
			}
			continue
		}

		// сервис недоступен, записи подождут следующего цикла
		r.logger.Warn("upload failed, drain suspended",
			zap.Int("queued", len(batch)),
			zap.Error(err))
		return nil
	}
}

// noteReject учитывает отказ по головной записи и выбрасывает её
// после исчерпания лимита
func (r *Relay) noteReject(ctx context.Context, head uint64, cause error) error {
	r.mu.Lock()
	if r.rejectSeq != head {
		r.rejectSeq = head
		r.rejectCount = 0
	}
	r.rejectCount++
	count := r.rejectCount
	r.mu.Unlock()

	if count < r.opts.MaxRejectRetries {
		r.logger.Warn("record rejected by remote service",
			zap.Uint64("sequence", head),
			zap.Int("attempt", count),
			zap.Error(cause))
		return nil
	}

	r.logger.Error("record rejected repeatedly, dropping to unblock the queue",
		zap.Uint64("sequence", head),
		zap.Int("attempts", count),
		zap.Error(cause))
	if err := r.queue.Acknowledge(ctx, head); err != nil {
		return fmt.Errorf("drop rejected entry %d: %w", head, err)
	}
	metrics.RelayRecordsDropped.Inc()
	r.resetRejects()
	return nil
}

func (r *Relay) resetRejects() {
	r.mu.Lock()
	r.rejectSeq = 0
	r.rejectCount = 0
	r.mu.Unlock()
}

// throttle выдерживает минимальный интервал между запросами к сервису
func (r *Relay) throttle(ctx context.Context) error {
	r.mu.Lock()
	wait := r.opts.RequestInterval - time.Since(r.lastRequest)
	r.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.mu.Lock()
	r.lastRequest = time.Now()
	r.mu.Unlock()
	return nil
}

// LastRecord — последняя принятая запись, для диагностического API
func (r *Relay) LastRecord() *domain.MeasurementRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRecord
}

func failureKind(err error) string {
	if errors.Is(err, pvoutput.ErrRejected) {
		return "rejected"
	}
	return "transient"
}

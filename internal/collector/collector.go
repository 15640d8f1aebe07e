package collector

import (
	"context"
	"time"

	"github.com/CoolE88/aurora-telemetry-service/internal/domain"

	"go.uber.org/zap"
)

type Session interface {
	Reopen() error
	State() domain.SessionState
}

type Assembler interface {
	Assemble(ctx context.Context, ts time.Time) *domain.MeasurementRecord
}

type Relay interface {
	Process(ctx context.Context, record *domain.MeasurementRecord) error
}

// Publisher — необязательный локальный потребитель записей
type Publisher interface {
	Publish(record *domain.MeasurementRecord)
}

// Collector гоняет цикл опроса: раз в интервал собирает запись,
// отдаёт её ретранслятору и локальному паблишеру. Каждый цикл живёт
// под собственным дедлайном, зависший обмен не останавливает сервис
// навсегда.
type Collector struct {
	session     Session
	assembler   Assembler
	relay       Relay
	publisher   Publisher
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	logger      *zap.Logger
}

func NewCollector(session Session, assembler Assembler, relay Relay, publisher Publisher,
	interval, timeout time.Duration, maxFailures int, logger *zap.Logger) *Collector {
	return &Collector{
		session:     session,
		assembler:   assembler,
		relay:       relay,
		publisher:   publisher,
		interval:    interval,
		timeout:     timeout,
		maxFailures: maxFailures,
		logger:      logger,
	}
}

// Start блокирует до отмены ctx. Первый цикл выполняется сразу, не
// дожидаясь тика.
func (c *Collector) Start(ctx context.Context) {
	c.logger.Info("starting collector",
		zap.Duration("interval", c.interval),
		zap.Duration("timeout", c.timeout),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runCycle(ctx)
	for {
		select {
		case <-ticker.C:
			c.runCycle(ctx)
		case <-ctx.Done():
			c.logger.Info("context cancelled, stopping collector")
			return
		}
	}
}

func (c *Collector) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	cycleCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	record := c.assembler.Assemble(cycleCtx, start)

	if c.publisher != nil {
		c.publisher.Publish(record)
	}

	if err := c.relay.Process(cycleCtx, record); err != nil {
		c.logger.Error("[Collector] failed to relay record",
			zap.String("record_id", record.ID.String()),
			zap.Error(err),
		)
	}

	c.logger.Debug("[Collector] cycle finished",
		zap.String("record_id", record.ID.String()),
		zap.Duration("cycle_time", time.Since(start)),
	)

	c.checkSession()
}

// checkSession эскалирует деградацию канала: когда сеанс закрыт или
// набрал предельное число сбоев подряд, порт переоткрывается перед
// следующим циклом
func (c *Collector) checkSession() {
	state := c.session.State()
	unusable := c.maxFailures > 0 && state.ConsecutiveFailures >= c.maxFailures
	if state.IsOpen && !unusable {
		return
	}

	c.logger.Warn("session unusable, cycling the port",
		zap.Int("consecutive_failures", state.ConsecutiveFailures),
		zap.String("last_error", state.LastError),
	)
	if err := c.session.Reopen(); err != nil {
		c.logger.Error("port cycle failed", zap.Error(err))
	}
}

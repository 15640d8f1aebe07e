package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/CoolE88/aurora-telemetry-service/internal/domain"
	"github.com/CoolE88/aurora-telemetry-service/internal/metrics"
	"github.com/CoolE88/aurora-telemetry-service/internal/protocol"
	"github.com/CoolE88/aurora-telemetry-service/pkg/utils"

	"github.com/tarm/serial"
	"go.uber.org/zap"
)

var (
	ErrTimeout  = errors.New("response timeout")
	ErrNotOpen  = errors.New("session is not open")
	ErrUnusable = errors.New("session exceeded consecutive failure limit")
)

// Connection — байтовый канал к инвертору. Интерфейс позволяет
// тестировать сеанс без физического порта.
type Connection interface {
	io.ReadWriteCloser
	Flush() error
}

// Dialer открывает канал. Нужен сеансу для явного переоткрытия порта.
type Dialer func() (Connection, error)

// SerialDialer открывает последовательный порт RS-485.
// Параметры линии Aurora: 19200 бод, 8N1.
func SerialDialer(port string, baud int, readTimeout time.Duration) Dialer {
	return func() (Connection, error) {
		conn, err := serial.OpenPort(&serial.Config{
			Name:        port,
			Baud:        baud,
			ReadTimeout: readTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
		}
		return conn, nil
	}
}

// Options — настройки сеанса
type Options struct {
	// Timeout — максимум ожидания полного ответа на один запрос
	Timeout time.Duration
	// QuietPeriod — минимальная пауза между запросами: шина
	// полудуплексная, инвертор нельзя опрашивать без промежутка
	QuietPeriod time.Duration
	// ReopenDelay — пауза между закрытием и открытием порта при
	// переоткрытии
	ReopenDelay time.Duration
	// MaxConsecutiveFailures — после стольких сбоев подряд сеанс
	// помечается непригодным до явного переоткрытия
	MaxConsecutiveFailures int
}

// Session владеет последовательным каналом и выполняет блокирующий
// обмен запрос-ответ. Одновременно допустим только один запрос.
type Session struct {
	mu     sync.Mutex
	dial   Dialer
	conn   Connection
	opts   Options
	logger *zap.Logger

	open        bool
	failures    int
	lastErr     error
	lastRequest time.Time
}

func NewSession(dial Dialer, opts Options, logger *zap.Logger) *Session {
	return &Session{
		dial:   dial,
		opts:   opts,
		logger: logger,
	}
}

// Open открывает канал связи
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked()
}

func (s *Session) openLocked() error {
	if s.open {
		return nil
	}
	conn, err := s.dial()
	if err != nil {
		s.lastErr = err
		return err
	}
	s.conn = conn
	s.open = true
	s.failures = 0
	s.logger.Info("serial session opened",
		zap.Duration("timeout", s.opts.Timeout),
		zap.Duration("quiet_period", s.opts.QuietPeriod))
	return nil
}

// Close закрывает канал связи
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	if !s.open {
		return nil
	}
	s.open = false
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// Reopen переоткрывает порт. Периодические ошибки CRC на линии лечатся
// только циклом порта, после чего обмен восстанавливается.
func (s *Session) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("cycling serial port")
	if err := s.closeLocked(); err != nil {
		s.logger.Warn("close before reopen failed", zap.Error(err))
	}
	time.Sleep(s.opts.ReopenDelay)
	if err := s.openLocked(); err != nil {
		return fmt.Errorf("reopen failed: %w", err)
	}
	metrics.TransportReopens.Inc()
	s.logger.Info("serial port cycle complete")
	return nil
}

// State возвращает снимок состояния сеанса
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := domain.SessionState{
		IsOpen:              s.open,
		ConsecutiveFailures: s.failures,
	}
	if s.lastErr != nil {
		state.LastError = s.lastErr.Error()
	}
	return state
}

// Request пишет кадр и блокируется до полного ответа фиксированной длины
// либо истечения тайм-аута. Любой сбой увеличивает счётчик
// последовательных отказов, успех сбрасывает его в ноль. После
// превышения порога сеанс непригоден до явного Reopen.
func (s *Session) Request(ctx context.Context, frame []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, ErrNotOpen
	}
	if s.opts.MaxConsecutiveFailures > 0 && s.failures >= s.opts.MaxConsecutiveFailures {
		return nil, fmt.Errorf("%w: %d failures", ErrUnusable, s.failures)
	}

	if err := s.waitQuietPeriod(ctx); err != nil {
		return nil, err
	}

	response, err := s.exchange(frame)
	s.lastRequest = time.Now()
	if err != nil {
		s.failures++
		s.lastErr = err
		metrics.TransportRequestsFailed.Inc()
		if s.opts.MaxConsecutiveFailures > 0 && s.failures >= s.opts.MaxConsecutiveFailures {
			s.logger.Error("session marked unusable",
				zap.Int("consecutive_failures", s.failures),
				zap.Error(err))
		}
		return nil, err
	}

	s.failures = 0
	s.lastErr = nil
	metrics.TransportRequests.Inc()
	return response, nil
}

// waitQuietPeriod выдерживает паузу после предыдущего запроса
func (s *Session) waitQuietPeriod(ctx context.Context) error {
	if s.opts.QuietPeriod <= 0 || s.lastRequest.IsZero() {
		return nil
	}
	remaining := s.opts.QuietPeriod - time.Since(s.lastRequest)
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Session) exchange(frame []byte) ([]byte, error) {
	// сбрасываем возможный мусор в приёмном буфере перед записью
	if err := s.conn.Flush(); err != nil {
		return nil, fmt.Errorf("serial flush: %w", err)
	}

	n, err := s.conn.Write(frame)
	if err != nil {
		return nil, fmt.Errorf("serial write: %w", err)
	}
	if n != len(frame) {
		return nil, fmt.Errorf("serial write: expected to write %d bytes, wrote %d", len(frame), n)
	}
	s.logger.Debug("frame sent", zap.String("bytes", utils.FormatBytes(frame)))

	response := make([]byte, protocol.ResponseLength)
	if err := s.readFull(response); err != nil {
		return nil, err
	}
	s.logger.Debug("frame received", zap.String("bytes", utils.FormatBytes(response)))
	return response, nil
}

// readFull дочитывает ответ до фиксированной длины либо до тайм-аута.
// Неполный ответ — тоже тайм-аут: кадр либо целый, либо его нет.
func (s *Session) readFull(buf []byte) error {
	deadline := time.Now().Add(s.opts.Timeout)
	read := 0
	for read < len(buf) {
		n, err := s.conn.Read(buf[read:])
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("serial read: %w", err)
		}
		read += n
		if read == len(buf) {
			return nil
		}
		if n == 0 && time.Now().After(deadline) {
			if read == 0 {
				return fmt.Errorf("%w: no response within %s", ErrTimeout, s.opts.Timeout)
			}
			return fmt.Errorf("%w: partial response, %d of %d bytes", ErrTimeout, read, len(buf))
		}
	}
	return nil
}

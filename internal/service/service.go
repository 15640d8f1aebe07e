package service

import (
	"context"
	"fmt"

	"github.com/CoolE88/aurora-telemetry-service/internal/domain"

	"go.uber.org/zap"
)

type Queue interface {
	Depth(ctx context.Context) (int, error)
	HealthCheck(ctx context.Context) error
}

// Inverter — запросы к устройству по требованию. Сеанс сериализует
// обмены, так что вызовы безопасны параллельно циклу опроса.
type Inverter interface {
	Info(ctx context.Context) (*domain.InverterInfo, error)
	Status(ctx context.Context) (*domain.InverterStatus, error)
	SessionState() domain.SessionState
}

type RecordSource interface {
	LastRecord() *domain.MeasurementRecord
}

// StatusService собирает диагностическую сводку для HTTP API
type StatusService struct {
	queue    Queue
	inverter Inverter
	records  RecordSource
	logger   *zap.Logger
}

func NewStatusService(queue Queue, inverter Inverter, records RecordSource, logger *zap.Logger) *StatusService {
	return &StatusService{
		queue:    queue,
		inverter: inverter,
		records:  records,
		logger:   logger,
	}
}

func (s *StatusService) CheckStoreConnection(ctx context.Context) error {
	return s.queue.HealthCheck(ctx)
}

// RelayStatus — сводка о доставке: последняя запись, глубина очереди,
// состояние сеанса связи
func (s *StatusService) RelayStatus(ctx context.Context) (*domain.RelayStatus, error) {
	depth, err := s.queue.Depth(ctx)
	if err != nil {
		s.logger.Error("[StatusService] Failed to get queue depth", zap.Error(err))
		return nil, fmt.Errorf("queue depth: %w", err)
	}

	return &domain.RelayStatus{
		LastRecord: s.records.LastRecord(),
		QueueDepth: depth,
		Session:    s.inverter.SessionState(),
	}, nil
}

// InverterInfo запрашивает паспортные данные устройства по шине
func (s *StatusService) InverterInfo(ctx context.Context) (*domain.InverterInfo, error) {
	info, err := s.inverter.Info(ctx)
	if err != nil {
		s.logger.Error("[StatusService] Failed to query inverter info", zap.Error(err))
		return nil, err
	}
	return info, nil
}

// InverterStatus запрашивает и расшифровывает текущее состояние устройства
func (s *StatusService) InverterStatus(ctx context.Context) (*domain.InverterStatus, error) {
	status, err := s.inverter.Status(ctx)
	if err != nil {
		s.logger.Error("[StatusService] Failed to query inverter status", zap.Error(err))
		return nil, err
	}
	return status, nil
}

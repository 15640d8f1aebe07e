package inverter

import (
	"context"
	"math"
	"time"

	"github.com/CoolE88/aurora-telemetry-service/internal/domain"
	"github.com/CoolE88/aurora-telemetry-service/internal/metrics"
	"github.com/CoolE88/aurora-telemetry-service/internal/protocol"
	"github.com/CoolE88/aurora-telemetry-service/pkg/utils"

	"go.uber.org/zap"
)

// QueryClient — измерительный интерфейс клиента протокола
type QueryClient interface {
	Query(ctx context.Context, q protocol.Query) (Reading, error)
}

// Assembler раз в цикл опроса выполняет сконфигурированный список
// запросов в фиксированном порядке и собирает запись измерений.
// Отказ отдельного запроса не прерывает цикл: частичные данные лучше,
// чем никакие.
type Assembler struct {
	client  QueryClient
	queries []protocol.Query
	address byte
	logger  *zap.Logger

	// накопленная энергия за день из прошлого цикла, для производного
	// приращения energy
	lastDayEnergy domain.Value
}

func NewAssembler(client QueryClient, queries []protocol.Query, address byte, logger *zap.Logger) *Assembler {
	return &Assembler{
		client:  client,
		queries: queries,
		address: address,
		logger:  logger,
	}
}

// Assemble выполняет один цикл опроса и возвращает запись измерений.
// Запись создаётся всегда, даже если не удался ни один запрос: хозяин
// цикла видит живость драйвера и по пустым записям сам решает, когда
// связь считать потерянной.
func (a *Assembler) Assemble(ctx context.Context, ts time.Time) *domain.MeasurementRecord {
	start := time.Now()
	record := &domain.MeasurementRecord{
		ID:        utils.NewUUID(),
		Timestamp: ts.Unix(),
		Address:   a.address,
		Fields:    make(map[string]domain.Value, len(a.queries)+2),
	}

	asleep := false
	for _, q := range a.queries {
		if asleep || ctx.Err() != nil {
			// дедлайн цикла истёк либо инвертор спит: остаток полей
			// помечается отсутствующим без обращения к шине
			record.Fields[q.Name] = domain.Missing()
			continue
		}

		reading, err := a.client.Query(ctx, q)
		if err != nil {
			record.Fields[q.Name] = domain.Missing()
			metrics.FieldsMissing.Inc()
			a.logger.Debug("query failed, field marked missing",
				zap.String("field", q.Name),
				zap.Error(err))
			continue
		}
		if !reading.Running() {
			// инвертор не в состоянии Run: данных не будет до рассвета,
			// дальнейший опрос в этом цикле бессмыслен
			a.logger.Info("inverter is not running, stopping sweep",
				zap.Uint8("global_state", reading.GlobalState),
				zap.String("state", protocol.DescribeGlobalState(reading.GlobalState)))
			record.Fields[q.Name] = domain.Missing()
			metrics.FieldsMissing.Inc()
			asleep = true
			continue
		}
		record.Fields[q.Name] = domain.Present(reading.Value)
	}

	a.deriveEfficiency(record)
	a.deriveEnergy(record)

	metrics.RecordsAssembled.Inc()
	metrics.AssembleDuration.Observe(time.Since(start).Seconds())
	a.logger.Debug("record assembled",
		zap.String("record_id", record.ID.String()),
		zap.Int64("timestamp", record.Timestamp),
		zap.Int("fields", len(record.Fields)))
	return record
}

// deriveEfficiency вычисляет КПД преобразования: выходная мощность в
// сеть к суммарной мощности стрингов. Деление на ноль и нечисловые
// результаты дают отсутствующее значение, NaN наружу не выходит.
func (a *Assembler) deriveEfficiency(record *domain.MeasurementRecord) {
	out := record.Field(domain.FieldGridPower)
	in1 := record.Field(domain.FieldString1Power)
	in2 := record.Field(domain.FieldString2Power)
	if !out.Present || !in1.Present || !in2.Present {
		record.Fields[domain.FieldEfficiency] = domain.Missing()
		return
	}
	in := in1.Float + in2.Float
	if in <= 0 {
		record.Fields[domain.FieldEfficiency] = domain.Missing()
		return
	}
	eff := out.Float / in * 100.0
	if math.IsNaN(eff) || math.IsInf(eff, 0) {
		record.Fields[domain.FieldEfficiency] = domain.Missing()
		return
	}
	record.Fields[domain.FieldEfficiency] = domain.Present(eff)
}

// deriveEnergy превращает накопленную за день энергию в приращение
// между соседними циклами. Первое значение после старта и откат
// счётчика (смена суток) дают отсутствующее значение.
func (a *Assembler) deriveEnergy(record *domain.MeasurementRecord) {
	current := record.Field(domain.FieldDayEnergy)
	previous := a.lastDayEnergy
	if current.Present {
		a.lastDayEnergy = current
	} else {
		a.lastDayEnergy = domain.Missing()
	}

	if !current.Present || !previous.Present || current.Float < previous.Float {
		record.Fields[domain.FieldEnergy] = domain.Missing()
		return
	}
	record.Fields[domain.FieldEnergy] = domain.Present(current.Float - previous.Float)
}

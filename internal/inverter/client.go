package inverter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CoolE88/aurora-telemetry-service/internal/domain"
	"github.com/CoolE88/aurora-telemetry-service/internal/metrics"
	"github.com/CoolE88/aurora-telemetry-service/internal/protocol"

	"go.uber.org/zap"
)

// ErrExhaustedRetries — все попытки выполнить запрос исчерпаны,
// внутри завёрнута последняя ошибка канала
var ErrExhaustedRetries = errors.New("retries exhausted")

// Transport — блокирующий обмен с шиной. Реализуется транспортным
// сеансом; в тестах подменяется.
type Transport interface {
	Request(ctx context.Context, frame []byte) ([]byte, error)
	Reopen() error
	State() domain.SessionState
}

// Reading — результат измерительного запроса
type Reading struct {
	Value       float64
	GlobalState byte
}

// Running сообщает, в работе ли инвертор на момент ответа
func (r Reading) Running() bool {
	return r.GlobalState == protocol.GlobalStateRun
}

// Client выполняет логические запросы к одному инвертору на шине.
// Адрес фиксирован конфигурацией; несколько инверторов на одной шине
// обслуживаются отдельными клиентами поверх общего сеанса.
type Client struct {
	transport Transport
	address   byte
	maxTries  int
	logger    *zap.Logger
}

func NewClient(transport Transport, address byte, maxTries int, logger *zap.Logger) *Client {
	return &Client{
		transport: transport,
		address:   address,
		maxTries:  maxTries,
		logger:    logger,
	}
}

// Query выполняет измерительный запрос с повторами. Тайм-аут, ошибка
// ввода-вывода и несовпадение контрольной суммы считаются преходящими
// и повторяются до maxTries раз. Ошибка декодирования не повторяется:
// канал доставил кадр корректно, проблема в несоответствии прошивки.
func (c *Client) Query(ctx context.Context, q protocol.Query) (Reading, error) {
	frame, err := protocol.EncodeRequest(c.address, q.Command, q.Params()...)
	if err != nil {
		return Reading{}, err
	}

	response, err := c.requestWithRetries(ctx, frame)
	if err != nil {
		metrics.QueriesFailed.WithLabelValues(q.Name).Inc()
		return Reading{}, err
	}

	raw, err := q.Decode(response)
	if err != nil {
		// рассинхрон конфигурации и прошивки, повторы не помогут
		c.logger.Warn("query decode failed, check firmware/configuration match",
			zap.String("query", q.Name),
			zap.Error(err))
		metrics.QueriesFailed.WithLabelValues(q.Name).Inc()
		return Reading{}, err
	}

	return Reading{
		Value:       raw * q.Scale,
		GlobalState: response.GlobalState,
	}, nil
}

// requestWithRetries гоняет кадр по шине до первого валидного ответа.
// На ошибке CRC порт переоткрывается сразу: однажды начавшись, ошибки
// CRC не прекращаются до цикла порта. На ошибках ввода-вывода порт
// переоткрывается перед последней попыткой.
func (c *Client) requestWithRetries(ctx context.Context, frame []byte) (protocol.Frame, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxTries; attempt++ {
		if err := ctx.Err(); err != nil {
			return protocol.Frame{}, err
		}

		raw, err := c.transport.Request(ctx, frame)
		if err != nil {
			lastErr = err
			c.logger.Debug("transport request failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			c.maybeCycle(attempt, false)
			continue
		}

		decoded, err := protocol.DecodeResponse(raw)
		if err != nil {
			lastErr = err
			if errors.Is(err, protocol.ErrChecksumMismatch) {
				metrics.ChecksumErrors.Inc()
				c.logger.Info("checksum error on response",
					zap.Int("attempt", attempt))
				c.maybeCycle(attempt, true)
			}
			continue
		}
		return decoded, nil
	}
	return protocol.Frame{}, fmt.Errorf("%w after %d tries: %w", ErrExhaustedRetries, c.maxTries, lastErr)
}

// maybeCycle переоткрывает порт: немедленно после ошибки CRC либо
// перед последней попыткой после прочих сбоев
func (c *Client) maybeCycle(attempt int, crcError bool) {
	if attempt >= c.maxTries {
		return
	}
	if crcError || attempt+1 == c.maxTries {
		if err := c.transport.Reopen(); err != nil {
			c.logger.Warn("port cycle failed", zap.Error(err))
		}
	}
}

// Info собирает паспортные данные инвертора
func (c *Client) Info(ctx context.Context) (*domain.InverterInfo, error) {
	part, err := c.queryASCII(ctx, protocol.CmdPartNumber, 0, 6)
	if err != nil {
		return nil, fmt.Errorf("part number: %w", err)
	}
	serialNo, err := c.queryASCII(ctx, protocol.CmdSerialNumber, 0, 6)
	if err != nil {
		return nil, fmt.Errorf("serial number: %w", err)
	}
	firmware, err := c.queryASCII(ctx, protocol.CmdFirmwareRelease, 2, 4)
	if err != nil {
		return nil, fmt.Errorf("firmware release: %w", err)
	}
	version, err := c.queryASCII(ctx, protocol.CmdVersion, 2, 4)
	if err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}
	week, year, err := c.manufactureDate(ctx)
	if err != nil {
		return nil, fmt.Errorf("manufacture date: %w", err)
	}
	return &domain.InverterInfo{
		PartNumber:      part,
		SerialNumber:    serialNo,
		FirmwareRelease: firmware,
		Version:         version,
		ManufactureWeek: week,
		ManufactureYear: year,
	}, nil
}

// queryASCII читает строковый ответ. У команд без состояния строка
// занимает все 6 байт после заголовка кадра, у команд с состоянием —
// только 4 байта данных.
func (c *Client) queryASCII(ctx context.Context, command byte, offset, length int) (string, error) {
	frame, err := protocol.EncodeRequest(c.address, command)
	if err != nil {
		return "", err
	}
	response, err := c.requestWithRetries(ctx, frame)
	if err != nil {
		return "", err
	}
	// для команд без байтов состояния строка начинается с нулевого байта
	full := append([]byte{response.TransmissionState, response.GlobalState}, response.Data[:]...)
	raw := full[offset : offset+length]
	return strings.TrimRight(string(raw), "\x00 "), nil
}

func (c *Client) manufactureDate(ctx context.Context) (week, year int, err error) {
	frame, err := protocol.EncodeRequest(c.address, protocol.CmdManufactureDate)
	if err != nil {
		return 0, 0, err
	}
	response, err := c.requestWithRetries(ctx, frame)
	if err != nil {
		return 0, 0, err
	}
	week = int(binary.BigEndian.Uint16(response.Data[0:2]))
	year = int(binary.BigEndian.Uint16(response.Data[2:4]))
	return week, year, nil
}

// Status запрашивает и расшифровывает состояние инвертора (команда 50)
func (c *Client) Status(ctx context.Context) (*domain.InverterStatus, error) {
	frame, err := protocol.EncodeRequest(c.address, protocol.CmdState)
	if err != nil {
		return nil, err
	}
	response, err := c.requestWithRetries(ctx, frame)
	if err != nil {
		return nil, err
	}
	alarm := protocol.DescribeAlarm(response.Data[3])
	return &domain.InverterStatus{
		TransmissionState: response.TransmissionState,
		GlobalState:       response.GlobalState,
		InverterState:     response.Data[0],
		DcDc1State:        response.Data[1],
		DcDc2State:        response.Data[2],
		AlarmState:        response.Data[3],
		GlobalDesc:        protocol.DescribeGlobalState(response.GlobalState),
		InverterDesc:      protocol.DescribeInverterState(response.Data[0]),
		AlarmDesc:         alarm.Description,
		AlarmCode:         alarm.Code,
	}, nil
}

// Time возвращает время часов инвертора
func (c *Client) Time(ctx context.Context) (time.Time, error) {
	frame, err := protocol.EncodeRequest(c.address, protocol.CmdGetTime)
	if err != nil {
		return time.Time{}, err
	}
	response, err := c.requestWithRetries(ctx, frame)
	if err != nil {
		return time.Time{}, err
	}
	deviceSeconds := int64(binary.BigEndian.Uint32(response.Data[:]))
	return time.Unix(deviceSeconds+protocol.DeviceEpochOffset, 0), nil
}

// SetTime переводит часы инвертора
func (c *Client) SetTime(ctx context.Context, t time.Time) error {
	deviceSeconds := t.Unix() - protocol.DeviceEpochOffset
	if deviceSeconds < 0 {
		return fmt.Errorf("time %s precedes device epoch", t.Format(time.RFC3339))
	}

	var params [4]byte
	binary.BigEndian.PutUint32(params[:], uint32(deviceSeconds))
	frame, err := protocol.EncodeRequest(c.address, protocol.CmdSetTime, params[:]...)
	if err != nil {
		return err
	}
	if _, err := c.requestWithRetries(ctx, frame); err != nil {
		return err
	}
	c.logger.Info("inverter clock set", zap.Time("time", t))
	return nil
}

// Alarms возвращает четыре последних события тревоги, новые первыми
func (c *Client) Alarms(ctx context.Context) ([]protocol.Alarm, error) {
	frame, err := protocol.EncodeRequest(c.address, protocol.CmdLastAlarms)
	if err != nil {
		return nil, err
	}
	response, err := c.requestWithRetries(ctx, frame)
	if err != nil {
		return nil, err
	}
	alarms := make([]protocol.Alarm, 0, len(response.Data))
	for _, code := range response.Data {
		alarms = append(alarms, protocol.DescribeAlarm(code))
	}
	return alarms, nil
}

// SessionState отдаёт состояние транспортного сеанса
func (c *Client) SessionState() domain.SessionState {
	return c.transport.State()
}

package inverter

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/CoolE88/aurora-telemetry-service/internal/domain"
	"github.com/CoolE88/aurora-telemetry-service/internal/protocol"
	"github.com/CoolE88/aurora-telemetry-service/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedTransport отдаёт заранее заготовленные ответы по одному на запрос
type scriptedTransport struct {
	responses [][]byte
	errs      []error
	frames    [][]byte
	calls     int
	reopens   int
}

func (s *scriptedTransport) Request(_ context.Context, frame []byte) ([]byte, error) {
	s.frames = append(s.frames, frame)
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return nil, transport.ErrTimeout
}

func (s *scriptedTransport) Reopen() error { s.reopens++; return nil }

func (s *scriptedTransport) State() domain.SessionState {
	return domain.SessionState{IsOpen: true}
}

func floatResponse(t *testing.T, v float32) []byte {
	t.Helper()
	body := []byte{0, protocol.GlobalStateRun, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(body[2:6], math.Float32bits(v))
	return protocol.AppendChecksum(body)
}

func gridVoltageQuery(t *testing.T) protocol.Query {
	t.Helper()
	queries, err := protocol.BuildQueryTable([]string{domain.FieldGridVoltage})
	require.NoError(t, err)
	return queries[0]
}

func TestClient_QuerySuccess(t *testing.T) {
	tr := &scriptedTransport{responses: [][]byte{floatResponse(t, 235.5)}}
	logger, _ := zap.NewDevelopment()
	client := NewClient(tr, 2, 3, logger)

	reading, err := client.Query(context.Background(), gridVoltageQuery(t))
	require.NoError(t, err)
	assert.InDelta(t, 235.5, reading.Value, 1e-4)
	assert.True(t, reading.Running())
	assert.Equal(t, 1, tr.calls)
}

func TestClient_QueryRetriesThenSucceeds(t *testing.T) {
	// первые две попытки падают, третья проходит (k < max_tries)
	tr := &scriptedTransport{
		responses: [][]byte{nil, nil, floatResponse(t, 230.0)},
		errs:      []error{transport.ErrTimeout, errors.New("io failure"), nil},
	}
	logger, _ := zap.NewDevelopment()
	client := NewClient(tr, 2, 3, logger)

	reading, err := client.Query(context.Background(), gridVoltageQuery(t))
	require.NoError(t, err)
	assert.InDelta(t, 230.0, reading.Value, 1e-4)
	assert.Equal(t, 3, tr.calls)
}

func TestClient_QueryExhaustedRetries(t *testing.T) {
	tr := &scriptedTransport{
		errs: []error{transport.ErrTimeout, transport.ErrTimeout, transport.ErrTimeout},
	}
	logger, _ := zap.NewDevelopment()
	client := NewClient(tr, 2, 3, logger)

	_, err := client.Query(context.Background(), gridVoltageQuery(t))
	assert.ErrorIs(t, err, ErrExhaustedRetries)
	// последняя причина сохраняется в обёртке
	assert.ErrorIs(t, err, transport.ErrTimeout)
	assert.Equal(t, 3, tr.calls)
}

func TestClient_ChecksumErrorRetriedWithPortCycle(t *testing.T) {
	bad := floatResponse(t, 230.0)
	bad[3] ^= 0xFF // портим байт, CRC перестаёт сходиться

	tr := &scriptedTransport{responses: [][]byte{bad, floatResponse(t, 230.0)}}
	logger, _ := zap.NewDevelopment()
	client := NewClient(tr, 2, 3, logger)

	reading, err := client.Query(context.Background(), gridVoltageQuery(t))
	require.NoError(t, err)
	assert.InDelta(t, 230.0, reading.Value, 1e-4)
	// после ошибки CRC порт циклится немедленно
	assert.Equal(t, 1, tr.reopens)
}

func TestClient_DecodeErrorNotRetried(t *testing.T) {
	body := []byte{0, protocol.GlobalStateRun, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(body[2:6], math.Float32bits(float32(math.NaN())))
	nanResponse := protocol.AppendChecksum(body)

	tr := &scriptedTransport{responses: [][]byte{nanResponse}}
	logger, _ := zap.NewDevelopment()
	client := NewClient(tr, 2, 3, logger)

	_, err := client.Query(context.Background(), gridVoltageQuery(t))
	assert.ErrorIs(t, err, protocol.ErrDecode)
	// ошибка декодирования не лечится повтором
	assert.Equal(t, 1, tr.calls)
}

func TestClient_IsoResistanceScaled(t *testing.T) {
	queries, err := protocol.BuildQueryTable([]string{domain.FieldIsoResistance})
	require.NoError(t, err)

	tr := &scriptedTransport{responses: [][]byte{floatResponse(t, 8.5)}} // МОм
	logger, _ := zap.NewDevelopment()
	client := NewClient(tr, 2, 3, logger)

	reading, err := client.Query(context.Background(), queries[0])
	require.NoError(t, err)
	assert.InDelta(t, 8.5e6, reading.Value, 1) // Ом
}

func TestClient_Status(t *testing.T) {
	// inverter=Run(2), dcdc1=MPPT(2), dcdc2=OFF(0), alarm=Sun Low(1)
	body := []byte{0, protocol.GlobalStateRun, 2, 2, 0, 1}
	tr := &scriptedTransport{responses: [][]byte{protocol.AppendChecksum(body)}}
	logger, _ := zap.NewDevelopment()
	client := NewClient(tr, 2, 3, logger)

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Run", status.GlobalDesc)
	assert.Equal(t, "Run", status.InverterDesc)
	assert.Equal(t, "Sun Low", status.AlarmDesc)
	assert.Equal(t, "W001", status.AlarmCode)
}

func TestClient_Alarms(t *testing.T) {
	// последние тревоги: Sun Low, No Alarm x3
	body := []byte{0, protocol.GlobalStateRun, 1, 0, 0, 0}
	tr := &scriptedTransport{responses: [][]byte{protocol.AppendChecksum(body)}}
	logger, _ := zap.NewDevelopment()
	client := NewClient(tr, 2, 3, logger)

	alarms, err := client.Alarms(context.Background())
	require.NoError(t, err)
	require.Len(t, alarms, 4)
	assert.Equal(t, "Sun Low", alarms[0].Description)
	assert.Equal(t, "No Alarm", alarms[1].Description)
}

func TestClient_SetTime(t *testing.T) {
	body := []byte{0, protocol.GlobalStateRun, 0, 0, 0, 0}
	tr := &scriptedTransport{responses: [][]byte{protocol.AppendChecksum(body)}}
	logger, _ := zap.NewDevelopment()
	client := NewClient(tr, 2, 3, logger)

	target := time.Unix(protocol.DeviceEpochOffset+3600, 0)
	require.NoError(t, client.SetTime(context.Background(), target))

	require.Len(t, tr.frames, 1)
	frame := tr.frames[0]
	assert.Equal(t, byte(2), frame[0])
	assert.Equal(t, protocol.CmdSetTime, frame[1])
	assert.Equal(t, uint32(3600), binary.BigEndian.Uint32(frame[2:6]))
}

func TestClient_SetTimeBeforeEpoch(t *testing.T) {
	tr := &scriptedTransport{}
	logger, _ := zap.NewDevelopment()
	client := NewClient(tr, 2, 3, logger)

	err := client.SetTime(context.Background(), time.Unix(0, 0))
	assert.Error(t, err)
	assert.Empty(t, tr.frames)
}

func TestClient_Time(t *testing.T) {
	// 0 секунд от эпохи устройства = полночь 1 января 2000
	body := []byte{0, protocol.GlobalStateRun, 0, 0, 0, 0}
	tr := &scriptedTransport{responses: [][]byte{protocol.AppendChecksum(body)}}
	logger, _ := zap.NewDevelopment()
	client := NewClient(tr, 2, 3, logger)

	ts, err := client.Time(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.DeviceEpochOffset, ts.Unix())
}

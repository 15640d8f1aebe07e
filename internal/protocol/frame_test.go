package protocol

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// собирает валидный 8-байтовый ответ с корректной контрольной суммой
func buildResponse(t *testing.T, txState, globalState byte, data [4]byte) []byte {
	t.Helper()
	body := []byte{txState, globalState, data[0], data[1], data[2], data[3]}
	raw := AppendChecksum(body)
	require.Len(t, raw, ResponseLength)
	return raw
}

func TestEncodeRequest_FixedLength(t *testing.T) {
	tests := []struct {
		name    string
		command byte
		params  []byte
	}{
		{"no params", CmdState, nil},
		{"measure with sub and global", CmdMeasure, []byte{MeasureGridVoltage, 0}},
		{"energy with sub", CmdCumulatedEnergy, []byte{EnergyDay}},
		{"full payload", CmdSetTime, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeRequest(2, tt.command, tt.params...)
			require.NoError(t, err)
			assert.Len(t, frame, RequestLength)
			assert.Equal(t, byte(2), frame[0])
			assert.Equal(t, tt.command, frame[1])

			// контрольная сумма тела должна совпадать с хвостом кадра
			crc := Checksum(frame[:requestBodyLength])
			assert.Equal(t, byte(crc&0xFF), frame[8])
			assert.Equal(t, byte(crc>>8), frame[9])
		})
	}
}

func TestEncodeRequest_TooManyParams(t *testing.T) {
	_, err := EncodeRequest(2, CmdSetTime, 1, 2, 3, 4, 5, 6, 7)
	assert.ErrorIs(t, err, ErrLength)
}

func TestDecodeResponse_RoundTrip(t *testing.T) {
	raw := buildResponse(t, 0, GlobalStateRun, [4]byte{0x43, 0x6B, 0x80, 0x00})

	frame, err := DecodeResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, byte(0), frame.TransmissionState)
	assert.Equal(t, GlobalStateRun, frame.GlobalState)
	assert.Equal(t, [4]byte{0x43, 0x6B, 0x80, 0x00}, frame.Data)
}

func TestDecodeResponse_SingleByteCorruption(t *testing.T) {
	raw := buildResponse(t, 0, GlobalStateRun, [4]byte{0x12, 0x34, 0x56, 0x78})

	// порча любого одиночного байта должна ломать контрольную сумму
	for i := 0; i < ResponseLength; i++ {
		corrupted := make([]byte, len(raw))
		copy(corrupted, raw)
		corrupted[i] ^= 0xFF

		_, err := DecodeResponse(corrupted)
		assert.ErrorIs(t, err, ErrChecksumMismatch, "corrupted byte %d", i)
	}
}

func TestDecodeResponse_WrongLength(t *testing.T) {
	_, err := DecodeResponse([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrLength)

	_, err = DecodeResponse(make([]byte, ResponseLength+1))
	assert.ErrorIs(t, err, ErrLength)
}

func TestChecksum_KnownProperties(t *testing.T) {
	// пустой вход: инверсия стартового значения
	assert.Equal(t, uint16(0x0000), Checksum(nil))

	// сумма детерминирована и чувствительна к содержимому
	a := Checksum([]byte{2, 50, 0, 0, 0, 0, 0, 0})
	b := Checksum([]byte{2, 50, 0, 0, 0, 0, 0, 0})
	c := Checksum([]byte{2, 59, 1, 0, 0, 0, 0, 0})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDecodeFloat32(t *testing.T) {
	var data [4]byte
	binary.BigEndian.PutUint32(data[:], math.Float32bits(235.5))

	v, err := DecodeFloat32(Frame{Data: data})
	require.NoError(t, err)
	assert.InDelta(t, 235.5, v, 1e-6)
}

func TestDecodeFloat32_NonFinite(t *testing.T) {
	var data [4]byte
	binary.BigEndian.PutUint32(data[:], math.Float32bits(float32(math.NaN())))

	_, err := DecodeFloat32(Frame{Data: data})
	assert.ErrorIs(t, err, ErrDecode)

	binary.BigEndian.PutUint32(data[:], math.Float32bits(float32(math.Inf(1))))
	_, err = DecodeFloat32(Frame{Data: data})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodeUint32(t *testing.T) {
	var data [4]byte
	binary.BigEndian.PutUint32(data[:], 12845)

	v, err := DecodeUint32(Frame{Data: data})
	require.NoError(t, err)
	assert.Equal(t, 12845.0, v)
}

func TestBuildQueryTable(t *testing.T) {
	queries, err := BuildQueryTable(DefaultQueryNames)
	require.NoError(t, err)
	require.Len(t, queries, len(DefaultQueryNames))

	// порядок обязан совпадать с порядком имён
	for i, name := range DefaultQueryNames {
		assert.Equal(t, name, queries[i].Name)
	}
}

func TestBuildQueryTable_UnknownField(t *testing.T) {
	_, err := BuildQueryTable([]string{"gridVoltage", "noSuchField"})
	assert.ErrorContains(t, err, "unknown measurement field")
}

func TestBuildQueryTable_DuplicateField(t *testing.T) {
	_, err := BuildQueryTable([]string{"gridVoltage", "gridVoltage"})
	assert.ErrorContains(t, err, "duplicate measurement field")
}

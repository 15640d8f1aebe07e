package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/CoolE88/aurora-telemetry-service/internal/domain"
)

// Коды команд протокола Aurora rel 4.7
const (
	CmdState           byte = 50
	CmdPartNumber      byte = 52
	CmdVersion         byte = 58
	CmdMeasure         byte = 59
	CmdSerialNumber    byte = 63
	CmdManufactureDate byte = 65
	CmdGetTime         byte = 70
	CmdSetTime         byte = 71
	CmdFirmwareRelease byte = 72
	CmdCumulatedEnergy byte = 78
	CmdLastAlarms      byte = 86
)

// Суб-коды команды 59 (измерения DSP)
const (
	MeasureGridVoltage    byte = 1
	MeasureGridCurrent    byte = 2
	MeasureGridPower      byte = 3
	MeasureFrequency      byte = 4
	MeasureBulkVoltage    byte = 5
	MeasureLeakDcCurrent  byte = 6
	MeasureLeakCurrent    byte = 7
	MeasureString1Power   byte = 8
	MeasureString2Power   byte = 9
	MeasureInverterTemp   byte = 21
	MeasureBoosterTemp    byte = 22
	MeasureString1Voltage byte = 23
	MeasureString1Current byte = 25
	MeasureString2Voltage byte = 26
	MeasureString2Current byte = 27
	MeasureIsoResistance  byte = 30
)

// Суб-коды команды 78 (накопленная энергия)
const (
	EnergyDay     byte = 0
	EnergyWeek    byte = 1
	EnergyMonth   byte = 3
	EnergyYear    byte = 4
	EnergyTotal   byte = 5
	EnergyPartial byte = 6
)

// Глобальное состояние 6 — инвертор в работе; в любом другом состоянии
// измерения недоступны
const GlobalStateRun byte = 6

// Смещение эпохи инвертора (полночь 1 января 2000) от эпохи Unix
const DeviceEpochOffset int64 = 946648800

// ErrDecode — байты данных не интерпретируются как ожидаемый числовой
// тип. Повторная отправка не поможет: это рассогласование прошивки и
// конфигурации, а не сбой канала.
var ErrDecode = errors.New("response decode failed")

// DecodeFunc переводит сырые байты данных ответа в число
type DecodeFunc func(f Frame) (float64, error)

// Query — статическое определение логического запроса: имя поля,
// код команды, декодер и масштаб до физической единицы.
type Query struct {
	Name    string
	Command byte
	Sub     byte
	Decode  DecodeFunc
	Scale   float64
}

// Params возвращает байты параметров кадра запроса. Для измерительных
// команд это суб-код и флаг Global=0 (модульные измерения).
func (q Query) Params() []byte {
	switch q.Command {
	case CmdMeasure:
		return []byte{q.Sub, 0}
	case CmdCumulatedEnergy:
		return []byte{q.Sub}
	default:
		return nil
	}
}

// DecodeFloat32 — число с плавающей точкой ANSI, старший байт первым
// (команда 59)
func DecodeFloat32(f Frame) (float64, error) {
	bits := binary.BigEndian.Uint32(f.Data[:])
	v := float64(math.Float32frombits(bits))
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite float 0x%08X", ErrDecode, bits)
	}
	return v, nil
}

// DecodeUint32 — беззнаковое целое, старший байт первым (команда 78)
func DecodeUint32(f Frame) (float64, error) {
	return float64(binary.BigEndian.Uint32(f.Data[:])), nil
}

// registry — все известные измерительные запросы. Ключ — имя поля записи.
var registry = map[string]Query{
	domain.FieldString1Voltage: {Name: domain.FieldString1Voltage, Command: CmdMeasure, Sub: MeasureString1Voltage, Decode: DecodeFloat32, Scale: 1},
	domain.FieldString1Current: {Name: domain.FieldString1Current, Command: CmdMeasure, Sub: MeasureString1Current, Decode: DecodeFloat32, Scale: 1},
	domain.FieldString1Power:   {Name: domain.FieldString1Power, Command: CmdMeasure, Sub: MeasureString1Power, Decode: DecodeFloat32, Scale: 1},
	domain.FieldString2Voltage: {Name: domain.FieldString2Voltage, Command: CmdMeasure, Sub: MeasureString2Voltage, Decode: DecodeFloat32, Scale: 1},
	domain.FieldString2Current: {Name: domain.FieldString2Current, Command: CmdMeasure, Sub: MeasureString2Current, Decode: DecodeFloat32, Scale: 1},
	domain.FieldString2Power:   {Name: domain.FieldString2Power, Command: CmdMeasure, Sub: MeasureString2Power, Decode: DecodeFloat32, Scale: 1},
	domain.FieldGridVoltage:    {Name: domain.FieldGridVoltage, Command: CmdMeasure, Sub: MeasureGridVoltage, Decode: DecodeFloat32, Scale: 1},
	domain.FieldGridCurrent:    {Name: domain.FieldGridCurrent, Command: CmdMeasure, Sub: MeasureGridCurrent, Decode: DecodeFloat32, Scale: 1},
	domain.FieldGridPower:      {Name: domain.FieldGridPower, Command: CmdMeasure, Sub: MeasureGridPower, Decode: DecodeFloat32, Scale: 1},
	domain.FieldGridFrequency:  {Name: domain.FieldGridFrequency, Command: CmdMeasure, Sub: MeasureFrequency, Decode: DecodeFloat32, Scale: 1},
	domain.FieldInverterTemp:   {Name: domain.FieldInverterTemp, Command: CmdMeasure, Sub: MeasureInverterTemp, Decode: DecodeFloat32, Scale: 1},
	domain.FieldBoosterTemp:    {Name: domain.FieldBoosterTemp, Command: CmdMeasure, Sub: MeasureBoosterTemp, Decode: DecodeFloat32, Scale: 1},
	domain.FieldBulkVoltage:    {Name: domain.FieldBulkVoltage, Command: CmdMeasure, Sub: MeasureBulkVoltage, Decode: DecodeFloat32, Scale: 1},
	// инвертор отдаёт сопротивление изоляции в МОм, храним в Ом
	domain.FieldIsoResistance: {Name: domain.FieldIsoResistance, Command: CmdMeasure, Sub: MeasureIsoResistance, Decode: DecodeFloat32, Scale: 1e6},
	domain.FieldDayEnergy:     {Name: domain.FieldDayEnergy, Command: CmdCumulatedEnergy, Sub: EnergyDay, Decode: DecodeUint32, Scale: 1},
}

// DefaultQueryNames — порядок опроса по умолчанию. Порядок стабилен,
// чтобы диагностика воспроизводилась от цикла к циклу.
var DefaultQueryNames = []string{
	domain.FieldString1Voltage,
	domain.FieldString1Current,
	domain.FieldString1Power,
	domain.FieldString2Voltage,
	domain.FieldString2Current,
	domain.FieldString2Power,
	domain.FieldGridVoltage,
	domain.FieldGridCurrent,
	domain.FieldGridPower,
	domain.FieldGridFrequency,
	domain.FieldInverterTemp,
	domain.FieldBoosterTemp,
	domain.FieldBulkVoltage,
	domain.FieldIsoResistance,
	domain.FieldDayEnergy,
}

// BuildQueryTable собирает упорядоченный список запросов по именам полей.
// Неизвестные и повторяющиеся имена отклоняются при загрузке конфигурации,
// а не в момент опроса.
func BuildQueryTable(names []string) ([]Query, error) {
	seen := make(map[string]struct{}, len(names))
	queries := make([]Query, 0, len(names))
	for _, name := range names {
		q, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown measurement field %q", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate measurement field %q", name)
		}
		seen[name] = struct{}{}
		queries = append(queries, q)
	}
	return queries, nil
}

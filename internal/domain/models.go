package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Имена полей записи измерений. Набор фиксируется на этапе загрузки
// конфигурации, в рантайме новые поля не появляются.
const (
	FieldString1Voltage = "string1Voltage"
	FieldString1Current = "string1Current"
	FieldString1Power   = "string1Power"
	FieldString2Voltage = "string2Voltage"
	FieldString2Current = "string2Current"
	FieldString2Power   = "string2Power"
	FieldGridVoltage    = "gridVoltage"
	FieldGridCurrent    = "gridCurrent"
	FieldGridPower      = "gridPower"
	FieldGridFrequency  = "gridFrequency"
	FieldInverterTemp   = "inverterTemp"
	FieldBoosterTemp    = "boosterTemp"
	FieldBulkVoltage    = "bulkVoltage"
	FieldIsoResistance  = "isoResistance"
	FieldDayEnergy      = "dayEnergy"

	// Производные поля, их не запрашивают у инвертора напрямую
	FieldEfficiency = "efficiency"
	FieldEnergy     = "energy"
)

// Value — значение одного поля измерения. Отсутствующее значение
// отличается от настоящего нуля: Present=false означает, что запрос
// не удался или производное поле нельзя было вычислить.
type Value struct {
	Float   float64
	Present bool
}

// Present возвращает присутствующее значение
func Present(v float64) Value {
	return Value{Float: v, Present: true}
}

// Missing возвращает отсутствующее значение
func Missing() Value {
	return Value{}
}

// MarshalJSON сериализует отсутствующее значение как null, чтобы
// потребитель мог отличить его от настоящего нуля
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Present {
		return []byte("null"), nil
	}
	return json.Marshal(v.Float)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Value{Float: f, Present: true}
	return nil
}

// MeasurementRecord — один снимок всех сконфигурированных показаний
// инвертора. Создаётся ассемблером раз в цикл опроса и после создания
// не изменяется.
type MeasurementRecord struct {
	ID        uuid.UUID        `json:"id"`
	Timestamp int64            `json:"timestamp"` // секунды Unix
	Address   byte             `json:"address"`   // адрес устройства на шине
	Fields    map[string]Value `json:"fields"`
}

// Field возвращает значение поля; неизвестное имя считается отсутствующим
func (r *MeasurementRecord) Field(name string) Value {
	if r == nil {
		return Value{}
	}
	return r.Fields[name]
}

// QueueEntry — запись очереди повторной отправки. Порядковые номера
// строго возрастают в порядке постановки в очередь.
type QueueEntry struct {
	Sequence   uint64            `json:"sequence"`
	Record     MeasurementRecord `json:"record"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// SessionState — состояние сеанса связи с инвертором. Изменяется
// только транспортным сеансом.
type SessionState struct {
	IsOpen              bool   `json:"is_open"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`
}

// InverterInfo — паспортные данные инвертора, запрашиваются по требованию
type InverterInfo struct {
	PartNumber      string `json:"part_number"`
	SerialNumber    string `json:"serial_number"`
	FirmwareRelease string `json:"firmware_release"`
	Version         string `json:"version"`
	ManufactureWeek int    `json:"manufacture_week"`
	ManufactureYear int    `json:"manufacture_year"`
}

// InverterStatus — расшифрованный ответ на запрос состояния
type InverterStatus struct {
	TransmissionState byte   `json:"transmission_state"`
	GlobalState       byte   `json:"global_state"`
	InverterState     byte   `json:"inverter_state"`
	DcDc1State        byte   `json:"dcdc1_state"`
	DcDc2State        byte   `json:"dcdc2_state"`
	AlarmState        byte   `json:"alarm_state"`
	GlobalDesc        string `json:"global_desc"`
	InverterDesc      string `json:"inverter_desc"`
	AlarmDesc         string `json:"alarm_desc"`
	AlarmCode         string `json:"alarm_code,omitempty"`
}

// RelayStatus — сводка для диагностического API
type RelayStatus struct {
	LastRecord *MeasurementRecord `json:"last_record,omitempty"`
	QueueDepth int                `json:"queue_depth"`
	Session    SessionState       `json:"session"`
}

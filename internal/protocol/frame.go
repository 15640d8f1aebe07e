package protocol

import (
	"errors"
	"fmt"
)

// Формат кадров фиксирован протоколом Aurora:
// запрос  — адрес(1) + команда(1) + параметры, дополненные нулями до 8 байт,
//           плюс CRC16(2, младший байт первым), итого 10 байт;
// ответ   — состояние передачи(1) + глобальное состояние(1) + данные(4)
//           плюс CRC16(2), итого 8 байт.
const (
	RequestLength  = 10
	ResponseLength = 8

	// длина тела запроса до контрольной суммы
	requestBodyLength = 8
	// максимум байт параметров после адреса и команды
	maxParams = requestBodyLength - 2
)

var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrLength           = errors.New("unexpected frame length")
)

// Frame — разобранный и проверенный ответ инвертора. Четыре байта данных
// интерпретируются декодером конкретного запроса.
type Frame struct {
	TransmissionState byte
	GlobalState       byte
	Data              [4]byte
}

// EncodeRequest собирает кадр запроса: адрес, код команды, параметры,
// дополнение нулями и контрольная сумма. Кадр детерминирован.
func EncodeRequest(address, command byte, params ...byte) ([]byte, error) {
	if len(params) > maxParams {
		return nil, fmt.Errorf("%w: %d parameter bytes, maximum %d", ErrLength, len(params), maxParams)
	}
	body := make([]byte, 0, RequestLength)
	body = append(body, address, command)
	body = append(body, params...)
	for len(body) < requestBodyLength {
		body = append(body, 0x00)
	}
	return AppendChecksum(body), nil
}

// DecodeResponse проверяет длину и контрольную сумму ответа и возвращает
// структурированный кадр. Сырые байты данных отдаются вызывающему,
// интерпретация зависит от выполненного запроса.
func DecodeResponse(raw []byte) (Frame, error) {
	if len(raw) != ResponseLength {
		return Frame{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrLength, ResponseLength, len(raw))
	}
	calculated := Checksum(raw[:ResponseLength-2])
	received := uint16(raw[ResponseLength-2]) | uint16(raw[ResponseLength-1])<<8
	if calculated != received {
		return Frame{}, fmt.Errorf("%w: calculated 0x%04X, received 0x%04X", ErrChecksumMismatch, calculated, received)
	}
	frame := Frame{
		TransmissionState: raw[0],
		GlobalState:       raw[1],
	}
	copy(frame.Data[:], raw[2:6])
	return frame, nil
}

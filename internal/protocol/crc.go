package protocol

// Checksum считает CRC16 по алгоритму из раздела "Checksum calculation"
// протокола Aurora PV Inverter Series Communications Protocol:
// отражённый CCITT, полином 0x8408, стартовое значение 0xFFFF,
// финальная инверсия. Контракт совместимости с прошивкой, менять нельзя.
func Checksum(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		for i := 0; i < 8; i++ {
			if (crc&0x0001)^uint16(b&0x01) != 0 {
				crc = (crc >> 1) ^ 0x8408
			} else {
				crc >>= 1
			}
			b >>= 1
		}
	}
	return ^crc
}

// AppendChecksum дописывает CRC к кадру: младший байт первым
func AppendChecksum(frame []byte) []byte {
	crc := Checksum(frame)
	return append(frame, byte(crc&0xFF), byte(crc>>8))
}

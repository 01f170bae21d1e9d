// Package crc16 implements CRC16-CCITT (polynomial 0x1021).
package crc16

// Init is the customary CCITT start value.
const Init uint16 = 0xFFFF

// Update folds one byte into the running CRC.
func Update(crc uint16, b byte) uint16 {
	crc ^= uint16(b) << 8
	for i := 0; i < 8; i++ {
		if crc&0x8000 != 0 {
			crc = (crc << 1) ^ 0x1021
		} else {
			crc <<= 1
		}
	}
	return crc
}

// Checksum computes the CRC of data starting from Init.
func Checksum(data []byte) uint16 {
	crc := Init
	for _, b := range data {
		crc = Update(crc, b)
	}
	return crc
}

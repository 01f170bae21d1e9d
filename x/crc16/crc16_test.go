package crc16

import "testing"

func TestKnownVector(t *testing.T) {
	// "123456789" is the standard CCITT-FALSE check vector.
	if got := Checksum([]byte("123456789")); got != 0x29B1 {
		t.Fatalf("checksum = %#04x, want 0x29b1", got)
	}
}

func TestUpdateMatchesChecksum(t *testing.T) {
	data := []byte{0x00, 0xFF, 0x55, 0xAA, 0x13}
	crc := Init
	for _, b := range data {
		crc = Update(crc, b)
	}
	if crc != Checksum(data) {
		t.Fatal("incremental and one-shot CRC disagree")
	}
}

func TestMixesSingleBitChanges(t *testing.T) {
	a := Checksum([]byte{0x00, 0x00})
	b := Checksum([]byte{0x00, 0x01})
	if a == b {
		t.Fatal("single bit flip did not change CRC")
	}
}

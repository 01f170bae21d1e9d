package rng

import "mupplet-go/x/crc16"

// JitterSource turns interrupt arrival times into raw entropy bits. The
// low bit of each microsecond inter-arrival delta carries the timing
// jitter; everything above it is periodic signal and is discarded.
//
// With whitening enabled, each delta byte is folded into a running
// CRC16-CCITT and the CRC's low bit is used instead. That spreads bias
// across the register and helps with sources whose deltas cluster around
// even or odd values.
type JitterSource struct {
	whiten bool
	lastUS int64
	crc    uint16
}

// NewJitterSource creates a bit source. whiten enables CRC16 folding.
func NewJitterSource(whiten bool) *JitterSource {
	return &JitterSource{whiten: whiten, crc: crc16.Init}
}

// Push consumes one edge timestamp. The first edge only establishes the
// timebase and yields no bit.
func (j *JitterSource) Push(tUS int64) (bit uint8, ok bool) {
	if j.lastUS == 0 {
		j.lastUS = tUS
		return 0, false
	}
	delta := tUS - j.lastUS
	j.lastUS = tUS
	if delta <= 0 {
		// out-of-order or duplicate timestamp, no entropy
		return 0, false
	}
	if j.whiten {
		j.crc = crc16.Update(j.crc, byte(delta))
		return uint8(j.crc & 1), true
	}
	return uint8(delta & 1), true
}

// Reset clears the timebase, e.g. after a source stall.
func (j *JitterSource) Reset() {
	j.lastUS = 0
	j.crc = crc16.Init
}

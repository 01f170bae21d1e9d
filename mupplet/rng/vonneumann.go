package rng

// VonNeumann removes bias from a bit stream by looking at bit pairs: 01
// emits 0, 10 emits 1, and the equal pairs 00 and 11 are discarded. The
// output is unbiased for any source whose bits are independent, at the
// cost of throwing away at least half the input.
type VonNeumann struct {
	have  bool
	first uint8
}

// Push feeds one input bit. ok reports whether an output bit was emitted.
func (v *VonNeumann) Push(bit uint8) (out uint8, ok bool) {
	if !v.have {
		v.first = bit & 1
		v.have = true
		return 0, false
	}
	v.have = false
	if v.first == bit&1 {
		return 0, false
	}
	return v.first, true
}

// Reset discards a pending half-pair.
func (v *VonNeumann) Reset() {
	v.have = false
}

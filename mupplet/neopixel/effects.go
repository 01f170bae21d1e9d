package neopixel

// Effect is a procedural animation applied on top of the logical frame.
type Effect int

const (
	// Static shows the frame as-is.
	Static Effect = iota
	// Blink toggles the whole frame on and off per interval.
	Blink
	// Wave breathes the frame brightness with a triangular modulation.
	Wave
	// Rainbow cycles a hue gradient along the strip, ignoring the frame.
	Rainbow
	// Shift rotates the frame forward one pixel per interval.
	Shift
)

var effectNames = []string{"static", "blink", "wave", "rainbow", "shift"}

func (e Effect) String() string {
	if e < Static || e > Shift {
		return "unknown"
	}
	return effectNames[e]
}

// applyEffect fills n.out from n.fb for the current effect and time.
func (n *NeoPixel) applyEffect(nowMs int64) {
	switch n.fx {
	case Blink:
		if (nowMs/n.fxIntervalMs)%2 == 1 {
			for i := range n.out {
				n.out[i] = 0
			}
		} else {
			copy(n.out, n.fb)
		}
	case Wave:
		// triangular brightness over a 2*interval period
		period := nowMs % (2 * n.fxIntervalMs)
		var level float64
		if period < n.fxIntervalMs {
			level = float64(period) / float64(n.fxIntervalMs)
		} else {
			level = float64(2*n.fxIntervalMs-period) / float64(n.fxIntervalMs)
		}
		for i, c := range n.fb {
			n.out[i] = scale(c, level)
		}
	case Rainbow:
		offset := int(nowMs / n.fxIntervalMs * 8)
		for i := range n.out {
			pos := 255 * i
			if len(n.fb) > 1 {
				pos /= len(n.fb) - 1
			}
			n.out[i] = wheel(uint8((pos + offset) & 0xff))
		}
	case Shift:
		if n.lastShiftMs == 0 {
			n.lastShiftMs = nowMs
		}
		for nowMs-n.lastShiftMs >= n.fxIntervalMs {
			n.lastShiftMs += n.fxIntervalMs
			rotate(n.fb)
		}
		copy(n.out, n.fb)
	default:
		copy(n.out, n.fb)
	}
}

// rotate moves every pixel one position forward, wrapping the last one
// to the front.
func rotate(fb []uint32) {
	if len(fb) < 2 {
		return
	}
	last := fb[len(fb)-1]
	copy(fb[1:], fb[:len(fb)-1])
	fb[0] = last
}

// wheel maps 0..255 onto a red-green-blue color circle.
func wheel(pos uint8) uint32 {
	switch {
	case pos < 85:
		return RGB32(255-pos*3, pos*3, 0)
	case pos < 170:
		pos -= 85
		return RGB32(0, 255-pos*3, pos*3)
	default:
		pos -= 170
		return RGB32(pos*3, 0, 255-pos*3)
	}
}

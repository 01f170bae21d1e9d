// Package hw abstracts the GPIO/PWM surface mupplets drive.
// Real backends exist for Linux (gpiocdev) and RP2 boards; tests inject
// the fakes from fake.go.
package hw

// OutputPin is a digital output.
type OutputPin interface {
	Set(high bool)
}

// InputPin is a digital input.
type InputPin interface {
	Get() bool
}

// PWMPin is a dimmable output. SetLevel expects a physical duty level in
// [0..Top()]; logical inversion is the caller's concern.
type PWMPin interface {
	OutputPin
	SetLevel(level uint16)
	Top() uint16
}

// Edge selects which signal transitions an EdgeSource reports.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "change"
	default:
		return "none"
	}
}

// EdgeEvent is one debuffered hardware transition. TimeUS is a microsecond
// timestamp captured as close to the edge as the platform allows; the RNG
// and frequency counter consume it for inter-arrival timing.
type EdgeEvent struct {
	Level  bool
	TimeUS int64
}

// EdgeSource delivers hardware transitions over a bounded channel. When the
// consumer is slow, events are dropped rather than blocking the interrupt
// path.
type EdgeSource interface {
	Events() <-chan EdgeEvent
	Close() error
}

// BinaryPWM adapts a plain digital output into a 1-step PWMPin, for boards
// or pins without dimming hardware. Any nonzero level switches on.
type BinaryPWM struct {
	Out OutputPin
}

func (b *BinaryPWM) Set(high bool)         { b.Out.Set(high) }
func (b *BinaryPWM) SetLevel(level uint16) { b.Out.Set(level > 0) }
func (b *BinaryPWM) Top() uint16           { return 1 }

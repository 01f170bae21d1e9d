//go:build rp2040 || rp2350

package hw

import (
	"machine"

	"mupplet-go/x/timex"
)

// RP2Output maps a machine.Pin as a digital output.
func RP2Output(pin machine.Pin, initial bool) OutputPin {
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pin.Set(initial)
	return rp2Output{pin: pin}
}

type rp2Output struct{ pin machine.Pin }

func (o rp2Output) Set(high bool) { o.pin.Set(high) }

// RP2Input maps a machine.Pin as a pulled-up digital input.
func RP2Input(pin machine.Pin) InputPin {
	pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return rp2Input{pin: pin}
}

type rp2Input struct{ pin machine.Pin }

func (i rp2Input) Get() bool { return i.pin.Get() }

// RP2EdgeInput attaches a pin interrupt and forwards edges into a bounded
// channel. The handler runs in interrupt context: it only reads the pin,
// timestamps, and does a non-blocking send.
func RP2EdgeInput(pin machine.Pin, edge Edge, buf int) (EdgeSource, error) {
	if buf <= 0 {
		buf = 64
	}
	src := &rp2EdgeSource{pin: pin, ch: make(chan EdgeEvent, buf)}
	pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	var change machine.PinChange
	switch edge {
	case EdgeRising:
		change = machine.PinRising
	case EdgeFalling:
		change = machine.PinFalling
	default:
		change = machine.PinRising | machine.PinFalling
	}

	err := pin.SetInterrupt(change, func(p machine.Pin) {
		ev := EdgeEvent{Level: p.Get(), TimeUS: timex.NowUs()}
		select {
		case src.ch <- ev:
		default:
			// drop to protect the interrupt path
		}
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

type rp2EdgeSource struct {
	pin machine.Pin
	ch  chan EdgeEvent
}

func (s *rp2EdgeSource) Events() <-chan EdgeEvent { return s.ch }

func (s *rp2EdgeSource) Close() error {
	err := s.pin.SetInterrupt(0, nil)
	close(s.ch)
	return err
}

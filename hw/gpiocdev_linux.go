//go:build linux

package hw

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"mupplet-go/errcode"
)

// Chip wraps a Linux GPIO character device.
type Chip struct {
	chip *gpiocdev.Chip
}

// OpenChip opens e.g. "gpiochip0".
func OpenChip(name string) (*Chip, error) {
	c, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &Chip{chip: c}, nil
}

func (c *Chip) Close() error { return c.chip.Close() }

// Output requests a line as a digital output.
func (c *Chip) Output(offset int, initial bool) (*cdevOutput, error) {
	v := 0
	if initial {
		v = 1
	}
	line, err := c.chip.RequestLine(offset, gpiocdev.AsOutput(v))
	if err != nil {
		return nil, &errcode.E{C: errcode.UnknownPin, Op: "hw.Output", Msg: fmt.Sprintf("line %d", offset), Err: err}
	}
	return &cdevOutput{line: line}, nil
}

// Input requests a line as a pulled-up digital input without edge
// detection (polled mode).
func (c *Chip) Input(offset int) (*cdevInput, error) {
	line, err := c.chip.RequestLine(offset, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		return nil, &errcode.E{C: errcode.UnknownPin, Op: "hw.Input", Msg: fmt.Sprintf("line %d", offset), Err: err}
	}
	return &cdevInput{line: line}, nil
}

// EdgeInput requests a line with kernel edge detection. Events are pushed
// into a bounded channel; when the consumer lags, events are dropped.
func (c *Chip) EdgeInput(offset int, edge Edge, buf int) (*cdevEdgeSource, error) {
	if buf <= 0 {
		buf = 64
	}
	src := &cdevEdgeSource{ch: make(chan EdgeEvent, buf)}

	handler := func(ev gpiocdev.LineEvent) {
		e := EdgeEvent{
			Level:  ev.Type == gpiocdev.LineEventRisingEdge,
			TimeUS: int64(ev.Timestamp / time.Microsecond),
		}
		select {
		case src.ch <- e:
		default:
			// drop to protect the event path
		}
	}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithEventHandler(handler),
	}
	switch edge {
	case EdgeRising:
		opts = append(opts, gpiocdev.WithRisingEdge)
	case EdgeFalling:
		opts = append(opts, gpiocdev.WithFallingEdge)
	default:
		opts = append(opts, gpiocdev.WithBothEdges)
	}

	line, err := c.chip.RequestLine(offset, opts...)
	if err != nil {
		return nil, &errcode.E{C: errcode.UnknownPin, Op: "hw.EdgeInput", Msg: fmt.Sprintf("line %d", offset), Err: err}
	}
	src.line = line
	return src, nil
}

type cdevOutput struct {
	line *gpiocdev.Line
}

func (o *cdevOutput) Set(high bool) {
	v := 0
	if high {
		v = 1
	}
	_ = o.line.SetValue(v)
}

func (o *cdevOutput) Close() error { return o.line.Close() }

type cdevInput struct {
	line *gpiocdev.Line
}

func (i *cdevInput) Get() bool {
	v, err := i.line.Value()
	return err == nil && v != 0
}

func (i *cdevInput) Close() error { return i.line.Close() }

type cdevEdgeSource struct {
	line *gpiocdev.Line
	ch   chan EdgeEvent
}

func (s *cdevEdgeSource) Events() <-chan EdgeEvent { return s.ch }

func (s *cdevEdgeSource) Close() error {
	err := s.line.Close()
	close(s.ch)
	return err
}

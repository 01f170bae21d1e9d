//go:build rp2040 || rp2350

package neopixel

import (
	"image/color"
	"machine"

	"tinygo.org/x/drivers/ws2812"
)

// WS2812Strip drives a WS2812 chain on a GPIO pin.
type WS2812Strip struct {
	dev ws2812.Device
	n   int
	buf []color.RGBA
}

// NewWS2812Strip configures pin for output and wraps it as a Strip.
func NewWS2812Strip(pin machine.Pin, n int) *WS2812Strip {
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &WS2812Strip{
		dev: ws2812.New(pin),
		n:   n,
		buf: make([]color.RGBA, n),
	}
}

func (s *WS2812Strip) Len() int { return s.n }

func (s *WS2812Strip) Show(frame []uint32) error {
	for i := range s.buf {
		var c uint32
		if i < len(frame) {
			c = frame[i]
		}
		r, g, b := RGB32Parse(c)
		s.buf[i] = color.RGBA{R: r, G: g, B: b, A: 0xff}
	}
	return s.dev.WriteColors(s.buf)
}

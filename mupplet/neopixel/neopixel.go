// Package neopixel drives an addressable RGB strip (WS2812 and friends)
// as a light mupplet.
//
// Pixels are held in an RGB32 framebuffer; the hardware only sees frames
// that actually changed. Individual pixels are addressed as
// "<name>/light/<idx>/set", the whole strip as "<name>/light/set", and
// procedural effects via "<name>/light/special/set".
package neopixel

import (
	"context"
	"strconv"
	"time"

	"mupplet-go/bus"
	"mupplet-go/mupplet"
	"mupplet-go/mupplet/light"
	"mupplet-go/x/timex"
)

const tickInterval = 100 * time.Millisecond

// Strip is the hardware surface: a frame of packed 0x00RRGGBB pixels.
type Strip interface {
	Show(frame []uint32) error
	Len() int
}

// RGB32 packs three channels into 0x00RRGGBB.
func RGB32(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// RGB32Parse unpacks a 0x00RRGGBB pixel.
func RGB32Parse(rgb uint32) (r, g, b uint8) {
	return uint8(rgb >> 16), uint8(rgb >> 8), uint8(rgb)
}

// NeoPixel is an addressable LED strip mupplet.
type NeoPixel struct {
	name  string
	strip Strip

	conn *bus.Connection
	now  func() int64

	fb         []uint32 // logical frame
	out        []uint32 // scratch for effect+brightness output
	hw         []uint32 // last frame pushed to hardware
	hwValid    bool
	brightness float64
	state      bool

	fx           Effect
	fxIntervalMs int64
	lastShiftMs  int64
}

// New creates a strip mupplet. All pixels start dark.
func New(name string, strip Strip) *NeoPixel {
	n := strip.Len()
	return &NeoPixel{
		name:       name,
		strip:      strip,
		now:        timex.NowMs,
		fb:         make([]uint32, n),
		out:        make([]uint32, n),
		hw:         make([]uint32, n),
		brightness: 1.0,
		fx:         Static,
	}
}

func (n *NeoPixel) Name() string { return n.name }

// Len returns the pixel count.
func (n *NeoPixel) Len() int { return len(n.fb) }

// State reports whether any pixel of the logical frame is lit.
func (n *NeoPixel) State() bool { return n.state }

// Begin pushes the dark frame and starts the service goroutine.
func (n *NeoPixel) Begin(ctx context.Context, conn *bus.Connection) error {
	n.conn = conn
	sub, err := conn.Subscribe(bus.T(n.name + "/light/#"))
	if err != nil {
		return err
	}
	n.render(n.now())
	n.publishState()
	go n.run(ctx, sub)
	return nil
}

func (n *NeoPixel) run(ctx context.Context, sub <-chan *bus.Message) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.render(n.now())
		case msg, ok := <-sub:
			if !ok {
				return
			}
			n.handle(msg)
		}
	}
}

// Pixel sets one pixel of the logical frame.
func (n *NeoPixel) Pixel(i int, r, g, b uint8) {
	if i < 0 || i >= len(n.fb) {
		return
	}
	n.fb[i] = RGB32(r, g, b)
	n.render(n.now())
	n.updateState()
}

// Set switches one pixel fully on (white) or off.
func (n *NeoPixel) Set(i int, on bool) {
	if on {
		n.Pixel(i, 0xff, 0xff, 0xff)
	} else {
		n.Pixel(i, 0, 0, 0)
	}
}

// SetAll floods the strip with one color.
func (n *NeoPixel) SetAll(r, g, b uint8) {
	c := RGB32(r, g, b)
	for i := range n.fb {
		n.fb[i] = c
	}
	n.render(n.now())
	n.updateState()
}

// SetBrightness scales the whole strip [0..1] without touching the frame.
func (n *NeoPixel) SetBrightness(level float64) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	n.brightness = level
	n.render(n.now())
	n.publishBrightness()
}

// SetEffect starts a procedural effect. intervalMs is the effect step
// or period time; 0 keeps the previous interval (default 1000).
func (n *NeoPixel) SetEffect(fx Effect, intervalMs int64) {
	n.fx = fx
	if intervalMs > 0 {
		n.fxIntervalMs = intervalMs
	}
	if n.fxIntervalMs == 0 {
		n.fxIntervalMs = 1000
	}
	n.lastShiftMs = 0
	n.render(n.now())
}

// render computes the output frame and pushes it when it differs from
// what the hardware last saw.
func (n *NeoPixel) render(nowMs int64) {
	n.applyEffect(nowMs)
	dirty := !n.hwValid
	for i, c := range n.out {
		c = scale(c, n.brightness)
		n.out[i] = c
		if n.hw[i] != c {
			dirty = true
		}
	}
	if !dirty {
		return
	}
	if err := n.strip.Show(n.out); err != nil {
		return
	}
	copy(n.hw, n.out)
	n.hwValid = true
}

func scale(c uint32, level float64) uint32 {
	if level >= 1.0 {
		return c
	}
	r, g, b := RGB32Parse(c)
	return RGB32(uint8(float64(r)*level), uint8(float64(g)*level), uint8(float64(b)*level))
}

func (n *NeoPixel) updateState() {
	st := false
	for _, c := range n.fb {
		if c != 0 {
			st = true
			break
		}
	}
	if st != n.state {
		n.state = st
		n.publishState()
	}
}

func (n *NeoPixel) publishState() {
	onoff := "off"
	if n.state {
		onoff = "on"
	}
	n.conn.PubRetained(bus.T(n.name+"/light/state"), onoff)
}

func (n *NeoPixel) publishBrightness() {
	n.conn.PubRetained(bus.T(n.name+"/light/unitbrightness"), light.FormatUnitLevel(n.brightness))
}

func (n *NeoPixel) handle(msg *bus.Message) {
	cmd, ok := mupplet.CommandOf(msg.Topic, n.name, "light")
	if !ok {
		return
	}
	payload := msg.String()
	switch cmd {
	case "set":
		if r, g, b, ok := mupplet.ParseColor(payload); ok {
			n.SetAll(r, g, b)
			return
		}
		n.SetBrightness(mupplet.ParseUnitLevel(payload))
	case "state/get":
		n.publishState()
	case "unitbrightness/get":
		n.publishBrightness()
	case "special/set":
		n.handleSpecial(payload)
	default:
		// per-pixel command: "<idx>/set"
		t := msg.Topic
		if len(t) != 4 || t[3] != "set" {
			return
		}
		idx, err := strconv.Atoi(t[2])
		if err != nil || idx < 0 || idx >= len(n.fb) {
			return
		}
		if r, g, b, ok := mupplet.ParseColor(payload); ok {
			n.Pixel(idx, r, g, b)
			return
		}
		n.Set(idx, mupplet.ParseBool(payload))
	}
}

func (n *NeoPixel) handleSpecial(payload string) {
	head, args := mupplet.SplitArgs(payload)
	interval := int64(0)
	if len(args) > 0 {
		interval, _ = strconv.ParseInt(args[0], 10, 64)
	}
	switch head {
	case "static":
		n.SetEffect(Static, interval)
	case "blink":
		n.SetEffect(Blink, interval)
	case "wave":
		n.SetEffect(Wave, interval)
	case "rainbow":
		n.SetEffect(Rainbow, interval)
	case "shift":
		n.SetEffect(Shift, interval)
	}
}

// Package lightspanel drives a bank of 16 independent lights on a PCA9685
// PWM controller. Each channel is a full light with its own effect state
// machine, addressed as "<name>/light/<channel>/...".
package lightspanel

import (
	"context"
	"strconv"
	"sync"
	"time"

	"mupplet-go/bus"
	"mupplet-go/mupplet/light"
	"mupplet-go/mupplet/lightctl"
	"mupplet-go/x/timex"
)

// Channels is the channel count of the PCA9685.
const Channels = 16

const tickInterval = 80 * time.Millisecond

// PWMSetter is the hardware surface the panel needs; *pca9685.Device
// satisfies it. on/off are assert/deassert ticks in [0..4095], 4096 forces
// full on or off.
type PWMSetter interface {
	SetPWM(channel uint8, on, off uint16) error
}

// Panel is a 16-channel light mupplet.
type Panel struct {
	name        string
	pwm         PWMSetter
	activeLogic bool

	conn *bus.Connection

	// mu guards the controllers: the service goroutine ticks them while
	// the programmatic API may mutate them from another goroutine.
	mu  sync.Mutex
	ctl [Channels]*lightctl.Controller
}

// New creates a panel over a configured PWM device. activeLogic false means
// a channel output LOW turns its light on.
func New(name string, pwm PWMSetter, activeLogic bool) *Panel {
	p := &Panel{name: name, pwm: pwm, activeLogic: activeLogic}
	for i := range p.ctl {
		p.ctl[i] = lightctl.New()
	}
	return p
}

func (p *Panel) Name() string { return p.name }

// Begin starts the panel service. All channels start off.
func (p *Panel) Begin(ctx context.Context, conn *bus.Connection) error {
	p.conn = conn
	sub, err := conn.Subscribe(bus.T(p.name + "/light/#"))
	if err != nil {
		return err
	}
	now := timex.NowMs()
	for ch := 0; ch < Channels; ch++ {
		ch := ch
		p.ctl[ch].Begin(func(state bool, level float64, control, notify bool) {
			p.onControl(uint8(ch), state, level, control, notify)
		}, false, now)
	}
	go p.run(ctx, sub)
	return nil
}

// Set switches one channel (or all, with channel -1) on or off.
func (p *Panel) Set(channel int, state bool) {
	p.each(channel, func(c *lightctl.Controller) { c.Set(state) })
}

// SetMode changes the effect mode of one channel or all (channel -1).
func (p *Panel) SetMode(channel int, mode lightctl.Mode, intervalMs int64, phaseUnit float64, pattern string) {
	now := timex.NowMs()
	p.each(channel, func(c *lightctl.Controller) {
		c.SetMode(mode, intervalMs, phaseUnit, pattern, now)
	})
}

// SetMinMaxWaveBrightness bounds the wave effect of one channel or all.
func (p *Panel) SetMinMaxWaveBrightness(channel int, minB, maxB float64) {
	p.each(channel, func(c *lightctl.Controller) { c.SetMinMaxWaveBrightness(minB, maxB) })
}

func (p *Panel) each(channel int, fn func(*lightctl.Controller)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if channel < 0 {
		for _, c := range p.ctl {
			fn(c)
		}
		return
	}
	if channel < Channels {
		fn(p.ctl[channel])
	}
}

func (p *Panel) run(ctx context.Context, sub <-chan *bus.Message) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := timex.NowMs()
			p.mu.Lock()
			for _, c := range p.ctl {
				c.Tick(now)
			}
			p.mu.Unlock()
		case msg, ok := <-sub:
			if !ok {
				return
			}
			p.handle(msg)
		}
	}
}

func (p *Panel) handle(msg *bus.Message) {
	// topic layout: <name>/light/<channel>/<command...>
	t := msg.Topic
	if len(t) < 4 || t[0] != p.name || t[1] != "light" {
		return
	}
	ch, err := strconv.Atoi(t[2])
	if err != nil || ch < 0 || ch >= Channels {
		return
	}
	p.mu.Lock()
	p.ctl[ch].HandleCommand(t[3:].String(), msg.String(), timex.NowMs())
	p.mu.Unlock()
}

// onControl maps a channel's logical state onto the PCA9685 on/off ticks.
// Full on and full off use the chip's bypass values so the output is steady
// instead of a 100% duty PWM.
func (p *Panel) onControl(channel uint8, state bool, level float64, control, notify bool) {
	if control {
		intensity := uint16(level * 4096)
		switch {
		case intensity == 0 || !state:
			p.gpioSet(channel, false)
		case intensity >= 4096:
			p.gpioSet(channel, true)
		default:
			p.pwmSet(channel, intensity)
		}
	}
	if notify {
		onoff := "off"
		if state {
			onoff = "on"
		}
		prefix := p.name + "/light/" + strconv.Itoa(int(channel))
		p.conn.PubRetained(bus.T(prefix+"/unitbrightness"), light.FormatUnitLevel(level))
		p.conn.PubRetained(bus.T(prefix+"/state"), onoff)
	}
}

func (p *Panel) gpioSet(channel uint8, on bool) {
	if on == p.activeLogic {
		// full-on bypass: output steady high
		_ = p.pwm.SetPWM(channel, 4096, 0)
	} else {
		// full-off bypass: output steady low
		_ = p.pwm.SetPWM(channel, 0, 4096)
	}
}

func (p *Panel) pwmSet(channel uint8, intensity uint16) {
	if p.activeLogic {
		_ = p.pwm.SetPWM(channel, 0, intensity)
	} else {
		_ = p.pwm.SetPWM(channel, 0, 4096-intensity)
	}
}

// Package light drives a single dimmable light on a GPIO or PWM pin.
//
// The applet listens on "<name>/light/#" for the standard light commands and
// publishes "<name>/light/state" and "<name>/light/unitbrightness" on
// notified changes. Effects come from lightctl.
package light

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mupplet-go/bus"
	"mupplet-go/hw"
	"mupplet-go/mupplet"
	"mupplet-go/mupplet/lightctl"
	"mupplet-go/x/timex"
)

// tickInterval keeps effects smooth; the controller is designed around a
// 50ms cadence.
const tickInterval = 50 * time.Millisecond

// Light is a GPIO/PWM light mupplet.
type Light struct {
	name        string
	pin         hw.PWMPin
	activeLogic bool

	conn *bus.Connection
	ctl  *lightctl.Controller
}

// New creates a light applet driving pin.
//
// activeLogic describes the physical level that turns the light on: false
// (the default wiring for most boards) means the light is on when the pin is
// LOW. For plain on/off pins wrap the output in hw.BinaryPWM.
func New(name string, pin hw.PWMPin, activeLogic bool) *Light {
	return &Light{
		name:        name,
		pin:         pin,
		activeLogic: activeLogic,
		ctl:         lightctl.New(),
	}
}

func (l *Light) Name() string { return l.name }

// Controller exposes the underlying state machine for programmatic control
// (Set, SetMode, SetMinMaxWaveBrightness).
func (l *Light) Controller() *lightctl.Controller { return l.ctl }

// Begin initializes the hardware and starts the service goroutine. It
// returns once the command subscription is in place.
func (l *Light) Begin(ctx context.Context, conn *bus.Connection) error {
	l.conn = conn
	sub, err := conn.Subscribe(bus.T(l.name + "/light/#"))
	if err != nil {
		return err
	}
	l.ctl.Begin(l.onControl, false, timex.NowMs())
	go l.run(ctx, sub)
	return nil
}

func (l *Light) run(ctx context.Context, sub <-chan *bus.Message) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.ctl.Tick(timex.NowMs())
		case msg, ok := <-sub:
			if !ok {
				return
			}
			l.handle(msg)
		}
	}
}

func (l *Light) handle(msg *bus.Message) {
	cmd, ok := mupplet.CommandOf(msg.Topic, l.name, "light")
	if !ok {
		return
	}
	l.ctl.HandleCommand(cmd, msg.String(), timex.NowMs())
}

// onControl maps the logical light state onto the pin and publishes state
// changes. Levels that round to a zero duty switch the light logically off
// so the announced state matches the hardware.
func (l *Light) onControl(state bool, level float64, control, notify bool) {
	if control {
		top := l.pin.Top()
		switch {
		case state && level == 1.0:
			if l.activeLogic {
				l.pin.SetLevel(top)
			} else {
				l.pin.SetLevel(0)
			}
		case state && level > 0.0:
			bri := uint16(level * float64(top))
			if bri > 0 {
				if !l.activeLogic {
					bri = top - bri
				}
				l.pin.SetLevel(bri)
			} else {
				l.ctl.ForceState(false, 0.0)
				l.onControl(false, 0.0, control, notify)
				return
			}
		default:
			if l.activeLogic {
				l.pin.SetLevel(0)
			} else {
				l.pin.SetLevel(top)
			}
		}
	}
	if notify {
		onoff := "off"
		if state {
			onoff = "on"
		}
		l.conn.PubRetained(bus.T(l.name+"/light/unitbrightness"), FormatUnitLevel(level))
		l.conn.PubRetained(bus.T(l.name+"/light/state"), onoff)
	}
}

// FormatUnitLevel renders a brightness level the way all light mupplets
// publish it, e.g. "0.340".
func FormatUnitLevel(level float64) string {
	return strings.TrimSpace(fmt.Sprintf("%5.3f", level))
}

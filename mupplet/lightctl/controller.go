// Package lightctl implements the shared state machine for everything that
// behaves like a light: on/off, brightness and the automatic effect modes
// (blink, wave, one-shot pulse and pattern playback).
//
// The controller is hardware-agnostic. It drives a ControlFunc which maps the
// logical state onto a GPIO, PWM channel or pixel, and decides when state
// changes are worth announcing on the bus.
package lightctl

import (
	"strconv"

	"mupplet-go/mupplet"
	"mupplet-go/x/mathx"
)

// Mode is the light operation mode.
type Mode int

const (
	// Passive leaves the light under API control; no automatic changes.
	Passive Mode = iota
	// Blink toggles the light with a fixed interval until overridden.
	Blink
	// Wave modulates brightness with a soft triangular pulse.
	Wave
	// Pulse switches the light on for one interval, then returns to Passive.
	Pulse
	// Pattern plays a pattern string, one step per interval.
	Pattern
)

var modeNames = []string{"passive", "blink", "wave", "pulse", "pattern"}

func (m Mode) String() string {
	if m < Passive || m > Pattern {
		return "unknown"
	}
	return modeNames[m]
}

// ControlFunc receives every state change of the controller.
//
// state and level describe the logical light. When control is set the
// hardware must be updated; when notify is set the new state should be
// published. Automatic effect steps update hardware without notifying.
type ControlFunc func(state bool, level float64, control, notify bool)

// Controller holds the light state machine. It is not safe for concurrent
// use; the owning mupplet serializes access from its service goroutine.
type Controller struct {
	mode       Mode
	state      bool
	brightness float64

	control  ControlFunc
	interval int64
	phase    float64
	minWave  float64
	maxWave  float64
	pattern  string

	uPhase     int64
	oPeriod    int64
	startPulse int64
	patternPtr int
}

// New returns a controller in Passive mode. No control calls are made until
// Begin.
func New() *Controller {
	return &Controller{interval: 1000, maxWave: 1.0}
}

// Begin installs the control function and drives the hardware to the initial
// state.
func (c *Controller) Begin(control ControlFunc, initialState bool, nowMs int64) {
	c.control = control
	c.mode = Passive
	c.state = !initialState
	c.startPulse = nowMs
	c.set(initialState, false)
}

// State reports the logical on/off state.
func (c *Controller) State() bool { return c.state }

// Brightness reports the logical brightness level in [0..1].
func (c *Controller) Brightness() float64 { return c.brightness }

// Mode reports the current operation mode.
func (c *Controller) Mode() Mode { return c.mode }

// Tick advances the effect state machine. Call it every 50ms for smooth
// effects; nowMs is the current monotonic time in milliseconds.
func (c *Controller) Tick(nowMs int64) {
	if c.mode == Passive {
		return
	}
	period := (nowMs + c.uPhase) % (2 * c.interval)
	switch c.mode {
	case Pulse:
		if nowMs-c.startPulse < c.interval {
			c.set(true, true)
		} else {
			c.set(false, true)
			c.SetMode(Passive, 0, 0, "", nowMs)
		}
	case Blink:
		if period < c.oPeriod {
			c.set(false, true)
		} else if period >= c.interval && c.oPeriod < c.interval {
			c.set(true, true)
		}
	case Wave:
		var br float64
		if period < c.interval {
			br = float64(period) / float64(c.interval)
		} else {
			br = float64(2*c.interval-period) / float64(c.interval)
		}
		c.setBrightness(mathx.LerpF(c.minWave, c.maxWave, br), true)
	case Pattern:
		if period < c.oPeriod {
			if c.patternPtr < len(c.pattern) {
				ch := c.pattern[c.patternPtr]
				if ch == 'r' {
					c.patternPtr = 0
					ch = c.pattern[0]
				}
				switch {
				case ch == '+':
					c.set(true, true)
				case ch == '-':
					c.set(false, true)
				case ch >= '0' && ch <= '9':
					c.setBrightness(float64(ch-'0')*0.1111, true)
				}
				c.patternPtr++
			} else {
				c.patternPtr = 0
				c.set(false, true)
				c.SetMode(Passive, 0, 0, "", nowMs)
			}
		}
	}
	c.oPeriod = period
}

// Set switches the light on or off. A manual set always returns the
// controller to Passive mode.
func (c *Controller) Set(state bool) { c.set(state, false) }

// SetBrightness sets the brightness level [0..1] and returns the controller
// to Passive mode.
func (c *Controller) SetBrightness(level float64) { c.setBrightness(level, false) }

// SetMode switches the effect mode.
//
// intervalMs is the step or blink duration, clamped to [100..100000].
// phaseUnit in [0..1] shifts the effect to synchronize or oppose several
// lights (0.5 blinks two lights in antiphase). pattern applies to Pattern
// mode only: '+' on, '-' off, '0'..'9' brightness steps, and a trailing 'r'
// repeats forever.
func (c *Controller) SetMode(mode Mode, intervalMs int64, phaseUnit float64, pattern string, nowMs int64) {
	c.mode = mode
	if mode == Passive {
		return
	}
	c.phase = mathx.Clamp(phaseUnit, 0.0, 1.0)
	c.interval = mathx.Clamp(intervalMs, 100, 100000)
	c.startPulse = nowMs
	c.uPhase = int64(2.0 * float64(c.interval) * c.phase)
	c.oPeriod = (nowMs + c.uPhase) % c.interval
	if mode == Pattern {
		c.pattern = pattern
		c.patternPtr = 0
	}
}

// SetMinMaxWaveBrightness bounds the Wave effect. Invalid or inverted bounds
// reset to the full [0..1] range.
func (c *Controller) SetMinMaxWaveBrightness(minB, maxB float64) {
	if minB < 0.0 || minB > 1.0 {
		minB = 0.0
	}
	if maxB < 0.0 || maxB > 1.0 {
		maxB = 1.0
	}
	if minB >= maxB {
		minB = 0.0
		maxB = 1.0
	}
	c.minWave = minB
	c.maxWave = maxB
}

// ForceState overrides the internal state without driving the hardware.
// Mupplets use it when the hardware cannot express the requested level, e.g.
// a PWM duty that rounds to zero switches the light logically off.
func (c *Controller) ForceState(state bool, level float64) {
	c.state = state
	c.brightness = mathx.UnitF(level)
}

// HandleCommand processes light commands addressed to the owning mupplet.
// It reports whether the command was recognized.
//
// Supported commands: "set" (on/off/brightness payloads), "mode/set"
// ("<mode> [interval[,phase[,...]]]", pattern form
// "pattern <pat>[,<interval>[,<phase>]]") and "unitbrightness/get".
func (c *Controller) HandleCommand(command, args string, nowMs int64) bool {
	switch command {
	case "set":
		c.setBrightness(mupplet.ParseUnitLevel(args), false)
		return true
	case "mode/set":
		c.handleModeSet(args, nowMs)
		return true
	case "unitbrightness/get":
		c.control(c.state, c.brightness, false, true)
		return true
	}
	return false
}

func (c *Controller) handleModeSet(args string, nowMs int64) {
	head, parts := mupplet.SplitArgs(args)
	interval := int64(1000)
	phase := 0.0
	switch head {
	case "passive":
		c.SetMode(Passive, 0, 0, "", nowMs)
	case "pulse":
		if len(parts) > 0 {
			interval, _ = strconv.ParseInt(parts[0], 10, 64)
		}
		c.SetMode(Pulse, interval, 0, "", nowMs)
	case "blink", "wave":
		if len(parts) > 0 {
			interval, _ = strconv.ParseInt(parts[0], 10, 64)
		}
		if len(parts) > 1 {
			phase, _ = strconv.ParseFloat(parts[1], 64)
		}
		m := Blink
		if head == "wave" {
			m = Wave
		}
		c.SetMode(m, interval, phase, "", nowMs)
	case "pattern":
		if len(parts) == 0 || parts[0] == "" {
			return
		}
		if len(parts) > 1 {
			interval, _ = strconv.ParseInt(parts[1], 10, 64)
		}
		if len(parts) > 2 {
			phase, _ = strconv.ParseFloat(parts[2], 64)
		}
		c.SetMode(Pattern, interval, phase, parts[0], nowMs)
	}
}

func (c *Controller) set(state, automatic bool) {
	if state == c.state {
		return
	}
	if !automatic {
		c.mode = Passive
	}
	if state {
		c.brightness = 1.0
	} else {
		c.brightness = 0.0
	}
	c.state = state
	c.control(c.state, c.brightness, true, !automatic)
}

func (c *Controller) setBrightness(level float64, automatic bool) {
	level = mathx.UnitF(level)
	if level == c.brightness {
		return
	}
	if !automatic {
		c.mode = Passive
	}
	c.brightness = level
	c.state = level > 0.0
	c.control(c.state, c.brightness, true, !automatic)
}

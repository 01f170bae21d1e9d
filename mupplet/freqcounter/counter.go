// Package freqcounter measures the frequency of a signal from hardware
// edge events.
//
// Six sampling modes trade latency against filtering, split into low
// frequency (<50Hz, including sub-Hertz sources like Geiger counters) and
// high frequency variants. The high frequency modes reset their filter
// when the signal drops to or returns from 0Hz, so bursts are reported
// quickly.
package freqcounter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mupplet-go/bus"
	"mupplet-go/hw"
	"mupplet-go/x/sensorval"
	"mupplet-go/x/timex"
)

// MeasureMode is the sampling mode.
type MeasureMode int

const (
	LowFrequencyFast     MeasureMode = iota // <50Hz, not much filtering
	LowFrequencyMedium                      // sub-Hertz capable, e.g. Geiger counters
	LowFrequencyLongterm                    // <50Hz, high precision, long-time averaging
	HighFrequencyFast                       // no filtering
	HighFrequencyMedium                     // some filtering
	HighFrequencyLongterm                   // strong filtering for stable signals
)

var modeNames = []string{
	"LOWFREQUENCY_FAST", "LOWFREQUENCY_MEDIUM", "LOWFREQUENCY_LONGTERM",
	"HIGHFREQUENCY_FAST", "HIGHFREQUENCY_MEDIUM", "HIGHFREQUENCY_LONGTERM",
}

func (m MeasureMode) String() string {
	if m < LowFrequencyFast || m > HighFrequencyLongterm {
		return "unknown"
	}
	return modeNames[m]
}

// measureInterval is the accumulation window per frequency sample.
const measureInterval = 2 * time.Second

// maxPlausibleHz rejects garbage bursts from interrupt storms.
const maxPlausibleHz = 1000000.0

// Counter is a frequency counter mupplet fed by a hardware edge source.
type Counter struct {
	name     string
	edges    hw.EdgeSource
	edgeKind hw.Edge
	mode     MeasureMode

	// Renormalisation scales every measurement, e.g. for input dividers.
	Renormalisation float64

	conn *bus.Connection
	now  func() int64

	freq             *sensorval.Processor
	detectZeroChange bool
	lastFrequency    float64

	// accumulator: the first edge only starts the window
	beginUS int64
	lastUS  int64
	count   uint64
}

// New creates a frequency counter on an edge source. edgeKind must match
// the edges the source delivers: with hw.EdgeBoth each full wave produces
// two events and the math compensates.
func New(name string, edges hw.EdgeSource, edgeKind hw.Edge, mode MeasureMode) *Counter {
	c := &Counter{
		name:            name,
		edges:           edges,
		edgeKind:        edgeKind,
		Renormalisation: 1.0,
		now:             timex.NowMs,
		freq:            sensorval.New(4, 600, 0.01),
	}
	c.setMeasureMode(mode, true)
	return c
}

func (c *Counter) Name() string { return c.name }

// Mode reports the active sampling mode.
func (c *Counter) Mode() MeasureMode { return c.mode }

// SetMeasureMode changes the sampling mode and announces it.
func (c *Counter) SetMeasureMode(mode MeasureMode) {
	c.setMeasureMode(mode, false)
}

func (c *Counter) setMeasureMode(mode MeasureMode, silent bool) {
	switch mode {
	case LowFrequencyFast:
		c.detectZeroChange = false
		c.freq.Configure(4, 15, 0.01)
	case LowFrequencyMedium:
		c.detectZeroChange = false
		c.freq.Configure(12, 120, 0.01)
	case LowFrequencyLongterm:
		c.detectZeroChange = false
		c.freq.Configure(60, 600, 0.001)
	case HighFrequencyFast:
		c.detectZeroChange = true
		c.freq.Configure(1, 15, 0.1)
	case HighFrequencyMedium:
		c.detectZeroChange = true
		c.freq.Configure(10, 120, 0.01)
	default:
		mode = HighFrequencyLongterm
		c.detectZeroChange = true
		c.freq.Configure(60, 600, 0.001)
	}
	c.mode = mode
	c.freq.Reset()
	if !silent {
		c.publishMode()
	}
}

// Begin starts the measurement service goroutine.
func (c *Counter) Begin(ctx context.Context, conn *bus.Connection) error {
	c.conn = conn
	sub, err := conn.Subscribe(bus.T(c.name + "/#"))
	if err != nil {
		return err
	}
	go c.run(ctx, sub)
	return nil
}

func (c *Counter) run(ctx context.Context, sub <-chan *bus.Message) {
	ticker := time.NewTicker(measureInterval)
	defer ticker.Stop()
	events := c.edges.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.onEdge(ev)
		case <-ticker.C:
			c.measure(c.now())
		case msg, ok := <-sub:
			if !ok {
				return
			}
			c.handle(msg)
		}
	}
}

// onEdge accumulates one transition. The first edge of a window only
// starts the timebase; every further edge counts.
func (c *Counter) onEdge(ev hw.EdgeEvent) {
	if c.beginUS == 0 {
		c.beginUS = ev.TimeUS
	} else {
		c.count++
	}
	c.lastUS = ev.TimeUS
}

// takeFrequency computes the frequency over the accumulated window and
// resets the accumulator.
func (c *Counter) takeFrequency() float64 {
	var freq float64
	dt := c.lastUS - c.beginUS
	if dt > 0 && c.beginUS != 0 {
		mult := 1000000.0
		if c.edgeKind == hw.EdgeBoth {
			// two edges per wave
			mult = 500000.0
		}
		freq = float64(c.count) * mult / float64(dt)
	}
	c.beginUS = 0
	c.lastUS = 0
	c.count = 0
	return freq
}

func (c *Counter) measure(nowMs int64) {
	freq := c.takeFrequency() * c.Renormalisation
	if c.detectZeroChange {
		if (c.freq.LastVal == 0.0 && freq > 0.0) || (c.freq.LastVal > 0.0 && freq == 0.0) {
			c.freq.Reset()
		}
	}
	if freq >= 0.0 && freq < maxPlausibleHz {
		if c.freq.Filter(&freq, nowMs) {
			c.lastFrequency = freq
			c.publishFrequency()
		}
	}
}

func (c *Counter) publishFrequency() {
	v := strings.TrimSpace(fmt.Sprintf("%10.3f", c.lastFrequency))
	c.conn.Pub(bus.T(c.name+"/sensor/frequency"), v)
}

func (c *Counter) publishMode() {
	c.conn.Pub(bus.T(c.name+"/sensor/mode"), c.mode.String())
}

func (c *Counter) handle(msg *bus.Message) {
	switch msg.Topic.String() {
	case c.name + "/sensor/state/get", c.name + "/sensor/frequency/get":
		c.publishFrequency()
	case c.name + "/sensor/mode/get":
		c.publishMode()
	case c.name + "/sensor/mode/set":
		c.handleModeSet(strings.TrimSpace(msg.String()))
	}
}

func (c *Counter) handleModeSet(arg string) {
	for i, name := range modeNames {
		if arg == name || arg == fmt.Sprintf("%d", i) {
			c.SetMeasureMode(MeasureMode(i))
			return
		}
	}
}

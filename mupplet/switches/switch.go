// Package switches integrates buttons and switches, either by polling a
// GPIO or by consuming hardware edge events. Debouncing works in both
// modes and matters most for edge-driven inputs.
//
// The logical switch can be overridden by software ("<name>/switch/set");
// the override stays in effect until the physical input changes state
// again.
package switches

import (
	"context"
	"strconv"
	"time"

	"mupplet-go/bus"
	"mupplet-go/hw"
	"mupplet-go/mupplet"
	"mupplet-go/x/mathx"
	"mupplet-go/x/timex"
)

// Mode selects how input transitions map to the logical switch state.
type Mode int

const (
	// Default reports on while the button is pressed, off on release.
	Default Mode = iota
	// Rising publishes a trigger on inactive-to-active transitions.
	Rising
	// Falling publishes a trigger on active-to-inactive transitions.
	Falling
	// Flipflop toggles the logical state on each release.
	Flipflop
	// Timer holds the logical state on for a configured duration.
	Timer
	// Duration reports press length: shortpress, longpress, verylongpress.
	Duration
	// BinarySensor reports the raw input as ON/OFF under binary_sensor/.
	BinarySensor
)

var modeNames = []string{"default", "rising", "falling", "flipflop", "timer", "duration", "binary_sensor"}

func (m Mode) String() string {
	if m < Default || m > BinarySensor {
		return "unknown"
	}
	return modeNames[m]
}

const (
	tickInterval = 50 * time.Millisecond

	defaultShortPressMs    = 3000
	defaultLongPressMs     = 30000
	binarySensorRefreshSec = 600
)

// Config holds the optional switch settings.
type Config struct {
	// ActiveLogic false (the default) means a LOW input level is "pressed".
	ActiveLogic bool
	// CustomTopic, when set, receives a copy of every state message.
	CustomTopic string
	// DebounceMs suppresses transitions arriving closer together; clamped
	// to [0..1000].
	DebounceMs int64
	// Edges switches the applet to edge-event mode. The pin is still used
	// for Get() where available; pass hw.EdgeBoth sources for the level
	// modes (Default, Flipflop, Timer, Duration, BinarySensor).
	Edges hw.EdgeSource
}

// Switch is a GPIO switch mupplet.
type Switch struct {
	name        string
	pin         hw.InputPin
	mode        Mode
	activeLogic bool
	customTopic string
	debounceMs  int64
	edges       hw.EdgeSource

	conn *bus.Connection
	now  func() int64

	lastChangeMs  int64
	lastEdgeMs    int64
	physicalState int // -1 while unknown
	logicalState  int

	overriddenPhysical bool
	overrideActive     bool

	counterOn bool
	counter   uint64

	flipflop        bool
	activeTimerMs   int64
	timerDurationMs int64
	startEventMs    int64
	durations       [2]int64

	lastStatePubMs  int64
	stateRefreshSec int64
	initialPublish  bool
	initialDone     bool
}

// New creates a switch applet on pin. Pass the zero Config for a polled,
// active-low switch without debouncing.
func New(name string, pin hw.InputPin, mode Mode, cfg Config) *Switch {
	s := &Switch{
		name:        name,
		pin:         pin,
		mode:        mode,
		activeLogic: cfg.ActiveLogic,
		customTopic: cfg.CustomTopic,
		edges:       cfg.Edges,
		now:         timex.NowMs,
	}
	s.SetDebounce(cfg.DebounceMs)
	s.durations = [2]int64{defaultShortPressMs, defaultLongPressMs}
	return s
}

func (s *Switch) Name() string { return s.name }

// SetDebounce changes the debounce time, clamped to [0..1000]ms.
func (s *Switch) SetDebounce(ms int64) {
	s.debounceMs = mathx.Clamp(ms, 0, 1000)
}

// SetTimerDuration sets the monostable on-time for Timer mode.
func (s *Switch) SetTimerDuration(ms int64) {
	s.timerDurationMs = ms
}

// SetStateRefresh publishes the logical state every secs seconds in
// Default, Flipflop and BinarySensor modes.
func (s *Switch) SetStateRefresh(secs int64) {
	s.stateRefreshSec = secs
}

// ActivateCounter starts (resetting to zero) or stops the activation
// counter. While active, every logical-on transition publishes the count.
func (s *Switch) ActivateCounter(active bool) {
	s.counterOn = active
	if active {
		s.counter = 0
		s.publishCounter()
	}
}

// SetMode switches the operation mode and resets the runtime state.
// durationMs applies to Timer mode.
func (s *Switch) SetMode(mode Mode, durationMs int64) {
	// edge-fed switches see the initial transition once, polled ones twice
	s.flipflop = s.edges == nil
	s.activeTimerMs = 0
	s.timerDurationMs = durationMs
	s.physicalState = -1
	s.logicalState = -1
	s.overriddenPhysical = false
	s.overrideActive = false
	s.lastChangeMs = 0
	s.mode = mode
	if mode == BinarySensor {
		s.initialDone = false
		s.initialPublish = true
		s.stateRefreshSec = binarySensorRefreshSec
	}
	s.startEventMs = -1
}

// Begin starts the switch service goroutine.
func (s *Switch) Begin(ctx context.Context, conn *bus.Connection) error {
	s.conn = conn
	sub, err := conn.Subscribe(bus.T(s.name + "/#"))
	if err != nil {
		return err
	}
	mqttState, err := conn.Subscribe(bus.T("mqtt/state"))
	if err != nil {
		return err
	}
	s.SetMode(s.mode, s.timerDurationMs)
	s.readPin()
	go s.run(ctx, sub, mqttState)
	return nil
}

func (s *Switch) run(ctx context.Context, sub, mqttState <-chan *bus.Message) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	var edges <-chan hw.EdgeEvent
	if s.edges != nil {
		edges = s.edges.Events()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		case ev, ok := <-edges:
			if !ok {
				edges = nil
				continue
			}
			s.onEdge(ev)
		case msg, ok := <-sub:
			if !ok {
				return
			}
			s.handle(msg)
		case msg, ok := <-mqttState:
			if !ok {
				mqttState = nil
				continue
			}
			s.onMqttState(msg.String())
		}
	}
}

func (s *Switch) tick() {
	if s.edges == nil {
		s.readPin()
	}
	now := s.now()
	if s.mode == Timer && s.activeTimerMs != 0 {
		if now-s.activeTimerMs > s.timerDurationMs {
			s.activeTimerMs = 0
			s.setLogicalState(false)
		}
	}
	if s.stateRefreshSec != 0 && s.mode == BinarySensor {
		due := now-s.lastStatePubMs > s.stateRefreshSec*1000
		if due || (s.initialPublish && !s.initialDone) {
			s.publishLogicalState(s.logicalState == 1)
			if s.counterOn {
				s.publishCounter()
			}
			s.initialDone = true
		}
	}
}

// readPin samples the polled input and feeds the debounced state machine.
func (s *Switch) readPin() {
	if s.pin == nil {
		return
	}
	state := s.pin.Get()
	if !s.activeLogic {
		state = !state
	}
	s.setPhysicalState(state, false)
}

// onEdge consumes one hardware transition. Debouncing uses the event
// timestamps, so bursts queued behind a slow consumer still collapse.
func (s *Switch) onEdge(ev hw.EdgeEvent) {
	ms := ev.TimeUS / 1000
	if s.debounceMs > 0 && s.lastEdgeMs != 0 && ms-s.lastEdgeMs < s.debounceMs {
		return
	}
	s.lastEdgeMs = ms
	s.setPhysicalState(ev.Level == s.activeLogic, false)
}

// SetLogicalState overrides the reported state until the hardware changes.
func (s *Switch) SetLogicalState(on bool) {
	s.setLogicalState(on)
}

// SetToggle overrides the physical state by inverting it.
func (s *Switch) SetToggle() {
	s.setPhysicalState(s.physicalState != 1, true)
}

// SetPulse overrides the physical state with an on/off pulse.
func (s *Switch) SetPulse() {
	s.setPhysicalState(true, true)
	s.setPhysicalState(false, true)
}

func (s *Switch) setLogicalState(on bool) {
	val := 0
	if on {
		val = 1
	}
	if s.logicalState != val {
		s.logicalState = val
		s.publishLogicalState(on)
		if s.counterOn && on {
			s.counter++
			s.publishCounter()
		}
	}
}

func (s *Switch) decodeLogicalState(physical bool) {
	switch s.mode {
	case Default, Rising, Falling, Duration, BinarySensor:
		s.setLogicalState(physical)
	case Flipflop:
		if !physical {
			s.flipflop = !s.flipflop
			s.setLogicalState(s.flipflop)
		}
	case Timer:
		if !physical {
			s.activeTimerMs = s.now()
		} else {
			s.setLogicalState(true)
		}
	}
}

func (s *Switch) setPhysicalState(newState, override bool) {
	if s.mode != Timer {
		s.activeTimerMs = 0
	}
	val := 0
	if newState {
		val = 1
	}
	if override {
		s.overriddenPhysical = s.physicalState == 1
		s.overrideActive = true
		if val != s.physicalState {
			s.physicalState = val
			s.decodeLogicalState(newState)
		}
		return
	}
	if s.overrideActive && newState != s.overriddenPhysical {
		s.overrideActive = false
	}
	if s.overrideActive {
		return
	}
	if val != s.physicalState || s.mode == Falling || s.mode == Rising {
		now := s.now()
		if now-s.lastChangeMs > s.debounceMs || s.edges != nil {
			s.lastChangeMs = now
			s.physicalState = val
			s.decodeLogicalState(newState)
		}
	}
}

func (s *Switch) publishCounter() {
	if s.counterOn {
		v := strconv.FormatUint(s.counter, 10)
		s.conn.Pub(bus.T(s.name+"/switch/counter"), v)
		s.conn.Pub(bus.T(s.name+"/sensor/counter"), v)
	} else {
		s.conn.Pub(bus.T(s.name+"/switch/counter"), "NaN")
		s.conn.Pub(bus.T(s.name+"/sensor/counter"), "NaN")
	}
}

func (s *Switch) publishLogicalState(on bool) {
	textState := "off"
	binaryState := "OFF"
	if on {
		textState = "on"
		binaryState = "ON"
	}
	s.lastStatePubMs = s.now()
	switch s.mode {
	case Default, Flipflop, Timer:
		s.conn.Pub(bus.T(s.name+"/switch/state"), textState)
		if s.customTopic != "" {
			s.conn.Pub(bus.T(s.customTopic), textState)
		}
	case Rising:
		if on {
			s.conn.Pub(bus.T(s.name+"/switch/state"), "trigger")
			if s.customTopic != "" {
				s.conn.Pub(bus.T(s.customTopic), "trigger")
			}
		}
	case Falling:
		if !on {
			s.conn.Pub(bus.T(s.name+"/switch/state"), "trigger")
			if s.customTopic != "" {
				s.conn.Pub(bus.T(s.customTopic), "trigger")
			}
		}
	case Duration:
		if on {
			s.startEventMs = s.now()
		} else if s.startEventMs >= 0 {
			dt := s.now() - s.startEventMs
			s.conn.Pub(bus.T(s.name+"/switch/duration"), strconv.FormatInt(dt, 10))
			switch {
			case dt < s.durations[0]:
				s.conn.Pub(bus.T(s.name+"/switch/shortpress"), "trigger")
			case dt < s.durations[1]:
				s.conn.Pub(bus.T(s.name+"/switch/longpress"), "trigger")
			default:
				s.conn.Pub(bus.T(s.name+"/switch/verylongpress"), "trigger")
			}
		}
	case BinarySensor:
		s.conn.Pub(bus.T(s.name+"/binary_sensor/state"), binaryState)
		if s.customTopic != "" {
			s.conn.Pub(bus.T(s.customTopic), binaryState)
		}
	}
}

func (s *Switch) handle(msg *bus.Message) {
	topic := msg.Topic.String()
	payload := msg.String()
	switch topic {
	case s.name + "/switch/state/get", s.name + "/binary_sensor/state/get":
		s.publishLogicalState(s.logicalState == 1)
	case s.name + "/switch/counter/get", s.name + "/sensor/counter/get":
		s.publishCounter()
	case s.name + "/switch/physicalstate/get":
		st := "off"
		if s.physicalState == 1 {
			st = "on"
		}
		s.conn.Pub(bus.T(s.name+"/switch/physicalstate"), st)
	case s.name + "/switch/mode/set":
		s.handleModeSet(payload)
	case s.name + "/switch/set":
		switch mupplet.ParseToken(payload, []string{"on", "true", "off", "false", "toggle", "pulse"}) {
		case 0, 1:
			s.setLogicalState(true)
		case 2, 3:
			s.setLogicalState(false)
		case 4:
			s.SetToggle()
		case 5:
			s.SetPulse()
		}
	case s.name + "/switch/debounce/get":
		s.conn.Pub(bus.T(s.name+"/switch/debounce"), strconv.FormatInt(s.debounceMs, 10))
	case s.name + "/switch/debounce/set":
		s.SetDebounce(mupplet.ParseRangedLong(payload, 0, 1000, 0, 1000))
	case s.name + "/switch/counter/start":
		s.ActivateCounter(true)
	case s.name + "/switch/counter/stop":
		s.ActivateCounter(false)
	}
}

func (s *Switch) handleModeSet(payload string) {
	head, args := mupplet.SplitArgs(payload)
	switch head {
	case "default":
		s.SetMode(Default, 0)
	case "rising":
		s.SetMode(Rising, 0)
	case "falling":
		s.SetMode(Falling, 0)
	case "flipflop":
		s.SetMode(Flipflop, 0)
	case "binary_sensor":
		s.SetMode(BinarySensor, 0)
	case "timer":
		dur := int64(1000)
		if len(args) > 0 {
			if v, err := strconv.ParseInt(args[0], 10, 64); err == nil {
				dur = v
			}
		}
		s.SetMode(Timer, dur)
	case "duration":
		s.durations = [2]int64{defaultShortPressMs, defaultLongPressMs}
		if len(args) > 0 {
			if v, err := strconv.ParseInt(args[0], 10, 64); err == nil {
				s.durations[0] = v
			}
			if len(args) > 1 {
				if v, err := strconv.ParseInt(args[1], 10, 64); err == nil {
					s.durations[1] = v
				}
			}
		}
		if s.durations[0] > s.durations[1] {
			s.durations[1] = int64(1)<<62 - 1
		}
		s.SetMode(Duration, 0)
	}
}

// onMqttState re-announces the state when an upstream broker connects, so
// late MQTT subscribers see the current values.
func (s *Switch) onMqttState(state string) {
	if state != "connected" {
		return
	}
	if s.mode == Default || s.mode == Flipflop || s.mode == BinarySensor {
		s.publishLogicalState(s.logicalState == 1)
		if s.counterOn {
			s.publishCounter()
		}
	}
}

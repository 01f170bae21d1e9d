// Package digitalout switches a relay or similar on/off hardware on a
// GPIO pin.
//
// The applet listens on "<name>/<topic>/set" for "on" or "off" and
// publishes "<name>/<topic>/state" on changes. The topic segment is
// configurable and defaults to "relay".
package digitalout

import (
	"context"

	"mupplet-go/bus"
	"mupplet-go/hw"
	"mupplet-go/mupplet"
)

// DigitalOut is a plain on/off output mupplet.
type DigitalOut struct {
	name        string
	topic       string
	pin         hw.OutputPin
	activeLogic bool

	conn  *bus.Connection
	state bool
}

// Option configures a DigitalOut.
type Option func(*DigitalOut)

// WithTopic replaces the default "relay" topic segment.
func WithTopic(topic string) Option {
	return func(d *DigitalOut) { d.topic = topic }
}

// WithActiveLogic selects active-high wiring. The default is active-low:
// switching on drives the pin LOW.
func WithActiveLogic(activeHigh bool) Option {
	return func(d *DigitalOut) { d.activeLogic = activeHigh }
}

// New creates a digital out applet driving pin.
func New(name string, pin hw.OutputPin, opts ...Option) *DigitalOut {
	d := &DigitalOut{
		name:  name,
		topic: "relay",
		pin:   pin,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *DigitalOut) Name() string { return d.name }

// State reports the logical output state.
func (d *DigitalOut) State() bool { return d.state }

// Begin drives the output off and starts the service goroutine.
func (d *DigitalOut) Begin(ctx context.Context, conn *bus.Connection) error {
	d.conn = conn
	sub, err := conn.Subscribe(bus.T(d.name + "/" + d.topic + "/#"))
	if err != nil {
		return err
	}
	d.state = false
	d.drive()
	go d.run(ctx, sub)
	return nil
}

func (d *DigitalOut) run(ctx context.Context, sub <-chan *bus.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			d.handle(msg)
		}
	}
}

// Set switches the output. Repeated sets to the current state do not
// republish.
func (d *DigitalOut) Set(state bool) {
	if d.state == state {
		return
	}
	d.state = state
	d.drive()
	d.publishState()
}

func (d *DigitalOut) drive() {
	if d.activeLogic {
		d.pin.Set(d.state)
	} else {
		d.pin.Set(!d.state)
	}
}

func (d *DigitalOut) publishState() {
	onoff := "off"
	if d.state {
		onoff = "on"
	}
	d.conn.PubRetained(bus.T(d.name+"/"+d.topic+"/state"), onoff)
}

func (d *DigitalOut) handle(msg *bus.Message) {
	cmd, ok := mupplet.CommandOf(msg.Topic, d.name, d.topic)
	if !ok {
		return
	}
	switch cmd {
	case "set":
		d.Set(mupplet.ParseBool(msg.String()))
	case "state/get":
		d.publishState()
	}
}

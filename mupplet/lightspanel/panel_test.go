package lightspanel

import (
	"context"
	"sync"
	"testing"
	"time"

	"mupplet-go/bus"
	"mupplet-go/mupplet/lightctl"
)

type pwmCall struct {
	channel uint8
	on, off uint16
}

type fakePWM struct {
	mu    sync.Mutex
	calls []pwmCall
}

func (f *fakePWM) SetPWM(channel uint8, on, off uint16) error {
	f.mu.Lock()
	f.calls = append(f.calls, pwmCall{channel, on, off})
	f.mu.Unlock()
	return nil
}

func (f *fakePWM) lastFor(channel uint8) (pwmCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].channel == channel {
			return f.calls[i], true
		}
	}
	return pwmCall{}, false
}

func newTestPanel(t *testing.T) (*bus.Bus, *Panel, *fakePWM, context.CancelFunc) {
	t.Helper()
	b := bus.NewBus(16)
	pwm := &fakePWM{}
	p := New("panel", pwm, true)
	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Begin(ctx, b.NewConnection("panel")); err != nil {
		t.Fatalf("begin: %v", err)
	}
	return b, p, pwm, cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestBeginSwitchesAllChannelsOff(t *testing.T) {
	_, _, pwm, cancel := newTestPanel(t)
	defer cancel()
	for ch := uint8(0); ch < Channels; ch++ {
		call, ok := pwm.lastFor(ch)
		if !ok {
			t.Fatalf("channel %d never driven", ch)
		}
		if call.on != 0 || call.off != 4096 {
			t.Errorf("channel %d = %+v, want full off", ch, call)
		}
	}
}

func TestChannelSetViaBus(t *testing.T) {
	b, _, pwm, cancel := newTestPanel(t)
	defer cancel()

	tc := b.NewConnection("test")
	tc.Pub(bus.T("panel/light/3/set"), "on")
	waitFor(t, func() bool {
		call, ok := pwm.lastFor(3)
		return ok && call.on == 4096 && call.off == 0
	})
	// other channels stay off
	if call, _ := pwm.lastFor(4); call.on != 0 || call.off != 4096 {
		t.Errorf("channel 4 = %+v, want untouched full off", call)
	}
}

func TestChannelDimViaBus(t *testing.T) {
	b, _, pwm, cancel := newTestPanel(t)
	defer cancel()

	tc := b.NewConnection("test")
	tc.Pub(bus.T("panel/light/7/set"), "pct 50")
	// active-high logic: deassert tick is the raw intensity
	waitFor(t, func() bool {
		call, ok := pwm.lastFor(7)
		return ok && call.on == 0 && call.off == 2048
	})
}

func TestChannelStatePublished(t *testing.T) {
	b, _, _, cancel := newTestPanel(t)
	defer cancel()

	tc := b.NewConnection("test")
	st, err := tc.Subscribe(bus.T("panel/light/5/state"))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-st:
		if msg.String() != "off" {
			t.Fatalf("retained state = %q", msg.String())
		}
	case <-time.After(time.Second):
		t.Fatal("no retained state")
	}

	tc.Pub(bus.T("panel/light/5/set"), "on")
	select {
	case msg := <-st:
		if msg.String() != "on" {
			t.Errorf("state = %q, want on", msg.String())
		}
	case <-time.After(time.Second):
		t.Fatal("no state update")
	}
}

func TestInvalidChannelIgnored(t *testing.T) {
	b, _, pwm, cancel := newTestPanel(t)
	defer cancel()

	pwm.mu.Lock()
	n := len(pwm.calls)
	pwm.mu.Unlock()

	tc := b.NewConnection("test")
	tc.Pub(bus.T("panel/light/16/set"), "on")
	tc.Pub(bus.T("panel/light/bogus/set"), "on")
	time.Sleep(50 * time.Millisecond)

	pwm.mu.Lock()
	defer pwm.mu.Unlock()
	if len(pwm.calls) != n {
		t.Errorf("invalid channels produced %d hardware calls", len(pwm.calls)-n)
	}
}

func TestProgrammaticAllChannels(t *testing.T) {
	_, p, pwm, cancel := newTestPanel(t)
	defer cancel()

	p.Set(-1, true)
	for ch := uint8(0); ch < Channels; ch++ {
		call, ok := pwm.lastFor(ch)
		if !ok || call.on != 4096 {
			t.Errorf("channel %d = %+v, want full on", ch, call)
		}
	}
	p.SetMode(2, lightctl.Blink, 100, 0, "")
	if p.ctl[2].Mode() != lightctl.Blink {
		t.Error("channel 2 not in blink mode")
	}
}

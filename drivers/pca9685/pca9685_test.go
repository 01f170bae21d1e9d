package pca9685

import (
	"testing"

	"mupplet-go/errcode"
)

// fakeI2C records write transactions and answers register reads with zero.
type fakeI2C struct {
	writes [][]byte
}

func (f *fakeI2C) Tx(addr uint16, w, r []byte) error {
	if len(w) > 0 {
		cp := make([]byte, len(w))
		copy(cp, w)
		f.writes = append(f.writes, cp)
	}
	for i := range r {
		r[i] = 0
	}
	return nil
}

func TestSetPWMWritesChannelRegisters(t *testing.T) {
	bus := &fakeI2C{}
	d := New(bus)

	if err := d.SetPWM(3, 0, 2048); err != nil {
		t.Fatal(err)
	}
	if len(bus.writes) != 1 {
		t.Fatalf("got %d writes", len(bus.writes))
	}
	w := bus.writes[0]
	wantReg := byte(regLED0OnL + 4*3)
	if w[0] != wantReg {
		t.Errorf("register = %#x, want %#x", w[0], wantReg)
	}
	if w[1] != 0x00 || w[2] != 0x00 || w[3] != 0x00 || w[4] != 0x08 {
		t.Errorf("payload = %v", w[1:])
	}
}

func TestSetPWMRejectsBadChannel(t *testing.T) {
	d := New(&fakeI2C{})
	err := d.SetPWM(16, 0, 0)
	if err != ErrBadChannel {
		t.Errorf("err = %v, want ErrBadChannel", err)
	}
	if errcode.Of(err) != errcode.UnknownChannel {
		t.Errorf("code = %v, want unknown_channel", errcode.Of(err))
	}
}

func TestSetPWMFreqProgramsPrescale(t *testing.T) {
	bus := &fakeI2C{}
	d := New(bus)
	if err := d.SetPWMFreq(1000); err != nil {
		t.Fatal(err)
	}
	// 25MHz / (4096 * 1000Hz) = 6.1 -> prescale 5
	var found bool
	for _, w := range bus.writes {
		if len(w) == 2 && w[0] == regPrescale {
			found = true
			if w[1] != 5 {
				t.Errorf("prescale = %d, want 5", w[1])
			}
		}
	}
	if !found {
		t.Error("prescale register never written")
	}
}

func TestSetPWMFreqRejectsOutOfRange(t *testing.T) {
	d := New(&fakeI2C{})
	if err := d.SetPWMFreq(10); err != ErrBadFreq {
		t.Errorf("err = %v, want ErrBadFreq", err)
	}
}

func TestConfigureSwitchesAllChannelsOff(t *testing.T) {
	bus := &fakeI2C{}
	d := New(bus)
	if err := d.Configure(); err != nil {
		t.Fatal(err)
	}
	last := bus.writes[len(bus.writes)-1]
	if last[0] != regAllLEDOnL {
		t.Fatalf("last write register = %#x", last[0])
	}
	if last[4] != byte(FullScale>>8) {
		t.Errorf("all-off high byte = %#x, want %#x", last[4], byte(FullScale>>8))
	}
}

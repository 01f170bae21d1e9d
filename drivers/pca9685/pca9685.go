// Package pca9685 provides a driver for the PCA9685 16-channel 12-bit PWM
// controller.
//
// The channel API follows the chip's on/off tick registers: SetPWM sets the
// tick counts [0..4095] where the output asserts and deasserts, and the
// magic value 4096 in either slot forces the channel fully on or off.
package pca9685

import (
	"math"
	"time"

	"tinygo.org/x/drivers"

	"mupplet-go/errcode"
)

// I2C address (all address pins low).
const Address = 0x40

// Registers.
const (
	regMode1     = 0x00
	regMode2     = 0x01
	regLED0OnL   = 0x06
	regAllLEDOnL = 0xFA
	regPrescale  = 0xFE

	mode1Restart = 0x80
	mode1Sleep   = 0x10
	mode1AutoInc = 0x20
	mode2OutDrv  = 0x04

	oscClock = 25000000.0

	// FullScale in an on/off slot bypasses PWM for that channel.
	FullScale = 4096
)

// Errors returned by the driver.
var (
	ErrBadChannel error = &errcode.E{C: errcode.UnknownChannel, Op: "pca9685.SetPWM", Msg: "channel out of range"}
	ErrBadFreq    error = &errcode.E{C: errcode.InvalidParams, Op: "pca9685.SetPWMFreq", Msg: "frequency out of range"}
)

// Device wraps an I2C connection to a PCA9685.
type Device struct {
	bus     drivers.I2C
	Address uint16
	buf     [5]byte
}

// New creates a new PCA9685 connection. The I2C bus must already be
// configured. No hardware interaction happens until Configure.
func New(bus drivers.I2C) Device {
	return Device{bus: bus, Address: Address}
}

// Configure wakes the chip, enables register auto-increment and totem-pole
// outputs, and switches all channels off.
func (d *Device) Configure() error {
	if err := d.writeReg(regMode1, mode1AutoInc); err != nil {
		return err
	}
	if err := d.writeReg(regMode2, mode2OutDrv); err != nil {
		return err
	}
	// all channels full off
	return d.bus.Tx(d.Address, []byte{regAllLEDOnL, 0x00, 0x00, 0x00, byte(FullScale >> 8)}, nil)
}

// SetPWMFreq programs the output frequency in Hz (24..1526). The chip must
// sleep while the prescaler changes; outputs restart afterwards.
func (d *Device) SetPWMFreq(freqHz float64) error {
	if freqHz < 24 || freqHz > 1526 {
		return ErrBadFreq
	}
	prescale := byte(math.Round(oscClock/(4096.0*freqHz)) - 1)

	var mode [1]byte
	if err := d.bus.Tx(d.Address, []byte{regMode1}, mode[:]); err != nil {
		return err
	}
	sleeping := (mode[0] &^ mode1Restart) | mode1Sleep
	if err := d.writeReg(regMode1, sleeping); err != nil {
		return err
	}
	if err := d.writeReg(regPrescale, prescale); err != nil {
		return err
	}
	if err := d.writeReg(regMode1, mode[0]&^mode1Sleep); err != nil {
		return err
	}
	// oscillator needs 500us before restart
	time.Sleep(time.Millisecond)
	return d.writeReg(regMode1, (mode[0]&^mode1Sleep)|mode1Restart|mode1AutoInc)
}

// SetPWM writes the assert and deassert ticks for one channel. on and off
// are in [0..4095]; FullScale (4096) in on forces the channel fully on, in
// off fully off.
func (d *Device) SetPWM(channel uint8, on, off uint16) error {
	if channel > 15 {
		return ErrBadChannel
	}
	d.buf[0] = regLED0OnL + 4*channel
	d.buf[1] = byte(on)
	d.buf[2] = byte(on >> 8)
	d.buf[3] = byte(off)
	d.buf[4] = byte(off >> 8)
	return d.bus.Tx(d.Address, d.buf[:], nil)
}

func (d *Device) writeReg(reg, val byte) error {
	return d.bus.Tx(d.Address, []byte{reg, val}, nil)
}

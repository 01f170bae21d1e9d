//go:build linux

package main

import (
	"context"
	"fmt"
	"log"

	"mupplet-go/bus"
	"mupplet-go/hw"
	"mupplet-go/mupplet/digitalout"
	"mupplet-go/mupplet/freqcounter"
	"mupplet-go/mupplet/homeassistant"
	"mupplet-go/mupplet/light"
	"mupplet-go/mupplet/neopixel"
	"mupplet-go/mupplet/rng"
	"mupplet-go/mupplet/switches"
)

// beginner is the common mupplet lifecycle surface.
type beginner interface {
	Begin(ctx context.Context, conn *bus.Connection) error
}

// rig owns the GPIO chip and the mupplets built on it.
type rig struct {
	chip     *hw.Chip
	mupplets []beginner
}

func (r *rig) Close() {
	if r.chip != nil {
		r.chip.Close()
	}
}

var switchModes = map[string]switches.Mode{
	"default":       switches.Default,
	"rising":        switches.Rising,
	"falling":       switches.Falling,
	"flipflop":      switches.Flipflop,
	"timer":         switches.Timer,
	"duration":      switches.Duration,
	"binary_sensor": switches.BinarySensor,
}

var counterModes = map[string]freqcounter.MeasureMode{
	"LOWFREQUENCY_FAST":      freqcounter.LowFrequencyFast,
	"LOWFREQUENCY_MEDIUM":    freqcounter.LowFrequencyMedium,
	"LOWFREQUENCY_LONGTERM":  freqcounter.LowFrequencyLongterm,
	"HIGHFREQUENCY_FAST":     freqcounter.HighFrequencyFast,
	"HIGHFREQUENCY_MEDIUM":   freqcounter.HighFrequencyMedium,
	"HIGHFREQUENCY_LONGTERM": freqcounter.HighFrequencyLongterm,
}

var edgeKinds = map[string]hw.Edge{
	"rising":  hw.EdgeRising,
	"falling": hw.EdgeFalling,
	"change":  hw.EdgeBoth,
	"":        hw.EdgeFalling,
}

// buildRig instantiates every configured mupplet and starts it on its
// own bus connection. Discovery entities are registered as a side
// effect when a device record is configured.
func buildRig(ctx context.Context, b *bus.Bus, cfg *DaemonConfig) (*rig, error) {
	r := &rig{}

	var ha *homeassistant.HomeAssistant
	if d := cfg.Device; d != nil {
		ha = homeassistant.New(d.Name, d.Manufacturer, d.Model, d.Version, d.ID)
	}

	for _, mc := range cfg.Mupplets {
		if mc.Name == "" {
			return nil, fmt.Errorf("mupplet of type %q has no name", mc.Type)
		}
		m, err := r.buildMupplet(cfg, mc, ha)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("mupplet %q: %w", mc.Name, err)
		}
		if err := m.Begin(ctx, b.NewConnection(mc.Name)); err != nil {
			r.Close()
			return nil, fmt.Errorf("mupplet %q: %w", mc.Name, err)
		}
		r.mupplets = append(r.mupplets, m)
		log.Printf("muppletd: started %s %q", mc.Type, mc.Name)
	}

	if ha != nil {
		if err := ha.Begin(ctx, b.NewConnection("homeassistant")); err != nil {
			r.Close()
			return nil, err
		}
		ha.SetAutoDiscovery(true)
	}
	return r, nil
}

func (r *rig) buildMupplet(cfg *DaemonConfig, mc MuppletConfig, ha *homeassistant.HomeAssistant) (beginner, error) {
	switch mc.Type {
	case "light":
		out, err := r.output(cfg, mc.Pin, !mc.ActiveLogic)
		if err != nil {
			return nil, err
		}
		if ha != nil {
			ha.AddLight(mc.Name, homeassistant.LightDim)
		}
		return light.New(mc.Name, &hw.BinaryPWM{Out: out}, mc.ActiveLogic), nil

	case "digitalout":
		out, err := r.output(cfg, mc.Pin, !mc.ActiveLogic)
		if err != nil {
			return nil, err
		}
		var opts []digitalout.Option
		if mc.Topic != "" {
			opts = append(opts, digitalout.WithTopic(mc.Topic))
		}
		if mc.ActiveLogic {
			opts = append(opts, digitalout.WithActiveLogic(true))
		}
		if ha != nil {
			ha.AddSwitch(mc.Name)
		}
		return digitalout.New(mc.Name, out, opts...), nil

	case "switch":
		mode, ok := switchModes[mc.Mode]
		if !ok && mc.Mode != "" {
			return nil, fmt.Errorf("unknown switch mode %q", mc.Mode)
		}
		in, err := r.input(cfg, mc.Pin)
		if err != nil {
			return nil, err
		}
		if ha != nil {
			ha.AddBinarySensor(mc.Name, "state")
		}
		return switches.New(mc.Name, in, mode, switches.Config{
			ActiveLogic: mc.ActiveLogic,
			CustomTopic: mc.Topic,
			DebounceMs:  mc.DebounceMs,
		}), nil

	case "freqcounter":
		mode, ok := counterModes[mc.Mode]
		if !ok && mc.Mode != "" {
			return nil, fmt.Errorf("unknown measurement mode %q", mc.Mode)
		}
		kind, ok := edgeKinds[mc.Edge]
		if !ok {
			return nil, fmt.Errorf("unknown edge kind %q", mc.Edge)
		}
		src, err := r.edges(cfg, mc.Pin, kind)
		if err != nil {
			return nil, err
		}
		if ha != nil {
			ha.AddSensor(mc.Name, "frequency", homeassistant.WithUnit("Hz"))
		}
		return freqcounter.New(mc.Name, src, kind, mode), nil

	case "rng":
		src, err := r.edges(cfg, mc.Pin, hw.EdgeBoth)
		if err != nil {
			return nil, err
		}
		return rng.New(mc.Name, src, rng.Config{
			Whitening:  mc.Whitening,
			SampleSize: mc.SampleSize,
		}), nil

	case "neopixel":
		if mc.Pixels <= 0 {
			return nil, fmt.Errorf("neopixel needs a positive pixel count")
		}
		if ha != nil {
			ha.AddLight(mc.Name, homeassistant.Light)
		}
		// no host-side WS2812 driver; frames go to a recorder so the
		// control surface stays available over the bridge
		return neopixel.New(mc.Name, neopixel.NewRecorderStrip(mc.Pixels)), nil

	default:
		return nil, fmt.Errorf("unknown mupplet type %q", mc.Type)
	}
}

func (r *rig) ensureChip(cfg *DaemonConfig) (*hw.Chip, error) {
	if r.chip != nil {
		return r.chip, nil
	}
	c, err := hw.OpenChip(cfg.Chip)
	if err != nil {
		return nil, err
	}
	r.chip = c
	return c, nil
}

func (r *rig) output(cfg *DaemonConfig, pin int, initial bool) (hw.OutputPin, error) {
	c, err := r.ensureChip(cfg)
	if err != nil {
		return nil, err
	}
	return c.Output(pin, initial)
}

func (r *rig) input(cfg *DaemonConfig, pin int) (hw.InputPin, error) {
	c, err := r.ensureChip(cfg)
	if err != nil {
		return nil, err
	}
	return c.Input(pin)
}

func (r *rig) edges(cfg *DaemonConfig, pin int, kind hw.Edge) (hw.EdgeSource, error) {
	c, err := r.ensureChip(cfg)
	if err != nil {
		return nil, err
	}
	return c.EdgeInput(pin, kind, 0)
}

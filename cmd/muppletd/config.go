//go:build linux

package main

import (
	"mupplet-go/services/bridge"
)

// DaemonConfig is the top-level muppletd configuration file.
//
//	{
//	  "queue": 32,
//	  "chip": "gpiochip0",
//	  "device": {"name": "Kitchen Node", "manufacturer": "muWerk", "model": "pi-node", "version": "1.0", "id": "kitchen1"},
//	  "bridge": {"transport": {"type": "mqtt", "mqtt": {"broker": "tcp://broker:1883"}}, "prefix": "omu/kitchen1", "incoming": ["kitchen1/#"]},
//	  "mupplets": [
//	    {"type": "light", "name": "led1", "pin": 17},
//	    {"type": "switch", "name": "button1", "pin": 27, "mode": "flipflop", "debounce_ms": 20},
//	    {"type": "digitalout", "name": "pump", "pin": 22, "topic": "valve", "active_logic": true},
//	    {"type": "freqcounter", "name": "geiger", "pin": 23, "mode": "LOWFREQUENCY_MEDIUM", "edge": "falling"},
//	    {"type": "rng", "name": "entropy", "pin": 24, "whitening": true},
//	    {"type": "neopixel", "name": "strip", "pixels": 8}
//	  ]
//	}
type DaemonConfig struct {
	Queue    int             `json:"queue"`
	Chip     string          `json:"chip"`
	Device   *DeviceConfig   `json:"device"`
	Bridge   *bridge.Config  `json:"bridge"`
	Mupplets []MuppletConfig `json:"mupplets"`
}

// DeviceConfig describes the node for HomeAssistant discovery. When
// absent no discovery records are published.
type DeviceConfig struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Version      string `json:"version"`
	ID           string `json:"id"`
}

// MuppletConfig describes one applet instance. Fields beyond Type,
// Name and Pin apply only to the types that use them.
type MuppletConfig struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Pin         int    `json:"pin"`
	ActiveLogic bool   `json:"active_logic"`

	// switch
	Mode       string `json:"mode"`
	DebounceMs int64  `json:"debounce_ms"`
	Topic      string `json:"topic"`

	// freqcounter
	Edge string `json:"edge"`

	// rng
	Whitening  bool `json:"whitening"`
	SampleSize int  `json:"sample_size"`

	// neopixel
	Pixels int `json:"pixels"`
}

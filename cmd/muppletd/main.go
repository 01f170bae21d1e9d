//go:build linux

// muppletd wires a set of mupplets onto a message bus and bridges them
// to an MQTT broker or serial peer. Everything is driven by a JSON
// config file; see config.go for the schema.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"mupplet-go/bus"
	"mupplet-go/services/bridge"
	"mupplet-go/services/heartbeat"
)

func main() {
	configPath := flag.String("config", "/etc/muppletd.json", "path to the JSON configuration")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("muppletd: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bus.NewBus(cfg.Queue)

	rig, err := buildRig(ctx, b, cfg)
	if err != nil {
		log.Fatalf("muppletd: %v", err)
	}
	defer rig.Close()

	var hb heartbeat.Service
	if err := hb.Start(ctx, b.NewConnection("heartbeat")); err != nil {
		log.Fatalf("muppletd: heartbeat: %v", err)
	}

	go bridge.Start(ctx, b.NewConnection("bridge"))
	if cfg.Bridge != nil {
		payload, err := json.Marshal(cfg.Bridge)
		if err != nil {
			log.Fatalf("muppletd: bridge config: %v", err)
		}
		c := b.NewConnection("main")
		c.PubRetained(bus.T("config/bridge"), string(payload))
	}

	log.Printf("muppletd: %d mupplets up, waiting for shutdown", len(rig.mupplets))
	<-ctx.Done()
	log.Println("muppletd: shutting down")
}

func loadConfig(path string) (*DaemonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &DaemonConfig{Queue: 32, Chip: "gpiochip0"}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 32
	}
	return cfg, nil
}

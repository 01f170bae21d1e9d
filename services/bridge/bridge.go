// bridge/bridge.go
//
// Package bridge links the local bus to an external broker or peer.
// Local traffic is forwarded out under a device prefix; topics starting
// with "!!" bypass the prefix (used for HomeAssistant discovery).
// Remote command topics are forwarded in with the device prefix
// stripped. The link state is announced retained on "mqtt/state" as
// "connected"/"disconnected" so mupplets can re-announce themselves.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mupplet-go/bus"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start starts the bridge service. It blocks until ctx is cancelled.
// It listens for JSON config on "config/bridge" and (re)configures the link.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.T("bridge/state"),
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON-encoded configuration expected on "config/bridge".
type Config struct {
	Transport TransportConfig `json:"transport"`

	// Prefix is prepended to outbound topics; defaults to "omu/<hostname>".
	Prefix string `json:"prefix,omitempty"`
	// Incoming lists remote subscription patterns; defaults to
	// ["<hostname>/#"], the command namespace HomeAssistant targets.
	Incoming []string `json:"incoming,omitempty"`
}

type TransportConfig struct {
	// "mqtt", "serial", or names registered via RegisterTransport.
	Type   string        `json:"type"`
	MQTT   *MQTTConfig   `json:"mqtt,omitempty"`
	Serial *SerialConfig `json:"serial,omitempty"`
}

// MQTTConfig describes the broker side of an MQTT link.
type MQTTConfig struct {
	Broker   string `json:"broker"` // e.g. "tcp://192.168.1.10:1883"
	ClientID string `json:"client_id,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// SerialConfig describes a framed point-to-point serial link.
type SerialConfig struct {
	Port string `json:"port"` // e.g. "/dev/ttyUSB0"
	Baud int    `json:"baud"`
}

func (c *Config) applyDefaults() {
	host, _ := os.Hostname()
	if host == "" {
		host = "mupplet"
	}
	if c.Prefix == "" {
		c.Prefix = "omu/" + host
	}
	if len(c.Incoming) == 0 {
		c.Incoming = []string{host + "/#"}
	}
}

// hostPart returns the command namespace, the last token of the prefix.
func (c *Config) hostPart() string {
	if i := strings.LastIndex(c.Prefix, "/"); i >= 0 {
		return c.Prefix[i+1:]
	}
	return c.Prefix
}

// willTopic is the broker-side availability topic.
func (c *Config) willTopic() string {
	return c.Prefix + "/mqtt/state"
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
	curCfg atomic.Value // stores Config
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub, err := s.conn.Subscribe(bus.T("config/bridge"))
	if err != nil {
		s.publishState("error", "config_subscribe_failed", err)
		return
	}
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)
	s.conn.PubRetained(bus.T("mqtt/state"), "disconnected")

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub:
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			cfg.applyDefaults()
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	s.curCfg.Store(cfg)
	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		link, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		err = s.handleLink(ctx, link, cfg)
		_ = link.Close()
		s.conn.PubRetained(bus.T("mqtt/state"), "disconnected")
		if err == nil {
			// Clean close: restart only on new config.
			return
		}
		delay := backoff()
		s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
		if !sleep(ctx, delay) {
			return
		}
	}
}

// handleLink owns the active link lifetime: it announces the connection,
// pumps local traffic out and remote traffic in.
func (s *Service) handleLink(ctx context.Context, link Link, cfg Config) error {
	local, err := s.conn.Subscribe(bus.T("#"))
	if err != nil {
		return err
	}
	defer s.conn.Unsubscribe(local)

	s.conn.PubRetained(bus.T("mqtt/state"), "connected")
	s.conn.Pub(bus.T("mqtt/config"), cfg.Prefix+"+"+cfg.willTopic()+"+disconnected")
	if err := link.Send(cfg.willTopic(), []byte("connected"), true); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		for {
			topic, payload, _, err := link.Receive()
			if err != nil {
				errCh <- err
				return
			}
			s.deliverInbound(cfg, topic, payload)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case msg, ok := <-local:
			if !ok {
				return errors.New("local subscription closed")
			}
			if err := s.forwardOut(link, cfg, msg); err != nil {
				return err
			}
		}
	}
}

// forwardOut sends one local message to the remote side. Messages the
// bridge itself produced are skipped to prevent loops.
func (s *Service) forwardOut(link Link, cfg Config, msg *bus.Message) error {
	if msg.Origin == s.conn.ID() {
		return nil
	}
	topic := msg.Topic.String()
	if topic == "mqtt/state/get" {
		s.conn.PubRetained(bus.T("mqtt/state"), "connected")
		return nil
	}
	remote := cfg.Prefix + "/" + topic
	if strings.HasPrefix(topic, "!!") {
		remote = strings.TrimPrefix(topic, "!!")
	}
	payload, ok := payloadBytes(msg.Payload)
	if !ok {
		return nil
	}
	return link.Send(remote, payload, msg.Retained)
}

// deliverInbound republishes one remote message locally, stripping the
// device prefix or command namespace.
func (s *Service) deliverInbound(cfg Config, topic string, payload []byte) {
	switch {
	case strings.HasPrefix(topic, cfg.Prefix+"/"):
		topic = strings.TrimPrefix(topic, cfg.Prefix+"/")
	case strings.HasPrefix(topic, cfg.hostPart()+"/"):
		topic = strings.TrimPrefix(topic, cfg.hostPart()+"/")
	}
	if topic == "" {
		return
	}
	s.conn.Pub(bus.Parse(topic), string(payload))
}

// payloadBytes renders a bus payload for the wire. Structured payloads
// travel as JSON; nil stays empty (clears a retained record).
func payloadBytes(p any) ([]byte, bool) {
	switch v := p.(type) {
	case nil:
		return nil, true
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return data, true
	}
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Link is an established connection to the remote side.
type Link interface {
	Send(topic string, payload []byte, retained bool) error
	// Receive blocks until a remote message arrives or the link fails.
	Receive() (topic string, payload []byte, retained bool, err error)
	Close() error
}

// Transport is a pluggable link dialler/owner.
type Transport interface {
	Open(ctx context.Context) (Link, error)
	String() string
}

type transportFactory func(Config) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport allows external packages to add transports (eg. for
// tests or exotic links).
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg Config) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Transport.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Transport.Type {
	case "mqtt":
		return newMQTTTransport(cfg)
	case "serial":
		return newSerialTransport(cfg)
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Transport.Type)
	}
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	switch v := p.(type) {
	case []byte:
		if err := json.Unmarshal(v, &cfg); err != nil {
			return cfg, err
		}
	case string:
		if err := json.Unmarshal([]byte(v), &cfg); err != nil {
			return cfg, err
		}
	case map[string]any:
		// Already a decoded object; re-marshal for simplicity.
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config payload type: %T", p)
	}
	return cfg, nil
}

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,  // "up", "degraded", "error", "idle"
		"status": status, // short machine string
		"ts_ms":  time.Now().UnixMilli(),
	}
	if err != nil {
		payload["error"] = err.Error()
		log.Printf("bridge: %s: %v", status, err)
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, payload, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

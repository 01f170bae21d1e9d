package homeassistant

import (
	"encoding/json"
	"strings"
	"testing"

	"mupplet-go/bus"
)

type harness struct {
	ha  *HomeAssistant
	out <-chan *bus.Message
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b := bus.NewBus(64)
	h := &harness{ha: New("Testdev", "ACME", "Model One", "1.0", "dev1")}
	h.ha.conn = b.NewConnection("ha")

	tc := b.NewConnection("test")
	out, err := tc.Subscribe(bus.T("#"))
	if err != nil {
		t.Fatal(err)
	}
	h.out = out
	return h
}

// collect drains all pending messages into a topic -> payload map. Cleared
// retained records (nil payload) are mapped to "<nil>".
func (h *harness) collect() map[string]string {
	got := map[string]string{}
	for {
		select {
		case m := <-h.out:
			if m.Payload == nil {
				got[m.Topic.String()] = "<nil>"
			} else {
				got[m.Topic.String()] = m.String()
			}
		default:
			return got
		}
	}
}

func msg(topic, payload string) *bus.Message {
	return &bus.Message{Topic: bus.T(topic), Payload: payload}
}

// goOnline walks the helper through the usual startup telemetry.
func (h *harness) goOnline(t *testing.T) {
	t.Helper()
	h.ha.handle(msg("mqtt/config", "omu/esp-test+omu/esp-test/mqtt/state+disconnected"))
	h.ha.handle(msg("net/network", `{"state":"connected","ip":"10.0.0.5","mac":"AA:BB:CC:DD:EE:FF","hostname":"esp-test"}`))
	h.ha.handle(msg("net/rssi", "-75"))
	h.collect()
}

func parseConfig(t *testing.T, payload string) map[string]any {
	t.Helper()
	var cfg map[string]any
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		t.Fatalf("bad discovery JSON %q: %v", payload, err)
	}
	return cfg
}

func TestStateGetAndSet(t *testing.T) {
	h := newHarness(t)

	h.ha.handle(msg("ha/state/get", ""))
	if got := h.collect(); got["ha/state"] != "off" {
		t.Errorf("initial state %v", got)
	}

	// enabling while offline only announces the new state
	h.ha.handle(msg("ha/state/set", "on"))
	got := h.collect()
	if got["ha/state"] != "on" {
		t.Errorf("state after set %v", got)
	}
	for topic := range got {
		if strings.HasPrefix(topic, "!!homeassistant/") {
			t.Errorf("discovery published while offline: %s", topic)
		}
	}
}

func TestDiscoveryOnConnect(t *testing.T) {
	h := newHarness(t)
	h.ha.AddLight("myled", LightDim)
	h.ha.AddSensor("geiger", "frequency", WithUnit("Hz"), WithIcon("mdi:radioactive"))
	h.goOnline(t)
	h.ha.handle(msg("ha/state/set", "on"))
	h.collect()

	h.ha.handle(msg("mqtt/state", "connected"))
	got := h.collect()

	status := parseConfig(t, got["!!homeassistant/sensor/dev1_status/config"])
	if status["name"] != "esp-test Status" || status["~"] != "omu/esp-test/" {
		t.Errorf("status config %v", status)
	}
	dev := status["dev"].(map[string]any)
	if dev["mf"] != "ACME" || dev["ids"].([]any)[0] != "dev1" {
		t.Errorf("device record %v", dev)
	}

	led := parseConfig(t, got["!!homeassistant/light/dev1_myled/config"])
	if led["stat_t"] != "~myled/light/state" {
		t.Errorf("light stat_t %v", led["stat_t"])
	}
	if led["cmd_t"] != "esp-test/myled/light/set" {
		t.Errorf("light cmd_t %v", led["cmd_t"])
	}
	if led["bri_stat_t"] != "~myled/light/unitbrightness" {
		t.Errorf("light bri_stat_t %v", led["bri_stat_t"])
	}

	freq := parseConfig(t, got["!!homeassistant/sensor/dev1_geiger_frequency/config"])
	if freq["stat_t"] != "~geiger/sensor/frequency" {
		t.Errorf("sensor stat_t %v", freq["stat_t"])
	}
	if freq["unit_of_meas"] != "Hz" || freq["ic"] != "mdi:radioactive" {
		t.Errorf("sensor config %v", freq)
	}
}

func TestOnOffLightHasNoBrightness(t *testing.T) {
	h := newHarness(t)
	h.ha.AddLight("relaylamp", Light)
	h.goOnline(t)
	h.ha.handle(msg("ha/state/set", "on"))
	h.collect()
	h.ha.handle(msg("mqtt/state", "connected"))
	got := h.collect()

	cfg := parseConfig(t, got["!!homeassistant/light/dev1_relaylamp/config"])
	if _, ok := cfg["bri_cmd_t"]; ok {
		t.Error("plain light advertised brightness support")
	}
	if cfg["payload_on"] != "on" || cfg["payload_off"] != "off" {
		t.Errorf("light payloads %v", cfg)
	}
}

func TestMultiChannelExpansion(t *testing.T) {
	h := newHarness(t)
	h.ha.AddMultiSwitch("panel", 3)
	h.goOnline(t)
	h.ha.handle(msg("ha/state/set", "on"))
	h.collect()
	h.ha.handle(msg("mqtt/state", "connected"))
	got := h.collect()

	for _, ch := range []string{"0", "1", "2"} {
		cfg, ok := got["!!homeassistant/switch/dev1_panel_"+ch+"/config"]
		if !ok {
			t.Fatalf("channel %s config missing, got %v", ch, got)
		}
		parsed := parseConfig(t, cfg)
		if parsed["stat_t"] != "~panel/switch/"+ch+"/state" {
			t.Errorf("channel %s stat_t %v", ch, parsed["stat_t"])
		}
	}
}

func TestBinarySensorOffDelay(t *testing.T) {
	h := newHarness(t)
	h.ha.AddBinarySensor("pir", "state", WithOffDelay(5), WithDeviceClass("motion"))
	h.goOnline(t)
	h.ha.handle(msg("ha/state/set", "on"))
	h.collect()
	h.ha.handle(msg("mqtt/state", "connected"))
	got := h.collect()

	cfg := parseConfig(t, got["!!homeassistant/binary_sensor/dev1_pir_state/config"])
	if cfg["stat_t"] != "~pir/binary_sensor/state" {
		t.Errorf("stat_t %v", cfg["stat_t"])
	}
	if cfg["off_delay"] != float64(5) || cfg["dev_cla"] != "motion" {
		t.Errorf("config %v", cfg)
	}
}

func TestAttribsFollowRssi(t *testing.T) {
	h := newHarness(t)
	h.goOnline(t)
	h.ha.handle(msg("ha/state/set", "on"))
	h.collect()

	h.ha.handle(msg("net/rssi", "-75"))
	got := h.collect()
	attribs := parseConfig(t, got["ha/attribs/device"])
	if attribs["RSSI"] != "50" || attribs["Signal (dBm)"] != "-75" {
		t.Errorf("attribs %v", attribs)
	}
	if attribs["Host"] != "esp-test" || attribs["Manufacturer"] != "ACME" {
		t.Errorf("attribs %v", attribs)
	}
}

func TestDisableClearsDiscovery(t *testing.T) {
	h := newHarness(t)
	h.ha.AddLight("myled", LightDim)
	h.ha.AddMultiSwitch("panel", 2)
	h.goOnline(t)
	h.ha.handle(msg("ha/state/set", "on"))
	h.ha.handle(msg("mqtt/state", "connected"))
	h.collect()

	h.ha.handle(msg("ha/state/set", "off"))
	got := h.collect()

	cleared := 0
	for topic, payload := range got {
		if strings.HasPrefix(topic, "!!homeassistant/") {
			if payload != "<nil>" {
				t.Errorf("expected cleared record on %s, got %q", topic, payload)
			}
			cleared++
		}
	}
	// status + light + two switch channels
	if cleared != 4 {
		t.Errorf("cleared %d records, want 4", cleared)
	}
	if got["ha/state"] != "off" {
		t.Errorf("state %v", got["ha/state"])
	}
}

func TestAttribGroups(t *testing.T) {
	h := newHarness(t)
	h.ha.AddAttributes("sensors", "Bosch", "BME280", "")
	h.ha.AddAttributes("sensors", "ignored", "", "") // duplicate group
	h.goOnline(t)
	h.ha.handle(msg("ha/state/set", "on"))
	h.collect()

	h.ha.handle(msg("net/rssi", "-60"))
	got := h.collect()
	attribs := parseConfig(t, got["ha/attribs/sensors"])
	if attribs["Manufacturer"] != "Bosch" || attribs["Model"] != "BME280" {
		t.Errorf("group attribs %v", attribs)
	}
	// version falls back to the device version
	if attribs["Version"] != "1.0" {
		t.Errorf("group version %v", attribs["Version"])
	}
}

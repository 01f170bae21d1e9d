// Package homeassistant advertises the local mupplets to HomeAssistant
// via its MQTT discovery protocol.
//
// Registered entities are published as retained discovery records to
// "!!homeassistant/<component>/<id>/config"; the "!!" escape makes the
// bridge forward them without the outbound prefix. Attribute groups go
// to "ha/attribs/<group>". Discovery is toggled with "ha/state/set"
// (on|off) and queried with "ha/state/get".
//
// See https://www.home-assistant.io/docs/mqtt/discovery/ for the
// protocol details.
package homeassistant

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"mupplet-go/bus"
)

// DeviceType classifies a registered entity.
type DeviceType int

const (
	// Sensor reports numerical or state values.
	Sensor DeviceType = iota
	// BinarySensor reports on/off states.
	BinarySensor
	// Switch can only be switched on and off.
	Switch
	// Light can only be switched on and off.
	Light
	// LightDim is a dimmable light.
	LightDim
)

// component returns the HomeAssistant component class of a device type.
func (d DeviceType) component() string {
	switch d {
	case BinarySensor:
		return "binary_sensor"
	case Switch:
		return "switch"
	case Light, LightDim:
		return "light"
	default:
		return "sensor"
	}
}

// entity is one registered discovery record. A channel of -1 describes a
// single-channel mupplet; n < -1 expands into |n| channel entities; n >= 0
// addresses one channel of a multichannel mupplet.
type entity struct {
	typ     DeviceType
	name    string
	value   string
	human   string
	unit    string
	icon    string
	valTpl  string
	attribs string
	devCla  string
	channel int
	offDly  int
	expAft  int
	frcUpd  bool
}

// EntityOption refines a registered entity.
type EntityOption func(*entity)

// WithHumanName sets a human readable entity name.
func WithHumanName(s string) EntityOption { return func(e *entity) { e.human = s } }

// WithDeviceClass sets the HomeAssistant device class.
func WithDeviceClass(s string) EntityOption { return func(e *entity) { e.devCla = s } }

// WithIcon sets an alternative icon, e.g. "mdi:gauge".
func WithIcon(s string) EntityOption { return func(e *entity) { e.icon = s } }

// WithUnit sets the unit of the reported value.
func WithUnit(s string) EntityOption { return func(e *entity) { e.unit = s } }

// WithValueTemplate sets a template extracting the value from the payload.
func WithValueTemplate(s string) EntityOption { return func(e *entity) { e.valTpl = s } }

// WithAttribGroup references an attribute group other than "device".
func WithAttribGroup(s string) EntityOption { return func(e *entity) { e.attribs = s } }

// WithExpireAfter expires the sensor value after the given seconds.
func WithExpireAfter(sec int) EntityOption { return func(e *entity) { e.expAft = sec } }

// WithForceUpdate notifies value updates even when unchanged.
func WithForceUpdate() EntityOption { return func(e *entity) { e.frcUpd = true } }

// WithOffDelay resets a binary sensor to off after the given seconds.
func WithOffDelay(sec int) EntityOption { return func(e *entity) { e.offDly = sec } }

type attribGroup struct {
	name         string
	manufacturer string
	model        string
	version      string
}

// HomeAssistant is the MQTT discovery helper mupplet.
type HomeAssistant struct {
	deviceName   string
	manufacturer string
	model        string
	version      string
	deviceID     string

	conn *bus.Connection

	autodiscovery bool
	connected     bool
	rssi          int64
	macAddress    string
	ipAddress     string
	hostName      string
	pathPrefix    string
	lastWillMsg   string

	attribGroups []attribGroup
	entities     []entity
}

// New creates a discovery helper describing this device. deviceID must be
// unique among all devices a broker sees; an empty id falls back to the
// hostname.
func New(name, manufacturer, model, version, deviceID string) *HomeAssistant {
	h := &HomeAssistant{
		deviceName:   name,
		manufacturer: manufacturer,
		model:        model,
		version:      version,
		deviceID:     deviceID,
		rssi:         -99,
	}
	h.AddAttributes("device", "", "", "")
	return h
}

func (h *HomeAssistant) Name() string { return "homeassistant" }

// SetAutoDiscovery enables or disables entity discovery. Turning it off
// clears the previously published discovery records.
func (h *HomeAssistant) SetAutoDiscovery(enabled bool) {
	if h.autodiscovery != enabled {
		h.autodiscovery = enabled
		h.updateHA()
	}
	h.publishState()
}

// AddAttributes defines an attribute group. Empty manufacturer, model or
// version fall back to the device values. The group "device" exists by
// default.
func (h *HomeAssistant) AddAttributes(group, manufacturer, model, version string) {
	for _, g := range h.attribGroups {
		if g.name == group {
			return
		}
	}
	g := attribGroup{name: group, manufacturer: manufacturer, model: model, version: version}
	if g.manufacturer == "" {
		g.manufacturer = h.manufacturer
	}
	if g.model == "" {
		g.model = h.model
	}
	if g.version == "" {
		g.version = h.version
	}
	h.attribGroups = append(h.attribGroups, g)
}

// AddSwitch registers a switchable entity, e.g. a digitalout relay.
func (h *HomeAssistant) AddSwitch(name string, opts ...EntityOption) {
	h.addActor(Switch, name, -1, opts)
}

// AddSwitchChannel registers one channel of a multichannel switch.
func (h *HomeAssistant) AddSwitchChannel(name string, channel int, opts ...EntityOption) {
	if channel >= 0 {
		h.addActor(Switch, name, channel, opts)
	}
}

// AddMultiSwitch registers all count channels of a multichannel switch.
func (h *HomeAssistant) AddMultiSwitch(name string, count int, opts ...EntityOption) {
	if count > 1 {
		h.addActor(Switch, name, -count, opts)
	}
}

// AddLight registers a light entity. typ selects Light or LightDim.
func (h *HomeAssistant) AddLight(name string, typ DeviceType, opts ...EntityOption) {
	if typ == Light || typ == LightDim {
		h.addActor(typ, name, -1, opts)
	}
}

// AddLightChannel registers one channel of a multichannel light.
func (h *HomeAssistant) AddLightChannel(name string, channel int, typ DeviceType, opts ...EntityOption) {
	if channel >= 0 && (typ == Light || typ == LightDim) {
		h.addActor(typ, name, channel, opts)
	}
}

// AddMultiLight registers all count channels of a multichannel light,
// e.g. a 16 channel PCA9685 panel.
func (h *HomeAssistant) AddMultiLight(name string, count int, typ DeviceType, opts ...EntityOption) {
	if count > 1 && (typ == Light || typ == LightDim) {
		h.addActor(typ, name, -count, opts)
	}
}

// AddSensor registers a sensor entity reporting the named value, e.g.
// AddSensor("geiger", "frequency").
func (h *HomeAssistant) AddSensor(name, value string, opts ...EntityOption) {
	h.addSensor(Sensor, name, value, -1, opts)
}

// AddMultiSensor registers all count channels of a multichannel sensor.
func (h *HomeAssistant) AddMultiSensor(name, value string, count int, opts ...EntityOption) {
	if count > 1 {
		h.addSensor(Sensor, name, value, -count, opts)
	}
}

// AddBinarySensor registers a binary sensor entity, e.g. a switch in
// binary sensor mode.
func (h *HomeAssistant) AddBinarySensor(name, value string, opts ...EntityOption) {
	h.addSensor(BinarySensor, name, value, -1, opts)
}

// AddMultiBinarySensor registers all count channels of a multichannel
// binary sensor.
func (h *HomeAssistant) AddMultiBinarySensor(name, value string, count int, opts ...EntityOption) {
	if count > 1 {
		h.addSensor(BinarySensor, name, value, -count, opts)
	}
}

func (h *HomeAssistant) addActor(typ DeviceType, name string, channel int, opts []EntityOption) {
	e := entity{typ: typ, name: name, channel: channel, offDly: -1, expAft: -1}
	for _, opt := range opts {
		opt(&e)
	}
	h.entities = append(h.entities, e)
}

func (h *HomeAssistant) addSensor(typ DeviceType, name, value string, channel int, opts []EntityOption) {
	e := entity{typ: typ, name: name, value: value, channel: channel, offDly: -1, expAft: -1}
	for _, opt := range opts {
		opt(&e)
	}
	h.entities = append(h.entities, e)
}

// Begin subscribes to the network and command topics, requests the
// current network state and starts the service goroutine.
func (h *HomeAssistant) Begin(ctx context.Context, conn *bus.Connection) error {
	h.conn = conn
	if h.deviceID == "" {
		h.deviceID, _ = os.Hostname()
	}
	if h.hostName == "" {
		h.hostName, _ = os.Hostname()
	}

	mqttCfg, err := conn.Subscribe(bus.T("mqtt/config"))
	if err != nil {
		return err
	}
	mqttState, err := conn.Subscribe(bus.T("mqtt/state"))
	if err != nil {
		return err
	}
	netNetwork, err := conn.Subscribe(bus.T("net/network"))
	if err != nil {
		return err
	}
	netRssi, err := conn.Subscribe(bus.T("net/rssi"))
	if err != nil {
		return err
	}
	commands, err := conn.Subscribe(bus.T("ha/state/#"))
	if err != nil {
		return err
	}

	conn.Pub(bus.T("net/network/get"), "")
	conn.Pub(bus.T("mqtt/state/get"), "")
	h.publishState()

	go h.run(ctx, mqttCfg, mqttState, netNetwork, netRssi, commands)
	return nil
}

func (h *HomeAssistant) run(ctx context.Context, mqttCfg, mqttState, netNetwork, netRssi, commands <-chan *bus.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-mqttCfg:
			if !ok {
				return
			}
			h.handle(msg)
		case msg, ok := <-mqttState:
			if !ok {
				return
			}
			h.handle(msg)
		case msg, ok := <-netNetwork:
			if !ok {
				return
			}
			h.handle(msg)
		case msg, ok := <-netRssi:
			if !ok {
				return
			}
			h.handle(msg)
		case msg, ok := <-commands:
			if !ok {
				return
			}
			h.handle(msg)
		}
	}
}

func (h *HomeAssistant) handle(msg *bus.Message) {
	switch msg.Topic.String() {
	case "mqtt/config":
		h.onMqttConfig(msg.String())
	case "mqtt/state":
		h.onMqttState(msg.String())
	case "net/network":
		h.onNetNetwork(msg.String())
	case "net/rssi":
		h.onNetRssi(msg.String())
	case "ha/state/get":
		h.publishState()
	case "ha/state/set":
		switch strings.ToLower(strings.TrimSpace(msg.String())) {
		case "on", "true":
			h.SetAutoDiscovery(true)
		case "off", "false":
			h.SetAutoDiscovery(false)
		}
	}
}

// onMqttConfig consumes the bridge's "<prefix>+<willTopic>+<willMessage>"
// announcement.
func (h *HomeAssistant) onMqttConfig(payload string) {
	parts := strings.SplitN(payload, "+", 3)
	h.pathPrefix = parts[0]
	if len(parts) > 2 {
		h.lastWillMsg = parts[2]
	}
}

func (h *HomeAssistant) onMqttState(payload string) {
	previous := h.connected
	h.connected = payload == "connected"
	if h.connected != previous {
		h.updateHA()
	}
}

func (h *HomeAssistant) onNetNetwork(payload string) {
	var info struct {
		State    string `json:"state"`
		IP       string `json:"ip"`
		Mac      string `json:"mac"`
		Hostname string `json:"hostname"`
	}
	if err := json.Unmarshal([]byte(payload), &info); err != nil {
		return
	}
	if info.State == "connected" {
		h.ipAddress = info.IP
		h.macAddress = info.Mac
		if info.Hostname != "" {
			h.hostName = info.Hostname
		}
	}
}

func (h *HomeAssistant) onNetRssi(payload string) {
	if v, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64); err == nil {
		h.rssi = v
	}
	if h.autodiscovery {
		h.publishAttribs()
	}
}

func (h *HomeAssistant) publishState() {
	state := "off"
	if h.autodiscovery {
		state = "on"
	}
	h.conn.Pub(bus.T("ha/state"), state)
}

func (h *HomeAssistant) updateHA() {
	if !h.connected {
		return
	}
	if h.autodiscovery {
		h.publishAttribs()
		h.publishConfigs()
	} else {
		h.unpublishConfigs()
	}
}

// publishAttribs sends the current network attributes for every group.
func (h *HomeAssistant) publishAttribs() {
	for _, g := range h.attribGroups {
		attribs := map[string]string{
			"RSSI":         strconv.Itoa(rssiQuality(h.rssi)),
			"Signal (dBm)": strconv.FormatInt(h.rssi, 10),
			"Mac":          h.macAddress,
			"IP":           h.ipAddress,
			"Host":         h.hostName,
			"Manufacturer": g.manufacturer,
			"Model":        g.model,
			"Version":      g.version,
		}
		data, err := json.Marshal(attribs)
		if err != nil {
			continue
		}
		h.conn.Pub(bus.T("ha/attribs/"+g.name), string(data))
	}
}

// rssiQuality maps a dBm reading onto the 0..100 quality scale HA shows.
func rssiQuality(rssi int64) int {
	switch {
	case rssi <= -100:
		return 0
	case rssi >= -50:
		return 100
	default:
		return int(2 * (rssi + 100))
	}
}

func (h *HomeAssistant) publishConfigs() {
	h.publishDeviceConfig()
	for i := range h.entities {
		h.publishEntityConfig(&h.entities[i])
	}
}

// discoveryTopic builds the broker-side config topic. The "!!" escape
// keeps the bridge from applying the outbound prefix.
func (h *HomeAssistant) discoveryTopic(typ DeviceType, uniqID string) bus.Topic {
	return bus.T("!!homeassistant/" + typ.component() + "/" + uniqID + "/config")
}

// device is the shared device record embedded in every discovery config.
func (h *HomeAssistant) device() map[string]any {
	return map[string]any{
		"ids":  []string{h.deviceID},
		"name": h.deviceName,
		"mf":   h.manufacturer,
		"mdl":  h.model,
		"sw":   h.version,
	}
}

func (h *HomeAssistant) flushConfig(typ DeviceType, msg map[string]any) {
	msg["dev"] = h.device()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.conn.PubRetained(h.discoveryTopic(typ, msg["uniq_id"].(string)), string(data))
}

// publishDeviceConfig advertises a status sensor fed from the device
// attribute group.
func (h *HomeAssistant) publishDeviceConfig() {
	h.flushConfig(Sensor, map[string]any{
		"~":            h.pathPrefix + "/",
		"name":         h.hostName + " Status",
		"stat_t":       "~ha/attribs/device",
		"avty_t":       "~mqtt/state",
		"pl_avail":     "connected",
		"pl_not_avail": h.lastWillMsg,
		"json_attr_t":  "~ha/attribs/device",
		"unit_of_meas": "%",
		"val_tpl":      "{{value_json['RSSI']}}",
		"ic":           "mdi:information-outline",
		"uniq_id":      h.deviceID + "_status",
	})
}

func entityName(e *entity) string {
	switch {
	case e.human != "":
		return e.human
	case e.value != "":
		return e.name + " " + e.value
	default:
		return e.name
	}
}

func (h *HomeAssistant) entityKey(e *entity) string {
	key := h.deviceID + "_" + e.name
	if e.value != "" {
		key += "_" + e.value
	}
	return strings.ReplaceAll(key, " ", "_")
}

func entityTopic(e *entity) string {
	return strings.ReplaceAll(e.name+"/"+e.typ.component(), " ", "_")
}

func (h *HomeAssistant) publishEntityConfig(e *entity) {
	name := entityName(e)
	key := h.entityKey(e)
	topic := entityTopic(e)

	switch {
	case e.channel == -1:
		h.publishOneConfig(e, name, key, topic)
	case e.channel < -1:
		for i := 0; i < -e.channel; i++ {
			ch := strconv.Itoa(i)
			h.publishOneConfig(e, name+"."+ch, key+"_"+ch, topic+"/"+ch)
		}
	default:
		ch := strconv.Itoa(e.channel)
		h.publishOneConfig(e, name+"."+ch, key+"_"+ch, topic+"/"+ch)
	}
}

func (h *HomeAssistant) publishOneConfig(e *entity, name, key, topic string) {
	attribs := e.attribs
	if attribs == "" {
		attribs = "device"
	}
	msg := map[string]any{
		"~":            h.pathPrefix + "/",
		"name":         h.hostName + " " + name,
		"uniq_id":      key,
		"avty_t":       "~mqtt/state",
		"pl_avail":     "connected",
		"pl_not_avail": h.lastWillMsg,
		"json_attr_t":  "~ha/attribs/" + attribs,
	}
	if e.devCla != "" {
		msg["dev_cla"] = e.devCla
	}
	if e.icon != "" {
		msg["ic"] = e.icon
	}
	switch e.typ {
	case Light, LightDim:
		msg["stat_t"] = "~" + topic + "/state"
		msg["cmd_t"] = h.hostName + "/" + topic + "/set"
		msg["payload_on"] = "on"
		msg["payload_off"] = "off"
		if e.typ == LightDim {
			msg["bri_cmd_t"] = h.hostName + "/" + topic + "/set"
			msg["bri_scl"] = "100"
			msg["bri_stat_t"] = "~" + topic + "/unitbrightness"
			msg["bri_val_tpl"] = "{{ value | float * 100 | round(0) }}"
			msg["on_cmd_type"] = "brightness"
		}
	case Switch:
		msg["stat_t"] = "~" + topic + "/state"
		msg["cmd_t"] = h.hostName + "/" + topic + "/set"
		msg["payload_on"] = "on"
		msg["payload_off"] = "off"
	default:
		msg["stat_t"] = "~" + topic + "/" + e.value
		if e.valTpl != "" {
			msg["val_tpl"] = e.valTpl
		}
		if e.unit != "" {
			msg["unit_of_meas"] = e.unit
		}
		if e.expAft != -1 {
			msg["exp_aft"] = e.expAft
		}
		if e.frcUpd {
			msg["frc_upd"] = "true"
		}
		if e.typ == BinarySensor && e.offDly != -1 {
			msg["off_delay"] = e.offDly
		}
	}
	h.flushConfig(e.typ, msg)
}

// unpublishConfigs clears all previously advertised discovery records by
// publishing empty retained payloads.
func (h *HomeAssistant) unpublishConfigs() {
	h.conn.PubRetained(h.discoveryTopic(Sensor, h.deviceID+"_status"), nil)
	for i := range h.entities {
		e := &h.entities[i]
		key := h.entityKey(e)
		switch {
		case e.channel == -1:
			h.conn.PubRetained(h.discoveryTopic(e.typ, key), nil)
		case e.channel < -1:
			for c := 0; c < -e.channel; c++ {
				h.conn.PubRetained(h.discoveryTopic(e.typ, key+"_"+strconv.Itoa(c)), nil)
			}
		default:
			h.conn.PubRetained(h.discoveryTopic(e.typ, key+"_"+strconv.Itoa(e.channel)), nil)
		}
	}
}

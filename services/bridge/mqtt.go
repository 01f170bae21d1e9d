package bridge

import (
	"context"
	"errors"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	dialTimeout         = 10 * time.Second
	sendTimeout         = 5 * time.Second
	disconnectQuiesceMs = 250
)

var errLinkClosed = errors.New("bridge: link closed")

// mqttTransport connects to an MQTT broker with a last-will on the
// availability topic, so HomeAssistant sees the device go away even on
// an unclean disconnect. Reconnection is left to the bridge supervisor.
type mqttTransport struct {
	cfg Config
}

func newMQTTTransport(cfg Config) (Transport, error) {
	if cfg.Transport.MQTT == nil || cfg.Transport.MQTT.Broker == "" {
		return nil, errors.New("mqtt transport requires a broker address")
	}
	return &mqttTransport{cfg: cfg}, nil
}

func (t *mqttTransport) String() string { return "mqtt" }

func (t *mqttTransport) Open(ctx context.Context) (Link, error) {
	mc := t.cfg.Transport.MQTT

	clientID := mc.ClientID
	if clientID == "" {
		clientID, _ = os.Hostname()
	}

	l := &mqttLink{
		in:    make(chan Frame, 32),
		errCh: make(chan error, 1),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(mc.Broker).
		SetClientID(clientID).
		SetAutoReconnect(false).
		SetWill(t.cfg.willTopic(), "disconnected", 0, true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			select {
			case l.errCh <- err:
			default:
			}
		})
	if mc.Username != "" {
		opts.SetUsername(mc.Username).SetPassword(mc.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(dialTimeout) || token.Error() != nil {
		err := token.Error()
		if err == nil {
			err = errors.New("mqtt connect timeout")
		}
		return nil, err
	}
	l.client = client

	onMessage := func(_ mqtt.Client, msg mqtt.Message) {
		f := Frame{Topic: msg.Topic(), Payload: msg.Payload(), Retained: msg.Retained()}
		select {
		case l.in <- f:
		default:
			// drop rather than block the paho router
		}
	}
	for _, pattern := range t.cfg.Incoming {
		if token := client.Subscribe(pattern, 0, onMessage); !token.WaitTimeout(dialTimeout) || token.Error() != nil {
			client.Disconnect(disconnectQuiesceMs)
			err := token.Error()
			if err == nil {
				err = errors.New("mqtt subscribe timeout")
			}
			return nil, err
		}
	}
	return l, nil
}

type mqttLink struct {
	client mqtt.Client
	in     chan Frame
	errCh  chan error
}

func (l *mqttLink) Send(topic string, payload []byte, retained bool) error {
	token := l.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(sendTimeout) {
		return errors.New("mqtt publish timeout")
	}
	return token.Error()
}

func (l *mqttLink) Receive() (string, []byte, bool, error) {
	select {
	case f := <-l.in:
		return f.Topic, f.Payload, f.Retained, nil
	case err := <-l.errCh:
		if err == nil {
			err = errors.New("mqtt connection lost")
		}
		return "", nil, false, err
	}
}

func (l *mqttLink) Close() error {
	l.client.Disconnect(disconnectQuiesceMs)
	// unblock a pending Receive
	select {
	case l.errCh <- errLinkClosed:
	default:
	}
	return nil
}

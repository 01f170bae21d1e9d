package bridge

import (
	"context"
	"errors"

	"github.com/tarm/serial"
)

// serialTransport runs the framed codec over a point-to-point serial
// line, for devices bridged through a companion board instead of a
// network broker.
type serialTransport struct {
	cfg Config
}

func newSerialTransport(cfg Config) (Transport, error) {
	sc := cfg.Transport.Serial
	if sc == nil || sc.Port == "" {
		return nil, errors.New("serial transport requires a port")
	}
	if sc.Baud == 0 {
		sc.Baud = 115200
	}
	return &serialTransport{cfg: cfg}, nil
}

func (t *serialTransport) String() string { return "serial" }

func (t *serialTransport) Open(ctx context.Context) (Link, error) {
	sc := t.cfg.Transport.Serial
	port, err := serial.OpenPort(&serial.Config{Name: sc.Port, Baud: sc.Baud})
	if err != nil {
		return nil, err
	}
	return &serialLink{port: port, dec: NewFrameDecoder(port)}, nil
}

type serialLink struct {
	port *serial.Port
	dec  *FrameDecoder
}

func (l *serialLink) Send(topic string, payload []byte, retained bool) error {
	data, err := EncodeFrame(Frame{Topic: topic, Payload: payload, Retained: retained})
	if err != nil {
		return err
	}
	_, err = l.port.Write(data)
	return err
}

func (l *serialLink) Receive() (string, []byte, bool, error) {
	f, err := l.dec.ReadFrame()
	if err != nil {
		return "", nil, false, err
	}
	return f.Topic, f.Payload, f.Retained, nil
}

func (l *serialLink) Close() error { return l.port.Close() }

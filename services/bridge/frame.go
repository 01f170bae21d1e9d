package bridge

import (
	"encoding/binary"
	"errors"
	"io"

	"mupplet-go/x/crc16"
)

// Wire format for serial links, one bus message per frame:
//
//	0xA5 0x5A | flags(1) | topicLen(1) | payloadLen(2 BE) |
//	topic | payload | crc16 BE
//
// The CRC covers flags through payload. A reader that loses sync scans
// forward to the next magic pair, so a corrupted frame costs at most one
// message.

const (
	frameMagic0 = 0xA5
	frameMagic1 = 0x5A

	flagRetained = 0x01

	maxTopicLen   = 255
	maxPayloadLen = 0xFFFF
)

var (
	// ErrFrameTooLarge is returned when a topic or payload exceeds the
	// wire limits.
	ErrFrameTooLarge = errors.New("bridge: frame too large")
	errBadFrame      = errors.New("bridge: bad frame")
)

// Frame is one decoded serial message.
type Frame struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// EncodeFrame renders a frame into its wire form.
func EncodeFrame(f Frame) ([]byte, error) {
	if len(f.Topic) > maxTopicLen || len(f.Payload) > maxPayloadLen {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, 0, 4+len(f.Topic)+len(f.Payload))
	var flags byte
	if f.Retained {
		flags |= flagRetained
	}
	body = append(body, flags, byte(len(f.Topic)))
	body = binary.BigEndian.AppendUint16(body, uint16(len(f.Payload)))
	body = append(body, f.Topic...)
	body = append(body, f.Payload...)
	crc := crc16.Checksum(body)

	out := make([]byte, 0, 2+len(body)+2)
	out = append(out, frameMagic0, frameMagic1)
	out = append(out, body...)
	out = binary.BigEndian.AppendUint16(out, crc)
	return out, nil
}

// FrameDecoder reads frames off a byte stream, resynchronizing on the
// magic pair after corruption.
type FrameDecoder struct {
	r io.Reader
}

func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{r: r}
}

// ReadFrame blocks until a valid frame arrives or the stream fails.
// Corrupted frames are skipped silently.
func (d *FrameDecoder) ReadFrame() (Frame, error) {
	for {
		f, err := d.readOne()
		if err == errBadFrame {
			continue
		}
		return f, err
	}
}

func (d *FrameDecoder) readOne() (Frame, error) {
	if err := d.sync(); err != nil {
		return Frame{}, err
	}
	var hdr [4]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	topicLen := int(hdr[1])
	payloadLen := int(binary.BigEndian.Uint16(hdr[2:4]))

	rest := make([]byte, topicLen+payloadLen+2)
	if _, err := io.ReadFull(d.r, rest); err != nil {
		return Frame{}, err
	}
	crc := crc16.Checksum(hdr[:])
	for _, b := range rest[:topicLen+payloadLen] {
		crc = crc16.Update(crc, b)
	}
	want := binary.BigEndian.Uint16(rest[topicLen+payloadLen:])
	if crc != want {
		return Frame{}, errBadFrame
	}
	return Frame{
		Topic:    string(rest[:topicLen]),
		Payload:  rest[topicLen : topicLen+payloadLen],
		Retained: hdr[0]&flagRetained != 0,
	}, nil
}

// sync scans the stream for the next magic pair.
func (d *FrameDecoder) sync() error {
	var b [1]byte
	seen := false
	for {
		if _, err := io.ReadFull(d.r, b[:]); err != nil {
			return err
		}
		switch {
		case seen && b[0] == frameMagic1:
			return nil
		case b[0] == frameMagic0:
			seen = true
		default:
			seen = false
		}
	}
}

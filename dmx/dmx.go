// Package dmx implements the Enttec USB DMX Pro wire protocol used to push
// DMX512 universes to a serial widget.
package dmx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	StartByte = 0x7E
	EndByte   = 0xE7

	// StartCode precedes the channel data in every DMX512 packet.
	StartCode = 0x00

	Channels = 512

	// Header is start byte, label and the two length bytes.
	HeaderSize = 4
	// MaxPayload is the widget's upper bound for a single message body.
	MaxPayload = 600
)

// Label identifies the message type.
type Label byte

const (
	LabelGetWidgetParams Label = 3
	LabelSetWidgetParams Label = 4
	LabelReceivedDMX     Label = 5
	LabelSendDMX         Label = 6
	LabelSerialNumber    Label = 10
)

var (
	ErrShortMessage  = errors.New("dmx: message truncated")
	ErrBadStartByte  = errors.New("dmx: missing start byte")
	ErrBadEndByte    = errors.New("dmx: missing end byte")
	ErrPayloadLength = errors.New("dmx: payload length out of range")
	ErrUnexpected    = errors.New("dmx: unexpected message")
)

// Frame holds the 512 channel values of one universe. Channel 1 is Frame[0].
type Frame [Channels]byte

// Set stores value at the 1-based DMX channel. Out of range channels are ignored.
func (f *Frame) Set(channel int, value byte) {
	if channel < 1 || channel > Channels {
		return
	}
	f[channel-1] = value
}

// Get returns the value at the 1-based DMX channel, 0 when out of range.
func (f Frame) Get(channel int) byte {
	if channel < 1 || channel > Channels {
		return 0
	}
	return f[channel-1]
}

// Message is a decoded widget message.
type Message struct {
	Label   Label
	Payload []byte
}

// Encode frames payload as a widget message with the given label.
func Encode(label Label, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadLength, len(payload))
	}
	buf := make([]byte, 0, HeaderSize+len(payload)+1)
	buf = append(buf, StartByte, byte(label))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	buf = append(buf, EndByte)
	return buf, nil
}

// EncodeFrame builds the SendDMX message for a full universe:
// 7E 06 01 02 00 <512 bytes> E7.
func EncodeFrame(frame *Frame) []byte {
	buf := make([]byte, 0, HeaderSize+1+Channels+1)
	buf = append(buf, StartByte, byte(LabelSendDMX))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(Channels+1))
	buf = append(buf, StartCode)
	buf = append(buf, frame[:]...)
	buf = append(buf, EndByte)
	return buf
}

// Decode parses the first message in buf and returns the bytes that follow it.
// Leading garbage before a start byte is an error; callers that read from a
// stream can use Resync to skip it.
func Decode(buf []byte) (Message, []byte, error) {
	if len(buf) < HeaderSize+1 {
		return Message{}, buf, ErrShortMessage
	}
	if buf[0] != StartByte {
		return Message{}, buf, ErrBadStartByte
	}
	n := int(binary.LittleEndian.Uint16(buf[2:4]))
	if n > MaxPayload {
		return Message{}, buf, fmt.Errorf("%w: %d bytes", ErrPayloadLength, n)
	}
	if len(buf) < HeaderSize+n+1 {
		return Message{}, buf, ErrShortMessage
	}
	if buf[HeaderSize+n] != EndByte {
		return Message{}, buf, ErrBadEndByte
	}
	payload := make([]byte, n)
	copy(payload, buf[HeaderSize:HeaderSize+n])
	return Message{Label: Label(buf[1]), Payload: payload}, buf[HeaderSize+n+1:], nil
}

// Resync drops bytes up to the next start byte.
func Resync(buf []byte) []byte {
	i := bytes.IndexByte(buf, StartByte)
	if i < 0 {
		return buf[:0]
	}
	return buf[i:]
}

// DecodeFrame recovers the channel values from a SendDMX or ReceivedDMX
// message. Short universes are zero padded.
func DecodeFrame(msg Message) (Frame, error) {
	var frame Frame
	payload := msg.Payload
	switch msg.Label {
	case LabelSendDMX:
	case LabelReceivedDMX:
		// first byte is the widget's receive status
		if len(payload) < 1 {
			return frame, ErrShortMessage
		}
		payload = payload[1:]
	default:
		return frame, fmt.Errorf("%w: label %d", ErrUnexpected, msg.Label)
	}
	if len(payload) < 1 {
		return frame, ErrShortMessage
	}
	if payload[0] != StartCode {
		return frame, fmt.Errorf("%w: start code 0x%02x", ErrUnexpected, payload[0])
	}
	data := payload[1:]
	if len(data) > Channels {
		return frame, fmt.Errorf("%w: %d channels", ErrPayloadLength, len(data))
	}
	copy(frame[:], data)
	return frame, nil
}

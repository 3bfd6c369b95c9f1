package dmx

import (
	"encoding/binary"
	"fmt"
)

// WidgetParams is the reply to a GetWidgetParams request.
type WidgetParams struct {
	FirmwareVersion uint16
	BreakTime       byte // units of 10.67 microseconds
	MABTime         byte // units of 10.67 microseconds
	OutputRate      byte // packets per second, 0 means as fast as possible
	UserConfig      []byte
}

// WidgetParamsRequest returns the message asking the widget for its parameters.
func WidgetParamsRequest() []byte {
	buf, _ := Encode(LabelGetWidgetParams, nil)
	return buf
}

// ParseWidgetParams decodes a GetWidgetParams reply.
func ParseWidgetParams(msg Message) (WidgetParams, error) {
	if msg.Label != LabelGetWidgetParams {
		return WidgetParams{}, fmt.Errorf("%w: label %d", ErrUnexpected, msg.Label)
	}
	if len(msg.Payload) < 5 {
		return WidgetParams{}, ErrShortMessage
	}
	p := msg.Payload
	return WidgetParams{
		FirmwareVersion: binary.LittleEndian.Uint16(p[0:2]),
		BreakTime:       p[2],
		MABTime:         p[3],
		OutputRate:      p[4],
		UserConfig:      append([]byte(nil), p[5:]...),
	}, nil
}

// EncodeWidgetParams builds a GetWidgetParams reply as a widget would send
// it. The TUI simulation answers parameter requests with it.
func EncodeWidgetParams(wp WidgetParams) []byte {
	payload := make([]byte, 0, 5+len(wp.UserConfig))
	payload = binary.LittleEndian.AppendUint16(payload, wp.FirmwareVersion)
	payload = append(payload, wp.BreakTime, wp.MABTime, wp.OutputRate)
	payload = append(payload, wp.UserConfig...)
	buf, _ := Encode(LabelGetWidgetParams, payload)
	return buf
}

// BreakMicros returns the configured break time in microseconds.
func (wp WidgetParams) BreakMicros() float64 {
	return float64(wp.BreakTime) * 10.67
}

// MABMicros returns the configured mark-after-break time in microseconds.
func (wp WidgetParams) MABMicros() float64 {
	return float64(wp.MABTime) * 10.67
}

// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// DtypeFloat32 is the only element type carried on the wire.
const DtypeFloat32 = "float32"

var (
	ErrWrongPartCount   = errors.New("message must have exactly 2 parts")
	ErrUnsupportedDtype = errors.New("unsupported dtype")
	ErrPayloadSize      = errors.New("payload size does not match bins*frames*4")
	ErrBadHeader        = errors.New("malformed header")
)

// IsDecodeError reports whether err came from DecodeMessage rejecting a
// message, as opposed to a failure to receive one.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrWrongPartCount) || errors.Is(err, ErrUnsupportedDtype) ||
		errors.Is(err, ErrPayloadSize) || errors.Is(err, ErrBadHeader)
}

// Header is part 0 of a published message.
type Header struct {
	TimestampMs uint64   `json:"timestamp_ms"`
	RMS         *float32 `json:"rms,omitempty"`
	Bins        int      `json:"bins"`
	Frames      int      `json:"frames"`
	Dtype       string   `json:"dtype"`
}

// Message is one spectrogram snapshot. Data holds Bins*Frames values in the
// ring's physical frame-major order.
type Message struct {
	Header Header
	Data   []float32
}

// NewMessage builds a float32 message. A negative rms omits the field.
func NewMessage(timestampMs uint64, rms float32, bins, frames int, data []float32) Message {
	h := Header{
		TimestampMs: timestampMs,
		Bins:        bins,
		Frames:      frames,
		Dtype:       DtypeFloat32,
	}
	if rms >= 0 {
		h.RMS = &rms
	}
	return Message{Header: h, Data: data}
}

// EncodeMessage returns the JSON header and the little-endian float32
// payload. Both slices are freshly allocated.
func EncodeMessage(msg Message) (header, payload []byte, err error) {
	h := msg.Header
	if h.Dtype == "" {
		h.Dtype = DtypeFloat32
	}
	if h.Dtype != DtypeFloat32 {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedDtype, h.Dtype)
	}
	if h.Bins <= 0 || h.Frames <= 0 || len(msg.Data) != h.Bins*h.Frames {
		return nil, nil, fmt.Errorf("%w: %d values for %dx%d", ErrPayloadSize, len(msg.Data), h.Bins, h.Frames)
	}

	header, err = json.Marshal(h)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	return header, AppendFloat32LE(make([]byte, 0, 4*len(msg.Data)), msg.Data), nil
}

// DecodeMessage parses a two-part message and validates dtype and payload
// length against the header.
func DecodeMessage(parts [][]byte) (Message, error) {
	if len(parts) != 2 {
		return Message{}, fmt.Errorf("%w: got %d", ErrWrongPartCount, len(parts))
	}

	var h Header
	if err := json.Unmarshal(parts[0], &h); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if h.Dtype != DtypeFloat32 {
		return Message{}, fmt.Errorf("%w: %q", ErrUnsupportedDtype, h.Dtype)
	}
	// bins*frames*4 can overflow int, so the shape is checked by division.
	payload := parts[1]
	if h.Bins <= 0 || h.Frames <= 0 || len(payload)%4 != 0 ||
		len(payload)/4%h.Bins != 0 || len(payload)/4/h.Bins != h.Frames {
		return Message{}, fmt.Errorf("%w: %d bytes for %dx%d", ErrPayloadSize, len(payload), h.Bins, h.Frames)
	}

	data := make([]float32, len(payload)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:]))
	}
	return Message{Header: h, Data: data}, nil
}

// AppendFloat32LE appends each value as 4 little-endian IEEE-754 bytes.
func AppendFloat32LE(dst []byte, values []float32) []byte {
	for _, v := range values {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

// TensorRMS returns the RMS over every value in the tensor. Consumers use it
// as an activity level when the header carries no rms field.
func TensorRMS(data []float32) float64 {
	if len(data) == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range data {
		sumSq += float64(v) * float64(v)
	}
	return math.Sqrt(sumSq / float64(len(data)))
}

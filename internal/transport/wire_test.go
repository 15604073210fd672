// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMessageLayout(t *testing.T) {
	msg := NewMessage(1700000000123, 0.25, 2, 2, []float32{1, 2, 3, 4})

	header, payload, err := EncodeMessage(msg)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(header, &fields))
	assert.Equal(t, float64(1700000000123), fields["timestamp_ms"])
	assert.Equal(t, 0.25, fields["rms"])
	assert.Equal(t, float64(2), fields["bins"])
	assert.Equal(t, float64(2), fields["frames"])
	assert.Equal(t, "float32", fields["dtype"])

	// 1.0f is 0x3f800000, stored little-endian.
	require.Len(t, payload, 16)
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, payload[0:4])
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x40}, payload[12:16]) // 4.0f
}

func TestEncodeMessageOmitsRMS(t *testing.T) {
	msg := NewMessage(1, -1, 1, 1, []float32{0})
	header, _, err := EncodeMessage(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(header), "rms")
}

func TestEncodeMessageRejectsBadShape(t *testing.T) {
	_, _, err := EncodeMessage(NewMessage(1, 0, 2, 2, []float32{1, 2, 3}))
	assert.ErrorIs(t, err, ErrPayloadSize)

	msg := NewMessage(1, 0, 1, 1, []float32{1})
	msg.Header.Dtype = "float64"
	_, _, err = EncodeMessage(msg)
	assert.ErrorIs(t, err, ErrUnsupportedDtype)
}

func TestDecodeMessageRoundTrip(t *testing.T) {
	data := []float32{1, 2, 3, 4}
	header, payload, err := EncodeMessage(NewMessage(42, 0.5, 2, 2, data))
	require.NoError(t, err)

	msg, err := DecodeMessage([][]byte{header, payload})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), msg.Header.TimestampMs)
	require.NotNil(t, msg.Header.RMS)
	assert.Equal(t, float32(0.5), *msg.Header.RMS)
	assert.Equal(t, data, msg.Data)
}

func TestDecodeMessageErrors(t *testing.T) {
	good, payload, err := EncodeMessage(NewMessage(1, -1, 2, 2, []float32{1, 2, 3, 4}))
	require.NoError(t, err)

	tests := []struct {
		name  string
		parts [][]byte
		want  error
	}{
		{"one part", [][]byte{good}, ErrWrongPartCount},
		{"three parts", [][]byte{good, payload, payload}, ErrWrongPartCount},
		{"wrong dtype", [][]byte{[]byte(`{"timestamp_ms":1,"bins":2,"frames":2,"dtype":"int16"}`), payload}, ErrUnsupportedDtype},
		{"short payload", [][]byte{good, payload[:12]}, ErrPayloadSize},
		{"shape mismatch", [][]byte{[]byte(`{"timestamp_ms":1,"bins":3,"frames":2,"dtype":"float32"}`), payload}, ErrPayloadSize},
		{"unaligned payload", [][]byte{good, payload[:15]}, ErrPayloadSize},
		{"zero bins", [][]byte{[]byte(`{"timestamp_ms":1,"bins":0,"frames":2,"dtype":"float32"}`), nil}, ErrPayloadSize},
		{"negative frames", [][]byte{[]byte(`{"timestamp_ms":1,"bins":2,"frames":-2,"dtype":"float32"}`), payload}, ErrPayloadSize},
		// bins*frames*4 wraps to zero in int arithmetic.
		{"huge shape empty payload", [][]byte{[]byte(`{"timestamp_ms":1,"bins":2147483648,"frames":2147483648,"dtype":"float32"}`), nil}, ErrPayloadSize},
		{"wrapping shape", [][]byte{[]byte(`{"timestamp_ms":1,"bins":4611686018427387904,"frames":4,"dtype":"float32"}`), {}}, ErrPayloadSize},
		{"huge shape small payload", [][]byte{[]byte(`{"timestamp_ms":1,"bins":2147483648,"frames":2147483648,"dtype":"float32"}`), payload}, ErrPayloadSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage(tt.parts)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = DecodeMessage([][]byte{[]byte("not json"), payload})
	assert.ErrorIs(t, err, ErrBadHeader)
	assert.True(t, IsDecodeError(err))
	assert.False(t, IsDecodeError(ErrClosed))
}

func TestTensorRMS(t *testing.T) {
	assert.Equal(t, 0.0, TensorRMS(nil))
	assert.InDelta(t, 2.0, TensorRMS([]float32{2, -2, 2, -2}), 1e-9)
}

func BenchmarkEncodeMessage(b *testing.B) {
	data := make([]float32, 1024*64)
	msg := NewMessage(1, 0.1, 1024, 64, data)
	b.ReportAllocs()
	for b.Loop() {
		EncodeMessage(msg)
	}
}

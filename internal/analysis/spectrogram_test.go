// SPDX-License-Identifier: MIT
package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameOf(bins int, v float32) []float32 {
	f := make([]float32, bins)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestNewSpectrogramValidation(t *testing.T) {
	_, err := NewSpectrogram(0, 64)
	assert.Error(t, err)
	_, err = NewSpectrogram(1024, 0)
	assert.Error(t, err)

	s, err := NewSpectrogram(1024, 64)
	require.NoError(t, err)
	assert.Equal(t, 1024, s.Bins())
	assert.Equal(t, 64, s.Frames())
	assert.Len(t, s.Data(), 1024*64)
	assert.False(t, s.IsReady())
}

func TestSpectrogramReadyOnFirstWrap(t *testing.T) {
	s, err := NewSpectrogram(4, 3)
	require.NoError(t, err)

	require.True(t, s.PushFrame(frameOf(4, 1)))
	require.True(t, s.PushFrame(frameOf(4, 2)))
	assert.False(t, s.IsReady())
	assert.Equal(t, 2, s.Cursor())

	require.True(t, s.PushFrame(frameOf(4, 3)))
	assert.True(t, s.IsReady())
	assert.Equal(t, 0, s.Cursor())
	assert.Equal(t, []float32{1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3}, s.Data())

	// The ring keeps physical order: frame 4 overwrites slot 0.
	require.True(t, s.PushFrame(frameOf(4, 4)))
	assert.True(t, s.IsReady(), "ready latches")
	assert.Equal(t, []float32{4, 4, 4, 4, 2, 2, 2, 2, 3, 3, 3, 3}, s.Data())
	assert.Equal(t, 1, s.Cursor())
}

func TestSpectrogramRejectsWrongLength(t *testing.T) {
	s, err := NewSpectrogram(4, 2)
	require.NoError(t, err)

	assert.False(t, s.PushFrame(frameOf(3, 9)))
	assert.False(t, s.PushFrame(frameOf(5, 9)))
	assert.False(t, s.PushFrame(nil))
	assert.Equal(t, 0, s.Cursor())
	assert.Equal(t, make([]float32, 8), s.Data())
}

func TestSpectrogramRejectsWrongLengthAnywhere(t *testing.T) {
	s, err := NewSpectrogram(2, 3)
	require.NoError(t, err)

	assertUnchanged := func(t *testing.T) {
		t.Helper()
		cursor, ready := s.Cursor(), s.IsReady()
		data := append([]float32(nil), s.Data()...)
		for _, bad := range [][]float32{nil, {7}, {7, 7, 7}} {
			assert.False(t, s.PushFrame(bad))
		}
		assert.Equal(t, cursor, s.Cursor())
		assert.Equal(t, ready, s.IsReady())
		assert.Equal(t, data, s.Data())
	}

	require.True(t, s.PushFrame([]float32{1, 1}))
	t.Run("mid ring", assertUnchanged)
	assert.Equal(t, 1, s.Cursor())
	assert.False(t, s.IsReady())

	require.True(t, s.PushFrame([]float32{2, 2}))
	require.True(t, s.PushFrame([]float32{3, 3}))
	require.True(t, s.PushFrame([]float32{4, 4}))
	require.True(t, s.IsReady())
	t.Run("after ready", assertUnchanged)
	assert.Equal(t, 1, s.Cursor())
	assert.True(t, s.IsReady())
	assert.Equal(t, []float32{4, 4, 2, 2, 3, 3}, s.Data())
}

func TestSpectrogramCopiesFrame(t *testing.T) {
	s, err := NewSpectrogram(2, 2)
	require.NoError(t, err)

	f := []float32{1, 2}
	s.PushFrame(f)
	f[0] = 99
	assert.Equal(t, float32(1), s.Data()[0])
}

func TestSpectrogramReset(t *testing.T) {
	s, err := NewSpectrogram(2, 1)
	require.NoError(t, err)
	s.PushFrame([]float32{1, 2})
	require.True(t, s.IsReady())

	s.Reset()
	assert.False(t, s.IsReady())
	assert.Equal(t, []float32{0, 0}, s.Data())
}

func TestSpectrogramPushAllocs(t *testing.T) {
	s, _ := NewSpectrogram(1024, 64)
	f := frameOf(1024, 0.5)
	allocs := testing.AllocsPerRun(100, func() {
		s.PushFrame(f)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in PushFrame, got %.1f", allocs)
	}
}

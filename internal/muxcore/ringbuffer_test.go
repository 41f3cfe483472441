package muxcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestRingBufferWriteShortOnFull(t *testing.T) {
	r := NewRingBuffer(4) // usable capacity 3
	n := r.Write([]byte{1, 2, 3, 4, 5})
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, r.Free())
}

func TestRingBufferDiscardFreesSpace(t *testing.T) {
	r := NewRingBuffer(4)
	r.Write([]byte{1, 2, 3})
	r.Discard(2)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 2, r.Free())
}

func TestRingBufferPeekAtOutOfRange(t *testing.T) {
	r := NewRingBuffer(4)
	r.Write([]byte{1})
	_, ok := r.PeekAt(1)
	assert.False(t, ok)
}

func TestRingBufferWrapsAroundCorrectly(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRingBuffer(8)
		var model []byte

		for i := 0; i < 20; i++ {
			chunk := rapid.SliceOfN(rapid.Byte(), 0, 5).Draw(t, "chunk")
			n := r.Write(chunk)
			model = append(model, chunk[:n]...)

			if len(model) > 0 {
				take := rapid.IntRange(0, len(model)).Draw(t, "take")
				got := r.Slice(take)
				assert.Equal(t, model[:take], got)
				r.Discard(take)
				model = model[take:]
			}
		}
	})
}

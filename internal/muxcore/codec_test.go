package muxcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBasicModeRoundTrip(t *testing.T) {
	codec := NewFrameCodec(ModeBasic, N1Default)
	payload := []byte("AT\r")
	wire := codec.Encode(3, ctrlUIH, true, payload)

	ring := NewRingBuffer(RingCapacity)
	ring.Write(wire)

	frame, ok := codec.Decode(ring)
	require.True(t, ok)
	assert.Equal(t, 3, frame.Channel)
	assert.Equal(t, byte(ctrlUIH), frame.ControlType())
	assert.Equal(t, payload, frame.Payload)
	assert.Equal(t, uint64(0), codec.Dropped())
}

func TestAdvancedModeRoundTrip(t *testing.T) {
	codec := NewFrameCodec(ModeAdvanced, N1Default)
	payload := []byte{advFlagByte, escByte, 0x11, 0x00, 0xFF}
	wire := codec.Encode(5, ctrlUIH, false, payload)

	ring := NewRingBuffer(RingCapacity)
	ring.Write(wire)

	frame, ok := codec.Decode(ring)
	require.True(t, ok)
	assert.Equal(t, 5, frame.Channel)
	assert.Equal(t, payload, frame.Payload)
}

// TestBasicModeEncodesLiteralScenarioBytes pins the wire bytes against
// spec section 8 scenario 1's literal hex dump directly, rather than
// round-tripping through the same codec that produced them: basic mode's
// flag delimiter is 0xF9, never 0x7E (that belongs to advanced mode only).
func TestBasicModeEncodesLiteralScenarioBytes(t *testing.T) {
	codec := NewFrameCodec(ModeBasic, N1Default)
	payload := []byte("AT\r")
	wire := codec.Encode(3, ctrlUI, true, payload)

	covered := []byte{0x0F, ctrlUI, 0x07, 0x41, 0x54, 0x0D}
	fcs := fcsFinal(fcsCompute(fcsInit, covered))

	assert.Equal(t, []byte{0xF9, 0x0F, ctrlUI, 0x07, 0x41, 0x54, 0x0D, fcs, 0xF9}, wire)

	ring := NewRingBuffer(RingCapacity)
	ring.Write(wire)
	frame, ok := codec.Decode(ring)
	require.True(t, ok)
	assert.Equal(t, 3, frame.Channel)
	assert.Equal(t, payload, frame.Payload)
}

func TestBasicModeRejectsBadFCS(t *testing.T) {
	codec := NewFrameCodec(ModeBasic, N1Default)
	wire := codec.Encode(1, ctrlUIH, true, []byte("hello"))
	wire[len(wire)-2] ^= 0xFF // corrupt the FCS byte, leave the trailing flag alone

	ring := NewRingBuffer(RingCapacity)
	ring.Write(wire)
	// Append a second, valid frame so Decode has somewhere to resync to.
	ring.Write(codec.Encode(2, ctrlUIH, true, []byte("world")))

	frame, ok := codec.Decode(ring)
	require.True(t, ok)
	assert.Equal(t, 2, frame.Channel)
	assert.Equal(t, uint64(1), codec.Dropped())
}

func TestDecodeIncompleteFrameReturnsFalse(t *testing.T) {
	codec := NewFrameCodec(ModeBasic, N1Default)
	wire := codec.Encode(1, ctrlUIH, true, []byte("partial"))

	ring := NewRingBuffer(RingCapacity)
	ring.Write(wire[:len(wire)-3])

	_, ok := codec.Decode(ring)
	assert.False(t, ok)
}

func TestCodecRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mode := Mode(rapid.IntRange(0, 1).Draw(t, "mode"))
		channel := rapid.IntRange(0, MaxDLCI).Draw(t, "channel")
		cr := rapid.Bool().Draw(t, "cr")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 32).Draw(t, "payload")

		codec := NewFrameCodec(mode, N1Default)
		wire := codec.Encode(channel, ctrlUIH, cr, payload)

		ring := NewRingBuffer(RingCapacity)
		ring.Write(wire)

		frame, ok := codec.Decode(ring)
		require.True(t, ok)
		assert.Equal(t, channel, frame.Channel)
		assert.Equal(t, payload, frame.Payload)
	})
}

func TestDecodeHandlesFragmentedFeed(t *testing.T) {
	codec := NewFrameCodec(ModeAdvanced, N1Default)
	wire := codec.Encode(7, ctrlUIH, true, []byte("fragmented delivery"))

	ring := NewRingBuffer(RingCapacity)
	var frame Frame
	var ok bool
	for _, b := range wire {
		ring.Write([]byte{b})
		frame, ok = codec.Decode(ring)
		if ok {
			break
		}
	}
	require.True(t, ok)
	assert.Equal(t, 7, frame.Channel)
	assert.Equal(t, []byte("fragmented delivery"), frame.Payload)
}

package muxcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlChannelCLDEntersClosing(t *testing.T) {
	cc := NewControlChannel(NewChannelTable(nil), false)
	payload := EncodeCommand(cmdCLD, true, nil)

	result := cc.Handle(false, payload)
	assert.Equal(t, ActionEnterClosing, result.Action)
}

func TestControlChannelTESTEchoesPayload(t *testing.T) {
	cc := NewControlChannel(NewChannelTable(nil), false)
	payload := EncodeCommand(cmdTEST, true, []byte("PING"))

	result := cc.Handle(false, payload)
	require.Equal(t, ActionSendReply, result.Action)

	cf, ok := ParseCommand(result.Reply)
	require.True(t, ok)
	assert.Equal(t, byte(cmdTEST), cf.Type)
	assert.False(t, cf.CR)
	assert.Equal(t, []byte("PING"), cf.Data)
}

func TestControlChannelUnknownCommandGetsNSC(t *testing.T) {
	cc := NewControlChannel(NewChannelTable(nil), false)
	payload := EncodeCommand(cmdRLS, true, []byte{0x01})

	result := cc.Handle(false, payload)
	require.Equal(t, ActionSendReply, result.Action)

	cf, ok := ParseCommand(result.Reply)
	require.True(t, ok)
	assert.Equal(t, byte(cmdNSC), cf.Type)
}

func TestControlChannelMSCUpdatesV24AndAcks(t *testing.T) {
	channels := NewChannelTable(nil)
	cc := NewControlChannel(channels, false)

	addr := addressByte(3, false)
	signals := byte(v24DV | v24RTC)
	payload := EncodeCommand(cmdMSC, true, []byte{addr, signals})

	result := cc.Handle(false, payload)
	require.Equal(t, ActionSendReply, result.Action)
	assert.False(t, result.ReplyPF)
	assert.Nil(t, result.SecondReply)
	assert.Equal(t, V24Signals(signals), channels.Get(3).V24())
}

func TestControlChannelEnforaSendsSecondReplyOnPF(t *testing.T) {
	channels := NewChannelTable(nil)
	cc := NewControlChannel(channels, true)

	addr := addressByte(3, false)
	signals := byte(v24DV)
	payload := EncodeCommand(cmdMSC, true, []byte{addr, signals})

	result := cc.Handle(true, payload)
	require.Equal(t, ActionSendReply, result.Action)
	assert.True(t, result.ReplyPF)
	require.NotNil(t, result.SecondReply)

	cf, ok := ParseCommand(result.SecondReply)
	require.True(t, ok)
	assert.Equal(t, byte(cmdMSC), cf.Type)
	assert.True(t, cf.CR)
}

func TestControlChannelResponseFrameIsNoOp(t *testing.T) {
	cc := NewControlChannel(NewChannelTable(nil), false)
	payload := EncodeCommand(cmdTEST, false, []byte("PONG"))

	result := cc.Handle(false, payload)
	assert.Equal(t, ActionNone, result.Action)
}

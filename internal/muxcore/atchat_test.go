package muxcore

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModem pairs a net.Conn (what ATChat writes/reads) with a line
// scanner on the other end, so tests can script a modem's replies
// without a real tty.
type fakeModem struct {
	muxerSide net.Conn
	modemSide *bufio.Reader
	modemConn net.Conn
}

func newFakeModem() *fakeModem {
	a, b := net.Pipe()
	return &fakeModem{muxerSide: a, modemSide: bufio.NewReader(b), modemConn: b}
}

func (f *fakeModem) readCommand(t *testing.T) string {
	t.Helper()
	line, err := f.modemSide.ReadString('\n')
	require.NoError(t, err)
	return line
}

func (f *fakeModem) reply(t *testing.T, line string) {
	t.Helper()
	_, err := f.modemConn.Write([]byte(line + "\r\n"))
	require.NoError(t, err)
}

func TestATChatSendOK(t *testing.T) {
	fm := newFakeModem()
	defer fm.muxerSide.Close()
	defer fm.modemConn.Close()

	chat := NewATChat(fm.muxerSide)

	done := make(chan error, 1)
	go func() { done <- chat.Send(context.Background(), "AT", time.Second) }()

	cmd := fm.readCommand(t)
	assert.Equal(t, "AT\r\n", cmd)
	fm.reply(t, "OK")

	require.NoError(t, <-done)
}

func TestATChatSendError(t *testing.T) {
	fm := newFakeModem()
	defer fm.muxerSide.Close()
	defer fm.modemConn.Close()

	chat := NewATChat(fm.muxerSide)

	done := make(chan error, 1)
	go func() { done <- chat.Send(context.Background(), "AT+CFUN=0", time.Second) }()

	fm.readCommand(t)
	fm.reply(t, "ERROR")

	assert.ErrorIs(t, <-done, ErrATError)
}

func TestATChatSendTimeout(t *testing.T) {
	fm := newFakeModem()
	defer fm.muxerSide.Close()
	defer fm.modemConn.Close()

	chat := NewATChat(fm.muxerSide)

	done := make(chan error, 1)
	go func() { done <- chat.Send(context.Background(), "AT", 20*time.Millisecond) }()

	fm.readCommand(t)
	// No reply at all: Send should time out rather than block forever.
	assert.ErrorIs(t, <-done, ErrATTimeout)
}

func TestATChatMRDYIsSuccess(t *testing.T) {
	fm := newFakeModem()
	defer fm.muxerSide.Close()
	defer fm.modemConn.Close()

	chat := NewATChat(fm.muxerSide)

	done := make(chan error, 1)
	go func() { done <- chat.Send(context.Background(), "AT+CMUX=0", time.Second) }()

	fm.readCommand(t)
	fm.reply(t, "*MRDY: 1")

	require.NoError(t, <-done)
}

package muxcore

import (
	"context"
	"os"

	"golang.org/x/sys/unix"
)

/*------------------------------------------------------------------
 *
 * Purpose: EventLoop multiplexes readiness over the serial fd, every
 *          pty master fd, and the watchdog interval, all from one
 *          goroutine (spec section 4.G, 5). It holds only weak
 *          (non-owning) watch registrations keyed by fd; the Link and
 *          ChannelTable remain the sole owners of the underlying fds
 *          (spec section 3, "Ownership"; section 9, "Cyclic references").
 *
 * Grounded on golang.org/x/sys/unix.Poll, a direct descendant of the C
 * poll(2) loop the teacher's own src/kissserial_listen_thread and the
 * original gsm0710muxd.c's main loop both approximate with blocking
 * per-fd reader goroutines; this repo uses poll(2) directly instead,
 * matching the single-thread, no-locks model spec section 5 requires.
 *
 *------------------------------------------------------------------*/

// fdReader is the minimal surface EventLoop needs to poll and read a
// source: its raw descriptor, which Run polls and reads with unix.Read
// directly. *os.File (pty
// masters) and *github.com/pkg/term.Term (the modem serial port, via
// the SerialPort interface) both satisfy it.
type fdReader interface {
	Fd() uintptr
}

// pollBufSize is the per-iteration read buffer size for both the serial
// fd and pty fds.
const pollBufSize = 4096

// EventLoop owns no file descriptors itself; it drives a Link (which
// owns the serial fd and RingBuffer) and that Link's ChannelTable (which
// owns every pty fd).
type EventLoop struct {
	link     *Link
	watchdog *Watchdog

	serialFd int
	ptys     map[int]*Channel // pty master fd -> channel

	rpc  chan func(ctx context.Context)
	stop chan struct{}
}

// NewEventLoop builds a loop bound to link, ticking link.Tick once per
// watchdog.Interval.
func NewEventLoop(link *Link, watchdog *Watchdog) *EventLoop {
	return &EventLoop{
		link:     link,
		watchdog: watchdog,
		serialFd: -1,
		ptys:     make(map[int]*Channel),
		rpc:      make(chan func(ctx context.Context), 16),
		stop:     make(chan struct{}),
	}
}

// RegisterSerial arms polling on a newly opened serial port, switching it
// to non-blocking mode first. Called once INITIALIZING's AT chat (the
// loop's one intentionally synchronous phase, spec section 9) completes.
func (e *EventLoop) RegisterSerial(port SerialPort) error {
	fdr, ok := port.(fdReader)
	if !ok {
		return nil // test fakes (net.Pipe, etc.) aren't pollable; FeedSerial is driven directly instead.
	}
	fd := int(fdr.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	e.serialFd = fd
	return nil
}

// UnregisterSerial removes the serial fd from polling, e.g. on teardown.
func (e *EventLoop) UnregisterSerial() {
	e.serialFd = -1
}

// RegisterPty arms polling on ch's pty master, called from the
// ChannelTable's openHook right after Alloc (spec section 4.E).
func (e *EventLoop) RegisterPty(ch *Channel) error {
	master := e.link.Channels().PtyMaster(ch.ID)
	if master == nil {
		return nil
	}
	fd := int(master.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	e.ptys[fd] = ch
	return nil
}

// UnregisterPty removes a pty fd from polling.
func (e *EventLoop) UnregisterPty(ch *Channel) {
	for fd, c := range e.ptys {
		if c.ID == ch.ID {
			delete(e.ptys, fd)
		}
	}
}

// Dispatch enqueues fn to run on the loop goroutine, the mechanism
// Supervisor RPCs use to touch Link/ChannelTable state without a second
// goroutine ever calling into them directly (spec section 4.G, 5).
func (e *EventLoop) Dispatch(fn func(ctx context.Context)) {
	select {
	case e.rpc <- fn:
	case <-e.stop:
	}
}

// Stop asks Run to return after its current iteration.
func (e *EventLoop) Stop() {
	close(e.stop)
}

// Run blocks, servicing readiness events and the watchdog until ctx is
// canceled or Stop is called. Every handler returns promptly: I/O is
// non-blocking except the AT-chat window already completed before a
// serial fd is ever registered here (spec section 4.G).
func (e *EventLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case fn := <-e.rpc:
			fn(ctx)
			continue
		default:
		}

		pollfds := e.buildPollfds()
		n, err := unix.Poll(pollfds, int(e.watchdog.Remaining().Milliseconds()))
		if err != nil && err != unix.EINTR {
			return err
		}
		if n > 0 {
			e.handleReady(pollfds)
		}

		if e.watchdog.Due() {
			e.link.Tick(ctx)
			e.watchdog.Reset()
		}
	}
}

func (e *EventLoop) buildPollfds() []unix.PollFd {
	pollfds := make([]unix.PollFd, 0, 1+len(e.ptys))
	if e.serialFd >= 0 {
		pollfds = append(pollfds, unix.PollFd{Fd: int32(e.serialFd), Events: unix.POLLIN})
	}
	for fd := range e.ptys {
		pollfds = append(pollfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	return pollfds
}

func (e *EventLoop) handleReady(pollfds []unix.PollFd) {
	buf := make([]byte, pollBufSize)
	for _, pfd := range pollfds {
		if pfd.Revents == 0 {
			continue
		}
		fd := int(pfd.Fd)

		if fd == e.serialFd {
			e.readSerial(buf)
			continue
		}
		if ch, ok := e.ptys[fd]; ok {
			e.readPty(fd, ch, buf)
		}
	}
}

func (e *EventLoop) readSerial(buf []byte) {
	free := e.link.ring.Free()
	if free <= 0 {
		return // backpressure: leave bytes in the kernel buffer (spec section 5).
	}
	if free < len(buf) {
		buf = buf[:free]
	}
	n, err := unix.Read(e.serialFd, buf)
	if n > 0 {
		e.link.FeedSerial(buf[:n])
	}
	if err != nil && err != unix.EAGAIN && n == 0 {
		// Serial HUP/error: treat like a peer-requested closure (spec
		// section 4.D, "HUP"; section 7.4).
		e.UnregisterSerial()
		if e.link.State() == StateMuxing {
			e.link.state = StateClosing
		}
	}
}

func (e *EventLoop) readPty(fd int, ch *Channel, buf []byte) {
	n, err := unix.Read(fd, buf)
	if n > 0 {
		e.link.HandlePtyRead(ch, buf[:n])
	}
	if err != nil && err != unix.EAGAIN && n == 0 {
		delete(e.ptys, fd)
		e.link.HandlePtyClosed(ch)
	}
}

var _ fdReader = (*os.File)(nil)

package muxcore

import (
	"fmt"
	"os"
	"sync"

	"github.com/creack/pty"
)

/*------------------------------------------------------------------
 *
 * Purpose: ChannelTable allocates DLCIs 1..MaxDLCI, pairs each with a
 *          pseudo-terminal (spec section 4.E), and pumps bytes between
 *          the pty master and the Link's outbound frame stream.
 *
 * Grounded on the teacher's src/kiss.go (github.com/creack/pty.Open),
 * generalized from one fixed KISS pty to a table of up to 31
 * independently allocated DLCI ptys.
 *
 *------------------------------------------------------------------*/

// MaxDLCI is the highest usable DLCI; 0 is reserved for the control
// channel (spec section 3, GLOSSARY).
const MaxDLCI = 31

// ErrNoBuffer is returned by AllocChannel when every DLCI slot is in use
// (spec section 7.7, section 6 "alloc_channel").
var ErrNoBuffer = fmt.Errorf("muxcore: no free DLCI")

// channelState is a Channel's position in its open/close lifecycle
// (spec section 3).
type channelState int

const (
	chanFree channelState = iota
	chanAllocated
	chanOpen
	chanClosing
)

// V24Signals decodes the informational flag bits of an MSC signal octet
// (spec section 4.C).
type V24Signals byte

const (
	v24FC  = 0x02
	v24RTC = 0x04
	v24RTR = 0x08
	v24IC  = 0x40
	v24DV  = 0x80
)

// FlowControl reports the FC (flow control asserted by peer) bit.
func (v V24Signals) FlowControl() bool { return byte(v)&v24FC != 0 }

// ReadyToCommunicate reports the RTC bit.
func (v V24Signals) ReadyToCommunicate() bool { return byte(v)&v24RTC != 0 }

// IncomingCall reports the IC bit.
func (v V24Signals) IncomingCall() bool { return byte(v)&v24IC != 0 }

// DataValid reports the DV bit (peer has data to send / link usable).
func (v V24Signals) DataValid() bool { return byte(v)&v24DV != 0 }

// defaultV24Signals is the initial value assigned to a freshly allocated
// channel: DV | RTR | RTC | EA (spec section 4.E).
const defaultV24Signals = V24Signals(v24DV | v24RTR | v24RTC | bitEA)

// Channel is one DLCI's allocation state.
type Channel struct {
	ID          int
	state       channelState
	ptyMaster   *os.File
	ptyPath     string
	purpose     string
	v24Signals  V24Signals
	pendingTail []byte
}

// Opened reports whether this channel has completed its SABM/UA
// handshake and is usable for data.
func (c *Channel) Opened() bool { return c.state == chanOpen }

// Path returns the slave pty path a client process should open.
func (c *Channel) Path() string { return c.ptyPath }

// Purpose returns the opaque label the supervisor passed to AllocChannel.
func (c *Channel) Purpose() string { return c.purpose }

// V24 returns the channel's last-known V.24 signal state.
func (c *Channel) V24() V24Signals { return c.v24Signals }

// ChannelTable owns every Channel slot for one Link. It is touched only
// from the event loop goroutine (spec section 5); the mutex exists
// solely to let Supervisor RPCs (which the EventLoop dispatches as
// ordinary loop events, never as separate threads) share the same
// invariant-checking code path as event handlers without duplicating it.
type ChannelTable struct {
	mu       sync.Mutex
	slots    [MaxDLCI + 1]*Channel
	ptyAttr  func(*os.File) error
	openHook func(ch *Channel)
}

// NewChannelTable allocates an empty table. openHook, if non-nil, is
// called synchronously right after a Channel transitions to Allocated,
// letting the Link register the new pty master's read watch and send the
// opening SABM (spec section 4.E).
func NewChannelTable(openHook func(ch *Channel)) *ChannelTable {
	t := &ChannelTable{openHook: openHook}
	for i := range t.slots {
		t.slots[i] = &Channel{ID: i, state: chanFree}
	}
	return t
}

// Alloc claims the lowest-numbered free DLCI, opens a pty pair for it,
// puts the slave into raw mode, and returns the slave's path. The
// returned channel is in Allocated state: it becomes Open only once a
// matching UA is observed on the serial link (spec section 4.E).
func (t *ChannelTable) Alloc(purpose string) (*Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 1; i <= MaxDLCI; i++ {
		ch := t.slots[i]
		if ch.state != chanFree {
			continue
		}

		master, slave, err := pty.Open()
		if err != nil {
			return nil, fmt.Errorf("muxcore: open pty for DLCI %d: %w", i, err)
		}
		if err := setRawMode(slave); err != nil {
			master.Close()
			slave.Close()
			return nil, fmt.Errorf("muxcore: set raw mode for DLCI %d: %w", i, err)
		}
		slave.Close() // the client opens the slave path itself; we never keep it open.

		ch.ptyMaster = master
		ch.ptyPath = slave.Name()
		ch.purpose = purpose
		ch.v24Signals = defaultV24Signals
		ch.pendingTail = nil
		ch.state = chanAllocated

		if t.openHook != nil {
			// Released around the hook: it may call back into the table
			// (e.g. PtyMaster when registering the read watch).
			t.mu.Unlock()
			t.openHook(ch)
			t.mu.Lock()
		}
		return ch, nil
	}
	return nil, ErrNoBuffer
}

// MarkOpen transitions a channel to Open once its UA has been observed.
func (t *ChannelTable) MarkOpen(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch := t.at(id); ch != nil && ch.state == chanAllocated {
		ch.state = chanOpen
	}
}

// SetV24 updates the stored V.24 signal state for a channel (from an
// inbound MSC command, spec section 4.C).
func (t *ChannelTable) SetV24(id int, v V24Signals) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch := t.at(id); ch != nil {
		ch.v24Signals = v
	}
}

// BeginClosing marks a channel Closing, the state that precedes Free
// once teardown (closing the pty, sending a close-down frame) completes.
func (t *ChannelTable) BeginClosing(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch := t.at(id); ch != nil && ch.state != chanFree {
		ch.state = chanClosing
	}
}

// Free releases a channel's pty and returns it to the Free state. It is
// idempotent: freeing an already-Free slot is a no-op (spec section 8,
// "Idempotence").
func (t *ChannelTable) Free(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := t.at(id)
	if ch == nil || ch.state == chanFree {
		return
	}
	if ch.ptyMaster != nil {
		ch.ptyMaster.Close()
	}
	ch.ptyMaster = nil
	ch.ptyPath = ""
	ch.purpose = ""
	ch.pendingTail = nil
	ch.v24Signals = 0
	ch.state = chanFree
}

// Get returns the channel for id, or nil if id is out of range.
func (t *ChannelTable) Get(id int) *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.at(id)
}

// OpenChannels returns the IDs of every channel currently Open or
// Allocated (SABM sent, UA not yet seen), in ascending order. Used by the
// LinkStateMachine to emit a close-down frame per such DLCI on an orderly
// shutdown (spec section 8, scenario 6).
func (t *ChannelTable) OpenChannels() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []int
	for i := 1; i <= MaxDLCI; i++ {
		if t.slots[i].state == chanOpen || t.slots[i].state == chanAllocated {
			ids = append(ids, i)
		}
	}
	return ids
}

// PtyMaster returns the master fd for id's pty, or nil if the channel is
// Free. The EventLoop reads from this fd directly.
func (t *ChannelTable) PtyMaster(id int) *os.File {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch := t.at(id); ch != nil {
		return ch.ptyMaster
	}
	return nil
}

// TakePendingTail returns and clears a channel's stashed unsent suffix
// from a previous short write (spec section 4.E).
func (t *ChannelTable) TakePendingTail(id int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := t.at(id)
	if ch == nil {
		return nil
	}
	tail := ch.pendingTail
	ch.pendingTail = nil
	return tail
}

// SetPendingTail stashes bytes a pty read produced but the serial link
// could not yet accept, to be prepended on the next pty read.
func (t *ChannelTable) SetPendingTail(id int, tail []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch := t.at(id); ch != nil {
		ch.pendingTail = tail
	}
}

func (t *ChannelTable) at(id int) *Channel {
	if id < 1 || id > MaxDLCI {
		return nil
	}
	return t.slots[id]
}

package muxcore

/*------------------------------------------------------------------
 *
 * Purpose: Fixed-capacity byte ring used to buffer bytes read from the
 *          serial fd between event loop iterations, and scanned
 *          in-place by FrameCodec for complete frames.
 *
 * Invariant: length <= capacity-1. The byte between the write cursor
 *            and the read cursor is never used, so an empty ring
 *            (read==write) can be told apart from a full one
 *            (write+1==read, mod capacity) without a separate flag.
 *
 *------------------------------------------------------------------*/

// RingCapacity is the fixed capacity of a Link's ingress RingBuffer.
const RingCapacity = 2048

// RingBuffer is a single-producer single-consumer fixed-size byte ring.
// It is not safe for concurrent use; the event loop is the only goroutine
// that ever touches a given Link's RingBuffer, by design (spec section 5).
type RingBuffer struct {
	buf   []byte
	read  int
	write int

	// flagSeen resumes frame search across calls: once a leading flag
	// byte (0xF9 in basic mode, 0x7E in advanced mode) has been
	// consumed, later calls don't need to see another one
	// before reading the header (used by basic mode's back-to-back
	// empty-flag skipping, section 4.B step 2).
	flagSeen bool

	// advBuf and escPending are advanced mode's unstuffing scratch
	// space, kept here because they must survive across partial reads
	// the same way flagSeen does.
	advBuf     []byte
	escPending bool
}

// NewRingBuffer allocates a RingBuffer of the given capacity. The muxer
// allocates exactly one of these per Link at startup and reuses it across
// reopen cycles (spec section 5, "Resource policy").
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 2 {
		capacity = 2
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Len returns the number of unread bytes currently buffered.
func (r *RingBuffer) Len() int {
	n := r.write - r.read
	if n < 0 {
		n += len(r.buf)
	}
	return n
}

// Free returns the number of additional bytes that can be written before
// the ring is full.
func (r *RingBuffer) Free() int {
	return len(r.buf) - 1 - r.Len()
}

// Write copies as many bytes of p as fit and returns that count. Unlike
// io.Writer, a short count is not an error: it is how backpressure is
// expressed when the serial reader out-paces FrameCodec (spec section 5).
func (r *RingBuffer) Write(p []byte) int {
	free := r.Free()
	n := len(p)
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		r.buf[r.write] = p[i]
		r.write = (r.write + 1) % len(r.buf)
	}
	return n
}

// PeekAt returns the byte at logical offset i from the read cursor
// (0 is the next unread byte) without consuming it. ok is false if fewer
// than i+1 bytes are buffered.
func (r *RingBuffer) PeekAt(i int) (b byte, ok bool) {
	if i >= r.Len() {
		return 0, false
	}
	return r.buf[(r.read+i)%len(r.buf)], true
}

// Discard advances the read cursor by n bytes, freeing that space for
// reuse by Write. n must not exceed Len().
func (r *RingBuffer) Discard(n int) {
	if n <= 0 {
		return
	}
	if n > r.Len() {
		n = r.Len()
	}
	r.read = (r.read + n) % len(r.buf)
}

// Slice copies the next n buffered bytes (0 is the next unread byte)
// into a freshly allocated slice, without consuming them.
func (r *RingBuffer) Slice(n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i], _ = r.PeekAt(i)
	}
	return out
}

// resetDecodeState clears the cross-call scratch used by the advanced
// mode decoder, e.g. after a hard resync or a reopen cycle.
func (r *RingBuffer) resetDecodeState() {
	r.flagSeen = false
	r.advBuf = r.advBuf[:0]
	r.escPending = false
}

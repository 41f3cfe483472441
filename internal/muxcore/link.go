package muxcore

import (
	"context"
	"fmt"
	"io"
	"time"
)

/*------------------------------------------------------------------
 *
 * Purpose: LinkStateMachine drives the OFF -> OPENING -> INITIALIZING
 *          -> MUXING -> CLOSING session lifecycle: mux-mode negotiation
 *          via AT commands, the control-channel handshake, and orderly
 *          teardown (spec section 4.D).
 *
 *------------------------------------------------------------------*/

// State is one of the five link lifecycle states (spec section 3).
type State int

const (
	StateOff State = iota
	StateOpening
	StateInitializing
	StateMuxing
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "OFF"
	case StateOpening:
		return "OPENING"
	case StateInitializing:
		return "INITIALIZING"
	case StateMuxing:
		return "MUXING"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// BaudTable maps the port/AT speed index enumerated in spec section 6 to
// an actual bits-per-second value. Index 0 means "leave it alone".
var BaudTable = [8]int{0, 9600, 19200, 38400, 57600, 115200, 230400, 460800}

// Flags are the additional-functionality bits from spec section 6.
type Flags struct {
	WakeupSysfs   bool
	WakeupSeq     bool
	SiemensC35    bool
	Enfora        bool
	ShortInit     bool
	LegacyPerDLCI bool // spec section 9, second Open Question: close a DLCI with control-channel CLD on that DLCI instead of DISC.
}

// Config is a Link's full static configuration (spec section 6).
type Config struct {
	SerialDevice     string
	PowerBaseDir     string
	PIN              string
	PingMax          int
	SilenceTimeout   time.Duration
	CmuxMode         Mode
	CmuxSubset       int
	PortSpeedIndex   int
	ATSpeedIndex     int
	N1               int
	Flags            Flags
	ATCommandTimeout time.Duration
	WatchdogInterval time.Duration
	InitReopenDelay  time.Duration
}

// DefaultConfig returns a Config with every spec-mandated default filled
// in (N1=64, watchdog/reopen at 5s, etc.).
func DefaultConfig() Config {
	return Config{
		N1:               N1Default,
		CmuxMode:         ModeBasic,
		ATCommandTimeout: 5 * time.Second,
		WatchdogInterval: 5 * time.Second,
		InitReopenDelay:  5 * time.Second,
	}
}

// SerialPort is the minimal surface LinkStateMachine needs from a modem
// serial connection: read/write the wire bytes, and close it on
// teardown. *github.com/pkg/term.Term satisfies this directly (spec
// section 6, grounded on the teacher's serial_port.go).
type SerialPort interface {
	io.ReadWriteCloser
}

// SerialOpener opens the configured modem device at the given baud
// (0 meaning "leave it alone"), matching serial_port_open's contract in
// the teacher's src/serial_port.go.
type SerialOpener func(device string, baud int) (SerialPort, error)

// ModemPower is the abstract power/wake capability spec section 1 scopes
// out as an external collaborator; internal/power provides a concrete
// GPIO-backed implementation.
type ModemPower interface {
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
	AssertWake() (deassert func())
}

// Trigger is the notification hook the Supervisor receives when the
// muxer enters or leaves MUXING (spec section 6).
type Trigger func(active bool)

// Link is the session-level state machine plus everything it exclusively
// owns: the serial fd, the ingress RingBuffer, and the codec/control
// logic layered over them. A Link is driven entirely by its exported
// Tick, FeedSerial, HandlePty* and Supervisor-facing methods, all of
// which are to be called only from the
// single EventLoop goroutine (spec section 5).
type Link struct {
	cfg       Config
	power     ModemPower
	open      SerialOpener
	onTrigger Trigger

	state  State
	serial SerialPort
	ring   *RingBuffer
	codec  *FrameCodec

	channels *ChannelTable
	control  *ControlChannel

	pingsOutstanding int
	lastFrameTime    time.Time
	dlci0Open        bool

	// ptyWriter delivers a decoded DLCI>0 payload to that channel's pty
	// master. Kept as an injectable func rather than a hard *os.File
	// dependency so tests can substitute a fake (spec section 5's
	// "no hidden statics").
	ptyWriter func(ch *Channel, payload []byte)
}

// NewLink constructs a Link in the OFF state. When a channel is
// allocated the Link sends its opening SABM itself, then calls openHook
// (if non-nil) so the caller can wire the new pty master into its event
// loop; see ChannelTable.
func NewLink(cfg Config, power ModemPower, open SerialOpener, onTrigger Trigger, openHook func(ch *Channel)) *Link {
	l := &Link{
		cfg:       cfg,
		power:     power,
		open:      open,
		onTrigger: onTrigger,
		state:     StateOff,
		ring:      NewRingBuffer(RingCapacity),
		codec:     NewFrameCodec(cfg.CmuxMode, cfg.N1),
	}
	l.channels = NewChannelTable(func(ch *Channel) {
		l.sendSABM(ch.ID)
		if openHook != nil {
			openHook(ch)
		}
	})
	l.control = NewControlChannel(l.channels, cfg.Flags.Enfora)
	return l
}

// State returns the link's current lifecycle state.
func (l *Link) State() State { return l.state }

// Channels returns the link's channel table, for Supervisor use.
func (l *Link) Channels() *ChannelTable { return l.channels }

// Codec returns the link's frame codec, primarily for EventLoop's read
// pump and tests.
func (l *Link) Codec() *FrameCodec { return l.codec }

// Serial returns the currently open serial connection, or nil when none
// is open (always the case in OFF and OPENING).
func (l *Link) Serial() SerialPort { return l.serial }

// RequestPower implements the Supervisor's set_power RPC (spec section 6).
// Turning off while MUXING tears down every open channel, closes the
// serial port, and powers off the modem immediately, landing directly in
// OFF with the watchdog cancelled (spec section 4.D, "any -> OFF").
// Turning on from OFF begins the OPENING sequence on the next watchdog
// tick. Off requests while OPENING/INITIALIZING also land directly in
// OFF, first closing the serial port and powering off the modem if
// OPENING's tick has already opened it.
func (l *Link) RequestPower(ctx context.Context, on bool) {
	if on {
		if l.state == StateOff {
			l.state = StateOpening
		}
		return
	}

	switch l.state {
	case StateMuxing:
		l.teardownChannels()
		if l.serial != nil {
			l.serial.Close()
			l.serial = nil
		}
		if l.power != nil {
			l.power.PowerOff(ctx)
		}
		if l.onTrigger != nil {
			l.onTrigger(false)
		}
		l.dlci0Open = false
		l.state = StateOff
	case StateOpening, StateInitializing:
		if l.serial != nil {
			l.serial.Close()
			l.serial = nil
			if l.power != nil {
				l.power.PowerOff(ctx)
			}
		}
		l.state = StateOff
	}
}

// GetPower implements the Supervisor's get_power RPC.
func (l *Link) GetPower() bool { return l.state != StateOff }

// AllocChannel implements the Supervisor's alloc_channel RPC (spec
// section 6). It only succeeds while MUXING.
func (l *Link) AllocChannel(purpose string) (*Channel, error) {
	if l.state != StateMuxing {
		return nil, fmt.Errorf("muxcore: cannot allocate channel in state %s: %w", l.state, ErrNoBuffer)
	}
	return l.channels.Alloc(purpose)
}

// Tick is called once per watchdog interval (spec section 4.D, 4.F). It
// drives OPENING->INITIALIZING->MUXING and CLOSING->OPENING transitions
// and, while MUXING, liveness checks. It does nothing in OFF; leaving OFF
// is RequestPower's job.
func (l *Link) Tick(ctx context.Context) {
	switch l.state {
	case StateOpening:
		l.doOpen(ctx)
	case StateInitializing:
		l.doInitialize(ctx)
	case StateMuxing:
		l.watchdogTick()
	case StateClosing:
		l.doClose(ctx)
	}
}

func (l *Link) doOpen(ctx context.Context) {
	if l.power != nil {
		if err := l.power.PowerOn(ctx); err != nil {
			l.state = StateClosing
			return
		}
	}

	baud := BaudTable[l.cfg.ATSpeedIndex%len(BaudTable)]
	port, err := l.open(l.cfg.SerialDevice, baud)
	if err != nil {
		l.state = StateClosing
		return
	}
	l.serial = port
	l.ring.resetDecodeState()
	l.state = StateInitializing
}

func (l *Link) doInitialize(ctx context.Context) {
	chat := NewATChat(l.serial)
	timeout := l.cfg.ATCommandTimeout

	send := func(cmd string) error { return chat.Send(ctx, cmd, timeout) }

	if err := send("AT"); err != nil {
		// No reply: best-effort close-down in both modes, then retry once.
		l.serial.Write(NewFrameCodec(ModeBasic, l.cfg.N1).Encode(0, ctrlUIH, true, EncodeCommand(cmdCLD, true, nil)))
		l.serial.Write(NewFrameCodec(ModeAdvanced, l.cfg.N1).Encode(0, ctrlUIH, true, EncodeCommand(cmdCLD, true, nil)))
		if err2 := send("AT"); err2 != nil {
			l.state = StateClosing
			return
		}
	}

	if l.cfg.Flags.ShortInit {
		if err := send("AT+CMUX=1"); err != nil {
			l.state = StateClosing
			return
		}
		l.finishInitialize()
		return
	}

	steps := []string{"ATZ", "ATE0"}
	if l.cfg.Flags.SiemensC35 {
		if idx := l.cfg.PortSpeedIndex; idx > 0 && idx < len(BaudTable) {
			steps = append(steps, fmt.Sprintf("AT+IPR=%d", BaudTable[idx]))
		}
		steps = append(steps, "AT", "AT&S0", `AT\Q3`)
	}
	if l.cfg.PIN != "" {
		steps = append(steps, fmt.Sprintf("AT+CPIN=%s", l.cfg.PIN))
	}
	steps = append(steps, "AT+CFUN=0")

	for _, s := range steps {
		if err := send(s); err != nil {
			l.state = StateClosing
			return
		}
	}

	cmux := fmt.Sprintf("AT+CMUX=%d,%d,%d,%d", int(l.cfg.CmuxMode), l.cfg.CmuxSubset, l.cfg.PortSpeedIndex, l.cfg.N1)
	if err := send(cmux); err != nil {
		l.state = StateClosing
		return
	}

	l.finishInitialize()
}

func (l *Link) finishInitialize() {
	l.codec = NewFrameCodec(l.cfg.CmuxMode, l.cfg.N1)
	l.sendSABM(0)
	l.dlci0Open = false
	l.pingsOutstanding = 0
	l.lastFrameTime = time.Now()
	l.state = StateMuxing
	if l.onTrigger != nil {
		l.onTrigger(true)
	}
}

// sendSABM transmits a SABM|P/F command frame on the given DLCI, waking
// the modem first if configured (spec section 4.D "Wake-up").
func (l *Link) sendSABM(dlci int) {
	l.writeFrame(dlci, ctrlSABM|bitPF, true, nil)
}

// writeFrame is the single chokepoint most outbound frames pass through,
// so wake-up handling stays in one place (spec section 4.D).
func (l *Link) writeFrame(dlci int, ctrl byte, cr bool, payload []byte) {
	l.writeFrameOK(dlci, ctrl, cr, payload)
}

// FeedSerial appends freshly read serial bytes into the Link's
// RingBuffer and drains every complete frame, dispatching each to
// control-channel or channel-data handling. Backpressure (spec section
// 5) happens naturally: callers should only copy min(n, ring.Free())
// bytes per read, which RingBuffer.Write already enforces.
func (l *Link) FeedSerial(data []byte) {
	l.ring.Write(data)
	for {
		frame, ok := l.codec.Decode(l.ring)
		if !ok {
			return
		}
		l.dispatch(frame)
	}
}

func (l *Link) dispatch(frame Frame) {
	l.lastFrameTime = time.Now()
	l.pingsOutstanding = 0

	switch frame.ControlType() {
	case ctrlSABM:
		l.writeFrame(frame.Channel, ctrlUA|bitPF, false, nil)
		if frame.Channel == 0 {
			l.dlci0Open = true
		} else {
			l.channels.MarkOpen(frame.Channel)
		}
	case ctrlUA:
		if frame.Channel == 0 {
			l.dlci0Open = true
		} else {
			l.channels.MarkOpen(frame.Channel)
		}
	case ctrlDM:
		if frame.Channel == 0 {
			l.state = StateClosing
		} else {
			l.channels.Free(frame.Channel)
		}
	case ctrlDISC:
		l.writeFrame(frame.Channel, ctrlUA|bitPF, false, nil)
		if frame.Channel == 0 {
			l.state = StateClosing
		} else {
			l.channels.Free(frame.Channel)
		}
	case ctrlUIH, ctrlUI:
		if frame.Channel == 0 {
			l.dispatchControl(frame)
		} else if ch := l.channels.Get(frame.Channel); ch != nil {
			l.deliverToPty(ch, frame.Payload)
		}
	}
}

func (l *Link) dispatchControl(frame Frame) {
	result := l.control.Handle(frame.PF(), frame.Payload)
	switch result.Action {
	case ActionEnterClosing:
		l.state = StateClosing
	case ActionSendReply:
		ctrl := byte(ctrlUIH)
		if result.ReplyPF {
			ctrl |= bitPF
		}
		l.writeFrame(0, ctrl, false, result.Reply)
		if result.SecondReply != nil {
			l.writeFrame(0, ctrlUIH, true, result.SecondReply)
		}
	}
}

// SetPtyWriter installs the callback that delivers decoded DLCI>0
// payloads to that channel's pty master (spec section 2, "data flow").
func (l *Link) SetPtyWriter(fn func(ch *Channel, payload []byte)) {
	l.ptyWriter = fn
}

func (l *Link) deliverToPty(ch *Channel, payload []byte) {
	if l.ptyWriter != nil {
		l.ptyWriter(ch, payload)
	}
}

func (l *Link) watchdogTick() {
	if l.cfg.PingMax > 0 && l.pingsOutstanding > l.cfg.PingMax {
		l.state = StateClosing
		return
	}
	if l.cfg.SilenceTimeout > 0 && !l.lastFrameTime.IsZero() && time.Since(l.lastFrameTime) > l.cfg.SilenceTimeout {
		l.state = StateClosing
		return
	}

	ping := EncodeCommand(cmdTEST, true, []byte("PING"))
	l.writeFrame(0, ctrlUI, true, ping)
	l.pingsOutstanding++
}

func (l *Link) teardownChannels() {
	for _, id := range l.channels.OpenChannels() {
		l.closeDown(id)
		l.channels.Free(id)
	}
	l.closeDown(0)
}

// closeDown sends a best-effort close-down indication for dlci: a DISC
// for DLCI>0, or the link-level CLD for DLCI 0. Under LegacyPerDLCI, a
// non-zero DLCI is closed the historical way instead: a control-channel
// CLD command framed *on that DLCI* (spec section 9, second Open
// Question) rather than DISC.
func (l *Link) closeDown(dlci int) {
	if dlci == 0 {
		l.writeFrame(0, ctrlUIH, true, EncodeCommand(cmdCLD, true, nil))
		return
	}
	if l.cfg.Flags.LegacyPerDLCI {
		l.writeFrame(dlci, ctrlUIH, true, EncodeCommand(cmdCLD, true, nil))
		return
	}
	l.writeFrame(dlci, ctrlDISC|bitPF, true, nil)
}

// doClose runs on the watchdog tick that finds the link in CLOSING: tear
// down channels, close serial, power off, and schedule a reopen (spec
// section 4.D, "CLOSING -> watchdog tick -> OPENING"). Reaching OFF
// instead happens synchronously in RequestPower, never here.
func (l *Link) doClose(ctx context.Context) {
	l.teardownChannels()
	if l.serial != nil {
		l.serial.Close()
		l.serial = nil
	}
	if l.power != nil {
		l.power.PowerOff(ctx)
	}
	if l.onTrigger != nil {
		l.onTrigger(false)
	}
	l.dlci0Open = false
	l.state = StateOpening
}

// maxWriteRetries bounds the short-write retry loop in HandlePtyRead
// (spec section 4.E, section 7.1).
const maxWriteRetries = 5

// HandlePtyRead is the EventLoop's callback for "data readable on a pty
// master": frame data in chunks of at most N1 bytes as UIH on ch's DLCI,
// retrying a short write up to maxWriteRetries times and stashing any
// unflushed suffix as ch's pending tail. If ch has not completed its
// SABM/UA handshake yet, the read is dropped and SABM is resent instead
// (spec section 4.E).
func (l *Link) HandlePtyRead(ch *Channel, data []byte) {
	if !ch.Opened() {
		l.sendSABM(ch.ID)
		return
	}

	buf := append(l.channels.TakePendingTail(ch.ID), data...)
	n1 := l.codec.N1()

	for len(buf) > 0 {
		chunkLen := n1
		if chunkLen > len(buf) {
			chunkLen = len(buf)
		}
		chunk := buf[:chunkLen]

		sent := false
		for attempt := 0; attempt < maxWriteRetries; attempt++ {
			if l.writeFrameOK(ch.ID, ctrlUIH, true, chunk) {
				sent = true
				break
			}
		}
		if !sent {
			l.channels.SetPendingTail(ch.ID, buf)
			return
		}
		buf = buf[chunkLen:]
	}
}

// writeFrameOK is writeFrame with a success/failure result, used by the
// pty pump's short-write retry loop (spec section 7.1).
func (l *Link) writeFrameOK(dlci int, ctrl byte, cr bool, payload []byte) bool {
	if l.serial == nil {
		return false
	}
	frame := l.codec.Encode(dlci, ctrl, cr, payload)

	if l.cfg.Flags.WakeupSysfs && l.power != nil {
		deassert := l.power.AssertWake()
		defer deassert()
	} else if l.cfg.Flags.WakeupSeq {
		l.serial.Write([]byte{l.codec.FlagByte()})
	}

	n, err := l.serial.Write(frame)
	return err == nil && n == len(frame)
}

// HandlePtyClosed is the EventLoop's callback for read-error/HUP on a
// pty master: emit a best-effort close-down on that DLCI and free the
// slot (spec section 4.E, section 7.4).
func (l *Link) HandlePtyClosed(ch *Channel) {
	l.closeDown(ch.ID)
	l.channels.Free(ch.ID)
}

package muxcore

import "fmt"

/*------------------------------------------------------------------
 *
 * Purpose: The Frame type shared by basic and advanced mode codecs,
 *          and the control-byte bit layout from spec section 6.
 *
 *------------------------------------------------------------------*/

// N1Default is the default maximum information-field length per frame.
const N1Default = 64

// Control frame types, after masking off the P/F bit (0x10).
const (
	ctrlSABM = 0x2F
	ctrlUA   = 0x63
	ctrlDM   = 0x0F
	ctrlDISC = 0x43
	ctrlUIH  = 0xEF
	ctrlUI   = 0x03
)

const (
	bitPF = 0x10
	bitCR = 0x02
	bitEA = 0x01
)

// Frame is an immutable decoded (or to-be-encoded) 07.10 frame.
type Frame struct {
	Channel int
	Control byte
	Payload []byte
}

// PF reports whether the poll/final bit is set on this frame's control byte.
func (f Frame) PF() bool {
	return f.Control&bitPF != 0
}

// ControlType returns the control byte with P/F masked off, for
// comparison against the ctrl* constants.
func (f Frame) ControlType() byte {
	return f.Control &^ bitPF
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame{chan=%d ctrl=0x%02x len=%d}", f.Channel, f.Control, len(f.Payload))
}

// addressByte builds the EA|CR|channel address octet transmitted first
// in every frame. EA is always 1 at transmit: this implementation never
// emits the extended multi-byte DLCI address form.
func addressByte(channel int, cr bool) byte {
	b := byte(channel<<2) | bitEA
	if cr {
		b |= bitCR
	}
	return b
}

// isUI reports whether ctrl identifies a UI frame, which additionally
// covers the payload in its FCS (§4.A).
func isUI(ctrl byte) bool {
	return ctrl&^bitPF == ctrlUI
}

package muxcore

/*------------------------------------------------------------------
 *
 * Purpose: Reversed CRC-8 (poly 0x07) frame check sequence, and the
 *          byte-stuffing used by advanced (HDLC-like) mode framing.
 *
 * Reference: 3GPP TS 07.10 section 5.1.5 / ETSI TS 101 369.
 *
 *------------------------------------------------------------------*/

// fcsInit is the seed fed to every FCS computation.
const fcsInit = 0xFF

// fcsGood is the expected result of folding a valid trailing FCS byte
// back into the running checksum.
const fcsGood = 0xCF

// fcsTable is the 256-entry reversed CRC-8 table for polynomial 0x07.
// Built at init time from the reflected generator (0xE0 is the
// bit-reversal of 0x07 over 8 bits) rather than transcribed, since the
// bit-by-bit construction is the part of 07.10 worth keeping readable.
var fcsTable [256]byte

const fcsReflectedPoly = 0xE0

func init() {
	for i := 0; i < 256; i++ {
		crc := byte(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ fcsReflectedPoly
			} else {
				crc >>= 1
			}
		}
		fcsTable[i] = crc
	}
}

// fcsCompute folds each byte of data into the running FCS seed.
func fcsCompute(seed byte, data []byte) byte {
	fcs := seed
	for _, b := range data {
		fcs = fcsTable[fcs^b]
	}
	return fcs
}

// fcsFinal converts a running FCS accumulation into the value that gets
// transmitted on the wire.
func fcsFinal(fcs byte) byte {
	return 0xFF - fcs
}

// fcsCheck reports whether received, the transmitted FCS byte, is
// consistent with fcs, the running checksum computed over the frame's
// covered bytes not including the FCS byte itself.
func fcsCheck(fcs, received byte) bool {
	return fcsTable[fcs^received] == fcsGood
}

// escapeSet is the set of bytes that must be byte-stuffed in advanced
// mode: the opening/closing flag, the escape byte itself, and the
// XON/XOFF-adjacent control bytes 07.10 reserves.
var escapeSet = [256]bool{
	0x7E: true,
	0x7D: true,
	0x11: true,
	0x91: true,
	0x13: true,
	0x93: true,
}

// basicFlagByte and advFlagByte are 07.10's two distinct frame delimiters:
// basic mode and advanced (HDLC-like) mode do not share one (3GPP TS 07.10
// section 5.2.1 vs section 5.2.2).
const (
	basicFlagByte = 0xF9
	advFlagByte   = 0x7E
	escByte       = 0x7D
	escXorBit     = 0x20
)

// stuffByte appends b to dst, escaping it first if required by advanced
// mode's byte-stuffing rule.
func stuffByte(dst []byte, b byte) []byte {
	if escapeSet[b] {
		return append(dst, escByte, b^escXorBit)
	}
	return append(dst, b)
}

// stuffBytes byte-stuffs every byte of data, in order, onto dst.
func stuffBytes(dst []byte, data []byte) []byte {
	for _, b := range data {
		dst = stuffByte(dst, b)
	}
	return dst
}

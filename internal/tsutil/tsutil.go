// Package tsutil builds elementary stream fixtures: Annex B access units,
// A/53 caption SEI messages and ADTS frames. It is used by tests that need
// realistic bitstreams without sample files.
package tsutil

// AnnexB joins NAL units (header included) with 4-byte start codes.
func AnnexB(nals ...[]byte) []byte {
	var out []byte
	for _, nal := range nals {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, nal...)
	}
	return out
}

// EncodeSEIMessage encodes an SEI message with the given payload type and
// payload bytes, using the multi-byte size encoding when needed.
func EncodeSEIMessage(payloadType int, payload []byte) []byte {
	var out []byte
	for pt := payloadType; ; pt -= 255 {
		if pt < 255 {
			out = append(out, byte(pt))
			break
		}
		out = append(out, 0xFF)
	}
	for ps := len(payload); ; ps -= 255 {
		if ps < 255 {
			out = append(out, byte(ps))
			break
		}
		out = append(out, 0xFF)
	}
	return append(out, payload...)
}

// AddEPB inserts emulation prevention bytes: a 0x03 before any byte <= 0x03
// that follows two zero bytes.
func AddEPB(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0x00 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// CCPair is one CEA-608 byte pair for a caption field. Field 0 carries
// CC1/CC2, field 1 carries CC3/CC4.
type CCPair struct {
	Field    byte
	CC1, CC2 byte
}

// Common CEA-608 control codes for channel 1.
var (
	RollUp2        = [2]byte{0x14, 0x25}
	EraseDisplayed = [2]byte{0x14, 0x2C}
	CarriageReturn = [2]byte{0x14, 0x2D}
	PreambleRow15  = [2]byte{0x14, 0x60}
)

// Control returns a channel 1 control code pair on field 0.
func Control(code [2]byte) CCPair {
	return CCPair{CC1: code[0], CC2: code[1]}
}

// Text returns the character pairs for s on field 0, padding an odd
// length with 0x80.
func Text(s string) []CCPair {
	var out []CCPair
	for i := 0; i < len(s); i += 2 {
		p := CCPair{CC1: s[i], CC2: 0x80}
		if i+1 < len(s) {
			p.CC2 = s[i+1]
		}
		out = append(out, p)
	}
	return out
}

// RollUp returns the pair sequence that shows text in roll-up mode, one
// pair per picture, with control codes doubled as broadcasters send them.
func RollUp(text string) []CCPair {
	var out []CCPair
	for _, code := range [][2]byte{RollUp2, EraseDisplayed, PreambleRow15} {
		out = append(out, Control(code), Control(code))
	}
	return append(out, Text(text)...)
}

// CaptionSEI builds an H.264 SEI NAL unit (header included, no start code)
// carrying the pairs as ATSC A/53 cc_data.
func CaptionSEI(pairs ...CCPair) []byte {
	n := min(len(pairs), 31)
	payload := []byte{
		0xB5,       // country code: United States
		0x00, 0x31, // provider code: ATSC
		'G', 'A', '9', '4',
		0x03, // cc_data
		0x40 | byte(n),
		0xFF, // em_data
	}
	for _, p := range pairs[:n] {
		payload = append(payload, 0xFC|p.Field&0x01, AddParity(p.CC1), AddParity(p.CC2))
	}
	payload = append(payload, 0xFF)

	msg := EncodeSEIMessage(4, payload)
	msg = append(msg, 0x80) // rbsp trailing bits
	return append([]byte{0x06}, AddEPB(msg)...)
}

// AddParity sets the high bit for odd parity.
func AddParity(b byte) byte {
	b &= 0x7F
	ones := 0
	for v := b; v != 0; v >>= 1 {
		ones += int(v & 1)
	}
	if ones%2 == 0 {
		return b | 0x80
	}
	return b
}

// ADTS wraps an AAC payload in a 7-byte ADTS header (no CRC). rateIndex
// is the MPEG-4 sampling frequency index, 3 for 48 kHz and 4 for 44.1 kHz.
func ADTS(rateIndex, channels byte, payload []byte) []byte {
	n := 7 + len(payload)
	h := []byte{
		0xFF,
		0xF1,
		1<<6 | rateIndex<<2 | channels>>2, // AAC-LC
		channels<<6 | byte(n>>11)&0x03,
		byte(n >> 3),
		byte(n&0x07)<<5 | 0x1F,
		0xFC,
	}
	return append(h, payload...)
}

// H.264 parameter sets for a 1280x720 High profile stream whose VUI
// signals 30 fps.
var (
	SPS720p30 = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0x01, 0x6a, 0x04, 0x04, 0x0a, 0x80,
		0x00, 0x00, 0x03, 0x00, 0x80, 0x00, 0x00, 0x1e,
		0x30, 0x20, 0x00, 0x16, 0xe3, 0x60, 0x00, 0x2d,
		0xc6, 0xd2, 0x49, 0x80, 0x7c, 0x60, 0xc6, 0x58,
	}
	PPS = []byte{0x68, 0xCE, 0x38, 0x80}
)

// H264AccessUnit returns an Annex B access unit. Keyframes carry the
// parameter sets and an IDR slice, other pictures a non-IDR slice. The SEI
// NAL units come before the slice.
func H264AccessUnit(keyframe bool, sei ...[]byte) []byte {
	var nals [][]byte
	slice := []byte{0x41, 0x9A, 0x02, 0x11, 0x22}
	if keyframe {
		nals = append(nals, SPS720p30, PPS)
		slice = []byte{0x65, 0x88, 0x84, 0x21, 0x43}
	}
	nals = append(nals, sei...)
	return AnnexB(append(nals, slice)...)
}

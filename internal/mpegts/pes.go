package mpegts

import (
	"errors"
	"fmt"
)

const (
	pesPrefixLen    = 6
	pesOptHeaderLen = 3
	timestampLen    = 5

	// PTS_DTS_flags values.
	flagPTS    = 0b10
	flagPTSDTS = 0b11
)

var errPESStartCode = errors.New("mpegts: PES start code missing")

// PESData is one reassembled PES packet. Timestamps are 33-bit values in
// 90 kHz units, valid only when the matching Has flag is set.
type PESData struct {
	StreamID uint8
	PTS      int64
	DTS      int64
	HasPTS   bool
	HasDTS   bool
	Data     []byte
}

// Timestamp returns the presentation time.
func (p *PESData) Timestamp() (int64, bool) { return p.PTS, p.HasPTS }

// DecodeTimestamp returns the decode time. Without an explicit DTS it
// equals the presentation time.
func (p *PESData) DecodeTimestamp() (int64, bool) {
	if p.HasDTS {
		return p.DTS, true
	}
	return p.PTS, p.HasPTS
}

func hasStartCode(b []byte) bool {
	return len(b) >= 3 && b[0] == 0 && b[1] == 0 && b[2] == 1
}

// headerless reports stream IDs whose packets carry no optional header:
// padding, private_stream_2, ECM, EMM, DSM-CC, H.222.1 type E and the
// program stream directory.
func headerless(id uint8) bool {
	switch id {
	case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return true
	}
	return false
}

// parsePES decodes one PES packet. A zero packet length means the payload
// runs to the end of buf; otherwise trailing bytes past the length are
// dropped.
func parsePES(buf []byte) (*PESData, error) {
	if len(buf) < pesPrefixLen {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(buf))
	}
	if !hasStartCode(buf) {
		return nil, errPESStartCode
	}
	p := &PESData{StreamID: buf[3]}
	end := len(buf)
	if n := int(buf[4])<<8 | int(buf[5]); n > 0 && pesPrefixLen+n <= end {
		end = pesPrefixLen + n
	}
	if headerless(p.StreamID) {
		p.Data = buf[pesPrefixLen:end]
		return p, nil
	}

	opt := buf[pesPrefixLen:end]
	if len(opt) < pesOptHeaderLen {
		return nil, fmt.Errorf("mpegts: PES stream 0x%02X: optional header truncated", p.StreamID)
	}
	flags := opt[1] >> 6
	fields := opt[pesOptHeaderLen:]
	hdrLen := int(opt[2])
	if hdrLen > len(fields) {
		hdrLen = len(fields)
	}
	fields, p.Data = fields[:hdrLen], fields[hdrLen:]

	if flags&flagPTS != 0 && len(fields) >= timestampLen {
		p.PTS, p.HasPTS = decodeTimestamp(fields), true
		if flags == flagPTSDTS && len(fields) >= 2*timestampLen {
			p.DTS, p.HasDTS = decodeTimestamp(fields[timestampLen:]), true
		}
	}
	return p, nil
}

// decodeTimestamp reads the 33-bit value from a 5-byte PTS/DTS field,
// skipping the prefix and marker bits.
func decodeTimestamp(b []byte) int64 {
	hi := int64(b[0]>>1) & 0x07
	mid := int64(b[1])<<7 | int64(b[2]>>1)
	lo := int64(b[3])<<7 | int64(b[4]>>1)
	return hi<<30 | mid<<15 | lo
}

// encodeTimestamp is the inverse of decodeTimestamp; prefix is 0b0010 for a
// lone PTS, 0b0011 for a PTS followed by a DTS and 0b0001 for that DTS.
func encodeTimestamp(prefix byte, ts int64) []byte {
	return []byte{
		prefix<<4 | byte(ts>>29)&0x0E | 0x01,
		byte(ts >> 22),
		byte(ts>>14)&0xFE | 0x01,
		byte(ts >> 7),
		byte(ts<<1)&0xFE | 0x01,
	}
}

// buildPES builds a PES packet. dts is written only when it differs from
// pts; a negative pts omits both. Video packets use the unbounded length.
func buildPES(streamID uint8, pts, dts int64, data []byte) []byte {
	var opt []byte
	var flags byte
	switch {
	case pts < 0:
	case dts >= 0 && dts != pts:
		flags = flagPTSDTS
		opt = append(encodeTimestamp(0x03, pts), encodeTimestamp(0x01, dts)...)
	default:
		flags = flagPTS
		opt = encodeTimestamp(0x02, pts)
	}

	length := pesOptHeaderLen + len(opt) + len(data)
	if streamID >= StreamIDVideo && streamID <= 0xEF || length > 0xFFFF {
		length = 0
	}
	buf := make([]byte, 0, pesPrefixLen+pesOptHeaderLen+len(opt)+len(data))
	buf = append(buf, 0x00, 0x00, 0x01, streamID, byte(length>>8), byte(length))
	buf = append(buf, 0x80, flags<<6, byte(len(opt)))
	buf = append(buf, opt...)
	return append(buf, data...)
}

package mpegts

import "fmt"

const syncByte = 0x47

func parsePacket(buf []byte, offset int64) (*Packet, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), PacketSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X at %d", buf[0], offset)
	}

	flags, ctl := buf[1], buf[3]
	h := PacketHeader{
		PID:            uint16(flags&0x1F)<<8 | uint16(buf[2]),
		Counter:        ctl & 0x0F,
		UnitStart:      flags&0x40 != 0,
		TransportError: flags&0x80 != 0,
		HasAdaptation:  ctl&0x20 != 0,
		HasPayload:     ctl&0x10 != 0,
	}
	body := buf[4:]
	if h.HasAdaptation {
		n := min(int(body[0]), len(body)-1)
		if n > 0 {
			h.Discontinuity = body[1]&0x80 != 0
			h.RandomAccess = body[1]&0x40 != 0
		}
		body = body[1+n:]
	}

	p := &Packet{Header: h, Offset: offset}
	if h.HasPayload && len(body) > 0 {
		p.Payload = append([]byte(nil), body...)
	}
	return p, nil
}

// packetize splits a PES packet or PSI section into transport packets on
// pid. The last packet is padded with adaptation field stuffing. The
// random access flag is set on the first packet when rai is true.
func packetize(data []byte, pid uint16, cc *uint8, rai bool) []byte {
	var out []byte
	first := true
	for len(data) > 0 || first {
		var pkt [PacketSize]byte
		pkt[0] = syncByte
		pkt[1] = byte(pid>>8) & 0x1F
		pkt[2] = byte(pid)
		pkt[3] = 0x10 | *cc&0x0F
		*cc = (*cc + 1) & 0x0F

		var flags byte
		if first {
			pkt[1] |= 0x40
			if rai {
				flags = 0x40
			}
		}

		room := PacketSize - 4
		stuff := 0
		if flags != 0 {
			stuff = 2 // length byte + flags byte
		}
		if len(data) < room-stuff {
			stuff = room - len(data)
		}
		if stuff > 0 {
			pkt[3] |= 0x20
			pkt[4] = byte(stuff - 1)
			if stuff > 1 {
				pkt[5] = flags
				for i := 6; i < 4+stuff; i++ {
					pkt[i] = 0xFF
				}
			}
		}
		n := copy(pkt[4+stuff:], data)
		data = data[n:]
		first = false
		out = append(out, pkt[:]...)
	}
	return out
}

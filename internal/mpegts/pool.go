package mpegts

import "slices"

const pidPAT = 0x0000

// pidBuffer collects the packets of one PID until a unit is complete.
type pidBuffer struct {
	pid     uint16
	psi     bool
	packets []*Packet
}

// add appends p and returns the packets of a completed unit, if any. A new
// payload unit start completes the previous unit; PSI units also complete
// as soon as their sections are whole.
func (b *pidBuffer) add(p *Packet) []*Packet {
	if p.Header.TransportError {
		b.packets = nil
		return nil
	}
	if !p.Header.HasPayload {
		return nil
	}

	if n := len(b.packets); n > 0 && !p.Header.Discontinuity {
		prev := b.packets[n-1].Header.Counter
		if p.Header.Counter != (prev+1)&0x0F {
			if p.Header.Counter == prev {
				return nil // duplicate
			}
			// Lost packets: the buffered unit is incomplete.
			b.packets = nil
		}
	}

	var done []*Packet
	if p.Header.UnitStart && len(b.packets) > 0 {
		done, b.packets = b.packets, nil
	}
	if len(b.packets) == 0 && !p.Header.UnitStart {
		// Continuation of a unit whose start was never seen.
		return done
	}
	b.packets = append(b.packets, p)

	if done == nil && b.psi && sectionsComplete(b.packets) {
		done, b.packets = b.packets, nil
	}
	return done
}

func (b *pidBuffer) flush() []*Packet {
	done := b.packets
	b.packets = nil
	return done
}

// sectionsComplete reports whether the payloads hold every PSI section
// they start.
func sectionsComplete(packets []*Packet) bool {
	payload := joinPayloads(packets)
	if len(payload) < 1 {
		return false
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return false
	}
	for off < len(payload) {
		if payload[off] == 0xFF {
			return true
		}
		if off+3 > len(payload) {
			return false
		}
		if payload[off+1]&0x80 == 0 {
			return true // zero padding
		}
		off += 3 + (int(payload[off+1]&0x0F)<<8 | int(payload[off+2]))
		if off > len(payload) {
			return false
		}
	}
	return true
}

func joinPayloads(packets []*Packet) []byte {
	if len(packets) == 1 {
		return packets[0].Payload
	}
	var out []byte
	for _, p := range packets {
		out = append(out, p.Payload...)
	}
	return out
}

// packetPool routes packets to per-PID buffers. It also remembers which
// PIDs carry PMT sections.
type packetPool struct {
	bufs    map[uint16]*pidBuffer
	pmtPIDs map[uint16]bool
}

func newPacketPool() *packetPool {
	return &packetPool{
		bufs:    make(map[uint16]*pidBuffer),
		pmtPIDs: make(map[uint16]bool),
	}
}

func (pp *packetPool) isPSI(pid uint16) bool {
	return pid == pidPAT || pp.pmtPIDs[pid]
}

func (pp *packetPool) addPMTPID(pid uint16) {
	pp.pmtPIDs[pid] = true
	if b, ok := pp.bufs[pid]; ok {
		b.psi = true
	}
}

func (pp *packetPool) add(p *Packet) []*Packet {
	pid := p.Header.PID
	b, ok := pp.bufs[pid]
	if !ok {
		b = &pidBuffer{pid: pid, psi: pp.isPSI(pid)}
		pp.bufs[pid] = b
	}
	return b.add(p)
}

// reset drops partial units but keeps the PMT PIDs.
func (pp *packetPool) reset() {
	clear(pp.bufs)
}

// dump flushes every buffer in PID order so that the PAT is handled before
// the PMTs it announces.
func (pp *packetPool) dump() [][]*Packet {
	pids := make([]uint16, 0, len(pp.bufs))
	for pid := range pp.bufs {
		pids = append(pids, pid)
	}
	slices.Sort(pids)

	var all [][]*Packet
	for _, pid := range pids {
		if packets := pp.bufs[pid].flush(); len(packets) > 0 {
			all = append(all, packets)
		}
	}
	return all
}

package mpegts

import (
	"context"
	"errors"
	"io"
)

// Demuxer reads transport stream packets from a reader and produces
// DemuxerData for each PAT, PMT and PES unit.
type Demuxer struct {
	reader  io.Reader
	readBuf []byte
	offset  int64
	pool    *packetPool
	pending []*DemuxerData
	eof     bool
}

// NewDemuxer creates a demuxer reading from r, which is positioned at
// byte offset 0 of the stream.
func NewDemuxer(r io.Reader) *Demuxer {
	return &Demuxer{
		reader:  r,
		readBuf: make([]byte, PacketSize),
		pool:    newPacketPool(),
	}
}

// Reset continues demuxing from r, which is positioned at byte offset
// offset of the same stream. Partial units are dropped; known PMT PIDs are
// kept so that tables need not be read again.
func (d *Demuxer) Reset(r io.Reader, offset int64) {
	d.reader = r
	d.offset = offset
	d.pool.reset()
	d.pending = nil
	d.eof = false
}

// Offset returns the byte offset of the next packet to be read.
func (d *Demuxer) Offset() int64 { return d.offset }

// NextData returns the next parsed unit. At the end of the input the
// remaining partial units are flushed, then io.EOF is returned.
func (d *Demuxer) NextData(ctx context.Context) (*DemuxerData, error) {
	for {
		if len(d.pending) > 0 {
			data := d.pending[0]
			d.pending = d.pending[1:]
			return data, nil
		}
		if d.eof {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if _, err := io.ReadFull(d.reader, d.readBuf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				for _, packets := range d.pool.dump() {
					d.queue(packets)
				}
				continue
			}
			return nil, err
		}
		off := d.offset
		d.offset += PacketSize

		pkt, err := parsePacket(d.readBuf, off)
		if err != nil {
			continue // corrupt
		}
		if packets := d.pool.add(pkt); packets != nil {
			d.queue(packets)
		}
	}
}

// queue parses a completed unit and appends the results. PMT PIDs
// announced by a PAT are registered right away.
func (d *Demuxer) queue(packets []*Packet) {
	results := d.parse(packets)
	for _, r := range results {
		if r.PAT == nil {
			continue
		}
		for _, p := range r.PAT.Programs {
			d.pool.addPMTPID(p.PMTPID)
		}
	}
	d.pending = append(d.pending, results...)
}

func (d *Demuxer) parse(packets []*Packet) []*DemuxerData {
	first := packets[0]
	payload := joinPayloads(packets)
	if len(payload) == 0 {
		return nil
	}

	if d.pool.isPSI(first.Header.PID) {
		results, _ := parsePSI(payload, first)
		return results
	}
	if !hasStartCode(payload) {
		return nil
	}
	pes, err := parsePES(payload)
	if err != nil {
		return nil
	}
	return []*DemuxerData{{FirstPacket: first, PES: pes}}
}

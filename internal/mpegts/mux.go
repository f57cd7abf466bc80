package mpegts

import (
	"fmt"
	"io"
)

// Default PIDs used by the muxer.
const (
	PMTPID   uint16 = 0x1000
	VideoPID uint16 = 0x0100
	AudioPID uint16 = 0x0101
)

// Muxer writes a single-program transport stream.
type Muxer struct {
	w       io.Writer
	streams []ElementaryStream
	cc      map[uint16]*uint8
	written int64
}

// NewMuxer creates a muxer writing to w.
func NewMuxer(w io.Writer) *Muxer {
	return &Muxer{w: w, cc: make(map[uint16]*uint8)}
}

// AddStream declares an elementary stream in the PMT. The first stream
// carries the PCR.
func (m *Muxer) AddStream(pid uint16, streamType uint8) {
	m.streams = append(m.streams, ElementaryStream{PID: pid, StreamType: streamType})
}

// Written returns the number of bytes written so far.
func (m *Muxer) Written() int64 { return m.written }

// WriteTables writes a PAT and a PMT for the declared streams.
func (m *Muxer) WriteTables() error {
	if len(m.streams) == 0 {
		return fmt.Errorf("mpegts: no streams declared")
	}
	if err := m.write(pidPAT, buildPAT(1, 1, PMTPID), false); err != nil {
		return err
	}
	return m.write(PMTPID, buildPMT(1, m.streams[0].PID, m.streams), false)
}

// WritePES writes one PES packet on pid. Timestamps are in 90 kHz units;
// a negative pts writes none. keyframe sets the random access indicator.
func (m *Muxer) WritePES(pid uint16, streamID uint8, pts, dts int64, data []byte, keyframe bool) error {
	return m.write(pid, buildPES(streamID, pts, dts, data), keyframe)
}

func (m *Muxer) write(pid uint16, data []byte, rai bool) error {
	cc, ok := m.cc[pid]
	if !ok {
		cc = new(uint8)
		m.cc[pid] = cc
	}
	n, err := m.w.Write(packetize(data, pid, cc, rai))
	m.written += int64(n)
	if err != nil {
		return fmt.Errorf("mpegts: write PID %d: %w", pid, err)
	}
	return nil
}

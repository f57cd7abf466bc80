// Package mpegts reads and writes MPEG transport streams: PAT/PMT discovery,
// PES reassembly with PTS/DTS extraction, and a minimal single-program
// muxer. Every demuxed unit carries the byte offset of its first packet so
// that callers can index a file and later resume reading at a unit.
package mpegts

// PacketSize is the size of one transport stream packet.
const PacketSize = 188

// PMT stream_type values this package knows how to play.
const (
	StreamTypeAAC  uint8 = 0x0F
	StreamTypeH264 uint8 = 0x1B
	StreamTypeH265 uint8 = 0x24
)

// PES stream IDs of the first audio and video stream.
const (
	StreamIDAudio uint8 = 0xC0
	StreamIDVideo uint8 = 0xE0
)

// Packet is one transport packet. Payload excludes the adaptation field.
type Packet struct {
	Header  PacketHeader
	Payload []byte
	Offset  int64 // position of the sync byte in the input
}

// PacketHeader holds the 4-byte header and the adaptation field flags.
type PacketHeader struct {
	PID            uint16
	Counter        uint8
	UnitStart      bool
	TransportError bool
	HasAdaptation  bool
	HasPayload     bool
	Discontinuity  bool
	RandomAccess   bool
}

// DemuxerData is one unit read from the stream; exactly one of PAT, PMT
// and PES is set.
type DemuxerData struct {
	FirstPacket *Packet
	PAT         *PATData
	PMT         *PMTData
	PES         *PESData
}

// PID returns the PID the unit was carried on.
func (d *DemuxerData) PID() uint16 { return d.FirstPacket.Header.PID }

// Offset returns the byte offset of the unit's first packet.
func (d *DemuxerData) Offset() int64 { return d.FirstPacket.Offset }

// PATData lists the programs of a Program Association Table, network PID
// excluded.
type PATData struct {
	Programs []*Program
}

// Program maps a program number to the PID of its PMT.
type Program struct {
	Number uint16
	PMTPID uint16
}

// PMTData is a Program Map Table.
type PMTData struct {
	PCRPID  uint16
	Streams []*ElementaryStream
}

// ElementaryStream is one entry of a PMT stream loop.
type ElementaryStream struct {
	PID        uint16
	StreamType uint8
}

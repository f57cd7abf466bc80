package mpegts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

var errCRC = errors.New("CRC32 mismatch")

// crcTable is the MPEG-2 CRC32 table, polynomial 0x04C11DB7, MSB first.
var crcTable = func() (t [256]uint32) {
	for i := range t {
		crc := uint32(i) << 24
		for range 8 {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

func crc32MPEG(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// verifyCRC32 checks a section that ends in its CRC. The CRC over such a
// section is zero.
func verifyCRC32(section []byte) error {
	if len(section) < 4 {
		return fmt.Errorf("section too short for CRC32")
	}
	if crc32MPEG(section) != 0 {
		return errCRC
	}
	return nil
}

// parsePSI parses every PAT and PMT section in a PSI payload. Other tables
// are skipped.
func parsePSI(payload []byte, first *Packet) ([]*DemuxerData, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("mpegts: PSI payload too short")
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return nil, fmt.Errorf("mpegts: PSI pointer field out of range")
	}

	var results []*DemuxerData
	for off+3 <= len(payload) {
		tableID := payload[off]
		if tableID == 0xFF || payload[off+1]&0x80 == 0 {
			break // stuffing or padding
		}
		end := off + 3 + (int(payload[off+1]&0x0F)<<8 | int(payload[off+2]))
		if end > len(payload) {
			break
		}
		section := payload[off:end]
		off = end

		switch tableID {
		case tableIDPAT:
			pat, err := parsePATSection(section)
			if err != nil {
				return results, err
			}
			results = append(results, &DemuxerData{FirstPacket: first, PAT: pat})
		case tableIDPMT:
			pmt, err := parsePMTSection(section)
			if err != nil {
				return results, err
			}
			results = append(results, &DemuxerData{FirstPacket: first, PMT: pmt})
		}
	}
	return results, nil
}

// parsePATSection reads the program loop of a PAT: 8 header bytes, 4 bytes
// per program and a trailing CRC.
func parsePATSection(data []byte) (*PATData, error) {
	if err := verifyCRC32(data); err != nil {
		return nil, fmt.Errorf("mpegts: PAT %w", err)
	}
	if len(data) < 12 {
		return nil, fmt.Errorf("mpegts: PAT too short")
	}

	pat := &PATData{}
	for i := 8; i+4 <= len(data)-4; i += 4 {
		num := binary.BigEndian.Uint16(data[i:])
		if num == 0 {
			continue // network PID
		}
		pat.Programs = append(pat.Programs, &Program{
			Number: num,
			PMTPID: binary.BigEndian.Uint16(data[i+2:]) & 0x1FFF,
		})
	}
	return pat, nil
}

// parsePMTSection reads the PCR PID and the elementary stream loop of a
// PMT. Descriptors are skipped.
func parsePMTSection(data []byte) (*PMTData, error) {
	if err := verifyCRC32(data); err != nil {
		return nil, fmt.Errorf("mpegts: PMT %w", err)
	}
	if len(data) < 16 {
		return nil, fmt.Errorf("mpegts: PMT too short")
	}

	pmt := &PMTData{PCRPID: binary.BigEndian.Uint16(data[8:]) & 0x1FFF}
	off := 12 + int(binary.BigEndian.Uint16(data[10:])&0x0FFF)
	for off+5 <= len(data)-4 {
		pmt.Streams = append(pmt.Streams, &ElementaryStream{
			PID:        binary.BigEndian.Uint16(data[off+1:]) & 0x1FFF,
			StreamType: data[off],
		})
		off += 5 + int(binary.BigEndian.Uint16(data[off+3:])&0x0FFF)
	}
	return pmt, nil
}

// section finishes a PSI section: it fills in the length field, appends
// the CRC and prefixes the pointer field.
func section(body []byte) []byte {
	n := len(body) - 3 + 4
	body[1] = 0xB0 | byte(n>>8)&0x0F
	body[2] = byte(n)
	body = binary.BigEndian.AppendUint32(body, crc32MPEG(body))
	return append([]byte{0x00}, body...)
}

func buildPAT(tsID, program, pmtPID uint16) []byte {
	body := []byte{tableIDPAT, 0, 0, byte(tsID >> 8), byte(tsID), 0xC1, 0x00, 0x00}
	body = binary.BigEndian.AppendUint16(body, program)
	body = binary.BigEndian.AppendUint16(body, 0xE000|pmtPID)
	return section(body)
}

func buildPMT(program, pcrPID uint16, streams []ElementaryStream) []byte {
	body := []byte{tableIDPMT, 0, 0, byte(program >> 8), byte(program), 0xC1, 0x00, 0x00}
	body = binary.BigEndian.AppendUint16(body, 0xE000|pcrPID)
	body = append(body, 0xF0, 0x00)
	for _, es := range streams {
		body = append(body, es.StreamType)
		body = binary.BigEndian.AppendUint16(body, 0xE000|es.PID)
		body = append(body, 0xF0, 0x00)
	}
	return section(body)
}

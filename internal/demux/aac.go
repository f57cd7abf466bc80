package demux

import (
	"errors"
	"slices"
	"time"

	"github.com/Eyevinn/mp4ff/aac"
)

// ErrInvalidADTS is returned when the ADTS sync word or header is malformed.
var ErrInvalidADTS = errors.New("invalid ADTS header")

// AACSamplesPerFrame is the number of PCM samples one AAC-LC frame decodes to.
const AACSamplesPerFrame = 1024

const (
	adtsHeaderLen   = 7
	adtsCRCLen      = 2
	adtsMaxFrameLen = 1<<13 - 1
	adtsMaxChannels = 7
)

// Indexed by sampling_frequency_index.
var aacSampleRates = []int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// AACFrame is a single AAC frame parsed from ADTS.
type AACFrame struct {
	Data       []byte // header and payload
	Payload    []byte // raw access unit
	SampleRate int
	Channels   int
}

// Duration returns how long the frame plays.
func (f AACFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(AACSamplesPerFrame) * time.Second / time.Duration(f.SampleRate)
}

func adtsSync(b []byte) bool { return b[0] == 0xFF && b[1]>>4 == 0x0F }

// readADTS decodes the frame at the start of b. It reports ok false when b
// holds only part of the frame.
func readADTS(b []byte) (f AACFrame, ok bool, err error) {
	rateIdx := int(b[2]>>2) & 0x0F
	if rateIdx >= len(aacSampleRates) {
		return f, false, ErrInvalidADTS
	}
	hdr := adtsHeaderLen
	if b[1]&0x01 == 0 {
		hdr += adtsCRCLen
	}
	size := int(b[3]&0x03)<<11 | int(b[4])<<3 | int(b[5]>>5)
	if size < hdr || size > len(b) {
		return f, false, nil
	}
	return AACFrame{
		Data:       b[:size],
		Payload:    b[hdr:size],
		SampleRate: aacSampleRates[rateIdx],
		Channels:   int(b[2]&0x01)<<2 | int(b[3]>>6),
	}, true, nil
}

// ParseADTS splits an ADTS byte stream into AAC frames, resynchronizing on
// the sync word after garbage. A truncated trailing frame is dropped.
func ParseADTS(data []byte) ([]AACFrame, error) {
	var frames []AACFrame
	for len(data) >= adtsHeaderLen {
		if !adtsSync(data) {
			data = data[1:]
			continue
		}
		f, ok, err := readADTS(data)
		if err != nil {
			return frames, err
		}
		if !ok {
			break
		}
		frames = append(frames, f)
		data = data[len(f.Data):]
	}
	return frames, nil
}

// ADTSHeader returns the 7-byte ADTS header, without CRC, for an AAC-LC
// frame carrying payloadLen bytes.
func ADTSHeader(sampleRate, channels, payloadLen int) ([]byte, error) {
	if !slices.Contains(aacSampleRates, sampleRate) ||
		channels < 1 || channels > adtsMaxChannels ||
		payloadLen < 0 || payloadLen+adtsHeaderLen > adtsMaxFrameLen {
		return nil, ErrInvalidADTS
	}
	h, err := aac.NewADTSHeader(sampleRate, byte(channels), aac.AAClc, uint16(payloadLen))
	if err != nil {
		return nil, errors.Join(ErrInvalidADTS, err)
	}
	return h.Encode(), nil
}

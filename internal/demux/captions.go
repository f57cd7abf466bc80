package demux

import (
	"github.com/zsiec/ccx"
)

// CaptionDecoder turns the A/53 caption data in video SEI messages into
// caption text. It keeps CEA-608 decoder state for CC1-CC4 and CEA-708
// state for services 1-6, so SEI must be fed in decode order.
type CaptionDecoder struct {
	cea608Decs map[int]*ccx.CEA608Decoder
	cea708Svcs map[int]*ccx.CEA708Service
	dtvccBuf   []byte

	// CEA-608 control codes are sent twice; the repeat is dropped.
	lastCtrl      [2][2]byte
	lastWasCtrl   [2]bool
	lastCtrlFrame [2]int64
	pictures      int64
}

// NewCaptionDecoder creates a decoder with empty caption memories.
func NewCaptionDecoder() *CaptionDecoder {
	d := &CaptionDecoder{
		cea608Decs: make(map[int]*ccx.CEA608Decoder),
		cea708Svcs: make(map[int]*ccx.CEA708Service),
	}
	for ch := 1; ch <= 4; ch++ {
		d.cea608Decs[ch] = ccx.NewCEA608Decoder()
	}
	for svc := 1; svc <= 6; svc++ {
		d.cea708Svcs[svc] = ccx.NewCEA708Service()
	}
	return d
}

// Reset drops all caption state, as after a seek.
func (d *CaptionDecoder) Reset() {
	*d = *NewCaptionDecoder()
}

// Decode feeds the SEI NAL units of one picture presented at pts and
// returns the captions whose displayed text changed. 708 services are
// reported on channels 7-12.
func (d *CaptionDecoder) Decode(sei [][]byte, pts int64) []*ccx.CaptionFrame {
	d.pictures++
	var out []*ccx.CaptionFrame
	for _, nal := range sei {
		cd := ccx.ExtractCaptions(nal)
		if cd == nil {
			continue
		}
		for _, pair := range cd.CC608Pairs {
			cc1, cc2 := pair.Data[0], pair.Data[1]
			if d.repeatedControl(int(pair.Field), cc1, cc2) {
				continue
			}
			dec := d.cea608Decs[pair.Channel]
			if dec == nil {
				continue
			}
			if text := dec.Decode(cc1, cc2); text != "" {
				out = append(out, &ccx.CaptionFrame{PTS: pts, Text: text, Channel: pair.Channel, Regions: dec.StyledRegions()})
			}
		}
		for _, t := range cd.DTVCC {
			if t.Start {
				out = append(out, d.drainDTVCC(pts)...)
				d.dtvccBuf = d.dtvccBuf[:0]
			}
			d.dtvccBuf = append(d.dtvccBuf, t.Data[0], t.Data[1])
		}
	}
	return out
}

func (d *CaptionDecoder) repeatedControl(field int, cc1, cc2 byte) bool {
	if field < 0 || field > 1 {
		return false
	}
	if cc1 < 0x10 || cc1 > 0x1F {
		d.lastWasCtrl[field] = false
		return false
	}
	cp := [2]byte{cc1, cc2}
	if d.lastWasCtrl[field] && d.lastCtrl[field] == cp && d.pictures-d.lastCtrlFrame[field] <= 2 {
		d.lastWasCtrl[field] = false
		return true
	}
	d.lastCtrl[field] = cp
	d.lastWasCtrl[field] = true
	d.lastCtrlFrame[field] = d.pictures
	return false
}

func (d *CaptionDecoder) drainDTVCC(pts int64) []*ccx.CaptionFrame {
	if len(d.dtvccBuf) < 1 {
		return nil
	}
	size := ccx.DTVCCPacketSize(d.dtvccBuf[0])
	if len(d.dtvccBuf) < size {
		return nil
	}

	var out []*ccx.CaptionFrame
	for _, block := range ccx.ParseDTVCCPacket(d.dtvccBuf[:size]) {
		svc := d.cea708Svcs[block.ServiceNum]
		if svc == nil || !svc.ProcessBlock(block.Data) {
			continue
		}
		if text := svc.DisplayText(); text != "" {
			out = append(out, &ccx.CaptionFrame{PTS: pts, Text: text, Channel: block.ServiceNum + 6, Regions: svc.StyledRegions()})
		}
	}
	d.dtvccBuf = d.dtvccBuf[size:]
	return out
}

// HasCaptions reports whether any of the SEI NAL units carries A/53
// caption data, padding included.
func HasCaptions(sei [][]byte) bool {
	for _, nal := range sei {
		if cd := ccx.ExtractCaptions(nal); cd != nil && (len(cd.CC608Pairs) > 0 || len(cd.DTVCC) > 0) {
			return true
		}
	}
	return false
}

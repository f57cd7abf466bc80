package demux

import (
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/hevc"
)

// VideoParams are the picture parameters carried in a sequence parameter
// set.
type VideoParams struct {
	Width  int
	Height int
	// FrameRate comes from the VUI timing info, zero if absent.
	FrameRate float64
	// Codec is the RFC 6381 codec string.
	Codec string
}

// H264Params decodes an H.264 SPS NAL unit, header byte included.
func H264Params(nalu []byte) (VideoParams, error) {
	if len(nalu) < 4 {
		return VideoParams{}, fmt.Errorf("demux: H.264 SPS too short (%d bytes)", len(nalu))
	}
	sps, err := avc.ParseSPSNALUnit(nalu, true)
	if err != nil {
		return VideoParams{}, fmt.Errorf("demux: H.264 SPS: %w", err)
	}
	p := VideoParams{
		Width:  int(sps.Width),
		Height: int(sps.Height),
		Codec:  fmt.Sprintf("avc1.%02X%02X%02X", sps.Profile, sps.ProfileCompatibility, sps.Level),
	}
	if vui := sps.VUI; vui != nil && vui.TimingInfoPresentFlag && vui.NumUnitsInTick > 0 {
		p.FrameRate = float64(vui.TimeScale) / float64(2*vui.NumUnitsInTick)
	}
	return p, nil
}

// H265Params decodes an H.265 SPS NAL unit, 2-byte header included.
func H265Params(nalu []byte) (VideoParams, error) {
	if len(nalu) < 4 {
		return VideoParams{}, fmt.Errorf("demux: H.265 SPS too short (%d bytes)", len(nalu))
	}
	sps, err := hevc.ParseSPSNALUnit(nalu)
	if err != nil {
		return VideoParams{}, fmt.Errorf("demux: H.265 SPS: %w", err)
	}
	w, h := sps.ImageSize()
	return VideoParams{Width: int(w), Height: int(h), Codec: hevc.CodecString("hvc1", sps)}, nil
}

// IsH265SPS reports whether nalu is an H.265 sequence parameter set.
func IsH265SPS(nalu []byte) bool {
	return len(nalu) > 0 && hevc.GetNaluType(nalu[0]) == hevc.NALU_SPS
}

// h265IRAP covers the BLA, IDR and CRA picture types where decoding can
// start.
func h265IRAP(t hevc.NaluType) bool { return t >= 16 && t <= 23 }

// AccessUnit summarizes one coded picture in Annex B form.
type AccessUnit struct {
	Keyframe bool
	// SEI holds the SEI NAL units, header included, in stream order.
	SEI [][]byte
	// Params from an SPS carried in this unit; zero otherwise.
	VideoParams
}

// InspectH264 scans an H.264 access unit.
func InspectH264(data []byte) AccessUnit {
	var au AccessUnit
	for _, nalu := range avc.ExtractNalusFromByteStream(data) {
		if len(nalu) == 0 {
			continue
		}
		switch avc.GetNaluType(nalu[0]) {
		case avc.NALU_SPS:
			// An SPS only appears at a random access point in the streams
			// we read.
			au.Keyframe = true
			if p, err := H264Params(nalu); err == nil {
				au.VideoParams = p
			}
		case avc.NALU_IDR:
			au.Keyframe = true
		case avc.NALU_SEI:
			au.SEI = append(au.SEI, nalu)
		}
	}
	return au
}

// InspectH265 scans an H.265 access unit.
func InspectH265(data []byte) AccessUnit {
	var au AccessUnit
	for _, nalu := range avc.ExtractNalusFromByteStream(data) {
		if len(nalu) < 2 {
			continue
		}
		switch t := hevc.GetNaluType(nalu[0]); {
		case t == hevc.NALU_SPS:
			if p, err := H265Params(nalu); err == nil {
				au.VideoParams = p
			}
		case h265IRAP(t):
			au.Keyframe = true
		case t == hevc.NALU_SEI_PREFIX && len(nalu) > 2:
			au.SEI = append(au.SEI, nalu)
		}
	}
	return au
}

package crihca

import (
	"fmt"
	"slices"

	"haruki-hca-codec/utils/bitio"
)

// FrameSummary is the unpacked side information of one frame.
type FrameSummary struct {
	Index              int              `json:"index" msgpack:"index"`
	NoiseLevel         int              `json:"noise_level" msgpack:"noise_level"`
	EvaluationBoundary int              `json:"evaluation_boundary" msgpack:"evaluation_boundary"`
	LeftoverBits       int              `json:"leftover_bits" msgpack:"leftover_bits"`
	Ambiguous          bool             `json:"ambiguous,omitempty" msgpack:"ambiguous,omitempty"`
	Channels           []ChannelSummary `json:"channels" msgpack:"channels"`
}

type ChannelSummary struct {
	Type         string `json:"type" msgpack:"type"`
	DeltaBits    int    `json:"delta_bits" msgpack:"delta_bits"`
	ScaleFactors []int  `json:"scale_factors" msgpack:"scale_factors"`
	Resolutions  []int  `json:"resolutions" msgpack:"resolutions"`
	Intensity    []int  `json:"intensity,omitempty" msgpack:"intensity,omitempty"`
	HfrScales    []int  `json:"hfr_scales,omitempty" msgpack:"hfr_scales,omitempty"`
}

// Inspect unpacks every frame of a without synthesizing audio. Encrypted
// streams must be decrypted first.
func Inspect(a *Audio) ([]FrameSummary, error) {
	info := a.Info
	if info.EncryptionType != CipherNone {
		return nil, fmt.Errorf("%w: stream is encrypted with cipher type %d", ErrFormat, info.EncryptionType)
	}
	frame, err := NewFrame(info)
	if err != nil {
		return nil, err
	}

	r := bitio.NewReader(nil)
	summaries := make([]FrameSummary, 0, len(a.Frames))
	for i, data := range a.Frames {
		if len(data) < info.FrameSize {
			return nil, fmt.Errorf("%w: frame %d has %d bytes", ErrFormat, i, len(data))
		}
		r.Reset(data[:info.FrameSize])
		ok, err := Unpack(frame, r)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		summaries = append(summaries, summarize(frame, i, r.Remaining(), !ok))
	}
	return summaries, nil
}

func summarize(f *Frame, index, leftover int, ambiguous bool) FrameSummary {
	s := FrameSummary{
		Index:              index,
		NoiseLevel:         f.AcceptableNoiseLevel,
		EvaluationBoundary: f.EvaluationBoundary,
		LeftoverBits:       leftover,
		Ambiguous:          ambiguous,
		Channels:           make([]ChannelSummary, len(f.Channels)),
	}
	for c, ch := range f.Channels {
		n := ch.CodedScaleFactorCount
		cs := ChannelSummary{
			Type:         ch.Type.String(),
			DeltaBits:    ch.ScaleFactorDeltaBits,
			ScaleFactors: slices.Clone(ch.ScaleFactors[:n]),
			Resolutions:  slices.Clone(ch.Resolution[:n]),
		}
		if ch.Type == StereoSecondary {
			cs.Intensity = slices.Clone(ch.Intensity[:])
		} else if f.Info.HfrGroupCount > 0 {
			cs.HfrScales = slices.Clone(ch.HfrScales[:f.Info.HfrGroupCount])
		}
		s.Channels[c] = cs
	}
	return s
}

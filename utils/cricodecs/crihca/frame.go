package crihca

import (
	"fmt"
	"math"

	"haruki-hca-codec/utils/mdct"
)

type ChannelType int

const (
	Discrete ChannelType = iota
	StereoPrimary
	StereoSecondary
)

func (t ChannelType) String() string {
	switch t {
	case StereoPrimary:
		return "stereo-primary"
	case StereoSecondary:
		return "stereo-secondary"
	default:
		return "discrete"
	}
}

var (
	subframeWindow = mdct.VorbisWindow(SamplesPerSubframe)
	mdctScale      = math.Sqrt(2.0 / SamplesPerSubframe)
)

// Channel holds the per-channel state of a stream. It is reused for every
// frame; only the transform history carries meaning across frames.
type Channel struct {
	Type                  ChannelType
	CodedScaleFactorCount int

	ScaleFactorDeltaBits int
	ScaleFactors         [SamplesPerSubframe]int
	Resolution           [SamplesPerSubframe]int
	Intensity            [SubframesPerFrame]int
	HfrScales            [SamplesPerSubframe]int
	HeaderLengthBits     int

	Gain             [SamplesPerSubframe]float64
	QuantizedSpectra [SubframesPerFrame][SamplesPerSubframe]int
	Spectra          [SubframesPerFrame][SamplesPerSubframe]float64
	ScaledSpectra    [SamplesPerSubframe][SubframesPerFrame]float64
	PcmFloat         [SubframesPerFrame][SamplesPerSubframe]float64

	hfrGroupAverages [SamplesPerSubframe]float64
	mdct             *mdct.MDCT
}

// Frame is the working state shared by the packer, decoder and encoder.
type Frame struct {
	Info     *Info
	Channels []*Channel
	AthCurve [SamplesPerSubframe]byte

	AcceptableNoiseLevel int
	EvaluationBoundary   int
}

func NewFrame(info *Info) (*Frame, error) {
	if err := validateLayout(info); err != nil {
		return nil, err
	}

	types := channelTypes(info)
	f := &Frame{
		Info:     info,
		Channels: make([]*Channel, info.ChannelCount),
	}
	for i := range f.Channels {
		m, err := mdct.New(subframeBits, subframeWindow, mdctScale)
		if err != nil {
			return nil, err
		}
		ch := &Channel{Type: types[i], mdct: m}
		if ch.Type == StereoSecondary {
			ch.CodedScaleFactorCount = info.BaseBandCount
		} else {
			ch.CodedScaleFactorCount = info.BaseBandCount + info.StereoBandCount
		}
		f.Channels[i] = ch
	}

	if info.UseAthCurve {
		f.AthCurve = scaleAthCurve(info.SampleRate)
	}
	return f, nil
}

// Reset clears the transform history of every channel.
func (f *Frame) Reset() {
	for _, ch := range f.Channels {
		ch.mdct.Reset()
	}
}

func validateLayout(info *Info) error {
	if info.ChannelCount < 1 || info.ChannelCount > maxChannels {
		return fmt.Errorf("%w: channel count %d must be 1 to %d", ErrConfig, info.ChannelCount, maxChannels)
	}
	if info.TrackCount < 1 || info.TrackCount > info.ChannelCount {
		return fmt.Errorf("%w: track count %d for %d channels", ErrConfig, info.TrackCount, info.ChannelCount)
	}
	if info.TotalBandCount > SamplesPerSubframe ||
		info.BaseBandCount+info.StereoBandCount > SamplesPerSubframe ||
		info.BaseBandCount < 0 || info.StereoBandCount < 0 {
		return fmt.Errorf("%w: band layout %d/%d/%d", ErrConfig, info.BaseBandCount, info.StereoBandCount, info.TotalBandCount)
	}
	if info.HfrGroupCount > SamplesPerSubframe {
		return fmt.Errorf("%w: %d HFR groups", ErrConfig, info.HfrGroupCount)
	}
	return nil
}

// channelTypes assigns stereo roles per track. Without stereo bands every
// channel is coded on its own.
func channelTypes(info *Info) []ChannelType {
	types := make([]ChannelType, info.ChannelCount)
	perTrack := info.ChannelCount / info.TrackCount
	if info.StereoBandCount == 0 || perTrack <= 1 {
		return types
	}

	const p, s, d = StereoPrimary, StereoSecondary, Discrete
	var layout []ChannelType
	switch perTrack {
	case 2:
		layout = []ChannelType{p, s}
	case 3:
		layout = []ChannelType{p, s, d}
	case 4:
		if info.ChannelConfig == 0 {
			layout = []ChannelType{p, s, p, s}
		} else {
			layout = []ChannelType{p, s, d, d}
		}
	case 5:
		if info.ChannelConfig <= 2 {
			layout = []ChannelType{p, s, d, p, s}
		} else {
			layout = []ChannelType{p, s, d, d, d}
		}
	case 6:
		layout = []ChannelType{p, s, d, d, p, s}
	case 7:
		layout = []ChannelType{p, s, d, d, p, s, d}
	case 8:
		layout = []ChannelType{p, s, d, d, p, s, p, s}
	default:
		return types
	}

	for track := 0; track < info.TrackCount; track++ {
		copy(types[track*perTrack:], layout)
	}
	return types
}

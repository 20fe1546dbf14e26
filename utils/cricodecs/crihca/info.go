package crihca

// Info describes one HCA stream. It is filled once, either by the encoder
// setup or by ParseHeader, and not changed while frames are processed.
type Info struct {
	Version    int
	HeaderSize int

	ChannelCount int
	SampleRate   int
	SampleCount  int
	FrameCount   int
	FrameSize    int

	InsertedSamples int
	AppendedSamples int

	MinResolution int
	MaxResolution int
	TrackCount    int
	ChannelConfig int

	TotalBandCount   int
	BaseBandCount    int
	StereoBandCount  int
	HfrBandCount     int
	BandsPerHfrGroup int
	HfrGroupCount    int

	Looping         bool
	LoopStartFrame  int
	LoopEndFrame    int
	PreLoopSamples  int
	PostLoopSamples int

	EncryptionType int
	UseAthCurve    bool
	Volume         float32
	Comment        string
}

// CalculateHfrValues derives the HFR band and group counts from the band
// layout.
func (h *Info) CalculateHfrValues() {
	if h.BandsPerHfrGroup <= 0 {
		h.HfrBandCount = 0
		h.HfrGroupCount = 0
		return
	}
	h.HfrBandCount = h.TotalBandCount - h.BaseBandCount - h.StereoBandCount
	if h.HfrBandCount < 0 {
		h.HfrBandCount = 0
	}
	h.HfrGroupCount = divideRoundUp(h.HfrBandCount, h.BandsPerHfrGroup)
}

// LoopStartSample is the first sample of the loop, in output samples.
func (h *Info) LoopStartSample() int {
	return h.LoopStartFrame*SamplesPerFrame + h.PreLoopSamples - h.InsertedSamples
}

// LoopEndSample is the sample just past the end of the loop.
func (h *Info) LoopEndSample() int {
	return (h.LoopEndFrame+1)*SamplesPerFrame - h.PostLoopSamples - h.InsertedSamples
}

// Bitrate is the stream bitrate in bits per second.
func (h *Info) Bitrate() int {
	if h.SampleRate == 0 {
		return 0
	}
	return h.FrameSize * 8 * h.SampleRate / SamplesPerFrame
}

// DataSize is the byte length of the frames following the header.
func (h *Info) DataSize() int {
	return h.FrameSize * h.FrameCount
}

func divideRoundUp(value, divisor int) int {
	if divisor <= 0 {
		return 0
	}
	return (value + divisor - 1) / divisor
}

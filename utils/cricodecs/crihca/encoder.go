package crihca

import (
	"fmt"
	"math"

	"haruki-hca-codec/utils/bitio"
)

type Quality int

const (
	QualityNotSet Quality = iota
	QualityHighest
	QualityHigh
	QualityMiddle
	QualityLow
	QualityLowest
)

// ParseQuality accepts the names used in config files and query strings.
func ParseQuality(s string) (Quality, error) {
	switch s {
	case "", "default":
		return QualityNotSet, nil
	case "highest":
		return QualityHighest, nil
	case "high":
		return QualityHigh, nil
	case "middle":
		return QualityMiddle, nil
	case "low":
		return QualityLow, nil
	case "lowest":
		return QualityLowest, nil
	}
	return QualityNotSet, fmt.Errorf("%w: unknown quality %q", ErrConfig, s)
}

func (q Quality) String() string {
	switch q {
	case QualityHighest:
		return "highest"
	case QualityHigh:
		return "high"
	case QualityMiddle:
		return "middle"
	case QualityLow:
		return "low"
	case QualityLowest:
		return "lowest"
	}
	return "default"
}

// EncoderParams describes the stream to encode. Bitrate, when nonzero,
// overrides the quality preset.
type EncoderParams struct {
	ChannelCount int
	SampleRate   int
	SampleCount  int

	Quality      Quality
	Bitrate      int
	LimitBitrate bool

	Looping   bool
	LoopStart int
	LoopEnd   int

	// ChannelConfig is used only when HasChannelConfig is set; otherwise the
	// default mapping for the channel count applies.
	ChannelConfig    int
	HasChannelConfig bool

	Comment string
	Volume  float32
}

// Encoder turns 1024-sample blocks of PCM into HCA frames.
type Encoder struct {
	info     *Info
	quality  Quality
	bitrate  int
	cutoff   int
	frame    *Frame
	channels []*Channel

	pcmBuffer        [][]int16
	bufferPosition   int
	bufferPreSamples int
	samplesProcessed int
	framesProcessed  int
	postSamples      int
	postAudio        [][]int16

	pending [][]byte
}

func NewEncoder(p EncoderParams) (*Encoder, error) {
	if p.ChannelCount < 1 || p.ChannelCount > maxChannels {
		return nil, fmt.Errorf("%w: channel count %d must be 1 to %d", ErrConfig, p.ChannelCount, maxChannels)
	}
	if p.SampleRate < 1 || p.SampleRate > 0x7FFFFF {
		return nil, fmt.Errorf("%w: sample rate %d", ErrConfig, p.SampleRate)
	}
	if p.SampleCount < 0 {
		return nil, fmt.Errorf("%w: sample count %d", ErrConfig, p.SampleCount)
	}
	if p.Looping && (p.LoopStart < 0 || p.LoopEnd <= p.LoopStart || p.LoopStart >= p.SampleCount) {
		return nil, fmt.Errorf("%w: loop %d-%d in %d samples", ErrConfig, p.LoopStart, p.LoopEnd, p.SampleCount)
	}

	e := &Encoder{
		quality:     p.Quality,
		cutoff:      p.SampleRate / 2,
		postSamples: 128,
	}
	volume := p.Volume
	if volume == 0 {
		volume = 1
	}
	info := &Info{
		Version:         0x0200,
		ChannelCount:    p.ChannelCount,
		TrackCount:      1,
		SampleCount:     p.SampleCount,
		SampleRate:      p.SampleRate,
		MinResolution:   1,
		MaxResolution:   15,
		InsertedSamples: SamplesPerSubframe,
		Volume:          volume,
		Comment:         p.Comment,
	}
	e.info = info

	e.bitrate = calculateBitrate(info, p.Quality, p.Bitrate, p.LimitBitrate)
	if e.bitrate <= 0 {
		return nil, fmt.Errorf("%w: bitrate %d", ErrConfig, e.bitrate)
	}
	calculateBandCounts(info, e.bitrate, e.cutoff)
	if info.FrameSize < 8 || info.FrameSize > 0xFFFF {
		return nil, fmt.Errorf("%w: bitrate %d gives a %d byte frame", ErrConfig, e.bitrate, info.FrameSize)
	}
	info.CalculateHfrValues()

	config := -1
	if p.HasChannelConfig {
		config = p.ChannelConfig
	}
	if err := setChannelConfiguration(info, config); err != nil {
		return nil, err
	}

	inputSamples := info.SampleCount
	if p.Looping {
		info.Looping = true
		info.SampleCount = min(p.LoopEnd, p.SampleCount)
		info.InsertedSamples += bitio.NextMultiple(p.LoopStart, SamplesPerFrame) - p.LoopStart
		calculateLoopInfo(info, p.LoopStart, p.LoopEnd)
		inputSamples = min(bitio.NextMultiple(info.SampleCount, SamplesPerSubframe), p.SampleCount)
		inputSamples += SamplesPerSubframe * 2
		e.postSamples = inputSamples - info.SampleCount
	}

	commentLength, err := commentChunkLength(info.Comment)
	if err != nil {
		return nil, err
	}
	calculateHeaderSize(info, commentLength)

	info.FrameCount = divideRoundUp(inputSamples+info.InsertedSamples, SamplesPerFrame)
	info.AppendedSamples = info.FrameCount*SamplesPerFrame - info.InsertedSamples - inputSamples

	frame, err := NewFrame(info)
	if err != nil {
		return nil, err
	}
	e.frame = frame
	e.channels = frame.Channels
	e.pcmBuffer = makePcm(info.ChannelCount, SamplesPerFrame)
	e.postAudio = makePcm(info.ChannelCount, e.postSamples)
	e.bufferPreSamples = info.InsertedSamples - 128

	logger.Debugf("encoder: %d ch %d Hz, %d bps, frame %d bytes x %d, bands %d/%d/%d, hfr groups %d",
		info.ChannelCount, info.SampleRate, e.bitrate, info.FrameSize, info.FrameCount,
		info.BaseBandCount, info.StereoBandCount, info.TotalBandCount, info.HfrGroupCount)
	return e, nil
}

func makePcm(channels, samples int) [][]int16 {
	pcm := make([][]int16, channels)
	for i := range pcm {
		pcm[i] = make([]int16, samples)
	}
	return pcm
}

func (e *Encoder) Info() *Info { return e.info }

func (e *Encoder) Quality() Quality { return e.quality }

func (e *Encoder) Bitrate() int { return e.bitrate }

func (e *Encoder) CutoffFrequency() int { return e.cutoff }

func (e *Encoder) FrameSize() int { return e.info.FrameSize }

func (e *Encoder) FramesProcessed() int { return e.framesProcessed }

// PendingFrameCount is the number of frames waiting in the queue. They must
// all be taken with PendingFrame before Encode is called again.
func (e *Encoder) PendingFrameCount() int { return len(e.pending) }

// PendingFrame removes and returns the oldest queued frame.
func (e *Encoder) PendingFrame() ([]byte, error) {
	if len(e.pending) == 0 {
		return nil, fmt.Errorf("%w: no pending frames", ErrSequencing)
	}
	frame := e.pending[0]
	e.pending[0] = nil
	e.pending = e.pending[1:]
	return frame, nil
}

// Encode consumes one block of SamplesPerFrame samples per channel and
// returns how many frames were completed. The first goes to out, the rest
// are queued.
func (e *Encoder) Encode(pcm [][]int16, out []byte) (int, error) {
	if e.framesProcessed >= e.info.FrameCount {
		return 0, fmt.Errorf("%w: all %d frames have already been output", ErrSequencing, e.info.FrameCount)
	}
	if len(e.pending) > 0 {
		return 0, fmt.Errorf("%w: %d pending frames not collected", ErrSequencing, len(e.pending))
	}
	if len(pcm) < e.info.ChannelCount {
		return 0, fmt.Errorf("%w: pcm has %d channels, want %d", ErrConfig, len(pcm), e.info.ChannelCount)
	}
	for c := 0; c < e.info.ChannelCount; c++ {
		if len(pcm[c]) < SamplesPerFrame {
			return 0, fmt.Errorf("%w: channel %d has %d samples, want %d", ErrConfig, c, len(pcm[c]), SamplesPerFrame)
		}
	}
	if len(out) < e.info.FrameSize {
		return 0, fmt.Errorf("%w: output holds %d bytes, frame needs %d", bitio.ErrBufferFull, len(out), e.info.FrameSize)
	}

	s := &encodeStep{out: out}
	if e.bufferPreSamples > 0 {
		if err := e.encodePreAudio(pcm, s); err != nil {
			return s.frames, err
		}
	}

	info := e.info
	if info.Looping && info.LoopStartSample()+e.postSamples >= e.samplesProcessed &&
		info.LoopStartSample() < e.samplesProcessed+SamplesPerFrame {
		e.saveLoopAudio(pcm)
	}

	pcmPosition := 0
	for pcmPosition < SamplesPerFrame && info.SampleCount > e.samplesProcessed {
		n := min(SamplesPerFrame-e.bufferPosition, SamplesPerFrame-pcmPosition, info.SampleCount-e.samplesProcessed)
		for c := range e.pcmBuffer {
			copy(e.pcmBuffer[c][e.bufferPosition:e.bufferPosition+n], pcm[c][pcmPosition:pcmPosition+n])
		}
		e.bufferPosition += n
		e.samplesProcessed += n
		pcmPosition += n
		if err := e.outputFrame(s); err != nil {
			return s.frames, err
		}
	}

	if info.SampleCount == e.samplesProcessed {
		if err := e.encodePostAudio(s); err != nil {
			return s.frames, err
		}
	}
	return s.frames, nil
}

type encodeStep struct {
	out    []byte
	frames int
}

func (e *Encoder) encodePreAudio(pcm [][]int16, s *encodeStep) error {
	for e.bufferPreSamples > SamplesPerFrame {
		e.bufferPosition = SamplesPerFrame
		if err := e.outputFrame(s); err != nil {
			return err
		}
		e.bufferPreSamples -= SamplesPerFrame
	}

	for c := range e.pcmBuffer {
		first := pcm[c][0]
		buf := e.pcmBuffer[c][:e.bufferPreSamples]
		for i := range buf {
			buf[i] = first
		}
	}
	e.bufferPosition = e.bufferPreSamples
	e.bufferPreSamples = 0
	return nil
}

func (e *Encoder) encodePostAudio(s *encodeStep) error {
	for pos := 0; pos < e.postSamples; {
		n := min(SamplesPerFrame-e.bufferPosition, e.postSamples-pos)
		for c := range e.pcmBuffer {
			copy(e.pcmBuffer[c][e.bufferPosition:e.bufferPosition+n], e.postAudio[c][pos:pos+n])
		}
		e.bufferPosition += n
		pos += n
		if err := e.outputFrame(s); err != nil {
			return err
		}
	}

	for e.framesProcessed < e.info.FrameCount {
		for c := range e.pcmBuffer {
			clear(e.pcmBuffer[c][e.bufferPosition:])
		}
		e.bufferPosition = SamplesPerFrame
		if err := e.outputFrame(s); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) saveLoopAudio(pcm [][]int16) {
	loopStart := e.info.LoopStartSample()
	start := max(loopStart-e.samplesProcessed, 0)
	loopPos := max(e.samplesProcessed-loopStart, 0)
	end := min(loopStart-e.samplesProcessed+e.postSamples, SamplesPerFrame)
	if end <= start {
		return
	}
	for c := range e.postAudio {
		copy(e.postAudio[c][loopPos:], pcm[c][start:end])
	}
}

// outputFrame encodes the buffer once it holds a whole frame.
func (e *Encoder) outputFrame(s *encodeStep) error {
	if e.bufferPosition != SamplesPerFrame {
		return nil
	}

	out := s.out
	if s.frames > 0 {
		out = make([]byte, e.info.FrameSize)
	}
	if err := e.encodeFrame(out); err != nil {
		return fmt.Errorf("frame %d: %w", e.framesProcessed, err)
	}
	if s.frames > 0 {
		e.pending = append(e.pending, out)
	}
	e.bufferPosition = 0
	e.framesProcessed++
	s.frames++
	return nil
}

func calculateBitrate(info *Info, quality Quality, bitrate int, limit bool) int {
	pcmBitrate := info.SampleRate * info.ChannelCount * 16
	maxBitrate := pcmBitrate / 4
	minBitrate := 0

	ratio := 6
	switch quality {
	case QualityHighest:
		ratio = 4
	case QualityHigh:
		ratio = 6
	case QualityMiddle:
		ratio = 8
	case QualityLow:
		ratio = 12
		if info.ChannelCount == 1 {
			ratio = 10
		}
	case QualityLowest:
		ratio = 16
		if info.ChannelCount == 1 {
			ratio = 12
		}
	}

	if bitrate == 0 {
		bitrate = pcmBitrate / ratio
	}
	if limit {
		floor := 32000 * info.ChannelCount
		if info.ChannelCount == 1 {
			floor = 42666
		}
		minBitrate = min(floor, pcmBitrate/6)
	}
	return max(minBitrate, min(bitrate, maxBitrate))
}

func calculateBandCounts(info *Info, bitrate, cutoff int) {
	info.FrameSize = bitrate * 1024 / info.SampleRate / 8
	pcmBitrate := info.SampleRate * info.ChannelCount * 16

	// HFR kicks in below pcmBitrate/hfrRatio; the cutoff drops below
	// pcmBitrate/cutoffRatio.
	hfrRatio, cutoffRatio := 6, 12
	if info.ChannelCount > 1 && pcmBitrate/bitrate > 6 {
		hfrRatio, cutoffRatio = 8, 16
	}
	if bitrate < pcmBitrate/cutoffRatio {
		cutoff = min(cutoff, cutoffRatio*bitrate/(32*info.ChannelCount))
	}

	total := int(math.Round(float64(cutoff) * 256 / float64(info.SampleRate)))
	hfrStart := min(total, int(math.Round(float64(hfrRatio)*float64(bitrate)*128/float64(pcmBitrate))))
	stereoStart := hfrStart
	if hfrRatio != 6 {
		stereoStart = (hfrStart + 1) / 2
	}

	hfrBands := total - hfrStart
	bandsPerGroup := divideRoundUp(hfrBands, 8)
	groups := 0
	if bandsPerGroup > 0 {
		groups = divideRoundUp(hfrBands, bandsPerGroup)
	}

	info.TotalBandCount = total
	info.BaseBandCount = stereoStart
	info.StereoBandCount = hfrStart - stereoStart
	info.HfrGroupCount = groups
	info.BandsPerHfrGroup = bandsPerGroup
}

func setChannelConfiguration(info *Info, config int) error {
	perTrack := info.ChannelCount / info.TrackCount
	if config == -1 {
		config = defaultChannelMapping[perTrack]
	}
	if config < 0 || config >= len(validChannelMappings[perTrack-1]) || !validChannelMappings[perTrack-1][config] {
		return fmt.Errorf("%w: channel configuration %d is not valid for %d channels", ErrConfig, config, perTrack)
	}
	info.ChannelConfig = config
	return nil
}

func calculateLoopInfo(info *Info, loopStart, loopEnd int) {
	loopStart += info.InsertedSamples
	loopEnd += info.InsertedSamples

	info.LoopStartFrame = loopStart / SamplesPerFrame
	info.PreLoopSamples = loopStart % SamplesPerFrame
	info.LoopEndFrame = loopEnd / SamplesPerFrame
	info.PostLoopSamples = SamplesPerFrame - loopEnd%SamplesPerFrame

	if info.PostLoopSamples == SamplesPerFrame {
		info.LoopEndFrame--
		info.PostLoopSamples = 0
	}
}

// calculateHeaderSize sizes the header, and for looping streams pads it so
// the loop start frame lands on a 2048 byte boundary in the file.
func calculateHeaderSize(info *Info, commentLength int) {
	const (
		baseHeaderSize      = 96
		baseHeaderAlignment = 32
		loopFrameAlignment  = 2048
	)

	info.HeaderSize = bitio.NextMultiple(baseHeaderSize+commentLength, baseHeaderAlignment)
	if !info.Looping {
		return
	}

	loopFrameOffset := info.HeaderSize + info.FrameSize*info.LoopStartFrame
	paddingBytes := bitio.NextMultiple(loopFrameOffset, loopFrameAlignment) - loopFrameOffset
	paddingFrames := paddingBytes / info.FrameSize

	info.InsertedSamples += paddingFrames * SamplesPerFrame
	info.LoopStartFrame += paddingFrames
	info.LoopEndFrame += paddingFrames
	info.HeaderSize += paddingBytes % info.FrameSize
}

package crihca

import (
	"fmt"

	"haruki-hca-codec/utils/bitio"
)

// Decoder turns frames of one stream back into 16-bit PCM. Frames must be
// fed in order; call Reset before jumping elsewhere in the stream.
type Decoder struct {
	info   *Info
	frame  *Frame
	reader *bitio.Reader
}

func NewDecoder(info *Info) (*Decoder, error) {
	frame, err := NewFrame(info)
	if err != nil {
		return nil, err
	}
	return &Decoder{info: info, frame: frame, reader: bitio.NewReader(nil)}, nil
}

func (d *Decoder) Info() *Info { return d.info }

// Frame exposes the working state after the last DecodeFrame call.
func (d *Decoder) Frame() *Frame { return d.frame }

func (d *Decoder) Reset() { d.frame.Reset() }

// DecodeFrame decodes one frame into pcm, which holds one slice of at least
// SamplesPerFrame samples per channel.
func (d *Decoder) DecodeFrame(data []byte, pcm [][]int16) error {
	if len(data) < d.info.FrameSize {
		return fmt.Errorf("%w: frame has %d bytes, want %d", ErrFormat, len(data), d.info.FrameSize)
	}
	if len(pcm) < d.info.ChannelCount {
		return fmt.Errorf("%w: pcm has %d channels, want %d", ErrConfig, len(pcm), d.info.ChannelCount)
	}
	for c := 0; c < d.info.ChannelCount; c++ {
		if len(pcm[c]) < SamplesPerFrame {
			return fmt.Errorf("%w: channel %d has room for %d samples, want %d", ErrConfig, c, len(pcm[c]), SamplesPerFrame)
		}
	}

	d.reader.Reset(data[:d.info.FrameSize])
	if _, err := Unpack(d.frame, d.reader); err != nil {
		return err
	}
	d.synthesize()
	for c, ch := range d.frame.Channels {
		pcmFloatToInt16(ch, pcm[c])
	}
	return nil
}

// synthesize rebuilds the time-domain samples of every channel from the
// unpacked frame.
func (d *Decoder) synthesize() {
	f := d.frame
	for _, ch := range f.Channels {
		dequantize(ch)
	}
	reconstructHighFrequency(f)
	applyIntensityStereo(f)
	for sf := 0; sf < SubframesPerFrame; sf++ {
		for _, ch := range f.Channels {
			ch.mdct.Inverse(ch.Spectra[sf][:], ch.PcmFloat[sf][:])
		}
	}
}

func dequantize(ch *Channel) {
	n := ch.CodedScaleFactorCount
	for b := 0; b < n; b++ {
		ch.Gain[b] = dequantizerScaling[ch.ScaleFactors[b]] * quantizerStepSize[ch.Resolution[b]]
	}
	for sf := 0; sf < SubframesPerFrame; sf++ {
		for b := 0; b < n; b++ {
			ch.Spectra[sf][b] = float64(ch.QuantizedSpectra[sf][b]) * ch.Gain[b]
		}
	}
}

func reconstructHighFrequency(f *Frame) {
	info := f.Info
	if info.HfrGroupCount == 0 {
		return
	}

	// The top coefficient is never reconstructed.
	totalBands := min(info.TotalBandCount, SamplesPerSubframe-1)
	start := info.BaseBandCount + info.StereoBandCount
	bandCount := min(info.HfrBandCount, totalBands-info.HfrBandCount)

	for _, ch := range f.Channels {
		if ch.Type == StereoSecondary {
			continue
		}
		for group, band := 0, 0; group < info.HfrGroupCount; group++ {
			for i := 0; i < info.BandsPerHfrGroup && band < bandCount; i++ {
				high := start + band
				low := start - band - 1
				scale := scaleConversion[ch.HfrScales[group]-ch.ScaleFactors[low]+64]
				for sf := 0; sf < SubframesPerFrame; sf++ {
					ch.Spectra[sf][high] = scale * ch.Spectra[sf][low]
				}
				band++
			}
		}
	}
}

func applyIntensityStereo(f *Frame) {
	info := f.Info
	if info.StereoBandCount <= 0 {
		return
	}
	total := min(info.TotalBandCount, SamplesPerSubframe)
	for c := 0; c+1 < len(f.Channels); c++ {
		if f.Channels[c].Type != StereoPrimary {
			continue
		}
		primary, secondary := f.Channels[c], f.Channels[c+1]
		for sf := 0; sf < SubframesPerFrame; sf++ {
			l := &primary.Spectra[sf]
			r := &secondary.Spectra[sf]
			ratioL := intensityRatio[secondary.Intensity[sf]]
			ratioR := 2 - ratioL
			for b := info.BaseBandCount; b < total; b++ {
				r[b] = l[b] * ratioR
				l[b] *= ratioL
			}
		}
	}
}

func pcmFloatToInt16(ch *Channel, out []int16) {
	for sf := 0; sf < SubframesPerFrame; sf++ {
		base := sf * SamplesPerSubframe
		for i, v := range ch.PcmFloat[sf] {
			out[base+i] = clamp16(int(v * 32768))
		}
	}
}

func clamp16(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

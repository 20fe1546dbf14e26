package crihca

import (
	"fmt"
	"math"
)

// Scaled coefficients are kept strictly inside (-1, 1) so that rounding
// never lands on the next quantizer step.
const scaledLimit = 0.999999999999

func (e *Encoder) encodeFrame(out []byte) error {
	f := e.frame
	pcmToFloat(e.pcmBuffer, e.channels)
	for _, ch := range e.channels {
		for sf := 0; sf < SubframesPerFrame; sf++ {
			ch.mdct.Forward(ch.PcmFloat[sf][:], ch.Spectra[sf][:])
		}
	}
	encodeIntensityStereo(f)
	calculateScaleFactors(e.channels)
	scaleSpectra(e.channels)
	calculateHfrGroupAverages(f)
	calculateHfrScale(f)
	calculateFrameHeaderLength(f)
	if err := calculateNoiseLevel(f); err != nil {
		return err
	}
	if err := calculateEvaluationBoundary(f); err != nil {
		return err
	}
	calculateFrameResolutions(f)
	quantizeSpectra(e.channels)
	return Pack(f, out)
}

func pcmToFloat(pcm [][]int16, channels []*Channel) {
	for c, ch := range channels {
		for sf := 0; sf < SubframesPerFrame; sf++ {
			src := pcm[c][sf*SamplesPerSubframe : (sf+1)*SamplesPerSubframe]
			for i, v := range src {
				ch.PcmFloat[sf][i] = float64(v) / 32768
			}
		}
	}
}

// encodeIntensityStereo folds each secondary channel's upper bands into its
// primary and stores the left/right balance per subframe.
func encodeIntensityStereo(f *Frame) {
	info := f.Info
	if info.StereoBandCount <= 0 {
		return
	}
	total := min(info.TotalBandCount, SamplesPerSubframe)

	for c := 0; c+1 < len(f.Channels); c++ {
		if f.Channels[c].Type != StereoPrimary {
			continue
		}
		secondary := f.Channels[c+1]
		for sf := 0; sf < SubframesPerFrame; sf++ {
			l := &f.Channels[c].Spectra[sf]
			r := &secondary.Spectra[sf]

			var energyL, energyR, energyTotal float64
			for b := info.BaseBandCount; b < total; b++ {
				energyL += math.Abs(l[b])
				energyR += math.Abs(r[b])
				energyTotal += math.Abs(l[b] + r[b])
			}
			energyTotal *= 2

			energyLR := energyL + energyR
			quantized := 0
			ratio := 1.0
			if energyLR > 0 {
				stored := 2 * energyL / energyLR
				ratio = max(0.5, min(energyLR/energyTotal, math.Sqrt2/2))
				quantized = 1
				for quantized < 13 && intensityRatioBounds[quantized] >= stored {
					quantized++
				}
			}
			secondary.Intensity[sf] = quantized

			for b := info.BaseBandCount; b < total; b++ {
				l[b] = (l[b] + r[b]) * ratio
				r[b] = 0
			}
		}
	}
}

func calculateScaleFactors(channels []*Channel) {
	for _, ch := range channels {
		for b := 0; b < ch.CodedScaleFactorCount; b++ {
			peak := 0.0
			for sf := 0; sf < SubframesPerFrame; sf++ {
				peak = max(peak, math.Abs(ch.Spectra[sf][b]))
			}
			ch.ScaleFactors[b] = findScaleFactor(peak)
		}
		clear(ch.ScaleFactors[ch.CodedScaleFactorCount:])
	}
}

func scaleSpectra(channels []*Channel) {
	for _, ch := range channels {
		for b := 0; b < ch.CodedScaleFactorCount; b++ {
			scaled := &ch.ScaledSpectra[b]
			sf := ch.ScaleFactors[b]
			for i := range scaled {
				if sf == 0 {
					scaled[i] = 0
					continue
				}
				v := ch.Spectra[i][b] * quantizerScaling[sf]
				scaled[i] = max(-scaledLimit, min(v, scaledLimit))
			}
		}
	}
}

func calculateHfrGroupAverages(f *Frame) {
	info := f.Info
	if info.HfrGroupCount == 0 {
		return
	}
	start := info.BaseBandCount + info.StereoBandCount
	for _, ch := range f.Channels {
		if ch.Type == StereoSecondary {
			continue
		}
		for group, band := 0, start; group < info.HfrGroupCount; group++ {
			sum := 0.0
			count := 0
			for i := 0; i < info.BandsPerHfrGroup && band < SamplesPerSubframe; i++ {
				for sf := 0; sf < SubframesPerFrame; sf++ {
					sum += math.Abs(ch.Spectra[sf][band])
				}
				count += SubframesPerFrame
				band++
			}
			ch.hfrGroupAverages[group] = 0
			if count > 0 {
				ch.hfrGroupAverages[group] = sum / float64(count)
			}
		}
	}
}

// calculateHfrScale picks the per-group gain the decoder applies to the
// mirrored low bands.
func calculateHfrScale(f *Frame) {
	info := f.Info
	if info.HfrGroupCount == 0 {
		return
	}
	start := info.BaseBandCount + info.StereoBandCount
	bandCount := min(info.HfrBandCount, info.TotalBandCount-info.HfrBandCount)

	for _, ch := range f.Channels {
		if ch.Type == StereoSecondary {
			continue
		}
		for group, band := 0, 0; group < info.HfrGroupCount; group++ {
			sum := 0.0
			count := 0
			for i := 0; i < info.BandsPerHfrGroup && band < bandCount; i++ {
				for sf := 0; sf < SubframesPerFrame; sf++ {
					sum += math.Abs(ch.ScaledSpectra[start-band-1][sf])
				}
				count += SubframesPerFrame
				band++
			}

			if count > 0 {
				if avg := sum / float64(count); avg > 0 {
					ch.hfrGroupAverages[group] *= min(1/avg, math.Sqrt2)
				}
			}
			ch.HfrScales[group] = findScaleFactor(ch.hfrGroupAverages[group])
		}
	}
}

func calculateFrameHeaderLength(f *Frame) {
	for _, ch := range f.Channels {
		calculateOptimalDeltaLength(ch)
		if ch.Type == StereoSecondary {
			ch.HeaderLengthBits += 4 * SubframesPerFrame
		} else {
			ch.HeaderLengthBits += 6 * f.Info.HfrGroupCount
		}
	}
}

// calculateOptimalDeltaLength chooses the scale factor delta width giving
// the shortest channel header.
func calculateOptimalDeltaLength(ch *Channel) {
	scales := ch.ScaleFactors[:ch.CodedScaleFactorCount]
	empty := true
	for _, v := range scales {
		if v != 0 {
			empty = false
			break
		}
	}
	if empty {
		ch.HeaderLengthBits = 3
		ch.ScaleFactorDeltaBits = 0
		return
	}

	bestBits := 6
	bestLength := 3 + 6*len(scales)
	for deltaBits := 1; deltaBits < 6; deltaBits++ {
		maxDelta := 1<<uint(deltaBits-1) - 1
		length := 3 + 6
		for b := 1; b < len(scales); b++ {
			delta := scales[b] - scales[b-1]
			if delta > maxDelta || delta < -maxDelta {
				length += deltaBits + 6
			} else {
				length += deltaBits
			}
		}
		if length < bestLength {
			bestLength = length
			bestBits = deltaBits
		}
	}
	ch.HeaderLengthBits = bestLength
	ch.ScaleFactorDeltaBits = bestBits
}

// calculateNoiseLevel finds the lowest noise level whose frame fits. When
// none does, the two highest coded bands are dropped and the search rerun.
func calculateNoiseLevel(f *Frame) error {
	highestBand := f.Info.BaseBandCount + f.Info.StereoBandCount - 1
	availableBits := f.Info.FrameSize * 8

	level := binarySearchLevel(f.Channels, availableBits, 0, 255)
	for level < 0 {
		highestBand -= 2
		if highestBand < 0 {
			return fmt.Errorf("%w: %d bits per frame", ErrBitrateTooLow, availableBits)
		}
		for _, ch := range f.Channels {
			ch.ScaleFactors[highestBand+1] = 0
			ch.ScaleFactors[highestBand+2] = 0
		}
		calculateFrameHeaderLength(f)
		level = binarySearchLevel(f.Channels, availableBits, 0, 255)
	}
	f.AcceptableNoiseLevel = level
	return nil
}

func calculateEvaluationBoundary(f *Frame) error {
	if f.AcceptableNoiseLevel == 0 {
		f.EvaluationBoundary = 0
		return nil
	}
	boundary := binarySearchBoundary(f.Channels, f.Info.FrameSize*8, f.AcceptableNoiseLevel, 0, 127)
	if boundary < 0 {
		return fmt.Errorf("%w: no evaluation boundary fits noise level %d", ErrBitrateTooLow, f.AcceptableNoiseLevel)
	}
	f.EvaluationBoundary = boundary
	return nil
}

// binarySearchLevel returns the smallest level in [low, high] whose cost
// fits, or -1.
func binarySearchLevel(channels []*Channel, availableBits, low, high int) int {
	limit := high
	midValue := 0
	for low != high {
		mid := (low + high) / 2
		midValue = calculateUsedBits(channels, mid, 0)
		if midValue > availableBits {
			low = mid + 1
		} else {
			high = mid
		}
	}
	if low == limit && midValue > availableBits {
		return -1
	}
	return low
}

// binarySearchBoundary returns the largest boundary in [low, high] whose
// cost at noiseLevel fits, or -1.
func binarySearchBoundary(channels []*Channel, availableBits, noiseLevel, low, high int) int {
	limit := high
	for high-low > 1 {
		mid := (low + high) / 2
		if calculateUsedBits(channels, noiseLevel, mid) > availableBits {
			high = mid - 1
		} else {
			low = mid
		}
	}
	if low == high {
		if low < limit {
			return low
		}
		return -1
	}
	if calculateUsedBits(channels, noiseLevel, high) > availableBits {
		return low
	}
	return high
}

// calculateUsedBits is the exact packed size of the frame for the given
// rate control parameters: sync, noise level, boundary, checksum, channel
// headers and every spectral code.
func calculateUsedBits(channels []*Channel, noiseLevel, evalBoundary int) int {
	length := 16 + 16 + 16
	for _, ch := range channels {
		length += ch.HeaderLengthBits
		for b := 0; b < ch.CodedScaleFactorCount; b++ {
			noise := noiseLevel
			if b < evalBoundary {
				noise--
			}
			res := CalculateResolution(ch.ScaleFactors[b], noise)
			if res == 0 {
				continue
			}
			for _, s := range ch.ScaledSpectra[b] {
				length += spectrumBits(quantize(s, res), res)
			}
		}
	}
	return length
}

func calculateFrameResolutions(f *Frame) {
	for _, ch := range f.Channels {
		for b := 0; b < ch.CodedScaleFactorCount; b++ {
			noise := f.AcceptableNoiseLevel
			if b < f.EvaluationBoundary {
				noise--
			}
			ch.Resolution[b] = CalculateResolution(ch.ScaleFactors[b], noise)
		}
		clear(ch.Resolution[ch.CodedScaleFactorCount:])
	}
}

func quantizeSpectra(channels []*Channel) {
	for _, ch := range channels {
		for b := 0; b < ch.CodedScaleFactorCount; b++ {
			res := ch.Resolution[b]
			for sf, s := range ch.ScaledSpectra[b] {
				ch.QuantizedSpectra[sf][b] = quantize(s, res)
			}
		}
	}
}

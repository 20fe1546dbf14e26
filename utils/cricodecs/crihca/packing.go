package crihca

import (
	"fmt"

	"haruki-hca-codec/utils/bitio"
)

// Leftover bit range that marks an unpack as plausible. Frames decoded with
// the wrong key tend to run long or stop far short of the checksum.
const (
	minLeftoverBits = 16
	maxLeftoverBits = 128
)

// CalculateResolution maps a scale factor and noise level to a bit
// allocation class 0-15.
func CalculateResolution(scaleFactor, noiseLevel int) int {
	if scaleFactor == 0 {
		return 0
	}
	pos := noiseLevel - 5*scaleFactor/2 + 2
	pos = max(0, min(pos, len(scaleToResolutionCurve)-1))
	return scaleToResolutionCurve[pos]
}

// quantize rounds a scaled coefficient in (-1, 1) to the integer grid of res.
func quantize(scaled float64, res int) int {
	if res == 0 {
		return 0
	}
	inv := quantizerInverseStepSize[res]
	return int(scaled*inv+inv+1) - int(inv+0.5)
}

// spectrumBits is the coded size of quantized value q at resolution res.
func spectrumBits(q, res int) int {
	switch {
	case res == 0:
		return 0
	case res < 8:
		return quantizeSpectrumBits[res][q+8]
	case q == 0:
		return quantizedSpectrumMaxBits[res] - 1
	default:
		return quantizedSpectrumMaxBits[res]
	}
}

// Unpack reads one frame into f. The boolean is false when the leftover
// bits do not look like a correctly decoded frame; errors are reserved for
// frames that cannot be parsed at all.
func Unpack(f *Frame, r *bitio.Reader) (bool, error) {
	if sync := r.Read(16); sync != syncWord {
		return false, fmt.Errorf("%w: bad frame sync %#04x", ErrFormat, sync)
	}
	f.AcceptableNoiseLevel = r.ReadInt(9)
	f.EvaluationBoundary = r.ReadInt(7)

	for i, ch := range f.Channels {
		if err := readScaleFactors(ch, r); err != nil {
			return false, fmt.Errorf("channel %d: %w", i, err)
		}
		for b := 0; b < ch.CodedScaleFactorCount; b++ {
			noise := int(f.AthCurve[b]) + f.AcceptableNoiseLevel
			if b < f.EvaluationBoundary {
				noise--
			}
			ch.Resolution[b] = CalculateResolution(ch.ScaleFactors[b], noise)
		}
		clear(ch.Resolution[ch.CodedScaleFactorCount:])

		if ch.Type == StereoSecondary {
			for sf := range ch.Intensity {
				ch.Intensity[sf] = r.ReadInt(4)
			}
		} else {
			for g := 0; g < f.Info.HfrGroupCount; g++ {
				ch.HfrScales[g] = r.ReadInt(6)
			}
		}
	}

	for sf := 0; sf < SubframesPerFrame; sf++ {
		for _, ch := range f.Channels {
			readSpectra(ch, r, sf)
		}
	}

	return unpackSucceeded(f, r), nil
}

func readScaleFactors(ch *Channel, r *bitio.Reader) error {
	ch.ScaleFactorDeltaBits = r.ReadInt(3)
	count := ch.CodedScaleFactorCount
	switch {
	case ch.ScaleFactorDeltaBits == 0:
		clear(ch.ScaleFactors[:])
		return nil
	case ch.ScaleFactorDeltaBits >= 6:
		for b := 0; b < count; b++ {
			ch.ScaleFactors[b] = r.ReadInt(6)
		}
	case count > 0:
		if err := deltaDecode(r, ch.ScaleFactorDeltaBits, ch.ScaleFactors[:count]); err != nil {
			return err
		}
	}
	clear(ch.ScaleFactors[count:])
	return nil
}

func deltaDecode(r *bitio.Reader, deltaBits int, out []int) error {
	out[0] = r.ReadInt(6)
	maxDelta := 1 << uint(deltaBits-1)
	for i := 1; i < len(out); i++ {
		delta := r.ReadOffsetBinary(deltaBits, bitio.BiasPositive)
		if delta >= maxDelta {
			out[i] = r.ReadInt(6)
			continue
		}
		v := out[i-1] + delta
		if v < 0 || v > maxScaleFactor {
			return fmt.Errorf("%w: scale factor delta leaves range at band %d", ErrFormat, i)
		}
		out[i] = v
	}
	return nil
}

func readSpectra(ch *Channel, r *bitio.Reader, sf int) {
	q := &ch.QuantizedSpectra[sf]
	for b := 0; b < ch.CodedScaleFactorCount; b++ {
		res := ch.Resolution[b]
		bits := quantizedSpectrumMaxBits[res]
		code := r.Peek(bits)
		if res < 8 {
			q[b] = quantizedSpectrumValue[res][code]
			bits = quantizedSpectrumBits[res][code]
		} else {
			// Low bit is the sign, and is absent for zero.
			v := int(code / 2)
			if code&1 == 1 {
				v = -v
			}
			if v == 0 {
				bits--
			}
			q[b] = v
		}
		r.Skip(bits)
	}
	clear(q[ch.CodedScaleFactorCount:])
	clear(ch.Spectra[sf][ch.CodedScaleFactorCount:])
}

func unpackSucceeded(f *Frame, r *bitio.Reader) bool {
	rem := r.Remaining()
	if rem >= minLeftoverBits && rem <= maxLeftoverBits {
		return true
	}
	if f.AcceptableNoiseLevel == 0 && rem >= minLeftoverBits {
		return true
	}
	return frameEmpty(f)
}

func frameEmpty(f *Frame) bool {
	if f.AcceptableNoiseLevel > 0 {
		return false
	}
	for _, ch := range f.Channels {
		if ch.ScaleFactorDeltaBits > 0 {
			return false
		}
	}
	return true
}

// Pack writes f as one checksummed frame into out, which must hold at
// least FrameSize bytes.
func Pack(f *Frame, out []byte) error {
	size := f.Info.FrameSize
	if len(out) < size {
		return fmt.Errorf("%w: output holds %d bytes, frame needs %d", bitio.ErrBufferFull, len(out), size)
	}
	out = out[:size]
	w := bitio.NewWriter(out[:size-2])

	if err := writeFrameHeader(f, w); err != nil {
		return err
	}
	for sf := 0; sf < SubframesPerFrame; sf++ {
		for _, ch := range f.Channels {
			if err := writeSpectra(ch, w, sf); err != nil {
				return err
			}
		}
	}

	if err := w.Align(8); err != nil {
		return err
	}
	clear(out[w.Position()/8 : size-2])

	crc := crc16(out[:size-2])
	out[size-2] = byte(crc >> 8)
	out[size-1] = byte(crc)
	return nil
}

func writeFrameHeader(f *Frame, w *bitio.Writer) error {
	if err := w.Write(syncWord, 16); err != nil {
		return err
	}
	if err := w.WriteInt(f.AcceptableNoiseLevel, 9); err != nil {
		return err
	}
	if err := w.WriteInt(f.EvaluationBoundary, 7); err != nil {
		return err
	}

	for _, ch := range f.Channels {
		if err := writeScaleFactors(ch, w); err != nil {
			return err
		}
		if ch.Type == StereoSecondary {
			for _, v := range ch.Intensity {
				if err := w.WriteInt(v, 4); err != nil {
					return err
				}
			}
			continue
		}
		for g := 0; g < f.Info.HfrGroupCount; g++ {
			if err := w.WriteInt(ch.HfrScales[g], 6); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeScaleFactors(ch *Channel, w *bitio.Writer) error {
	deltaBits := ch.ScaleFactorDeltaBits
	scales := ch.ScaleFactors[:ch.CodedScaleFactorCount]
	if err := w.WriteInt(deltaBits, 3); err != nil {
		return err
	}
	if deltaBits == 0 || len(scales) == 0 {
		return nil
	}

	if deltaBits >= 6 {
		for _, v := range scales {
			if err := w.WriteInt(v, 6); err != nil {
				return err
			}
		}
		return nil
	}

	if err := w.WriteInt(scales[0], 6); err != nil {
		return err
	}
	maxDelta := 1<<uint(deltaBits-1) - 1
	escape := 1<<uint(deltaBits) - 1
	for i := 1; i < len(scales); i++ {
		delta := scales[i] - scales[i-1]
		if delta > maxDelta || delta < -maxDelta {
			if err := w.WriteInt(escape, deltaBits); err != nil {
				return err
			}
			if err := w.WriteInt(scales[i], 6); err != nil {
				return err
			}
			continue
		}
		if err := w.WriteInt(maxDelta+delta, deltaBits); err != nil {
			return err
		}
	}
	return nil
}

func writeSpectra(ch *Channel, w *bitio.Writer, sf int) error {
	q := &ch.QuantizedSpectra[sf]
	for b := 0; b < ch.CodedScaleFactorCount; b++ {
		res := ch.Resolution[b]
		v := q[b]
		switch {
		case res == 0:
			continue
		case res < 8:
			if err := w.Write(quantizeSpectrumValue[res][v+8], quantizeSpectrumBits[res][v+8]); err != nil {
				return err
			}
		default:
			mag, sign := v, 0
			if v < 0 {
				mag, sign = -v, 1
			}
			if err := w.WriteInt(mag, quantizedSpectrumMaxBits[res]-1); err != nil {
				return err
			}
			if v != 0 {
				if err := w.WriteInt(sign, 1); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

package crihca

import (
	"bytes"
	"fmt"
	"io"
)

// ProgressFunc receives the number of frames processed so far and the
// total frame count.
type ProgressFunc func(done, total int)

// Audio is a whole HCA stream held in memory.
type Audio struct {
	Info   *Info
	Frames [][]byte
}

// EncodePCM16 encodes one slice of samples per channel. Channel count and
// sample count in params are taken from pcm.
func EncodePCM16(pcm [][]int16, params EncoderParams, progress ProgressFunc) (*Audio, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: no channels", ErrConfig)
	}
	sampleCount := len(pcm[0])
	for c, ch := range pcm {
		if len(ch) != sampleCount {
			return nil, fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d", ErrConfig, c, len(ch), sampleCount)
		}
	}
	params.ChannelCount = len(pcm)
	params.SampleCount = sampleCount

	encoder, err := NewEncoder(params)
	if err != nil {
		return nil, err
	}
	info := encoder.Info()
	frames := make([][]byte, 0, info.FrameCount)
	block := makePcm(len(pcm), SamplesPerFrame)

	for i := 0; len(frames) < info.FrameCount; i++ {
		start := i * SamplesPerFrame
		for c := range pcm {
			n := 0
			if start < sampleCount {
				n = copy(block[c], pcm[c][start:])
			}
			clear(block[c][n:])
		}

		out := make([]byte, info.FrameSize)
		written, err := encoder.Encode(block, out)
		if err != nil {
			return nil, err
		}
		if written == 0 {
			return nil, fmt.Errorf("%w: encoder produced no frame for block %d", ErrSequencing, i)
		}
		frames = append(frames, out)
		for written--; written > 0; written-- {
			pending, err := encoder.PendingFrame()
			if err != nil {
				return nil, err
			}
			frames = append(frames, pending)
		}
		if progress != nil {
			progress(len(frames), info.FrameCount)
		}
	}
	return &Audio{Info: info, Frames: frames}, nil
}

// DecodePCM16 decodes every frame and returns SampleCount samples per
// channel, with the encoder delay removed.
func DecodePCM16(a *Audio, progress ProgressFunc) ([][]int16, error) {
	info := a.Info
	if info.EncryptionType != CipherNone {
		return nil, fmt.Errorf("%w: stream is encrypted with cipher type %d", ErrFormat, info.EncryptionType)
	}
	if len(a.Frames) < info.FrameCount {
		return nil, fmt.Errorf("%w: %d of %d frames present", ErrFormat, len(a.Frames), info.FrameCount)
	}
	decoder, err := NewDecoder(info)
	if err != nil {
		return nil, err
	}

	out := makePcm(info.ChannelCount, info.SampleCount)
	block := makePcm(info.ChannelCount, SamplesPerFrame)
	for i := 0; i < info.FrameCount; i++ {
		if err := decoder.DecodeFrame(a.Frames[i], block); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		copyPcmToOutput(block, out, info, i)
		if progress != nil {
			progress(i+1, info.FrameCount)
		}
	}
	return out, nil
}

// copyPcmToOutput places decoded frame number frame into out, dropping the
// inserted samples and anything past the end of the stream.
func copyPcmToOutput(block, out [][]int16, info *Info, frame int) {
	current := frame*SamplesPerFrame - info.InsertedSamples
	remaining := min(info.SampleCount-current, info.SampleCount)
	srcStart := max(0, min(-current, SamplesPerFrame))
	dstStart := max(current, 0)
	length := min(SamplesPerFrame-srcStart, remaining)
	if length <= 0 {
		return
	}
	for c := range out {
		copy(out[c][dstStart:dstStart+length], block[c][srcStart:srcStart+length])
	}
}

// WriteTo writes the header followed by every frame.
func (a *Audio) WriteTo(w io.Writer) (int64, error) {
	header, err := WriteHeader(a.Info, a.Info.EncryptionType != CipherNone)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(header)
	total := int64(n)
	if err != nil {
		return total, err
	}
	for _, frame := range a.Frames {
		n, err = w.Write(frame[:a.Info.FrameSize])
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Bytes returns the encoded file.
func (a *Audio) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(a.Info.HeaderSize + a.Info.DataSize())
	if _, err := a.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadAudio reads a whole HCA file.
func ReadAudio(r io.Reader) (*Audio, error) {
	head := make([]byte, 8)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrFormat, err)
	}
	size, err := HeaderSize(head)
	if err != nil {
		return nil, err
	}
	header := make([]byte, size)
	copy(header, head)
	if _, err := io.ReadFull(r, header[8:]); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrFormat, err)
	}
	info, err := ParseHeader(header)
	if err != nil {
		return nil, err
	}

	frames := make([][]byte, info.FrameCount)
	for i := range frames {
		frames[i] = make([]byte, info.FrameSize)
		if _, err := io.ReadFull(r, frames[i]); err != nil {
			return nil, fmt.Errorf("%w: frame %d of %d: %v", ErrFormat, i, info.FrameCount, err)
		}
	}
	return &Audio{Info: info, Frames: frames}, nil
}

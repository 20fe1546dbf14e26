package exporter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"haruki-hca-codec/utils"
	"haruki-hca-codec/utils/cricodecs/crihca"
	"haruki-hca-codec/utils/wav"
)

type EncodeOptions struct {
	Profile    utils.EncodeProfile
	FFMPEGPath string

	Looping   bool
	LoopStart int
	LoopEnd   int

	RemoveOriginal bool
}

// Params converts the profile and loop settings into encoder parameters
// for a stream with the given format.
func (o EncodeOptions) Params(format wav.Format, sampleCount int) (crihca.EncoderParams, error) {
	quality, err := crihca.ParseQuality(o.Profile.Quality)
	if err != nil {
		return crihca.EncoderParams{}, err
	}
	return crihca.EncoderParams{
		ChannelCount: format.Channels,
		SampleRate:   format.SampleRate,
		SampleCount:  sampleCount,
		Quality:      quality,
		Bitrate:      o.Profile.Bitrate,
		LimitBitrate: o.Profile.LimitBitrate,
		Looping:      o.Looping,
		LoopStart:    o.LoopStart,
		LoopEnd:      o.LoopEnd,
		Comment:      o.Profile.Comment,
		Volume:       o.Profile.Volume,
	}, nil
}

// EncodeFile encodes 16-bit PCM and applies the profile cipher. The WAV
// loop is used when opts requests none.
func EncodeFile(f *wav.File, opts EncodeOptions) (*crihca.Audio, error) {
	if !opts.Looping && f.Loop != nil {
		opts.Looping = true
		opts.LoopStart = f.Loop.Start
		opts.LoopEnd = f.Loop.End
	}
	params, err := opts.Params(f.Format, f.SampleCount())
	if err != nil {
		return nil, err
	}
	audio, err := crihca.EncodePCM16(f.Samples, params, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode: %w", err)
	}
	if opts.Profile.Cipher != crihca.CipherNone {
		key, err := crihca.NewKey(opts.Profile.Cipher, opts.Profile.Keycode)
		if err != nil {
			return nil, err
		}
		if err := crihca.Encrypt(audio.Info, audio.Frames, key); err != nil {
			return nil, fmt.Errorf("failed to encrypt: %w", err)
		}
	}
	return audio, nil
}

// EncodeWAV encodes inputFile into outputDir and returns the HCA path.
// Inputs other than .wav go through ffmpeg first.
func EncodeWAV(inputFile string, outputDir string, opts EncodeOptions) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	name := baseName(inputFile)
	wavFile := inputFile
	if !strings.EqualFold(filepath.Ext(inputFile), ".wav") {
		tmp, err := os.MkdirTemp("", "haruki-hca-")
		if err != nil {
			return "", err
		}
		defer func(dir string) {
			_ = os.RemoveAll(dir)
		}(tmp)
		wavFile = filepath.Join(tmp, name+".wav")
		if err := ConvertToWav(inputFile, wavFile, 0, opts.FFMPEGPath); err != nil {
			return "", err
		}
	}

	in, err := os.Open(wavFile)
	if err != nil {
		return "", fmt.Errorf("failed to open WAV file: %w", err)
	}
	pcm, err := wav.Read(in)
	_ = in.Close()
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", wavFile, err)
	}

	audio, err := EncodeFile(pcm, opts)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", inputFile, err)
	}

	hcaFile := filepath.Join(outputDir, name+".hca")
	out, err := os.Create(hcaFile)
	if err != nil {
		return "", fmt.Errorf("failed to create HCA file: %w", err)
	}
	defer func(out *os.File) {
		_ = out.Close()
	}(out)
	if _, err := audio.WriteTo(out); err != nil {
		return "", fmt.Errorf("failed to write HCA file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	if opts.RemoveOriginal {
		if err := os.Remove(inputFile); err != nil {
			return "", fmt.Errorf("failed to delete original file: %w", err)
		}
	}
	logger.Debugf("encoded %s to %s at %d bps", inputFile, hcaFile, audio.Info.Bitrate())
	return hcaFile, nil
}

package exporter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"haruki-hca-codec/utils"
	"haruki-hca-codec/utils/cricodecs/crihca"
	harukiLogger "haruki-hca-codec/utils/logger"
	"haruki-hca-codec/utils/manifest"
	"haruki-hca-codec/utils/visual"
)

var logger = harukiLogger.NewLogger("HarukiAudioExporter", "INFO", nil)

type ExportOptions struct {
	Format     utils.HarukiAudioExportFormat
	FFMPEGPath string
	// RemoveWav drops the intermediate WAV after an MP3 or FLAC conversion.
	RemoveWav      bool
	RemoveOriginal bool
	WriteManifest  bool
	RenderHeatMap  bool

	Keycode    uint64
	Subkey     uint16
	SearchKeys bool
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// ExportHCA decodes hcaFile into outputDir and returns the files written.
func ExportHCA(hcaFile string, outputDir string, opts ExportOptions) ([]string, error) {
	name := baseName(hcaFile)
	wavFile := filepath.Join(outputDir, name+".wav")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	decoder, err := crihca.NewHCADecoder(hcaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create HCA decoder: %w", err)
	}
	defer func(decoder *crihca.HCADecoder) {
		_ = decoder.Close()
	}(decoder)

	key, err := selectKey(decoder, opts)
	if err != nil {
		return nil, err
	}

	file, err := os.Create(wavFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)
	if err := decoder.DecodeToWav(file); err != nil {
		return nil, fmt.Errorf("failed to decode HCA to WAV: %w", err)
	}
	_ = file.Close()

	var produced []string
	switch opts.Format {
	case utils.HarukiAudioExportFormatMP3:
		mp3File := utils.ReplaceExt(wavFile, ".mp3")
		if err := ConvertWavToMP3(wavFile, mp3File, opts.RemoveWav, opts.FFMPEGPath); err != nil {
			return nil, err
		}
		produced = append(produced, mp3File)
	case utils.HarukiAudioExportFormatFLAC:
		flacFile := utils.ReplaceExt(wavFile, ".flac")
		if err := ConvertWavToFLAC(wavFile, flacFile, opts.RemoveWav, opts.FFMPEGPath); err != nil {
			return nil, err
		}
		produced = append(produced, flacFile)
	}
	if _, err := os.Stat(wavFile); err == nil {
		produced = append(produced, wavFile)
	}

	if opts.WriteManifest || opts.RenderHeatMap {
		extra, err := describeHCA(hcaFile, outputDir, key, opts)
		if err != nil {
			return nil, err
		}
		produced = append(produced, extra...)
	}

	if opts.RemoveOriginal {
		if err := os.Remove(hcaFile); err != nil {
			return nil, fmt.Errorf("failed to delete original HCA file: %w", err)
		}
	}
	logger.Debugf("exported %s: %v", hcaFile, produced)
	return produced, nil
}

// selectKey sets the decryption key on an encrypted stream and returns it.
func selectKey(decoder *crihca.HCADecoder, opts ExportOptions) (*crihca.Key, error) {
	info := decoder.Info()
	switch {
	case info.EncryptionType == crihca.CipherNone:
		return nil, nil
	case info.EncryptionType == crihca.CipherStatic:
		return crihca.NewKey(crihca.CipherStatic, 0)
	case opts.Keycode != 0:
		key, err := crihca.NewKey(crihca.CipherKeycode, crihca.MixSubkey(opts.Keycode, opts.Subkey))
		if err != nil {
			return nil, err
		}
		decoder.SetKey(key)
		return key, nil
	case opts.SearchKeys:
		key, err := decoder.GuessKey(opts.Subkey)
		if err != nil {
			return nil, fmt.Errorf("failed to find a key: %w", err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("stream is encrypted and no keycode is set: %w", crihca.ErrKeyNotFound)
}

func describeHCA(hcaFile string, outputDir string, key *crihca.Key, opts ExportOptions) ([]string, error) {
	f, err := os.Open(hcaFile)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	audio, err := crihca.ReadAudio(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", hcaFile, err)
	}
	if key != nil {
		if err := crihca.Decrypt(audio.Info, audio.Frames, key); err != nil {
			return nil, fmt.Errorf("failed to decrypt %s: %w", hcaFile, err)
		}
	}

	name := baseName(hcaFile)
	var produced []string
	if opts.WriteManifest {
		m, err := manifest.Build(name, audio, true)
		if err != nil {
			return nil, err
		}
		manifestFile := filepath.Join(outputDir, name+".json")
		if err := manifest.WriteFile(manifestFile, m); err != nil {
			return nil, fmt.Errorf("failed to write manifest: %w", err)
		}
		produced = append(produced, manifestFile)
	}
	if opts.RenderHeatMap {
		webpFile := filepath.Join(outputDir, name+".webp")
		out, err := os.Create(webpFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create heat map file: %w", err)
		}
		err = visual.Render(out, audio)
		_ = out.Close()
		if err != nil {
			return nil, err
		}
		produced = append(produced, webpFile)
	}
	return produced, nil
}

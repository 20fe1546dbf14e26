package exporter

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var errNoFFmpeg = errors.New("ffmpeg path is not configured")

func runFFmpeg(ffmpegPath string, args ...string) error {
	if ffmpegPath == "" {
		return errNoFFmpeg
	}
	var stderr bytes.Buffer
	cmd := exec.Command(ffmpegPath, append([]string{"-hide_banner", "-loglevel", "error"}, args...)...)
	cmd.Stdout = nil
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

func removeIfExists(path string) error {
	if _, err := os.Stat(path); err == nil {
		return os.Remove(path)
	}
	return nil
}

func ConvertWavToFLAC(wavFile string, flacFile string, deleteOriginal bool, ffmpegPath string) error {
	if err := runFFmpeg(ffmpegPath, "-i", wavFile, "-compression_level", "12", "-y", flacFile); err != nil {
		return fmt.Errorf("failed to convert WAV to FLAC: %w", err)
	}
	if deleteOriginal {
		if err := removeIfExists(wavFile); err != nil {
			return fmt.Errorf("failed to delete original WAV file: %w", err)
		}
	}
	return nil
}

func ConvertWavToMP3(wavFile string, mp3File string, deleteOriginal bool, ffmpegPath string) error {
	if err := runFFmpeg(ffmpegPath, "-i", wavFile, "-b:a", "320k", "-y", mp3File); err != nil {
		return fmt.Errorf("failed to convert WAV to MP3: %w", err)
	}
	if deleteOriginal {
		if err := removeIfExists(wavFile); err != nil {
			return fmt.Errorf("failed to delete original WAV file: %w", err)
		}
	}
	return nil
}

// ConvertToWav turns any input ffmpeg can read into 16-bit PCM WAV for the
// encoder. sampleRate 0 keeps the input rate.
func ConvertToWav(inputFile string, wavFile string, sampleRate int, ffmpegPath string) error {
	args := []string{"-i", inputFile, "-acodec", "pcm_s16le"}
	if sampleRate > 0 {
		args = append(args, "-ar", fmt.Sprint(sampleRate))
	}
	args = append(args, "-y", wavFile)
	if err := runFFmpeg(ffmpegPath, args...); err != nil {
		return fmt.Errorf("failed to convert %s to WAV: %w", inputFile, err)
	}
	return nil
}

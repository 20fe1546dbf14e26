package exporter

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"haruki-hca-codec/utils"
	"haruki-hca-codec/utils/cricodecs/crihca"
	"haruki-hca-codec/utils/manifest"
	"haruki-hca-codec/utils/wav"
)

const testKeycode = 0x0030D9E8

func writeTone(t *testing.T, path string, channels, rate, n int) {
	t.Helper()
	samples := make([][]int16, channels)
	for c := range samples {
		samples[c] = make([]int16, n)
		for i := range samples[c] {
			samples[c][i] = int16(7000 * math.Sin(2*math.Pi*float64(300+200*c)*float64(i)/float64(rate)))
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := wav.Write(f, &wav.File{Format: wav.Format{Channels: channels, SampleRate: rate}, Samples: samples}); err != nil {
		t.Fatalf("wav.Write: %v", err)
	}
}

func readWav(t *testing.T, path string) *wav.File {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	w, err := wav.Read(f)
	if err != nil {
		t.Fatalf("wav.Read(%s): %v", path, err)
	}
	return w
}

func TestEncodeThenExport(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "bgm.wav")
	writeTone(t, input, 2, 32000, 9000)

	hcaFile, err := EncodeWAV(input, filepath.Join(dir, "hca"), EncodeOptions{
		Profile: utils.EncodeProfile{Quality: "high", Comment: "bgm"},
	})
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if filepath.Base(hcaFile) != "bgm.hca" {
		t.Errorf("HCA file = %s", hcaFile)
	}

	out := filepath.Join(dir, "out")
	produced, err := ExportHCA(hcaFile, out, ExportOptions{WriteManifest: true, RenderHeatMap: true})
	if err != nil {
		t.Fatalf("ExportHCA: %v", err)
	}
	want := []string{filepath.Join(out, "bgm.wav"), filepath.Join(out, "bgm.json"), filepath.Join(out, "bgm.webp")}
	if !slices.Equal(produced, want) {
		t.Errorf("produced %v, want %v", produced, want)
	}

	decoded := readWav(t, filepath.Join(out, "bgm.wav"))
	if decoded.Channels != 2 || decoded.SampleRate != 32000 || decoded.SampleCount() != 9000 {
		t.Errorf("decoded %d ch %d Hz %d samples", decoded.Channels, decoded.SampleRate, decoded.SampleCount())
	}
	m, err := manifest.ReadFile(filepath.Join(out, "bgm.json"))
	if err != nil {
		t.Fatalf("manifest.ReadFile: %v", err)
	}
	if m.Name != "bgm" || m.Comment != "bgm" || m.SampleCount != 9000 {
		t.Errorf("manifest = %+v", m)
	}
	if _, err := os.Stat(hcaFile); err != nil {
		t.Errorf("original removed without RemoveOriginal: %v", err)
	}
}

func TestExportEncrypted(t *testing.T) {
	crihca.RegisterKeycode(testKeycode)
	dir := t.TempDir()
	input := filepath.Join(dir, "voice.wav")
	writeTone(t, input, 1, 44100, 20000)

	hcaFile, err := EncodeWAV(input, dir, EncodeOptions{
		Profile: utils.EncodeProfile{Cipher: crihca.CipherKeycode, Keycode: testKeycode},
	})
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	if _, err := ExportHCA(hcaFile, filepath.Join(dir, "nokey"), ExportOptions{}); !errors.Is(err, crihca.ErrKeyNotFound) {
		t.Errorf("export without key: err = %v, want ErrKeyNotFound", err)
	}

	tests := []struct {
		name string
		opts ExportOptions
	}{
		{"keycode", ExportOptions{Keycode: testKeycode, WriteManifest: true}},
		{"search", ExportOptions{SearchKeys: true, WriteManifest: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(dir, tt.name)
			if _, err := ExportHCA(hcaFile, out, tt.opts); err != nil {
				t.Fatalf("ExportHCA: %v", err)
			}
			if got := readWav(t, filepath.Join(out, "voice.wav")).SampleCount(); got != 20000 {
				t.Errorf("decoded %d samples, want 20000", got)
			}
			m, err := manifest.ReadFile(filepath.Join(out, "voice.json"))
			if err != nil {
				t.Fatalf("manifest.ReadFile: %v", err)
			}
			if m.Cipher != crihca.CipherNone || len(m.Frames) == 0 {
				t.Errorf("manifest cipher %d with %d frames", m.Cipher, len(m.Frames))
			}
		})
	}
}

func TestEncodeOptionsParams(t *testing.T) {
	opts := EncodeOptions{Profile: utils.EncodeProfile{Quality: "lowest", Bitrate: 96000, Volume: 0.5}, Looping: true, LoopStart: 10, LoopEnd: 500}
	p, err := opts.Params(wav.Format{Channels: 2, SampleRate: 48000}, 1000)
	if err != nil {
		t.Fatalf("Params: %v", err)
	}
	if p.Quality != crihca.QualityLowest || p.Bitrate != 96000 || p.ChannelCount != 2 || p.SampleCount != 1000 || !p.Looping || p.Volume != 0.5 {
		t.Errorf("params = %+v", p)
	}
	opts.Profile.Quality = "ultra"
	if _, err := opts.Params(wav.Format{Channels: 1, SampleRate: 8000}, 10); !errors.Is(err, crihca.ErrConfig) {
		t.Errorf("bad quality: err = %v, want ErrConfig", err)
	}
}

func TestEncodeFileUsesWavLoop(t *testing.T) {
	samples := make([]int16, 6000)
	for i := range samples {
		samples[i] = int16(5000 * math.Sin(2*math.Pi*440*float64(i)/22050))
	}
	f := &wav.File{Format: wav.Format{Channels: 1, SampleRate: 22050}, Samples: [][]int16{samples}, Loop: &wav.Loop{Start: 1000, End: 5000}}

	audio, err := EncodeFile(f, EncodeOptions{})
	if err != nil {
		t.Fatalf("EncodeFile: %v", err)
	}
	if !audio.Info.Looping || audio.Info.LoopStartSample() != 1000 || audio.Info.LoopEndSample() != 5000 {
		t.Errorf("loop = %v %d-%d, want 1000-5000", audio.Info.Looping, audio.Info.LoopStartSample(), audio.Info.LoopEndSample())
	}

	audio, err = EncodeFile(f, EncodeOptions{Looping: true, LoopStart: 2000, LoopEnd: 4000})
	if err != nil {
		t.Fatalf("EncodeFile: %v", err)
	}
	if audio.Info.LoopStartSample() != 2000 || audio.Info.LoopEndSample() != 4000 {
		t.Errorf("explicit loop = %d-%d, want 2000-4000", audio.Info.LoopStartSample(), audio.Info.LoopEndSample())
	}
}

func TestEncodeNonWavWithoutFFmpeg(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "a.mp3")
	if err := os.WriteFile(input, []byte("not audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := EncodeWAV(input, dir, EncodeOptions{})
	if !errors.Is(err, errNoFFmpeg) {
		t.Errorf("err = %v, want errNoFFmpeg", err)
	}
}

func TestFilter(t *testing.T) {
	tests := []struct {
		include, exclude string
		name             string
		want             bool
	}{
		{"", "", "bgm/a.hca", true},
		{`^bgm/`, "", "bgm/a.hca", true},
		{`^bgm/`, "", "voice/a.hca", false},
		{"", `_(?!main)\w+\.hca$`, "bgm/a_intro.hca", false},
		{"", `_(?!main)\w+\.hca$`, "bgm/a_main.hca", true},
		{`BGM`, "", "bgm/a.hca", true},
	}
	for _, tt := range tests {
		f, err := NewFilter(tt.include, tt.exclude)
		if err != nil {
			t.Fatalf("NewFilter(%q, %q): %v", tt.include, tt.exclude, err)
		}
		if got := f.Match(tt.name); got != tt.want {
			t.Errorf("include %q exclude %q: Match(%q) = %v, want %v", tt.include, tt.exclude, tt.name, got, tt.want)
		}
	}
	if _, err := NewFilter("(", ""); err == nil {
		t.Errorf("invalid pattern accepted")
	}
}

func TestExportDirectory(t *testing.T) {
	src := t.TempDir()
	writeTone(t, filepath.Join(src, "bgm", "a.wav"), 1, 22050, 3000)
	writeTone(t, filepath.Join(src, "bgm", "b.wav"), 2, 22050, 3000)
	writeTone(t, filepath.Join(src, "se", "c.wav"), 1, 22050, 3000)

	hcaDir := t.TempDir()
	encoded, err := ExportDirectory(context.Background(), src, BatchOptions{
		Mode:      BatchModeEncode,
		OutputDir: hcaDir,
		Exclude:   `^se/`,
		Workers:   2,
	})
	if err != nil {
		t.Fatalf("encode ExportDirectory: %v", err)
	}
	want := []string{filepath.Join(hcaDir, "bgm", "a.hca"), filepath.Join(hcaDir, "bgm", "b.hca")}
	if !slices.Equal(encoded, want) {
		t.Errorf("encoded %v, want %v", encoded, want)
	}

	wavDir := t.TempDir()
	decoded, err := ExportDirectory(context.Background(), hcaDir, BatchOptions{
		Mode:      BatchModeDecode,
		OutputDir: wavDir,
		Workers:   3,
	})
	if err != nil {
		t.Fatalf("decode ExportDirectory: %v", err)
	}
	if len(decoded) != 2 || !strings.HasSuffix(decoded[0], filepath.Join("bgm", "a.wav")) {
		t.Errorf("decoded %v", decoded)
	}

	if _, err := ExportDirectory(context.Background(), src, BatchOptions{Mode: "mux"}); err == nil {
		t.Errorf("invalid mode accepted")
	}
}

func TestExportDirectoryCancelled(t *testing.T) {
	src := t.TempDir()
	writeTone(t, filepath.Join(src, "a.wav"), 1, 8000, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ExportDirectory(ctx, src, BatchOptions{Mode: BatchModeEncode}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestExportDirectoryReportsFailures(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "broken.hca"), []byte("HCA\x00garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ExportDirectory(context.Background(), src, BatchOptions{Mode: BatchModeDecode})
	if err == nil || !strings.Contains(err.Error(), "failed to process 1 of 1 files") {
		t.Errorf("err = %v", err)
	}
}

package crihca

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"haruki-hca-codec/utils/wav"
)

func openEncoded(t *testing.T, a *Audio) *HCADecoder {
	t.Helper()
	data, err := a.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	d, err := NewHCADecoderFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewHCADecoderFromReader: %v", err)
	}
	return d
}

func stereoSine(n, rate int) [][]int16 {
	return [][]int16{
		sine(n, rate, []float64{440, 1800}, 9000),
		sine(n, rate, []float64{660, 2400}, 7000),
	}
}

func TestHCADecoderDecodeAll(t *testing.T) {
	a := mustEncode(t, stereoSine(12000, 32000), EncoderParams{SampleRate: 32000})
	d := openEncoded(t, a)
	defer d.Close()

	all, err := d.DecodeAll()
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	pcm, err := DecodePCM16(a, nil)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	want := wav.Interleave(pcm)
	if len(all) != 12000*2 {
		t.Fatalf("decoded %d samples, want %d", len(all), 12000*2)
	}
	if !slices.Equal(all, want) {
		t.Errorf("streaming decode differs from DecodePCM16")
	}

	again, err := d.DecodeAll()
	if err != nil {
		t.Fatalf("second DecodeAll: %v", err)
	}
	if !slices.Equal(again, all) {
		t.Errorf("DecodeAll after a full pass differs")
	}
}

func TestHCADecoderSeek(t *testing.T) {
	a := mustEncode(t, stereoSine(12000, 32000), EncoderParams{SampleRate: 32000})
	d := openEncoded(t, a)
	all, err := d.DecodeAll()
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}

	for _, sample := range []int{0, 1, 3000, 4096, 11999, 12000} {
		if err := d.Seek(sample); err != nil {
			t.Fatalf("Seek(%d): %v", sample, err)
		}
		var rest []int16
		for {
			samples, _, err := d.DecodeFrame()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatalf("DecodeFrame after Seek(%d): %v", sample, err)
			}
			rest = append(rest, samples...)
		}
		if !slices.Equal(rest, all[sample*2:]) {
			t.Errorf("samples after Seek(%d) differ from a full decode", sample)
		}
	}

	if err := d.Seek(12001); !errors.Is(err, ErrConfig) {
		t.Errorf("Seek past the end: err = %v, want ErrConfig", err)
	}
	if err := d.Seek(-1); !errors.Is(err, ErrConfig) {
		t.Errorf("Seek(-1): err = %v, want ErrConfig", err)
	}
}

func TestHCADecoderSeekLoopStart(t *testing.T) {
	pcm := [][]int16{sine(30000, 44100, []float64{300}, 8000)}
	a := mustEncode(t, pcm, EncoderParams{SampleRate: 44100, Looping: true, LoopStart: 10000, LoopEnd: 20000})
	d := openEncoded(t, a)
	all, err := d.DecodeAll()
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if err := d.SeekLoopStart(); err != nil {
		t.Fatalf("SeekLoopStart: %v", err)
	}
	samples, _, err := d.DecodeFrame()
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if len(samples) == 0 || !slices.Equal(samples, all[10000:10000+len(samples)]) {
		t.Errorf("first samples after SeekLoopStart do not match sample 10000")
	}
}

func TestHCADecoderToWavKeepsLoop(t *testing.T) {
	pcm := [][]int16{sine(30000, 44100, []float64{300}, 8000)}
	a := mustEncode(t, pcm, EncoderParams{SampleRate: 44100, Looping: true, LoopStart: 10000, LoopEnd: 20000})
	d := openEncoded(t, a)
	var out bytes.Buffer
	if err := d.DecodeToWav(&out); err != nil {
		t.Fatalf("DecodeToWav: %v", err)
	}
	f, err := wav.Read(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("wav.Read: %v", err)
	}
	if f.SampleCount() != 20000 {
		t.Errorf("sample count = %d, want 20000", f.SampleCount())
	}
	if f.Loop == nil || *f.Loop != (wav.Loop{Start: 10000, End: 20000}) {
		t.Errorf("loop = %+v, want 10000-20000", f.Loop)
	}
}

func TestHCADecoderChecksum(t *testing.T) {
	a := mustEncode(t, stereoSine(6000, 32000), EncoderParams{SampleRate: 32000})
	a.Frames[2][40] ^= 0x10
	d := openEncoded(t, a)
	if _, err := d.DecodeAll(); !errors.Is(err, ErrChecksum) {
		t.Errorf("err = %v, want ErrChecksum", err)
	}
}

func encryptedAudio(t *testing.T, keycode uint64) (*Audio, []int16) {
	t.Helper()
	pcm := [][]int16{sine(20000, 44100, []float64{300, 2500}, 10000)}
	a := mustEncode(t, pcm, EncoderParams{SampleRate: 44100})
	plain, err := DecodePCM16(a, nil)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	key, err := NewKey(CipherKeycode, keycode)
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	if err := Encrypt(a.Info, a.Frames, key); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return a, plain[0]
}

func TestHCADecoderEncrypted(t *testing.T) {
	a, plain := encryptedAudio(t, testKeycode)
	d := openEncoded(t, a)
	if d.Info().EncryptionType != CipherKeycode {
		t.Fatalf("EncryptionType = %d, want %d", d.Info().EncryptionType, CipherKeycode)
	}

	if _, err := d.DecodeAll(); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("decode without key: err = %v, want ErrKeyNotFound", err)
	}

	if score := d.ScoreKey(testKeycode, 0); score <= 0 {
		t.Errorf("ScoreKey(correct) = %d, want > 0", score)
	}
	if score := d.ScoreKey(testKeycode+1, 0); score >= 0 {
		t.Errorf("ScoreKey(wrong) = %d, want < 0", score)
	}

	d.SetEncryptionKey(testKeycode, 0)
	got, err := d.DecodeAll()
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if !slices.Equal(got, plain) {
		t.Errorf("decrypted decode differs from the unencrypted stream")
	}
}

func TestHCADecoderGuessKey(t *testing.T) {
	RegisterKeycode(testKeycode)
	a, plain := encryptedAudio(t, testKeycode)
	d := openEncoded(t, a)

	key, err := d.GuessKey(0)
	if err != nil {
		t.Fatalf("GuessKey: %v", err)
	}
	if key.Keycode != testKeycode {
		t.Errorf("GuessKey keycode = %d, want %d", key.Keycode, testKeycode)
	}
	got, err := d.DecodeAll()
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if !slices.Equal(got, plain) {
		t.Errorf("decode with guessed key differs from the unencrypted stream")
	}
}

func TestHCADecoderStaticCipher(t *testing.T) {
	a := mustEncode(t, stereoSine(6000, 32000), EncoderParams{SampleRate: 32000})
	want, err := DecodePCM16(a, nil)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	key, _ := NewKey(CipherStatic, 0)
	if err := Encrypt(a.Info, a.Frames, key); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	d := openEncoded(t, a)
	got, err := d.DecodeAll()
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if !slices.Equal(got, wav.Interleave(want)) {
		t.Errorf("static cipher stream did not decode without a key")
	}
}

func TestHCADecoderToWav(t *testing.T) {
	a := mustEncode(t, stereoSine(7000, 24000), EncoderParams{SampleRate: 24000})
	path := filepath.Join(t.TempDir(), "sine.hca")
	data, err := a.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	d, err := NewHCADecoder(path)
	if err != nil {
		t.Fatalf("NewHCADecoder: %v", err)
	}
	defer d.Close()

	var out bytes.Buffer
	if err := d.DecodeToWav(&out); err != nil {
		t.Fatalf("DecodeToWav: %v", err)
	}
	f, err := wav.Read(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("wav.Read: %v", err)
	}
	if f.Channels != 2 || f.SampleRate != 24000 || f.SampleCount() != 7000 {
		t.Errorf("wav = %d ch %d Hz %d samples, want 2 ch 24000 Hz 7000 samples",
			f.Channels, f.SampleRate, f.SampleCount())
	}
}

func TestNewHCADecoderErrors(t *testing.T) {
	if _, err := NewHCADecoderFromReader(bytes.NewReader([]byte("HCA"))); !errors.Is(err, ErrFormat) {
		t.Errorf("short input: err = %v, want ErrFormat", err)
	}
	if _, err := NewHCADecoderFromReader(bytes.NewReader(make([]byte, 64))); !errors.Is(err, ErrFormat) {
		t.Errorf("zero input: err = %v, want ErrFormat", err)
	}
	if _, err := NewHCADecoder(filepath.Join(t.TempDir(), "missing.hca")); err == nil {
		t.Errorf("missing file opened")
	}
}

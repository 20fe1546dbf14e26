package manifest

import (
	"math"
	"path/filepath"
	"strings"
	"testing"

	"haruki-hca-codec/utils/cricodecs/crihca"
)

func encodeTone(t *testing.T, params crihca.EncoderParams, n int) *crihca.Audio {
	t.Helper()
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(params.SampleRate)))
	}
	a, err := crihca.EncodePCM16([][]int16{pcm}, params, nil)
	if err != nil {
		t.Fatalf("EncodePCM16: %v", err)
	}
	return a
}

func TestBuild(t *testing.T) {
	a := encodeTone(t, crihca.EncoderParams{SampleRate: 44100, Looping: true, LoopStart: 1000, LoopEnd: 30000}, 40000)
	m, err := Build("tone", a, true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.Version != "2.00" || m.Channels != 1 || m.SampleRate != 44100 || m.SampleCount != a.Info.SampleCount {
		t.Errorf("manifest = %+v", m)
	}
	if m.Loop == nil || m.Loop.Start != 1000 || m.Loop.End != a.Info.LoopEndSample() {
		t.Errorf("loop = %+v, want start 1000", m.Loop)
	}
	if len(m.Frames) != a.Info.FrameCount {
		t.Errorf("%d frame summaries, want %d", len(m.Frames), a.Info.FrameCount)
	}
	if m.Bitrate != a.Info.Bitrate() {
		t.Errorf("bitrate = %d, want %d", m.Bitrate, a.Info.Bitrate())
	}

	plain, err := Build("", a, false)
	if err != nil {
		t.Fatalf("Build without frames: %v", err)
	}
	if plain.Frames != nil {
		t.Errorf("frames present without withFrames")
	}
}

func TestBuildEncrypted(t *testing.T) {
	a := encodeTone(t, crihca.EncoderParams{SampleRate: 22050}, 5000)
	key, _ := crihca.NewKey(crihca.CipherStatic, 0)
	if err := crihca.Encrypt(a.Info, a.Frames, key); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Build("", a, true); err == nil {
		t.Errorf("Build with frames of an encrypted stream succeeded")
	}
	m, err := Build("", a, false)
	if err != nil || m.Cipher != crihca.CipherStatic {
		t.Errorf("Build = %+v, %v; want cipher 1", m, err)
	}
}

func TestMarshalJSONKeyOrder(t *testing.T) {
	m := &Manifest{
		Name:       "bgm",
		Version:    "2.00",
		Channels:   2,
		SampleRate: 48000,
		Duration:   3,
		Volume:     1,
		Loop:       &Loop{Start: 10, End: 20},
	}
	data, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	s := string(data)
	order := []string{`"name"`, `"version"`, `"channels"`, `"sample_rate"`, `"duration"`, `"bands"`, `"loop"`, `"cipher"`, `"volume"`}
	last := -1
	for _, key := range order {
		i := strings.Index(s, key)
		if i < 0 || i < last {
			t.Fatalf("key %s out of order in %s", key, s)
		}
		last = i
	}
	if !strings.Contains(s, `"duration":3.0`) || !strings.Contains(s, `"volume":1.0`) {
		t.Errorf("floats not written as floats: %s", s)
	}
	if strings.Contains(s, `"comment"`) || strings.Contains(s, `"frames"`) {
		t.Errorf("empty fields written: %s", s)
	}
}

func TestMakeJSONFloat(t *testing.T) {
	tests := []struct {
		f    float64
		bits int
		want string
	}{
		{1, 64, "1.0"},
		{0.5, 32, "0.5"},
		{2.25, 64, "2.25"},
		{0, 64, "0.0"},
	}
	for _, tt := range tests {
		if got := makeJSONFloat(tt.f, tt.bits).Raw; got != tt.want {
			t.Errorf("makeJSONFloat(%g) = %q, want %q", tt.f, got, tt.want)
		}
	}
}

func TestWriteReadFile(t *testing.T) {
	a := encodeTone(t, crihca.EncoderParams{SampleRate: 32000, Comment: "bgm"}, 8000)
	m, err := Build("bgm", a, true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	dir := t.TempDir()
	for _, name := range []string{"bgm.json", "bgm.msgpack"} {
		path := filepath.Join(dir, name)
		if err := WriteFile(path, m); err != nil {
			t.Fatalf("WriteFile(%s): %v", name, err)
		}
		got, err := ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", name, err)
		}
		if got.Name != "bgm" || got.Comment != "bgm" || got.FrameCount != m.FrameCount || len(got.Frames) != len(m.Frames) {
			t.Errorf("%s: read back %+v", name, got)
		}
		if len(got.Frames) > 0 && got.Frames[0].Channels[0].Type != m.Frames[0].Channels[0].Type {
			t.Errorf("%s: frame channel type lost", name)
		}
	}
}

func TestMsgpackToOrderedMap(t *testing.T) {
	m := &Manifest{Version: "2.00", Channels: 1, SampleRate: 8000, Volume: 1}
	data, err := m.MarshalMsgpack()
	if err != nil {
		t.Fatalf("MarshalMsgpack: %v", err)
	}
	om, err := MsgpackToOrderedMap(data)
	if err != nil {
		t.Fatalf("MsgpackToOrderedMap: %v", err)
	}
	keys := om.Keys()
	if len(keys) < 2 || keys[0] != "version" || keys[1] != "channels" {
		t.Errorf("keys = %v", keys)
	}
	if v, ok := om.Get("sample_rate"); !ok || v != 8000 {
		t.Errorf("sample_rate = %v", v)
	}
	if _, err := MsgpackToOrderedMap([]byte{0xc1}); err == nil {
		t.Errorf("invalid msgpack accepted")
	}
}

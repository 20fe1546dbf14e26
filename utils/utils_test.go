package utils

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestFindFilesByExtension(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.hca", "b.HCA", "c.wav", "sub/d.hca", "sub/e.txt"} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := FindFilesByExtension(dir, ".hca")
	if err != nil {
		t.Fatalf("FindFilesByExtension: %v", err)
	}
	for i := range got {
		got[i], _ = filepath.Rel(dir, got[i])
		got[i] = filepath.ToSlash(got[i])
	}
	slices.Sort(got)
	want := []string{"a.hca", "b.HCA", "sub/d.hca"}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	all, err := ScanAllFiles(dir)
	if err != nil {
		t.Fatalf("ScanAllFiles: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("ScanAllFiles found %d files, want 5", len(all))
	}

	if _, err := ScanAllFiles(filepath.Join(dir, "missing")); err == nil {
		t.Errorf("ScanAllFiles on a missing directory succeeded")
	}
}

func TestParseAudioExportFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    HarukiAudioExportFormat
		wantErr bool
	}{
		{"", HarukiAudioExportFormatWAV, false},
		{"wav", HarukiAudioExportFormatWAV, false},
		{"MP3", HarukiAudioExportFormatMP3, false},
		{"flac", HarukiAudioExportFormatFLAC, false},
		{"ogg", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAudioExportFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseAudioExportFormat(%q) = %q, %v; want %q, error %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestGetTimeArg(t *testing.T) {
	arg := GetTimeArg()
	if !strings.HasPrefix(arg, "?t=") || len(arg) != len("?t=")+14 {
		t.Errorf("GetTimeArg() = %q", arg)
	}
}

func TestReplaceExt(t *testing.T) {
	if got := ReplaceExt(filepath.Join("a", "b.hca"), ".wav"); got != filepath.Join("a", "b.wav") {
		t.Errorf("ReplaceExt = %q", got)
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"haruki-hca-codec/utils"
)

const sampleConfig = `
proxy: http://127.0.0.1:7890
backend:
  host: 0.0.0.0
  port: 8080
  log_level: DEBUG
  enable_authorization: true
  accept_user_agent_prefix: Haruki
  accept_authorization_token: secret
tool:
  ffmpeg_path: /usr/bin/ffmpeg
codec:
  quality: high
  keycodes:
    - 0x30D9E8
    - 12345
  search_keys: true
profiles:
  voice:
    quality: low
    bitrate: 64000
    volume: 0.8
    comment: voice line
    cipher: 56
    keycode: 0x30D9E8
concurrency:
  batch: 8
remote_storages:
  - type: exec
    base: remote:bucket/hca
    program: rclone
    args: [copyto, src, dst]
  - type: s3
    base: hca
    bucket: assets
    endpoint: http://127.0.0.1:9000
    use_path_style: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.Port != 8080 || !cfg.Backend.EnableAuthorization || cfg.Backend.AcceptAuthorizationToken != "secret" {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if got := cfg.Codec.Keycodes; len(got) != 2 || got[0] != 0x30D9E8 || got[1] != 12345 {
		t.Errorf("keycodes = %v", got)
	}
	if cfg.BatchWorkers() != 8 || cfg.UploadWorkers() != 4 {
		t.Errorf("workers = %d/%d, want 8/4", cfg.BatchWorkers(), cfg.UploadWorkers())
	}
	if len(cfg.RemoteStorages) != 2 || cfg.RemoteStorages[1].Type != utils.HarukiRemoteStorageTypeS3 {
		t.Errorf("remote storages = %+v", cfg.RemoteStorages)
	}

	voice, err := cfg.Profile("voice")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	want := utils.EncodeProfile{Quality: "low", Bitrate: 64000, Volume: 0.8, Comment: "voice line", Cipher: 56, Keycode: 0x30D9E8}
	if voice != want {
		t.Errorf("profile = %+v, want %+v", voice, want)
	}
	def, err := cfg.Profile("")
	if err != nil || def.Quality != "high" {
		t.Errorf("default profile = %+v, %v", def, err)
	}
	if _, err := cfg.Profile("missing"); err == nil {
		t.Errorf("missing profile found")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", "backend:\n  hots: 1\n", "failed to parse config"},
		{"bad storage type", "remote_storages:\n  - type: ftp\n    base: x\n", "invalid type"},
		{"exec without program", "remote_storages:\n  - type: exec\n    base: x\n", "needs a program"},
		{"s3 without bucket", "remote_storages:\n  - type: s3\n    base: x\n", "needs a bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("Load of a missing file succeeded")
	}
}

func TestPath(t *testing.T) {
	t.Setenv(ConfigPathEnv, "")
	if got := Path(); got != DefaultConfigPath {
		t.Errorf("Path() = %q, want %q", got, DefaultConfigPath)
	}
	t.Setenv(ConfigPathEnv, "/etc/haruki/hca.yaml")
	if got := Path(); got != "/etc/haruki/hca.yaml" {
		t.Errorf("Path() = %q", got)
	}
}

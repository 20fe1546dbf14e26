package api

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gofiber/fiber/v3"

	"haruki-hca-codec/config"
	"haruki-hca-codec/utils/cricodecs/crihca"
	"haruki-hca-codec/utils/wav"
)

const testKeycode = 0x0030D9E8

func newTestApp(t *testing.T, cfg config.Config) *fiber.App {
	t.Helper()
	saved := config.Cfg
	config.Cfg = cfg
	t.Cleanup(func() { config.Cfg = saved })
	app := fiber.New(fiber.Config{BodyLimit: 16 * 1024 * 1024})
	RegisterRoutes(app)
	return app
}

func toneWav(t *testing.T, channels, rate, n int) []byte {
	t.Helper()
	samples := make([][]int16, channels)
	for c := range samples {
		samples[c] = make([]int16, n)
		for i := range samples[c] {
			samples[c][i] = int16(8000 * math.Sin(2*math.Pi*float64(440+110*c)*float64(i)/float64(rate)))
		}
	}
	var buf bytes.Buffer
	if err := wav.Write(&buf, &wav.File{Format: wav.Format{Channels: channels, SampleRate: rate}, Samples: samples}); err != nil {
		t.Fatalf("wav.Write: %v", err)
	}
	return buf.Bytes()
}

func do(t *testing.T, app *fiber.App, method, target string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, data
}

func TestEncodeDecodeRoutes(t *testing.T) {
	app := newTestApp(t, config.Config{})
	resp, hca := do(t, app, http.MethodPost, "/encode?quality=high", toneWav(t, 2, 32000, 8000), nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("encode status %d: %s", resp.StatusCode, hca)
	}
	if ct := resp.Header.Get(fiber.HeaderContentType); ct != mimeHCA {
		t.Errorf("content type %q", ct)
	}
	if br, _ := strconv.Atoi(resp.Header.Get("X-HCA-Bitrate")); br <= 0 {
		t.Errorf("bitrate header %q", resp.Header.Get("X-HCA-Bitrate"))
	}
	audio, err := crihca.ReadAudio(bytes.NewReader(hca))
	if err != nil {
		t.Fatalf("ReadAudio: %v", err)
	}
	if audio.Info.ChannelCount != 2 || audio.Info.SampleCount != 8000 {
		t.Errorf("encoded %d ch %d samples", audio.Info.ChannelCount, audio.Info.SampleCount)
	}

	resp, out := do(t, app, http.MethodPost, "/decode", hca, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("decode status %d: %s", resp.StatusCode, out)
	}
	f, err := wav.Read(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("wav.Read: %v", err)
	}
	if f.Channels != 2 || f.SampleRate != 32000 || f.SampleCount() != 8000 {
		t.Errorf("decoded %d ch %d Hz %d samples", f.Channels, f.SampleRate, f.SampleCount())
	}
}

func TestEncryptedRoutes(t *testing.T) {
	crihca.RegisterKeycode(testKeycode)
	app := newTestApp(t, config.Config{})
	resp, hca := do(t, app, http.MethodPost, "/encode?key="+strconv.Itoa(testKeycode), toneWav(t, 1, 44100, 20000), nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("encode status %d: %s", resp.StatusCode, hca)
	}

	resp, body := do(t, app, http.MethodPost, "/decode", hca, nil)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("decode without key: status %d, want 403 (%s)", resp.StatusCode, body)
	}

	resp, body = do(t, app, http.MethodPost, "/decode?key=0x30D9E8", hca, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("decode with key: status %d (%s)", resp.StatusCode, body)
	}

	config.Cfg.Codec.SearchKeys = true
	resp, body = do(t, app, http.MethodPost, "/decode", hca, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("decode with key search: status %d (%s)", resp.StatusCode, body)
	}

	resp, _ = do(t, app, http.MethodPost, "/decode?key=zzz", hca, nil)
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Errorf("bad key: status %d, want 422", resp.StatusCode)
	}
}

func TestInfoRoute(t *testing.T) {
	app := newTestApp(t, config.Config{})
	_, hca := do(t, app, http.MethodPost, "/encode?loop_start=1000&loop_end=9000", toneWav(t, 1, 22050, 12000), nil)

	resp, body := do(t, app, http.MethodPost, "/info?name=tone&frames=true", hca, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("info status %d: %s", resp.StatusCode, body)
	}
	var got struct {
		Name   string `json:"name"`
		Loop   struct{ Start, End int }
		Frames []json.RawMessage `json:"frames"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal %s: %v", body, err)
	}
	if got.Name != "tone" || got.Loop.Start != 1000 || got.Loop.End != 9000 || len(got.Frames) == 0 {
		t.Errorf("info = %+v", got)
	}

	resp, _ = do(t, app, http.MethodPost, "/info", []byte("not hca"), nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("garbage body: status %d, want 400", resp.StatusCode)
	}
}

func TestRenderRoute(t *testing.T) {
	app := newTestApp(t, config.Config{})
	_, hca := do(t, app, http.MethodPost, "/encode", toneWav(t, 2, 44100, 6000), nil)
	resp, body := do(t, app, http.MethodPost, "/render", hca, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("render status %d: %s", resp.StatusCode, body)
	}
	if resp.Header.Get(fiber.HeaderContentType) != mimeWebP || len(body) < 12 || string(body[8:12]) != "WEBP" {
		t.Errorf("render did not return a WebP image")
	}
}

func TestEncodeErrors(t *testing.T) {
	app := newTestApp(t, config.Config{})
	tests := []struct {
		name   string
		target string
		body   []byte
		want   int
	}{
		{"bad wav", "/encode", []byte("RIFF"), fiber.StatusBadRequest},
		{"bad quality", "/encode?quality=ultra", toneWav(t, 1, 8000, 100), fiber.StatusUnprocessableEntity},
		{"bad bitrate", "/encode?bitrate=fast", toneWav(t, 1, 8000, 100), fiber.StatusUnprocessableEntity},
		{"unknown profile", "/encode?profile=nope", toneWav(t, 1, 8000, 100), fiber.StatusUnprocessableEntity},
		{"bad loop", "/encode?loop_start=90&loop_end=50", toneWav(t, 1, 8000, 100), fiber.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, app, http.MethodPost, tt.target, tt.body, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("status %d, want %d (%s)", resp.StatusCode, tt.want, body)
			}
		})
	}
}

func TestKeysRoute(t *testing.T) {
	crihca.RegisterKeycode(testKeycode)
	app := newTestApp(t, config.Config{})
	resp, body := do(t, app, http.MethodGet, "/keys", nil, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("keys status %d", resp.StatusCode)
	}
	var got struct {
		Keys []struct {
			ID   int `json:"id"`
			Type int `json:"type"`
		} `json:"keys"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Keys) < 2 || got.Keys[0].Type != crihca.CipherStatic || got.Keys[1].Type != crihca.CipherKeycode {
		t.Errorf("keys = %+v", got.Keys)
	}
	if bytes.Contains(body, []byte(strconv.Itoa(testKeycode))) {
		t.Errorf("keycode leaked: %s", body)
	}
}

func TestAuthorization(t *testing.T) {
	cfg := config.Config{Backend: config.BackendConfig{
		EnableAuthorization:      true,
		AcceptUserAgentPrefix:    "Haruki",
		AcceptAuthorizationToken: "secret",
	}}
	app := newTestApp(t, cfg)
	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"no headers", nil, fiber.StatusUnauthorized},
		{"wrong agent", map[string]string{"User-Agent": "curl/8", "Authorization": "Bearer secret"}, fiber.StatusUnauthorized},
		{"wrong token", map[string]string{"User-Agent": "HarukiClient/1", "Authorization": "Bearer nope"}, fiber.StatusUnauthorized},
		{"ok", map[string]string{"User-Agent": "HarukiClient/1", "Authorization": "Bearer secret"}, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, app, http.MethodGet, "/keys", nil, tt.headers)
			if resp.StatusCode != tt.want {
				t.Errorf("status %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

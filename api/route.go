package api

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"haruki-hca-codec/config"
	"haruki-hca-codec/utils/cricodecs/crihca"
	"haruki-hca-codec/utils/exporter"
	harukiLogger "haruki-hca-codec/utils/logger"
	"haruki-hca-codec/utils/manifest"
	"haruki-hca-codec/utils/visual"
	"haruki-hca-codec/utils/wav"
)

var logger = harukiLogger.NewLogger("HarukiHCAApi", "INFO", nil)

const (
	mimeHCA  = "audio/x-hca"
	mimeWAV  = "audio/wav"
	mimeWebP = "image/webp"
)

// RegisterRoutes registers all API routes
func RegisterRoutes(app *fiber.App) {
	app.Use(authorize)
	app.Post("/encode", encodeHandler)
	app.Post("/decode", decodeHandler)
	app.Post("/info", infoHandler)
	app.Post("/render", renderHandler)
	app.Get("/keys", keysHandler)
	app.Post("/batch", batchHandler)
}

// authorize checks the User-Agent prefix and bearer token when
// authorization is enabled.
func authorize(c fiber.Ctx) error {
	if !config.Cfg.Backend.EnableAuthorization {
		return c.Next()
	}
	if config.Cfg.Backend.AcceptUserAgentPrefix != "" {
		userAgent := c.Get("User-Agent")
		if !strings.HasPrefix(userAgent, config.Cfg.Backend.AcceptUserAgentPrefix) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Invalid User-Agent",
			})
		}
	}
	if config.Cfg.Backend.AcceptAuthorizationToken != "" {
		authHeader := c.Get("Authorization")
		expectedAuth := "Bearer " + config.Cfg.Backend.AcceptAuthorizationToken
		if authHeader != expectedAuth {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Invalid authorization token",
			})
		}
	}
	return c.Next()
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, crihca.ErrKeyNotFound):
		return fiber.StatusForbidden
	case errors.Is(err, crihca.ErrConfig), errors.Is(err, crihca.ErrBitrateTooLow):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusBadRequest
	}
}

func fail(c fiber.Ctx, message string, err error) error {
	status := errorStatus(err)
	logger.Warnf("%s %s: %s: %v", c.Method(), c.Path(), message, err)
	return c.Status(status).JSON(fiber.Map{
		"message": message,
		"error":   err.Error(),
	})
}

func queryInt(c fiber.Ctx, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", crihca.ErrConfig, key, v)
	}
	return n, nil
}

func queryKeycode(c fiber.Ctx) (uint64, uint16, error) {
	var keycode uint64
	var subkey uint64
	var err error
	if v := c.Query("key"); v != "" {
		if keycode, err = strconv.ParseUint(v, 0, 64); err != nil {
			return 0, 0, fmt.Errorf("%w: invalid key %q", crihca.ErrConfig, v)
		}
	}
	if v := c.Query("subkey"); v != "" {
		if subkey, err = strconv.ParseUint(v, 0, 16); err != nil {
			return 0, 0, fmt.Errorf("%w: invalid subkey %q", crihca.ErrConfig, v)
		}
	}
	return keycode, uint16(subkey), nil
}

// encodeOptions builds encode settings from the profile named by the
// profile query and the individual overrides.
func encodeOptions(c fiber.Ctx) (exporter.EncodeOptions, error) {
	profile, err := config.Cfg.Profile(c.Query("profile"))
	if err != nil {
		return exporter.EncodeOptions{}, fmt.Errorf("%w: %v", crihca.ErrConfig, err)
	}
	if q := c.Query("quality"); q != "" {
		profile.Quality = q
	}
	bitrate, err := queryInt(c, "bitrate")
	if err != nil {
		return exporter.EncodeOptions{}, err
	}
	if bitrate != 0 {
		profile.Bitrate = bitrate
	}
	keycode, _, err := queryKeycode(c)
	if err != nil {
		return exporter.EncodeOptions{}, err
	}
	if keycode != 0 {
		profile.Cipher = crihca.CipherKeycode
		profile.Keycode = keycode
	}
	opts := exporter.EncodeOptions{Profile: profile}

	loopStart, err := queryInt(c, "loop_start")
	if err != nil {
		return opts, err
	}
	loopEnd, err := queryInt(c, "loop_end")
	if err != nil {
		return opts, err
	}
	if loopEnd > 0 {
		opts.Looping = true
		opts.LoopStart = loopStart
		opts.LoopEnd = loopEnd
	}
	return opts, nil
}

func encodeHandler(c fiber.Ctx) error {
	opts, err := encodeOptions(c)
	if err != nil {
		return fail(c, "Invalid encode parameters", err)
	}
	pcm, err := wav.Read(bytes.NewReader(c.Body()))
	if err != nil {
		return fail(c, "Invalid WAV body", err)
	}
	audio, err := exporter.EncodeFile(pcm, opts)
	if err != nil {
		return fail(c, "Failed to encode", err)
	}
	data, err := audio.Bytes()
	if err != nil {
		return fail(c, "Failed to write HCA", err)
	}
	c.Set(fiber.HeaderContentType, mimeHCA)
	c.Set("X-HCA-Bitrate", strconv.Itoa(audio.Info.Bitrate()))
	return c.Send(data)
}

// readAudio parses the request body and decrypts it when a key is given
// or can be found.
func readAudio(c fiber.Ctx) (*crihca.Audio, error) {
	audio, err := crihca.ReadAudio(bytes.NewReader(c.Body()))
	if err != nil {
		return nil, err
	}
	if audio.Info.EncryptionType == crihca.CipherNone {
		return audio, nil
	}
	keycode, subkey, err := queryKeycode(c)
	if err != nil {
		return nil, err
	}
	var key *crihca.Key
	switch {
	case audio.Info.EncryptionType == crihca.CipherStatic:
		key, err = crihca.NewKey(crihca.CipherStatic, 0)
	case keycode != 0:
		key, err = crihca.NewKey(crihca.CipherKeycode, crihca.MixSubkey(keycode, subkey))
	case config.Cfg.Codec.SearchKeys:
		key, err = crihca.FindKey(audio.Info, audio.Frames)
	default:
		err = crihca.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := crihca.Decrypt(audio.Info, audio.Frames, key); err != nil {
		return nil, err
	}
	return audio, nil
}

func decodeHandler(c fiber.Ctx) error {
	audio, err := readAudio(c)
	if err != nil {
		return fail(c, "Invalid HCA body", err)
	}
	pcm, err := crihca.DecodePCM16(audio, nil)
	if err != nil {
		return fail(c, "Failed to decode", err)
	}
	var buf bytes.Buffer
	f := &wav.File{Format: wav.Format{Channels: audio.Info.ChannelCount, SampleRate: audio.Info.SampleRate}, Samples: pcm}
	if err := wav.Write(&buf, f); err != nil {
		return fail(c, "Failed to write WAV", err)
	}
	c.Set(fiber.HeaderContentType, mimeWAV)
	return c.Send(buf.Bytes())
}

func infoHandler(c fiber.Ctx) error {
	withFrames := c.Query("frames") == "true"
	var audio *crihca.Audio
	var err error
	if withFrames {
		audio, err = readAudio(c)
	} else {
		audio, err = crihca.ReadAudio(bytes.NewReader(c.Body()))
	}
	if err != nil {
		return fail(c, "Invalid HCA body", err)
	}
	m, err := manifest.Build(c.Query("name"), audio, withFrames)
	if err != nil {
		return fail(c, "Failed to inspect", err)
	}
	data, err := m.MarshalJSON()
	if err != nil {
		return fail(c, "Failed to encode manifest", err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(data)
}

func renderHandler(c fiber.Ctx) error {
	audio, err := readAudio(c)
	if err != nil {
		return fail(c, "Invalid HCA body", err)
	}
	var buf bytes.Buffer
	if err := visual.Render(&buf, audio); err != nil {
		return fail(c, "Failed to render", err)
	}
	c.Set(fiber.HeaderContentType, mimeWebP)
	return c.Send(buf.Bytes())
}

// keysHandler lists the key table without revealing keycodes.
func keysHandler(c fiber.Ctx) error {
	keys := crihca.Keys()
	list := make([]fiber.Map, 0, len(keys))
	for i, k := range keys {
		list = append(list, fiber.Map{"id": i, "type": k.Type})
	}
	return c.JSON(fiber.Map{
		"search_keys": config.Cfg.Codec.SearchKeys,
		"keys":        list,
	})
}

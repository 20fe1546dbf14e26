package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/iancoleman/orderedmap"
	"github.com/shamaton/msgpack/v2"

	"haruki-hca-codec/utils/cricodecs/crihca"
)

// Manifest describes one HCA stream: its header fields and, optionally,
// the side information of every frame.
type Manifest struct {
	Name        string  `json:"name,omitempty" msgpack:"name,omitempty"`
	Version     string  `json:"version" msgpack:"version"`
	Channels    int     `json:"channels" msgpack:"channels"`
	SampleRate  int     `json:"sample_rate" msgpack:"sample_rate"`
	SampleCount int     `json:"sample_count" msgpack:"sample_count"`
	Duration    float64 `json:"duration" msgpack:"duration"`
	FrameCount  int     `json:"frame_count" msgpack:"frame_count"`
	FrameSize   int     `json:"frame_size" msgpack:"frame_size"`
	Bitrate     int     `json:"bitrate" msgpack:"bitrate"`
	Bands       Bands   `json:"bands" msgpack:"bands"`
	Loop        *Loop   `json:"loop,omitempty" msgpack:"loop,omitempty"`
	Cipher      int     `json:"cipher" msgpack:"cipher"`
	Volume      float32 `json:"volume" msgpack:"volume"`
	Comment     string  `json:"comment,omitempty" msgpack:"comment,omitempty"`

	Frames []crihca.FrameSummary `json:"frames,omitempty" msgpack:"frames,omitempty"`
}

type Bands struct {
	Total       int `json:"total" msgpack:"total"`
	Base        int `json:"base" msgpack:"base"`
	Stereo      int `json:"stereo" msgpack:"stereo"`
	Hfr         int `json:"hfr" msgpack:"hfr"`
	PerHfrGroup int `json:"per_hfr_group" msgpack:"per_hfr_group"`
}

type Loop struct {
	Start int `json:"start" msgpack:"start"`
	End   int `json:"end" msgpack:"end"`
}

// Build describes a. Frame summaries are included when withFrames is set,
// which requires an unencrypted stream.
func Build(name string, a *crihca.Audio, withFrames bool) (*Manifest, error) {
	info := a.Info
	m := &Manifest{
		Name:        name,
		Version:     fmt.Sprintf("%d.%02d", info.Version>>8, info.Version&0xFF),
		Channels:    info.ChannelCount,
		SampleRate:  info.SampleRate,
		SampleCount: info.SampleCount,
		FrameCount:  info.FrameCount,
		FrameSize:   info.FrameSize,
		Bitrate:     info.Bitrate(),
		Bands: Bands{
			Total:       info.TotalBandCount,
			Base:        info.BaseBandCount,
			Stereo:      info.StereoBandCount,
			Hfr:         info.HfrBandCount,
			PerHfrGroup: info.BandsPerHfrGroup,
		},
		Cipher:  info.EncryptionType,
		Volume:  info.Volume,
		Comment: info.Comment,
	}
	if info.SampleRate > 0 {
		m.Duration = float64(info.SampleCount) / float64(info.SampleRate)
	}
	if info.Looping {
		m.Loop = &Loop{Start: info.LoopStartSample(), End: info.LoopEndSample()}
	}
	if withFrames {
		frames, err := crihca.Inspect(a)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect frames: %w", err)
		}
		m.Frames = frames
	}
	return m, nil
}

type JSONNum struct {
	Raw string
}

func (n JSONNum) MarshalJSON() ([]byte, error) {
	return []byte(n.Raw), nil
}

// makeJSONFloat formats f with a trailing ".0" for whole values so floats
// stay floats when read back.
func makeJSONFloat(f float64, bits int) JSONNum {
	raw := strconv.FormatFloat(f, 'f', -1, bits)
	if !strings.ContainsAny(raw, ".eE") {
		raw += ".0"
	}
	return JSONNum{Raw: raw}
}

// ToOrderedMap lays the manifest out in a fixed key order.
func (m *Manifest) ToOrderedMap() *orderedmap.OrderedMap {
	om := orderedmap.New()
	om.SetEscapeHTML(false)
	if m.Name != "" {
		om.Set("name", m.Name)
	}
	om.Set("version", m.Version)
	om.Set("channels", m.Channels)
	om.Set("sample_rate", m.SampleRate)
	om.Set("sample_count", m.SampleCount)
	om.Set("duration", makeJSONFloat(m.Duration, 64))
	om.Set("frame_count", m.FrameCount)
	om.Set("frame_size", m.FrameSize)
	om.Set("bitrate", m.Bitrate)

	bands := orderedmap.New()
	bands.Set("total", m.Bands.Total)
	bands.Set("base", m.Bands.Base)
	bands.Set("stereo", m.Bands.Stereo)
	bands.Set("hfr", m.Bands.Hfr)
	bands.Set("per_hfr_group", m.Bands.PerHfrGroup)
	om.Set("bands", bands)

	if m.Loop != nil {
		loop := orderedmap.New()
		loop.Set("start", m.Loop.Start)
		loop.Set("end", m.Loop.End)
		om.Set("loop", loop)
	}
	om.Set("cipher", m.Cipher)
	om.Set("volume", makeJSONFloat(float64(m.Volume), 32))
	if m.Comment != "" {
		om.Set("comment", m.Comment)
	}
	if len(m.Frames) > 0 {
		om.Set("frames", m.Frames)
	}
	return om
}

func (m *Manifest) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(m.ToOrderedMap())
}

func (m *Manifest) MarshalMsgpack() ([]byte, error) {
	return msgpack.Marshal(m)
}

func UnmarshalMsgpack(b []byte) (*Manifest, error) {
	var m Manifest
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// MsgpackToOrderedMap converts a MessagePack manifest to its ordered JSON
// layout.
func MsgpackToOrderedMap(b []byte) (*orderedmap.OrderedMap, error) {
	m, err := UnmarshalMsgpack(b)
	if err != nil {
		return nil, err
	}
	return m.ToOrderedMap(), nil
}

// WriteFile saves m as MessagePack when path ends in .msgpack or .mpk and
// as JSON otherwise.
func WriteFile(path string, m *Manifest) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mpk":
		data, err = m.MarshalMsgpack()
	default:
		data, err = m.MarshalJSON()
	}
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadFile loads a manifest written by WriteFile.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mpk":
		return UnmarshalMsgpack(data)
	}
	var m Manifest
	if err := sonic.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

package utils

import (
	"fmt"
	"strings"
)

// EncodeProfile is a named set of encoder settings from the config file.
type EncodeProfile struct {
	Quality      string  `yaml:"quality,omitempty" json:"quality,omitempty"`
	Bitrate      int     `yaml:"bitrate,omitempty" json:"bitrate,omitempty"`
	LimitBitrate bool    `yaml:"limit_bitrate,omitempty" json:"limit_bitrate,omitempty"`
	Volume       float32 `yaml:"volume,omitempty" json:"volume,omitempty"`
	Comment      string  `yaml:"comment,omitempty" json:"comment,omitempty"`
	Cipher       int     `yaml:"cipher,omitempty" json:"cipher,omitempty"`
	Keycode      uint64  `yaml:"keycode,omitempty" json:"-"`
}

type HarukiAudioExportFormat string

const (
	HarukiAudioExportFormatWAV  HarukiAudioExportFormat = "wav"
	HarukiAudioExportFormatMP3  HarukiAudioExportFormat = "mp3"
	HarukiAudioExportFormatFLAC HarukiAudioExportFormat = "flac"
)

func ParseAudioExportFormat(s string) (HarukiAudioExportFormat, error) {
	switch HarukiAudioExportFormat(strings.ToLower(s)) {
	case "", HarukiAudioExportFormatWAV:
		return HarukiAudioExportFormatWAV, nil
	case HarukiAudioExportFormatMP3,
		HarukiAudioExportFormatFLAC:
		return HarukiAudioExportFormat(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("invalid export format: %s", s)
	}
}

type HarukiRemoteStorageType string

const (
	HarukiRemoteStorageTypeExec HarukiRemoteStorageType = "exec"
	HarukiRemoteStorageTypeS3   HarukiRemoteStorageType = "s3"
)

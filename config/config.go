package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"haruki-hca-codec/utils"
)

const (
	DefaultConfigPath = "haruki-hca-configs.yaml"
	ConfigPathEnv     = "HARUKI_HCA_CONFIG"
)

type BackendConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	SSL                      bool   `yaml:"ssl"`
	SSLCert                  string `yaml:"ssl_cert"`
	SSLKey                   string `yaml:"ssl_key"`
	LogLevel                 string `yaml:"log_level"`
	MainLogFile              string `yaml:"main_log_file"`
	AccessLog                string `yaml:"access_log"`
	AccessLogPath            string `yaml:"access_log_path"`
	BodyLimitMB              int    `yaml:"body_limit_mb,omitempty"`
	EnableAuthorization      bool   `yaml:"enable_authorization,omitempty"`
	AcceptUserAgentPrefix    string `yaml:"accept_user_agent_prefix,omitempty"`
	AcceptAuthorizationToken string `yaml:"accept_authorization_token,omitempty"`
}

type ToolConfig struct {
	FFMPEGPath string `yaml:"ffmpeg_path,omitempty"`
}

type CodecConfig struct {
	Quality      string   `yaml:"quality,omitempty"`
	Bitrate      int      `yaml:"bitrate,omitempty"`
	LimitBitrate bool     `yaml:"limit_bitrate,omitempty"`
	Keycodes     []uint64 `yaml:"keycodes,omitempty"`
	SearchKeys   bool     `yaml:"search_keys,omitempty"`
}

type ConcurrencyConfig struct {
	Batch   int `yaml:"batch,omitempty"`
	Uploads int `yaml:"uploads,omitempty"`
}

type RemoteStorageConfig struct {
	Type    utils.HarukiRemoteStorageType `yaml:"type"`
	Base    string                        `yaml:"base"`
	Program string                        `yaml:"program,omitempty"`
	Args    []string                      `yaml:"args,omitempty"`

	Endpoint        string `yaml:"endpoint,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Bucket          string `yaml:"bucket,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	UsePathStyle    bool   `yaml:"use_path_style,omitempty"`
}

type Config struct {
	Proxy          string                         `yaml:"proxy,omitempty"`
	Backend        BackendConfig                  `yaml:"backend,omitempty"`
	Tools          ToolConfig                     `yaml:"tool,omitempty"`
	Codec          CodecConfig                    `yaml:"codec,omitempty"`
	Profiles       map[string]utils.EncodeProfile `yaml:"profiles,omitempty"`
	Concurrency    ConcurrencyConfig              `yaml:"concurrency,omitempty"`
	RemoteStorages []RemoteStorageConfig          `yaml:"remote_storages,omitempty"`
}

var Version = "v1.0.0-dev"
var Cfg Config

// Path returns the config file named by HARUKI_HCA_CONFIG, or the default.
func Path() string {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p
	}
	return DefaultConfigPath
}

func Load(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for i, s := range c.RemoteStorages {
		switch s.Type {
		case utils.HarukiRemoteStorageTypeExec:
			if s.Program == "" {
				return fmt.Errorf("remote storage %d: exec storage needs a program", i)
			}
		case utils.HarukiRemoteStorageTypeS3:
			if s.Bucket == "" {
				return fmt.Errorf("remote storage %d: s3 storage needs a bucket", i)
			}
		default:
			return fmt.Errorf("remote storage %d: invalid type %q", i, s.Type)
		}
	}
	return nil
}

// BatchWorkers is the number of files converted at once, at least 1.
func (c *Config) BatchWorkers() int {
	if c.Concurrency.Batch <= 0 {
		return 4
	}
	return c.Concurrency.Batch
}

// UploadWorkers is the number of concurrent uploads per storage, at least 1.
func (c *Config) UploadWorkers() int {
	if c.Concurrency.Uploads <= 0 {
		return 4
	}
	return c.Concurrency.Uploads
}

// Profile returns the named encode profile. The empty name selects the
// codec defaults.
func (c *Config) Profile(name string) (utils.EncodeProfile, error) {
	if name == "" {
		return utils.EncodeProfile{
			Quality:      c.Codec.Quality,
			Bitrate:      c.Codec.Bitrate,
			LimitBitrate: c.Codec.LimitBitrate,
		}, nil
	}
	p, ok := c.Profiles[name]
	if !ok {
		return utils.EncodeProfile{}, fmt.Errorf("encode profile %q not found in configuration", name)
	}
	return p, nil
}

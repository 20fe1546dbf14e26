package api

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"

	"github.com/gofiber/fiber/v3"

	"haruki-hca-codec/config"
	"haruki-hca-codec/utils"
	"haruki-hca-codec/utils/exporter"
	"haruki-hca-codec/utils/fetch"
)

// BatchPayload starts a directory job. Sources are downloaded into InputDir
// before the job runs.
type BatchPayload struct {
	Mode        exporter.BatchMode `json:"mode"`
	InputDir    string             `json:"input_dir"`
	OutputDir   string             `json:"output_dir,omitempty"`
	Include     string             `json:"include,omitempty"`
	Exclude     string             `json:"exclude,omitempty"`
	Sources     []string           `json:"sources,omitempty"`
	NoCache     bool               `json:"no_cache,omitempty"`
	Format      string             `json:"format,omitempty"`
	Profile     string             `json:"profile,omitempty"`
	Manifest    bool               `json:"manifest,omitempty"`
	HeatMap     bool               `json:"heat_map,omitempty"`
	Upload      bool               `json:"upload,omitempty"`
	RemoveLocal bool               `json:"remove_local,omitempty"`
}

// batchOptions checks the payload against the configuration.
func batchOptions(p BatchPayload) (exporter.BatchOptions, error) {
	if p.Mode != exporter.BatchModeDecode && p.Mode != exporter.BatchModeEncode {
		return exporter.BatchOptions{}, fmt.Errorf("invalid batch mode %q", p.Mode)
	}
	if p.InputDir == "" {
		return exporter.BatchOptions{}, fmt.Errorf("input_dir is required")
	}
	format, err := utils.ParseAudioExportFormat(p.Format)
	if err != nil {
		return exporter.BatchOptions{}, err
	}
	profile, err := config.Cfg.Profile(p.Profile)
	if err != nil {
		return exporter.BatchOptions{}, err
	}
	if p.Upload && len(config.Cfg.RemoteStorages) == 0 {
		return exporter.BatchOptions{}, fmt.Errorf("upload requested but no remote storage is configured")
	}
	ffmpeg := config.Cfg.Tools.FFMPEGPath
	return exporter.BatchOptions{
		Mode:      p.Mode,
		OutputDir: p.OutputDir,
		Include:   p.Include,
		Exclude:   p.Exclude,
		Workers:   config.Cfg.BatchWorkers(),
		Export: exporter.ExportOptions{
			Format:        format,
			FFMPEGPath:    ffmpeg,
			RemoveWav:     format != utils.HarukiAudioExportFormatWAV,
			WriteManifest: p.Manifest,
			RenderHeatMap: p.HeatMap,
			SearchKeys:    config.Cfg.Codec.SearchKeys,
		},
		Encode: exporter.EncodeOptions{
			Profile:    profile,
			FFMPEGPath: ffmpeg,
		},
		Upload:                 p.Upload,
		RemoveLocalAfterUpload: p.RemoveLocal,
	}, nil
}

// sourceName is the file name a source URL is saved under.
func sourceName(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid source %q: %w", raw, err)
	}
	name := path.Base(u.Path)
	if u.Scheme == "" || name == "/" || name == "." {
		return "", fmt.Errorf("invalid source %q", raw)
	}
	return name, nil
}

// runBatch downloads the sources and runs the directory job.
func runBatch(ctx context.Context, p BatchPayload, opts exporter.BatchOptions) ([]string, error) {
	if len(p.Sources) > 0 {
		client := fetch.NewClient(config.Cfg.Proxy, p.NoCache)
		for _, src := range p.Sources {
			name, err := sourceName(src)
			if err != nil {
				return nil, err
			}
			if err := client.Download(ctx, src, filepath.Join(p.InputDir, name)); err != nil {
				return nil, err
			}
		}
		logger.Infof("Downloaded %d sources into %s", len(p.Sources), p.InputDir)
	}
	return exporter.ExportDirectory(ctx, p.InputDir, opts)
}

func batchHandler(c fiber.Ctx) error {
	var payload BatchPayload
	if err := c.Bind().Body(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request payload",
			"error":   err.Error(),
		})
	}
	opts, err := batchOptions(payload)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid batch job",
			"error":   err.Error(),
		})
	}
	for _, src := range payload.Sources {
		if _, err := sourceName(src); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Invalid batch job",
				"error":   err.Error(),
			})
		}
	}

	go func() {
		produced, err := runBatch(context.Background(), payload, opts)
		if err != nil {
			logger.Errorf("Batch %s of %s failed: %v", payload.Mode, payload.InputDir, err)
			return
		}
		logger.Infof("Batch %s of %s finished with %d files", payload.Mode, payload.InputDir, len(produced))
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "Batch job started running",
		"mode":    payload.Mode,
	})
}

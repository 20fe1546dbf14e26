package exporter

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dlclark/regexp2"

	"haruki-hca-codec/utils"
	cloud "haruki-hca-codec/utils/cloud"
)

type BatchMode string

const (
	BatchModeDecode BatchMode = "decode"
	BatchModeEncode BatchMode = "encode"
)

type BatchOptions struct {
	Mode BatchMode
	// OutputDir mirrors the input tree; empty writes next to each input.
	OutputDir string
	Include   string
	Exclude   string
	Workers   int

	Export ExportOptions
	Encode EncodeOptions

	Upload                 bool
	RemoveLocalAfterUpload bool
}

// Filter matches slash-separated relative paths against optional include
// and exclude patterns. Patterns use .NET regular expression syntax.
type Filter struct {
	include *regexp2.Regexp
	exclude *regexp2.Regexp
}

func compilePattern(pattern string) (*regexp2.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp2.Compile(pattern, regexp2.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	re.MatchTimeout = time.Second
	return re, nil
}

func NewFilter(include, exclude string) (*Filter, error) {
	inc, err := compilePattern(include)
	if err != nil {
		return nil, err
	}
	exc, err := compilePattern(exclude)
	if err != nil {
		return nil, err
	}
	return &Filter{include: inc, exclude: exc}, nil
}

func (f *Filter) Match(name string) bool {
	if f.include != nil {
		if ok, err := f.include.MatchString(name); err != nil || !ok {
			return false
		}
	}
	if f.exclude != nil {
		if ok, err := f.exclude.MatchString(name); err != nil || ok {
			return false
		}
	}
	return true
}

// ExportDirectory decodes or encodes every matching file under dir and
// returns the files produced.
func ExportDirectory(ctx context.Context, dir string, opts BatchOptions) ([]string, error) {
	filter, err := NewFilter(opts.Include, opts.Exclude)
	if err != nil {
		return nil, err
	}
	ext := ".hca"
	if opts.Mode == BatchModeEncode {
		ext = ".wav"
	} else if opts.Mode != BatchModeDecode {
		return nil, fmt.Errorf("invalid batch mode %q", opts.Mode)
	}
	files, err := utils.FindFilesByExtension(dir, ext)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	outputRoot := opts.OutputDir
	if outputRoot == "" {
		outputRoot = dir
	}

	var jobs []string
	for _, file := range files {
		rel, err := filepath.Rel(dir, file)
		if err != nil {
			return nil, err
		}
		if filter.Match(filepath.ToSlash(rel)) {
			jobs = append(jobs, file)
		}
	}
	logger.Infof("Found %d %s files in %s, %d selected", len(files), ext, dir, len(jobs))
	if len(jobs) == 0 {
		return nil, nil
	}

	semaphore := make(chan struct{}, max(opts.Workers, 1))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var produced []string
	errChan := make(chan error, len(jobs))

	for _, job := range jobs {
		wg.Add(1)
		go func(file string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			if err := ctx.Err(); err != nil {
				errChan <- err
				return
			}

			rel, _ := filepath.Rel(dir, filepath.Dir(file))
			outputDir := filepath.Join(outputRoot, rel)
			var out []string
			var err error
			if opts.Mode == BatchModeEncode {
				var hcaFile string
				hcaFile, err = EncodeWAV(file, outputDir, opts.Encode)
				out = []string{hcaFile}
			} else {
				out, err = ExportHCA(file, outputDir, opts.Export)
			}
			if err != nil {
				errChan <- fmt.Errorf("failed to process %s: %w", file, err)
				return
			}
			logger.Infof("Processed %s", file)
			mu.Lock()
			produced = append(produced, out...)
			mu.Unlock()
		}(job)
	}

	wg.Wait()
	close(errChan)

	var firstErr error
	errorCount := 0
	for e := range errChan {
		errorCount++
		if firstErr == nil {
			firstErr = e
		}
		logger.Warnf("Batch error: %v", e)
	}
	slices.Sort(produced)
	if errorCount > 0 {
		return produced, fmt.Errorf("failed to process %d of %d files: %w", errorCount, len(jobs), firstErr)
	}

	if opts.Upload && len(produced) > 0 {
		logger.Infof("Found %d files to upload from %s", len(produced), outputRoot)
		if err := cloud.UploadToAllStorages(ctx, produced, outputRoot, opts.RemoveLocalAfterUpload); err != nil {
			return produced, fmt.Errorf("failed to upload files from %s: %w", outputRoot, err)
		}
	}
	return produced, nil
}

package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// GetTimeArg returns a cache-busting query string stamped in JST.
func GetTimeArg() string {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		loc = time.FixedZone("JST", 9*60*60)
	}
	_time := time.Now().In(loc)
	timeFormat := _time.Format("20060102150405")
	return fmt.Sprintf("?t=%s", timeFormat)
}

// FindFilesByExtension lists files under dir whose extension matches ext,
// ignoring case.
func FindFilesByExtension(dir string, ext string) ([]string, error) {
	all, err := ScanAllFiles(dir)
	if err != nil {
		return nil, err
	}
	ext = strings.ToLower(ext)
	var files []string
	for _, path := range all {
		if strings.HasSuffix(strings.ToLower(filepath.Base(path)), ext) {
			files = append(files, path)
		}
	}
	return files, nil
}

func ScanAllFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory %s: %w", dir, err)
	}
	return files, nil
}

// ReplaceExt swaps the extension of path for ext, which includes the dot.
func ReplaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

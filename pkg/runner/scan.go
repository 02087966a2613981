package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// AnnotatedPrefix is prepended to the name of every output image
const AnnotatedPrefix = "out_"

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// Entry is an image file found in the input directory
type Entry struct {
	Name string
	Path string
}

// IsImageFile reports whether name has a supported image extension.
// The comparison ignores case.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// IsAnnotated reports whether name looks like an output of a previous run
func IsAnnotated(name string) bool {
	return strings.HasPrefix(name, AnnotatedPrefix)
}

// OutputPath returns the annotated output path for an input named name
func OutputPath(dir, name string) string {
	return filepath.Join(dir, AnnotatedPrefix+name)
}

// ScanOptions controls which directory entries ScanDir returns
type ScanOptions struct {
	SkipAnnotated bool
}

// ScanDir lists the image files in dir, sorted by name. Subdirectories and
// entries that cannot be stat'ed are skipped.
func ScanDir(dir string, opts ScanOptions, logger *zap.Logger) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil && len(dirEntries) == 0 {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpenDir, dir, err)
	}
	if err != nil {
		logger.Warn("directory listing incomplete", zap.String("dir", dir), zap.Error(err))
	}

	var entries []Entry
	for _, de := range dirEntries {
		name := de.Name()
		if !IsImageFile(name) {
			continue
		}
		if opts.SkipAnnotated && IsAnnotated(name) {
			logger.Debug("skipping annotated image", zap.String("name", name))
			continue
		}

		path := filepath.Join(dir, name)
		// Follows symlinks, unlike de.Info
		info, err := os.Stat(path)
		if err != nil {
			logger.Warn("skipping unreadable entry", zap.String("path", path), zap.Error(err))
			continue
		}
		if info.IsDir() {
			logger.Debug("skipping directory", zap.String("path", path))
			continue
		}

		entries = append(entries, Entry{Name: name, Path: path})
	}
	return entries, nil
}

package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed defaults/*
var defaultFiles embed.FS

// SeedDefaults copies the built-in templates into dir without overwriting
// existing files. It returns the names of the files it wrote.
func SeedDefaults(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create prompts directory: %w", err)
	}

	entries, err := fs.ReadDir(defaultFiles, "defaults")
	if err != nil {
		return nil, err
	}

	var written []string
	for _, e := range entries {
		dst := filepath.Join(dir, e.Name())
		if _, err := os.Stat(dst); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return written, err
		}

		data, err := defaultFiles.ReadFile("defaults/" + e.Name())
		if err != nil {
			return written, err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", dst, err)
		}
		written = append(written, e.Name())
	}
	return written, nil
}

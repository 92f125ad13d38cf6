package samples

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CombinedName is the corpus file for a sample type, e.g. COMMANDS_combined.jsonl.
func CombinedName(sampleType string) string {
	return strings.ToUpper(sampleType) + "_combined.jsonl"
}

// CombineResult summarizes one combined corpus.
type CombineResult struct {
	SampleType string `json:"sample_type" yaml:"sample_type"`
	Path       string `json:"path" yaml:"path"`
	Files      int    `json:"files" yaml:"files"`
	Samples    int    `json:"samples" yaml:"samples"`
	Skipped    int    `json:"skipped" yaml:"skipped"`
}

// Combine concatenates every sample file of a type in dir into
// <TYPE>_combined.jsonl. Lines that are not valid JSON are skipped and logged.
func Combine(dir, sampleType string, logger *slog.Logger) (*CombineResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	files, err := sampleFiles(dir, sampleType)
	if err != nil {
		return nil, err
	}

	res := &CombineResult{SampleType: sampleType, Path: filepath.Join(dir, CombinedName(sampleType))}
	var out bytes.Buffer
	for _, path := range files {
		n, skipped, err := appendSamples(&out, path, logger)
		if err != nil {
			return nil, err
		}
		res.Files++
		res.Samples += n
		res.Skipped += skipped
	}

	if err := os.WriteFile(res.Path, out.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", res.Path, err)
	}
	logger.Info("combined samples", "type", sampleType, "files", res.Files, "samples", res.Samples, "path", res.Path)
	return res, nil
}

// sampleFiles matches sample_*_<type>.jsonl and, for generic types,
// sample_*_<type>_generic_*.jsonl.
func sampleFiles(dir, sampleType string) ([]string, error) {
	var files []string
	for _, pattern := range []string{
		"sample_*_" + sampleType + ".jsonl",
		"sample_*_" + sampleType + "_generic_*.jsonl",
	} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

func appendSamples(out *bytes.Buffer, path string, logger *slog.Logger) (samples, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, line); err != nil {
			logger.Warn("skipping undecodable sample", "path", filepath.Base(path), "error", err)
			skipped++
			continue
		}
		out.Write(compact.Bytes())
		out.WriteByte('\n')
		samples++
	}
	if err := scanner.Err(); err != nil {
		return samples, skipped, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return samples, skipped, nil
}

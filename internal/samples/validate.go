// Package samples checks and combines extracted training-sample corpora.
package samples

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Markers the user turn of every sample must carry.
const (
	DeviceStructureMarker = "DEVICE STRUCTURE:"
	UserQueryMarker       = "USER QUERY:"
)

//go:embed sample.schema.json
var sampleSchema []byte

// Validator checks training samples: a messages array of exactly one system,
// one user and one assistant turn with string contents.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the sample schema.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("sample.schema.json", bytes.NewReader(sampleSchema)); err != nil {
		return nil, fmt.Errorf("failed to load sample schema: %w", err)
	}
	schema, err := compiler.Compile("sample.schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile sample schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Sample is the decoded shape of a valid training sample.
type Sample struct {
	Messages []Message `json:"messages"`
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidateLine checks one JSONL line.
func (v *Validator) ValidateLine(line []byte) error {
	var doc any
	if err := json.Unmarshal(line, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("sample does not match schema: %w", err)
	}

	var s Sample
	if err := json.Unmarshal(line, &s); err != nil {
		return fmt.Errorf("invalid sample: %w", err)
	}
	user := s.Messages[1].Content
	if !strings.Contains(user, DeviceStructureMarker) {
		return fmt.Errorf("user message does not contain %q", DeviceStructureMarker)
	}
	if !strings.Contains(user, UserQueryMarker) {
		return fmt.Errorf("user message does not contain %q", UserQueryMarker)
	}
	return nil
}

// ValidateFile checks every non-blank line of a JSONL file and stops at the
// first invalid one, returning its 1-based line number.
func (v *Validator) ValidateFile(path string) (samples int, badLine int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := v.ValidateLine(line); err != nil {
			return samples, n, err
		}
		samples++
	}
	if err := scanner.Err(); err != nil {
		return samples, n, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return samples, 0, nil
}

// FileResult is the check outcome of one file.
type FileResult struct {
	File    string `json:"file" yaml:"file"`
	Samples int    `json:"samples" yaml:"samples"`
	Valid   bool   `json:"valid" yaml:"valid"`
	Line    int    `json:"line,omitempty" yaml:"line,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
	MovedTo string `json:"moved_to,omitempty" yaml:"moved_to,omitempty"`
}

// CheckReport summarizes a directory check.
type CheckReport struct {
	Dir     string       `json:"dir" yaml:"dir"`
	Valid   int          `json:"valid" yaml:"valid"`
	Invalid int          `json:"invalid" yaml:"invalid"`
	Files   []FileResult `json:"files" yaml:"files"`
}

// CheckDir validates every *.jsonl file in dir. A file holding any invalid
// sample is moved into errorsDir whole, unless dryRun is set.
func (v *Validator) CheckDir(dir, errorsDir string, dryRun bool, logger *slog.Logger) (*CheckReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("samples directory %s: %w", dir, err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	report := &CheckReport{Dir: dir}
	for _, path := range files {
		samples, line, err := v.ValidateFile(path)
		res := FileResult{File: filepath.Base(path), Samples: samples, Valid: err == nil, Line: line}
		if err == nil {
			report.Valid++
			report.Files = append(report.Files, res)
			continue
		}

		report.Invalid++
		res.Error = err.Error()
		logger.Warn("invalid samples", "path", path, "line", line, "error", err)
		if !dryRun {
			dest, err := moveInto(path, errorsDir)
			if err != nil {
				return report, err
			}
			res.MovedTo = dest
		}
		report.Files = append(report.Files, res)
	}
	return report, nil
}

func moveInto(path, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create errors directory: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("failed to move %s: %w", path, err)
	}
	return dest, nil
}

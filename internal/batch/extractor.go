package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Outcome is the result of parsing one line of generated text.
// Exactly one of Sample or Reason is set, selected by Skipped.
type Outcome struct {
	Line    int             // 1-based line number within the text
	Sample  json.RawMessage // compacted JSON object
	Skipped bool
	Reason  string
	Raw     string
}

// Extract parses each non-blank line of text as one JSON object.
// Markdown code fences are skipped. Nothing is written; see Extractor.
func Extract(text string) []Outcome {
	lines := splitLines(text)
	out := make([]Outcome, 0, len(lines))
	for _, l := range lines {
		out = append(out, extractLine(l))
	}
	return out
}

func extractLine(l numberedLine) Outcome {
	trimmed := strings.TrimSpace(l.Text)
	if strings.HasPrefix(trimmed, "```") {
		return Outcome{Line: l.N, Skipped: true, Reason: "code fence", Raw: l.Text}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return Outcome{Line: l.N, Skipped: true, Reason: err.Error(), Raw: l.Text}
	}
	if obj == nil {
		return Outcome{Line: l.N, Skipped: true, Reason: "not a JSON object", Raw: l.Text}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(trimmed)); err != nil {
		return Outcome{Line: l.N, Skipped: true, Reason: err.Error(), Raw: l.Text}
	}
	return Outcome{Line: l.N, Sample: buf.Bytes()}
}

// Extraction counts what one Write produced.
type Extraction struct {
	Path    string `json:"path" yaml:"path"`
	Samples int    `json:"samples" yaml:"samples"`
	Skipped int    `json:"skipped" yaml:"skipped"`
}

// Extractor writes extracted samples as JSONL under a directory.
//
// For a file stem S it writes S.jsonl with the valid samples and S.error with
// the rejected lines. Neither file is created empty.
type Extractor struct {
	dir    string
	logger *slog.Logger
}

// NewExtractor creates an extractor writing into dir.
func NewExtractor(dir string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{dir: dir, logger: logger}
}

// Dir returns the output directory.
func (e *Extractor) Dir() string {
	return e.dir
}

// Write extracts text into <stem>.jsonl. With appendMode false, files from an
// earlier pass are replaced; with appendMode true, output is added to them.
func (e *Extractor) Write(stem, text string, appendMode bool) (Extraction, error) {
	outcomes := Extract(text)

	var (
		samples bytes.Buffer
		rejects []Outcome
	)
	for _, o := range outcomes {
		if o.Skipped {
			e.logger.Warn("skipping malformed sample line",
				"file", stem, "line", o.Line, "error", o.Reason, "raw", o.Raw)
			rejects = append(rejects, o)
			continue
		}
		samples.Write(o.Sample)
		samples.WriteByte('\n')
	}

	res := Extraction{
		Path:    filepath.Join(e.dir, stem+jsonlExt),
		Samples: len(outcomes) - len(rejects),
		Skipped: len(rejects),
	}

	if err := e.put(res.Path, samples.Bytes(), appendMode); err != nil {
		return res, fmt.Errorf("failed to write samples for %s: %w", stem, err)
	}
	if err := e.put(filepath.Join(e.dir, stem+errorExt), formatRejects(rejects), appendMode); err != nil {
		return res, fmt.Errorf("failed to write rejected lines for %s: %w", stem, err)
	}
	return res, nil
}

// WriteError records a failure for stem in its .error sidecar.
func (e *Extractor) WriteError(stem, message string, appendMode bool) error {
	data := []byte(message)
	if !bytes.HasSuffix(data, []byte("\n")) {
		data = append(data, '\n')
	}
	return e.put(filepath.Join(e.dir, stem+errorExt), data, appendMode)
}

// put writes data to path. An empty rewrite removes any stale file instead of
// leaving an empty one behind.
func (e *Extractor) put(path string, data []byte, appendMode bool) error {
	if len(data) == 0 {
		if appendMode {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if !appendMode {
		return writeFileAtomic(path, data)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

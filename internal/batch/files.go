package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// File naming inside the requests and samples directories.
//
//	requests/<provider>/batch_<seq>.jsonl              written, not yet submitted
//	requests/<provider>/batch_<seq>_<batch_id>.jsonl   submitted
//	samples/<provider>/<batch_id>_output.jsonl         downloaded results
//	samples/<provider>/<batch_id>_error.jsonl          downloaded error results
//	samples/<provider>/sample_<batch_id>_<custom_id>.jsonl
const (
	artifactPrefix = "batch_"
	samplePrefix   = "sample_"
	jsonlExt       = ".jsonl"
	errorExt       = ".error"
)

// ArtifactName is the local request file name before submission.
func ArtifactName(seq int) string {
	return fmt.Sprintf("%s%d%s", artifactPrefix, seq, jsonlExt)
}

// SubmittedName is the request file name once the provider assigned an id.
func SubmittedName(seq int, batchID string) string {
	return fmt.Sprintf("%s%d_%s%s", artifactPrefix, seq, batchID, jsonlExt)
}

// ResultName is the downloaded result file name.
func ResultName(batchID string, isError bool) string {
	if isError {
		return batchID + "_error" + jsonlExt
	}
	return batchID + "_output" + jsonlExt
}

// ResultErrorName holds result lines whose envelope could not be decoded.
func ResultErrorName(batchID string, isError bool) string {
	return strings.TrimSuffix(ResultName(batchID, isError), jsonlExt) + errorExt
}

// ErrUnsafeCustomID is returned for a custom_id that cannot name a sample file.
var ErrUnsafeCustomID = errors.New("custom_id is not a safe file name")

// CheckCustomID reports whether id can be embedded in a single file name.
func CheckCustomID(id string) error {
	switch {
	case id == "", id == ".", id == "..":
		return fmt.Errorf("%w: %q", ErrUnsafeCustomID, id)
	case filepath.Base(id) != id, strings.ContainsAny(id, `/\`+"\x00"):
		return fmt.Errorf("%w: %q", ErrUnsafeCustomID, id)
	}
	return nil
}

// SampleStem is the per-request sample file name without extension.
func SampleStem(batchID, customID string) string {
	return samplePrefix + batchID + "_" + customID
}

// SampleName is the per-request sample file name.
func SampleName(batchID, customID string) string {
	return SampleStem(batchID, customID) + jsonlExt
}

// SampleErrorName is the sidecar holding a request's rejected text.
func SampleErrorName(batchID, customID string) string {
	return SampleStem(batchID, customID) + errorExt
}

var artifactPattern = regexp.MustCompile(`^batch_(\d+)(?:_.+)?\.jsonl$`)

// NextSequence returns one past the highest batch sequence number in dir,
// counting both submitted and unsubmitted artifacts. An empty or missing dir yields 1.
func NextSequence(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to scan requests directory: %w", err)
	}

	highest := 0
	for _, e := range entries {
		m := artifactPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		highest = max(highest, n)
	}
	return highest + 1, nil
}

// writeFileAtomic writes data to a temp file in the destination directory,
// syncs it and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, 0o644)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	_ = syncDir(dir)
	return nil
}

// syncDir best-effort fsyncs a directory to persist renames.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// splitLines splits a JSONL payload into non-blank lines, keeping each line's
// 1-based position in the payload.
func splitLines(data string) []numberedLine {
	var out []numberedLine
	for i, line := range strings.Split(data, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, numberedLine{N: i + 1, Text: line})
	}
	return out
}

type numberedLine struct {
	N    int
	Text string
}

// formatRejects renders rejected lines for an .error sidecar.
func formatRejects(rejects []Outcome) []byte {
	var sb strings.Builder
	for _, r := range rejects {
		fmt.Fprintf(&sb, "line %d: %s\n*****\n%s\n\n", r.Line, r.Reason, r.Raw)
	}
	return []byte(sb.String())
}

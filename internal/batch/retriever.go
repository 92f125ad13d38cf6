package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackzampolin/tuner/internal/providers"
)

var (
	// ErrNoResultFile means a completed batch carries neither an output nor an error file id.
	ErrNoResultFile = errors.New("completed batch has no output or error file")

	// ErrNotCompleted means results were requested for a batch that has not completed.
	ErrNotCompleted = errors.New("batch is not completed")
)

// Fetcher is the provider surface the retriever needs.
type Fetcher interface {
	FetchContent(ctx context.Context, fileID string) ([]byte, error)
	DecodeResult(line []byte) (*providers.ResultRecord, error)
}

// Download is a result artifact held locally.
type Download struct {
	BatchID string   `json:"batch_id" yaml:"batch_id"`
	IsError bool     `json:"is_error" yaml:"is_error"`
	Path    string   `json:"path" yaml:"path"`
	Lines   []string `json:"-" yaml:"-"`
	Cached  bool     `json:"cached" yaml:"cached"`
}

// Demux counts what demultiplexing one artifact produced.
type Demux struct {
	Results      int `json:"results" yaml:"results"`             // decoded result lines
	Failed       int `json:"failed" yaml:"failed"`               // results that carried an error
	BadEnvelopes int `json:"bad_envelopes" yaml:"bad_envelopes"` // lines whose envelope did not decode
	Samples      int `json:"samples" yaml:"samples"`
	Skipped      int `json:"skipped" yaml:"skipped"`
	WriteErrors  int `json:"write_errors" yaml:"write_errors"` // results whose sample files could not be written
}

// Retriever downloads result artifacts once and splits them per request.
type Retriever struct {
	fetcher   Fetcher
	dir       string
	extractor *Extractor
	logger    *slog.Logger
}

// NewRetriever creates a retriever storing artifacts and samples under dir.
func NewRetriever(fetcher Fetcher, dir string, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		fetcher:   fetcher,
		dir:       dir,
		extractor: NewExtractor(dir, logger),
		logger:    logger,
	}
}

// Download returns the result artifact of a completed batch, preferring the
// output file over the error file.
func (r *Retriever) Download(ctx context.Context, b providers.Batch) (*Download, error) {
	if b.Status != providers.StatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCompleted, b.ID, b.Status)
	}
	switch {
	case b.OutputFileID != "":
		return r.fetch(ctx, b.ID, b.OutputFileID, false)
	case b.ErrorFileID != "":
		return r.fetch(ctx, b.ID, b.ErrorFileID, true)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoResultFile, b.ID)
	}
}

// DownloadErrors returns the error artifact of a completed batch that has one.
func (r *Retriever) DownloadErrors(ctx context.Context, b providers.Batch) (*Download, error) {
	if b.Status != providers.StatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCompleted, b.ID, b.Status)
	}
	if b.ErrorFileID == "" {
		return nil, fmt.Errorf("%w: %s has no error file", ErrNoResultFile, b.ID)
	}
	return r.fetch(ctx, b.ID, b.ErrorFileID, true)
}

// fetch reads the local artifact when present and otherwise downloads and
// persists it verbatim before anything parses it.
func (r *Retriever) fetch(ctx context.Context, batchID, fileID string, isError bool) (*Download, error) {
	path := filepath.Join(r.dir, ResultName(batchID, isError))
	d := &Download{BatchID: batchID, IsError: isError, Path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		d.Cached = true
		r.logger.Debug("result artifact already downloaded", "batch_id", batchID, "path", path)
	case os.IsNotExist(err):
		data, err = r.fetcher.FetchContent(ctx, fileID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch results of %s: %w", batchID, err)
		}
		if err := os.MkdirAll(r.dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create samples directory: %w", err)
		}
		if err := writeFileAtomic(path, data); err != nil {
			return nil, fmt.Errorf("failed to persist results of %s: %w", batchID, err)
		}
		r.logger.Info("downloaded result artifact", "batch_id", batchID, "path", path, "bytes", len(data), "is_error", isError)
	default:
		return nil, fmt.Errorf("failed to read result artifact: %w", err)
	}

	for _, l := range splitLines(string(data)) {
		d.Lines = append(d.Lines, l.Text)
	}
	return d, nil
}

// Demultiplex writes each result line's generated text through the extractor
// to sample_<batch_id>_<custom_id>.jsonl. A line whose envelope does not decode
// is logged, kept in <batch_id>_<output|error>.error and skipped. So is a line
// with an unusable custom_id or whose sample file could not be written.
func (r *Retriever) Demultiplex(d *Download) (Demux, error) {
	var (
		stats   Demux
		rejects []Outcome
		written = make(map[string]bool)
	)

	for i, line := range d.Lines {
		rec, err := r.fetcher.DecodeResult([]byte(line))
		if err != nil {
			r.logger.Warn("skipping undecodable result line", "batch_id", d.BatchID, "line", i+1, "error", err)
			rejects = append(rejects, Outcome{Line: i + 1, Skipped: true, Reason: err.Error(), Raw: line})
			stats.BadEnvelopes++
			continue
		}
		if err := CheckCustomID(rec.CustomID); err != nil {
			r.logger.Warn("skipping result with unusable custom_id", "batch_id", d.BatchID, "line", i+1, "error", err)
			rejects = append(rejects, Outcome{Line: i + 1, Skipped: true, Reason: err.Error(), Raw: line})
			stats.BadEnvelopes++
			continue
		}
		stats.Results++

		stem := SampleStem(d.BatchID, rec.CustomID)
		appendMode := written[stem]

		if rec.Failed {
			stats.Failed++
			r.logger.Warn("request failed at provider", "batch_id", d.BatchID, "custom_id", rec.CustomID, "error", rec.Error)
			if err := r.extractor.WriteError(stem, rec.Error, appendMode); err != nil {
				r.logger.Error("failed to record request error", "batch_id", d.BatchID, "custom_id", rec.CustomID, "error", err)
				rejects = append(rejects, Outcome{Line: i + 1, Skipped: true, Reason: err.Error(), Raw: line})
				stats.WriteErrors++
				continue
			}
			written[stem] = true
			continue
		}

		res, err := r.extractor.Write(stem, rec.Text, appendMode)
		if err != nil {
			r.logger.Error("failed to write samples", "batch_id", d.BatchID, "custom_id", rec.CustomID, "error", err)
			rejects = append(rejects, Outcome{Line: i + 1, Skipped: true, Reason: err.Error(), Raw: line})
			stats.WriteErrors++
			continue
		}
		written[stem] = true
		stats.Samples += res.Samples
		stats.Skipped += res.Skipped
		r.logger.Debug("extracted samples", "batch_id", d.BatchID, "custom_id", rec.CustomID, "samples", res.Samples, "skipped", res.Skipped)
	}

	if err := r.extractor.put(filepath.Join(r.dir, ResultErrorName(d.BatchID, d.IsError)), formatRejects(rejects), false); err != nil {
		return stats, fmt.Errorf("failed to write undecodable result lines: %w", err)
	}
	return stats, nil
}

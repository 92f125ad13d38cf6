package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackzampolin/tuner/internal/providers"
)

var (
	// ErrSerialize means the request artifact could not be written; the accumulator is kept.
	ErrSerialize = errors.New("failed to write batch artifact")

	// ErrSubmit means the provider rejected or lost the submission; the artifact is kept
	// un-renamed for manual resubmission and the accumulator is cleared.
	ErrSubmit = errors.New("batch submission failed")

	// ErrDuplicateCustomID means a custom_id was added twice in one run.
	ErrDuplicateCustomID = errors.New("duplicate custom_id")
)

// Submitter creates a provider batch from a local artifact.
type Submitter interface {
	Submit(ctx context.Context, artifactPath string) (*providers.Batch, error)
}

// PartitionerConfig configures a Partitioner.
type PartitionerConfig struct {
	Dir       string    // requests directory for this provider
	Threshold int       // maximum requests per batch
	Submitter Submitter // provider client
	DryRun    bool      // write artifacts without submitting
	Logger    *slog.Logger
}

// FlushResult describes one emitted batch.
type FlushResult struct {
	Sequence  int    `json:"sequence" yaml:"sequence"`
	Path      string `json:"path" yaml:"path"`
	BatchID   string `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`
	Requests  int    `json:"requests" yaml:"requests"`
	Submitted bool   `json:"submitted" yaml:"submitted"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Partitioner accumulates requests and flushes them as batches of at most Threshold.
type Partitioner struct {
	dir       string
	threshold int
	submitter Submitter
	dryRun    bool
	logger    *slog.Logger

	pending []PendingRequest
	seen    map[string]struct{}
	seq     int
	results []FlushResult
}

// NewPartitioner creates a partitioner whose sequence continues after the
// highest batch artifact already present in cfg.Dir.
func NewPartitioner(cfg PartitionerConfig) (*Partitioner, error) {
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("batch threshold must be positive, got %d", cfg.Threshold)
	}
	if cfg.Submitter == nil && !cfg.DryRun {
		return nil, fmt.Errorf("submitter is required unless dry-run")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create requests directory: %w", err)
	}
	seq, err := NextSequence(cfg.Dir)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Partitioner{
		dir:       cfg.Dir,
		threshold: cfg.Threshold,
		submitter: cfg.Submitter,
		dryRun:    cfg.DryRun,
		logger:    logger,
		seen:      make(map[string]struct{}),
		seq:       seq,
	}, nil
}

// Add accumulates a request and flushes when the threshold is reached.
// The returned result is non-nil only when a flush happened.
func (p *Partitioner) Add(ctx context.Context, req PendingRequest) (*FlushResult, error) {
	if _, dup := p.seen[req.CustomID]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCustomID, req.CustomID)
	}
	p.seen[req.CustomID] = struct{}{}
	p.pending = append(p.pending, req)

	if len(p.pending) < p.threshold {
		return nil, nil
	}
	return p.Flush(ctx)
}

// Flush emits the accumulated requests as one batch. It is a no-op when nothing is pending.
//
// On a write failure the accumulator and sequence are untouched and ErrSerialize is returned.
// On a submission failure the artifact stays under its sequence name, the accumulator
// is cleared, the sequence advances and ErrSubmit is returned. Submission is never retried.
func (p *Partitioner) Flush(ctx context.Context) (*FlushResult, error) {
	if len(p.pending) == 0 {
		return nil, nil
	}

	seq := p.seq
	path := filepath.Join(p.dir, ArtifactName(seq))
	log := p.logger.With("sequence", seq, "requests", len(p.pending))

	var buf bytes.Buffer
	for _, req := range p.pending {
		buf.Write(req.Payload)
		buf.WriteByte('\n')
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		log.Error("failed to write batch artifact", "path", path, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrSerialize, path, err)
	}

	result := FlushResult{Sequence: seq, Path: path, Requests: len(p.pending)}
	p.pending = nil
	p.seq++

	if p.dryRun {
		log.Info("wrote batch artifact (dry run)", "path", path)
		p.results = append(p.results, result)
		return &result, nil
	}

	b, err := p.submitter.Submit(ctx, path)
	if err != nil {
		result.Error = err.Error()
		p.results = append(p.results, result)
		log.Error("batch submission failed; artifact kept for manual resubmission", "path", path, "error", err)
		return &result, fmt.Errorf("%w: sequence %d: %v", ErrSubmit, seq, err)
	}

	result.BatchID = b.ID
	result.Submitted = true
	renamed := filepath.Join(p.dir, SubmittedName(seq, b.ID))
	if err := os.Rename(path, renamed); err != nil {
		// The batch exists remotely; only the local correlation is missing.
		result.Error = fmt.Sprintf("rename failed: %v", err)
		log.Error("submitted batch artifact could not be renamed", "batch_id", b.ID, "path", path, "error", err)
	} else {
		result.Path = renamed
		_ = syncDir(p.dir)
	}

	log.Info("submitted batch", "batch_id", b.ID, "path", result.Path, "status", b.Status)
	p.results = append(p.results, result)
	return &result, nil
}

// Pending returns the number of accumulated, unflushed requests.
func (p *Partitioner) Pending() int {
	return len(p.pending)
}

// Discard drops the accumulated requests without writing them.
func (p *Partitioner) Discard() int {
	n := len(p.pending)
	p.pending = nil
	return n
}

// Sequence returns the sequence number the next flush will use.
func (p *Partitioner) Sequence() int {
	return p.seq
}

// Results returns every flush performed so far.
func (p *Partitioner) Results() []FlushResult {
	return append([]FlushResult(nil), p.results...)
}

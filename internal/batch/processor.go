package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/tuner/internal/providers"
)

// Batch outcomes within one processing pass.
const (
	OutcomeProcessed = "processed"
	OutcomePending   = "pending"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// BatchReport is what one pass did with one batch.
type BatchReport struct {
	BatchID  string                `json:"batch_id" yaml:"batch_id"`
	Status   providers.BatchStatus `json:"status" yaml:"status"`
	Outcome  string                `json:"outcome" yaml:"outcome"`
	Cached   bool                  `json:"cached,omitempty" yaml:"cached,omitempty"`
	Demux    Demux                 `json:"demux" yaml:"demux"`
	Archived bool                  `json:"archived,omitempty" yaml:"archived,omitempty"`
	Error    string                `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report summarizes one processing pass.
type Report struct {
	RunID     string        `json:"run_id" yaml:"run_id"`
	Provider  string        `json:"provider" yaml:"provider"`
	Seen      int           `json:"seen" yaml:"seen"`
	Processed int           `json:"processed" yaml:"processed"`
	Pending   int           `json:"pending" yaml:"pending"`
	Failed    int           `json:"failed" yaml:"failed"`
	Cancelled int           `json:"cancelled" yaml:"cancelled"`
	Errored   int           `json:"errored" yaml:"errored"`
	Samples   int           `json:"samples" yaml:"samples"`
	Skipped   int           `json:"skipped" yaml:"skipped"`
	Batches   []BatchReport `json:"batches" yaml:"batches"`
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	Provider         string
	Registry         *Registry
	Retriever        *Retriever
	ArchiveProcessed bool // archive each batch once its results are extracted
	Logger           *slog.Logger
}

// Processor runs collection passes over every unarchived batch.
type Processor struct {
	provider         string
	registry         *Registry
	retriever        *Retriever
	archiveProcessed bool
	logger           *slog.Logger
}

// NewProcessor creates a processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		provider:         cfg.Provider,
		registry:         cfg.Registry,
		retriever:        cfg.Retriever,
		archiveProcessed: cfg.ArchiveProcessed,
		logger:           logger.With("provider", cfg.Provider),
	}
}

// Process makes one pass: every completed batch is downloaded (once) and
// demultiplexed, everything else is counted and left for a later pass.
// Errors of a single batch are recorded in its report and do not stop the pass;
// only a listing failure does.
func (p *Processor) Process(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Provider: p.provider}
	log := p.logger.With("run_id", report.RunID)
	log.Info("processing batches")

	opts := ListOptions{IncludeCancelled: true, IncludeFailed: true}
	for e, err := range p.registry.List(ctx, opts) {
		if err != nil {
			return report, err
		}
		report.Seen++

		br := p.processBatch(ctx, log, e.Batch)
		switch br.Outcome {
		case OutcomeProcessed:
			report.Processed++
			report.Samples += br.Demux.Samples
			report.Skipped += br.Demux.Skipped
		case OutcomePending:
			report.Pending++
		case OutcomeFailed:
			report.Failed++
		case OutcomeCancelled:
			report.Cancelled++
		case OutcomeError:
			report.Errored++
		}
		report.Batches = append(report.Batches, br)
	}

	log.Info("processing pass complete",
		"seen", report.Seen,
		"processed", report.Processed,
		"pending", report.Pending,
		"errored", report.Errored,
		"samples", report.Samples,
		"skipped", report.Skipped)
	return report, nil
}

func (p *Processor) processBatch(ctx context.Context, log *slog.Logger, b providers.Batch) BatchReport {
	br := BatchReport{BatchID: b.ID, Status: b.Status}
	log = log.With("batch_id", b.ID)

	switch b.Status {
	case providers.StatusPending, providers.StatusRunning:
		br.Outcome = OutcomePending
		log.Info("batch not ready", "status", b.ProviderStatus)
		return br
	case providers.StatusFailed:
		br.Outcome = OutcomeFailed
		log.Warn("batch failed at provider", "status", b.ProviderStatus)
		return br
	case providers.StatusCancelled:
		br.Outcome = OutcomeCancelled
		return br
	}

	d, err := p.retriever.Download(ctx, b)
	if err != nil {
		return p.batchError(log, br, err)
	}
	br.Cached = d.Cached

	stats, err := p.retriever.Demultiplex(d)
	br.Demux = stats
	if err != nil {
		return p.batchError(log, br, err)
	}

	// A batch with both files also gets its error lines recorded.
	if !d.IsError && b.ErrorFileID != "" {
		ed, err := p.retriever.DownloadErrors(ctx, b)
		if err != nil {
			return p.batchError(log, br, err)
		}
		estats, err := p.retriever.Demultiplex(ed)
		br.Demux.Results += estats.Results
		br.Demux.Failed += estats.Failed
		br.Demux.BadEnvelopes += estats.BadEnvelopes
		br.Demux.WriteErrors += estats.WriteErrors
		if err != nil {
			return p.batchError(log, br, err)
		}
	}

	br.Outcome = OutcomeProcessed
	log.Info("batch processed",
		"is_error", d.IsError,
		"cached", d.Cached,
		"results", br.Demux.Results,
		"samples", br.Demux.Samples,
		"skipped", br.Demux.Skipped)

	// Lines that could not be written stay recoverable from the local artifact
	// on a later pass, so the batch is not archived yet.
	if p.archiveProcessed && br.Demux.WriteErrors > 0 {
		log.Warn("not archiving batch with unwritten results", "write_errors", br.Demux.WriteErrors)
	} else if p.archiveProcessed {
		if _, err := p.registry.Archive(b); err != nil {
			br.Error = err.Error()
			log.Error("failed to archive processed batch", "error", err)
		} else {
			br.Archived = true
		}
	}
	return br
}

func (p *Processor) batchError(log *slog.Logger, br BatchReport, err error) BatchReport {
	br.Outcome = OutcomeError
	br.Error = err.Error()
	if errors.Is(err, ErrNoResultFile) {
		log.Error("provider reported completion without results", "error", err)
	} else {
		log.Error("failed to process batch", "error", err)
	}
	return br
}

// Watch runs passes until no batch is pending or running, or ctx ends.
// interval is consulted before every wait so a reloaded configuration applies
// to the next sleep. onReport, when set, receives each pass's report.
func (p *Processor) Watch(ctx context.Context, interval func() time.Duration, onReport func(*Report)) error {
	for {
		report, err := p.Process(ctx)
		if onReport != nil && report != nil {
			onReport(report)
		}
		if err != nil {
			return err
		}
		if report.Pending == 0 {
			p.logger.Info("no pending batches remain")
			return nil
		}

		wait := interval()
		if wait <= 0 {
			return fmt.Errorf("invalid poll interval %v", wait)
		}
		p.logger.Info("waiting for pending batches", "pending", report.Pending, "interval", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

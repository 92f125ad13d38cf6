package batch

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/jackzampolin/tuner/internal/providers"
	"github.com/jackzampolin/tuner/internal/source"
)

// SubmitReport summarizes one submission run for a sample type.
type SubmitReport struct {
	SampleType   string        `json:"sample_type" yaml:"sample_type"`
	Provider     string        `json:"provider" yaml:"provider"`
	TemplateHash string        `json:"template_hash,omitempty" yaml:"template_hash,omitempty"`
	Requests     int           `json:"requests" yaml:"requests"`
	Skipped      int           `json:"skipped" yaml:"skipped"`
	SourceErrors int           `json:"source_errors" yaml:"source_errors"`
	Dropped      int           `json:"dropped,omitempty" yaml:"dropped,omitempty"`
	Batches      []FlushResult `json:"batches" yaml:"batches"`
}

// Submit streams requests through the builder into the partitioner and flushes
// the remainder at the end. Unreadable source files and empty or duplicate
// requests are skipped and counted. The first flush failure stops the run;
// requests still accumulated at that point are dropped and counted.
func Submit(ctx context.Context, requests iter.Seq2[source.Request, error], b *Builder, p *Partitioner, report *SubmitReport, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("type", report.SampleType, "provider", report.Provider)

	stop := func(err error) error {
		report.Batches = p.Results()
		if n := p.Discard(); n > 0 {
			report.Dropped += n
			log.Error("dropping unsubmitted requests", "count", n)
		}
		return err
	}

	for req, err := range requests {
		if err != nil {
			report.SourceErrors++
			log.Error("failed to read request source", "error", err)
			continue
		}
		if err := ctx.Err(); err != nil {
			return stop(err)
		}

		pending, err := b.Build(req.Text, req.ID)
		if errors.Is(err, providers.ErrInvalidCustomID) {
			report.Skipped++
			log.Error("skipping request the provider would reject", "custom_id", req.ID, "error", err)
			continue
		}
		if err != nil {
			return stop(err)
		}
		if pending == nil {
			report.Skipped++
			log.Warn("skipping empty request", "custom_id", req.ID)
			continue
		}

		if _, err := p.Add(ctx, *pending); err != nil {
			if errors.Is(err, ErrDuplicateCustomID) {
				report.Skipped++
				log.Warn("skipping duplicate request", "custom_id", req.ID)
				continue
			}
			report.Requests++
			return stop(err)
		}
		report.Requests++
	}

	if _, err := p.Flush(ctx); err != nil {
		return stop(fmt.Errorf("final flush: %w", err))
	}
	report.Batches = p.Results()
	log.Info("submission complete", "requests", report.Requests, "batches", len(report.Batches), "skipped", report.Skipped)
	return nil
}

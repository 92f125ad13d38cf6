// Package generate produces training samples synchronously, one request at a
// time, without going through the batch lifecycle.
package generate

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/jackzampolin/tuner/internal/batch"
	"github.com/jackzampolin/tuner/internal/prompts"
	"github.com/jackzampolin/tuner/internal/providers"
	"github.com/jackzampolin/tuner/internal/source"
)

// Config configures a synchronous run for one sample type.
type Config struct {
	SampleType string
	Template   *prompts.Template
	Generator  providers.Generator
	Extractor  *batch.Extractor
	Logger     *slog.Logger
}

// Report summarizes a synchronous run.
type Report struct {
	SampleType   string `json:"sample_type" yaml:"sample_type"`
	Provider     string `json:"provider" yaml:"provider"`
	Requests     int    `json:"requests" yaml:"requests"`
	Failed       int    `json:"failed" yaml:"failed"`
	Samples      int    `json:"samples" yaml:"samples"`
	Skipped      int    `json:"skipped" yaml:"skipped"`
	SourceErrors int    `json:"source_errors" yaml:"source_errors"`
}

// Run sends every request to the generator and extracts its reply into
// <custom_id>.jsonl. A failed call is recorded in <custom_id>.error and the run
// continues; only context cancellation or a write failure stops it.
func Run(ctx context.Context, requests iter.Seq2[source.Request, error], cfg Config) (*Report, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	report := &Report{SampleType: cfg.SampleType, Provider: cfg.Generator.Name()}
	log := logger.With("type", cfg.SampleType, "provider", report.Provider)

	for req, err := range requests {
		if err != nil {
			report.SourceErrors++
			log.Error("failed to read request source", "error", err)
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if req.Text == "" {
			continue
		}
		report.Requests++

		completion, err := cfg.Generator.Complete(ctx, cfg.Template.Render(req.Text))
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			log.Error("generation failed", "custom_id", req.ID, "error", err)
			if werr := cfg.Extractor.WriteError(req.ID, fmt.Sprintf("%v\n*****\n", err), false); werr != nil {
				return report, werr
			}
			continue
		}

		res, err := cfg.Extractor.Write(req.ID, completion.Text, false)
		if err != nil {
			return report, err
		}
		report.Samples += res.Samples
		report.Skipped += res.Skipped
		log.Info("generated samples",
			"custom_id", req.ID,
			"samples", res.Samples,
			"skipped", res.Skipped,
			"prompt_tokens", completion.PromptTokens,
			"completion_tokens", completion.CompletionTokens,
			"elapsed", completion.ExecutionTime)
	}
	return report, nil
}

package main

import (
	"fmt"
	"iter"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tuner/internal/batch"
	"github.com/jackzampolin/tuner/internal/config"
	"github.com/jackzampolin/tuner/internal/output"
	"github.com/jackzampolin/tuner/internal/prompts"
	"github.com/jackzampolin/tuner/internal/providers"
	"github.com/jackzampolin/tuner/internal/source"
	"github.com/jackzampolin/tuner/internal/svcctx"
)

var (
	submitTypes    string
	submitProvider string
	submitDevices  string
	submitDryRun   bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Build requests from device files and submit them as batches",
	Long: `Build one request per group of device documents for every sample type,
write them to requests/<provider>/batch_<n>.jsonl in batches no larger than
the provider allows, and submit each batch.

A submitted artifact is renamed to batch_<n>_<batch_id>.jsonl. A failed
submission leaves batch_<n>.jsonl in place for manual resubmission and stops
that sample type; submissions are never retried automatically.

Examples:
  tuner submit                                 # default sample types
  tuner submit --types commands,routines
  tuner submit --types nucore --provider anthropic
  tuner submit --dry-run                       # write artifacts only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s := services(cmd)
		cfg := s.Config.Get()

		types := splitList(submitTypes)
		if len(types) == 0 {
			types = cfg.Defaults.SampleTypes
		}

		plan, err := planRun(s, cfg, types, submitProvider, submitDevices)
		if err != nil {
			return err
		}

		var (
			reports []*batch.SubmitReport
			runErr  error
		)
		for _, p := range plan {
			report, err := submitType(cmd, s, p)
			reports = append(reports, report)
			if err != nil {
				s.Logger.Error("submission stopped", "type", p.sampleType.Name, "error", err)
				runErr = err
			}
		}

		if err := output.Print(reports); err != nil {
			return err
		}
		if runErr != nil {
			return fmt.Errorf("one or more sample types did not finish submitting: %w", runErr)
		}
		return ctx.Err()
	},
}

// typePlan is one sample type with everything resolved before any provider call.
type typePlan struct {
	sampleType config.SampleType
	template   *prompts.Template
	client     providers.Client
	reader     *source.Reader
}

// planRun resolves credentials, templates and input for every type up front
// so a missing prerequisite aborts the run before anything is sent.
func planRun(s *svcctx.Services, cfg *config.Config, types []string, providerOverride, devicesDir string) ([]typePlan, error) {
	resolved, err := cfg.Validate(types, providerOverride)
	if err != nil {
		return nil, err
	}

	if devicesDir == "" {
		devicesDir = s.Home.DevicesDir()
	}
	reader := &source.Reader{
		Dir:                 devicesDir,
		Separator:           cfg.Defaults.DocumentSeparator,
		DocumentsPerRequest: cfg.DocumentsPerRequest(),
		Logger:              s.Logger,
	}

	loader := prompts.NewLoader(s.Home.PromptsDir(), s.Logger)
	var plan []typePlan
	for _, st := range resolved {
		tmpl, err := loader.Load(st.Template, st.ProviderName)
		if err != nil {
			return nil, fmt.Errorf("sample type %s: %w", st.Name, err)
		}
		if !st.Generic {
			if _, err := os.Stat(devicesDir); err != nil {
				return nil, fmt.Errorf("sample type %s needs device files: %w", st.Name, err)
			}
		}

		client, err := providers.New(st.Provider)
		if err != nil {
			return nil, fmt.Errorf("sample type %s: %w", st.Name, err)
		}
		plan = append(plan, typePlan{sampleType: st, template: tmpl, client: client, reader: reader})
	}
	return plan, nil
}

// requests returns the request stream of a planned type.
func (p typePlan) requests() iter.Seq2[source.Request, error] {
	if p.sampleType.Generic {
		return func(yield func(source.Request, error) bool) {
			yield(source.GenericRequest(p.sampleType.Name), nil)
		}
	}
	return p.reader.Requests(p.sampleType.Name)
}

func submitType(cmd *cobra.Command, s *svcctx.Services, p typePlan) (*batch.SubmitReport, error) {
	st := p.sampleType
	report := &batch.SubmitReport{
		SampleType:   st.Name,
		Provider:     st.ProviderName,
		TemplateHash: p.template.Hash,
	}

	if err := s.Home.EnsureProviderDirs(st.ProviderName); err != nil {
		return report, err
	}
	partitioner, err := batch.NewPartitioner(batch.PartitionerConfig{
		Dir:       s.Home.RequestsDir(st.ProviderName),
		Threshold: p.client.MaxBatchRequests(),
		Submitter: p.client,
		DryRun:    submitDryRun,
		Logger:    s.Logger.With("type", st.Name, "provider", st.ProviderName),
	})
	if err != nil {
		return report, err
	}

	s.Logger.Info("submitting sample type",
		"type", st.Name,
		"provider", st.ProviderName,
		"template", p.template.Source,
		"template_hash", p.template.Hash,
		"threshold", p.client.MaxBatchRequests(),
		"dry_run", submitDryRun)

	builder := batch.NewBuilder(p.template, p.client)
	err = batch.Submit(cmd.Context(), p.requests(), builder, partitioner, report, s.Logger)
	return report, err
}

func init() {
	submitCmd.Flags().StringVar(&submitTypes, "types", "", "comma-separated sample types (default: defaults.sample_types)")
	submitCmd.Flags().StringVar(&submitProvider, "provider", "", "provider for every type (default: per-type or defaults.provider)")
	submitCmd.Flags().StringVar(&submitDevices, "devices", "", "device files directory (default: <home>/devices)")
	submitCmd.Flags().BoolVar(&submitDryRun, "dry-run", false, "write request artifacts without submitting")
}

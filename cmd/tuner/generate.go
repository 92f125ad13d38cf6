package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tuner/internal/batch"
	"github.com/jackzampolin/tuner/internal/generate"
	"github.com/jackzampolin/tuner/internal/output"
)

var (
	generateTypes    string
	generateProvider string
	generateDevices  string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate samples synchronously, one request at a time",
	Long: `Send each request directly to the model and wait for the reply instead of
batching. Samples are written to samples/sync/<custom_id>.jsonl with a .error
sidecar for malformed lines or failed calls. Suited to small device sets and
template iteration; use submit for anything large.

Examples:
  tuner generate --types commands
  tuner generate --types properties --devices ./devices-subset`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s := services(cmd)
		cfg := s.Config.Get()

		types := splitList(generateTypes)
		if len(types) == 0 {
			types = cfg.Defaults.SampleTypes
		}
		plan, err := planRun(s, cfg, types, generateProvider, generateDevices)
		if err != nil {
			return err
		}

		extractor := batch.NewExtractor(s.Home.SyncSamplesDir(), s.Logger)
		var (
			reports []*generate.Report
			failed  int
		)
		for _, p := range plan {
			report, err := generate.Run(ctx, p.requests(), generate.Config{
				SampleType: p.sampleType.Name,
				Template:   p.template,
				Generator:  p.client,
				Extractor:  extractor,
				Logger:     s.Logger,
			})
			if report != nil {
				reports = append(reports, report)
				failed += report.Failed
			}
			if err != nil {
				_ = output.Print(reports)
				return err
			}
		}

		if err := output.Print(reports); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d request(s) failed; see the .error files in %s", failed, s.Home.SyncSamplesDir())
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateTypes, "types", "", "comma-separated sample types (default: defaults.sample_types)")
	generateCmd.Flags().StringVar(&generateProvider, "provider", "", "provider for every type (default: per-type or defaults.provider)")
	generateCmd.Flags().StringVar(&generateDevices, "devices", "", "device files directory (default: <home>/devices)")
}

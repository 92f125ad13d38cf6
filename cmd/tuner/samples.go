package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tuner/internal/output"
	"github.com/jackzampolin/tuner/internal/samples"
	"github.com/jackzampolin/tuner/internal/svcctx"
)

var (
	samplesDir      string
	samplesProvider string
	checkDryRun     bool
	combineTypes    string
)

var samplesCmd = &cobra.Command{
	Use:   "samples",
	Short: "Check and combine extracted samples",
}

// resolveSamplesDir picks --dir, else the provider's samples directory.
func resolveSamplesDir(s *svcctx.Services) string {
	if samplesDir != "" {
		return samplesDir
	}
	name := samplesProvider
	if name == "" {
		name = s.Config.Get().Defaults.Provider
	}
	return s.Home.SamplesDir(name)
}

var samplesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate sample files and move invalid ones to errors/",
	Long: `Check every *.jsonl file in the samples directory. Each line must be a
sample with exactly a system, a user and an assistant message, and the user
message must contain "DEVICE STRUCTURE:" and "USER QUERY:". A file with any
invalid line is moved whole into <home>/errors for manual review.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := services(cmd)
		v, err := samples.NewValidator()
		if err != nil {
			return err
		}
		report, err := v.CheckDir(resolveSamplesDir(s), s.Home.ErrorsDir(), checkDryRun, s.Logger)
		if err != nil {
			return err
		}
		return output.Print(report)
	},
}

var samplesCombineCmd = &cobra.Command{
	Use:   "combine",
	Short: "Merge per-request samples into one file per sample type",
	Long: `Concatenate sample_*_<type>.jsonl into <TYPE>_combined.jsonl for each
sample type. Lines that are not valid JSON are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := services(cmd)
		dir := resolveSamplesDir(s)
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("samples directory %s: %w", dir, err)
		}

		types := splitList(combineTypes)
		if len(types) == 0 {
			types = s.Config.Get().SampleTypeNames()
		}
		var results []*samples.CombineResult
		for _, t := range types {
			res, err := samples.Combine(dir, t, s.Logger)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return output.Print(results)
	},
}

func init() {
	samplesCmd.PersistentFlags().StringVar(&samplesDir, "dir", "", "samples directory (default: <home>/samples/<provider>)")
	samplesCmd.PersistentFlags().StringVar(&samplesProvider, "provider", "", "provider whose samples to use (default: defaults.provider)")

	samplesCheckCmd.Flags().BoolVar(&checkDryRun, "dry-run", false, "report invalid files without moving them")
	samplesCombineCmd.Flags().StringVar(&combineTypes, "types", "", "comma-separated sample types (default: all configured)")

	samplesCmd.AddCommand(samplesCheckCmd)
	samplesCmd.AddCommand(samplesCombineCmd)
}

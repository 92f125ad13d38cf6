package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tuner/internal/batch"
	"github.com/jackzampolin/tuner/internal/config"
	"github.com/jackzampolin/tuner/internal/output"
	"github.com/jackzampolin/tuner/internal/providers"
	"github.com/jackzampolin/tuner/internal/svcctx"
)

var (
	batchesProvider string

	listAll              bool
	listIncludeCancelled bool
	listIncludeFailed    bool

	archiveIncludeCancelled bool
	archiveIncludeFailed    bool

	processArchive  bool
	processWatch    bool
	processInterval time.Duration
)

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "List, cancel, archive and process submitted batches",
	Long: `Commands over the batches known to a provider.

Archiving is local bookkeeping in requests/<provider>/archives.json: an
archived batch is hidden from listing and processing for good. Do not run
two commands that archive against the same home at the same time.`,
}

// batchSession is the collection-path wiring for one provider.
// Both halves resolve the provider on every call, so a config reload
// during --watch swaps credentials for the next request.
type batchSession struct {
	name      string
	registry  *batch.Registry
	retriever *batch.Retriever
}

func openBatchSession(s *svcctx.Services, name string) (*batchSession, error) {
	if name == "" {
		name = s.Config.Get().Defaults.Provider
	}
	if _, err := providerClient(s, name); err != nil {
		return nil, err
	}
	client := providers.NewRegistryClient(s.Registry, name)
	if err := s.Home.EnsureProviderDirs(name); err != nil {
		return nil, err
	}
	idx, err := batch.LoadArchiveIndex(s.Home.ArchivePath(name))
	if err != nil {
		return nil, err
	}
	logger := s.Logger.With("provider", name)
	return &batchSession{
		name:      name,
		registry:  batch.NewRegistry(client, idx, logger),
		retriever: batch.NewRetriever(client, s.Home.SamplesDir(name), logger),
	}, nil
}

// batchTable renders a listing.
type batchTable []batch.Entry

func (t batchTable) Header() []string {
	return []string{"ID", "STATUS", "PROVIDER STATUS", "CREATED", "COMPLETED", "REQUESTS", "DONE", "FAILED", "ARCHIVED"}
}

func (t batchTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, e := range t {
		rows = append(rows, []string{
			e.ID,
			string(e.Status),
			e.ProviderStatus,
			formatTime(e.CreatedAt),
			formatTime(e.CompletedAt),
			strconv.Itoa(e.RequestCounts.Total),
			strconv.Itoa(e.RequestCounts.Completed),
			strconv.Itoa(e.RequestCounts.Failed),
			strconv.FormatBool(e.Archived),
		})
	}
	return rows
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

var batchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List batches that are not archived",
	Long: `List the provider's batches, following pagination to the end.
Archived, cancelled and failed batches are hidden unless requested.

Examples:
  tuner batches list
  tuner batches list --all --include-failed -o table`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openBatchSession(services(cmd), batchesProvider)
		if err != nil {
			return err
		}
		entries, err := sess.registry.Collect(cmd.Context(), batch.ListOptions{
			IncludeArchived:  listAll,
			IncludeCancelled: listIncludeCancelled,
			IncludeFailed:    listIncludeFailed,
		})
		if err != nil {
			return err
		}
		return output.Print(batchTable(entries))
	},
}

type cancelResult struct {
	Provider  string   `json:"provider" yaml:"provider"`
	Requested []string `json:"requested" yaml:"requested"`
	Errors    []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

var batchesCancelCmd = &cobra.Command{
	Use:   "cancel [batch-id...]",
	Short: "Request cancellation of batches",
	Long: `Ask the provider to cancel the given batches, or every pending and
running batch when no ids are given. The provider applies the cancellation
asynchronously; check the outcome with "batches list".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := services(cmd)
		sess, err := openBatchSession(s, batchesProvider)
		if err != nil {
			return err
		}

		res := cancelResult{Provider: sess.name}
		var cancelErr error
		if len(args) == 0 {
			res.Requested, cancelErr = sess.registry.CancelActive(cmd.Context())
		} else {
			var errs []error
			for _, id := range args {
				if err := sess.registry.Cancel(cmd.Context(), id); err != nil {
					errs = append(errs, err)
					continue
				}
				res.Requested = append(res.Requested, id)
			}
			cancelErr = errors.Join(errs...)
		}
		if cancelErr != nil {
			res.Errors = append(res.Errors, cancelErr.Error())
		}

		if err := output.Print(res); err != nil {
			return err
		}
		return cancelErr
	},
}

type archiveResult struct {
	Provider string   `json:"provider" yaml:"provider"`
	Archived []string `json:"archived" yaml:"archived"`
	Already  []string `json:"already_archived,omitempty" yaml:"already_archived,omitempty"`
	Missing  []string `json:"not_found,omitempty" yaml:"not_found,omitempty"`
	Index    string   `json:"index" yaml:"index"`
}

var batchesArchiveCmd = &cobra.Command{
	Use:   "archive [batch-id...]",
	Short: "Archive batches so they are no longer listed or processed",
	Long: `Record batches in the local archive index with their current provider
status. Without ids, every listed batch is archived; cancelled and failed
batches only with --include-cancelled and --include-failed. Archiving cannot
be undone from the CLI.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openBatchSession(services(cmd), batchesProvider)
		if err != nil {
			return err
		}

		opts := batch.ListOptions{
			IncludeArchived:  true,
			IncludeCancelled: archiveIncludeCancelled || len(args) > 0,
			IncludeFailed:    archiveIncludeFailed || len(args) > 0,
		}
		wanted := make(map[string]bool, len(args))
		for _, id := range args {
			wanted[id] = true
		}

		res := archiveResult{Provider: sess.name, Index: sess.registry.ArchiveIndex().Path()}
		for e, err := range sess.registry.List(cmd.Context(), opts) {
			if err != nil {
				return err
			}
			if len(wanted) > 0 {
				if !wanted[e.ID] {
					continue
				}
				delete(wanted, e.ID)
			}
			added, err := sess.registry.Archive(e.Batch)
			if err != nil {
				return err
			}
			if added {
				res.Archived = append(res.Archived, e.ID)
			} else {
				res.Already = append(res.Already, e.ID)
			}
		}
		for id := range wanted {
			res.Missing = append(res.Missing, id)
		}

		if err := output.Print(res); err != nil {
			return err
		}
		if len(res.Missing) > 0 {
			return fmt.Errorf("%d batch id(s) not found at %s", len(res.Missing), sess.name)
		}
		return nil
	},
}

var batchesProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Download completed batches and extract samples",
	Long: `Make one pass over every unarchived batch. Completed batches have their
results downloaded once into samples/<provider>/ and split into one
sample_<batch_id>_<custom_id>.jsonl per request; malformed lines go to .error
sidecars. Batches still running are left for a later pass.

With --watch, passes repeat at the poll interval until nothing is pending.
The interval follows defaults.poll_interval, re-read when config.yaml changes.

Examples:
  tuner batches process
  tuner batches process --archive-processed
  tuner batches process --watch --interval 5m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := services(cmd)
		sess, err := openBatchSession(s, batchesProvider)
		if err != nil {
			return err
		}

		processor := batch.NewProcessor(batch.ProcessorConfig{
			Provider:         sess.name,
			Registry:         sess.registry,
			Retriever:        sess.retriever,
			ArchiveProcessed: processArchive,
			Logger:           s.Logger,
		})

		if !processWatch {
			report, err := processor.Process(cmd.Context())
			if err != nil {
				return err
			}
			return output.Print(report)
		}

		s.Config.OnChange(func(cfg *config.Config) {
			s.Registry.Reload(cfg.ToProviderRegistryConfig())
			s.Logger.Info("configuration reloaded", "poll_interval", cfg.PollEvery())
		})
		s.Config.WatchConfig()

		interval := func() time.Duration {
			if processInterval > 0 {
				return processInterval
			}
			return s.Config.Get().PollEvery()
		}
		return processor.Watch(cmd.Context(), interval, func(r *batch.Report) {
			if err := output.Print(r); err != nil {
				s.Logger.Error("failed to print report", "error", err)
			}
		})
	},
}

func init() {
	batchesCmd.PersistentFlags().StringVar(&batchesProvider, "provider", "", "provider to operate on (default: defaults.provider)")

	batchesListCmd.Flags().BoolVar(&listAll, "all", false, "include archived batches")
	batchesListCmd.Flags().BoolVar(&listIncludeCancelled, "include-cancelled", false, "include cancelled batches")
	batchesListCmd.Flags().BoolVar(&listIncludeFailed, "include-failed", false, "include failed batches")

	batchesArchiveCmd.Flags().BoolVar(&archiveIncludeCancelled, "include-cancelled", false, "also archive cancelled batches")
	batchesArchiveCmd.Flags().BoolVar(&archiveIncludeFailed, "include-failed", false, "also archive failed batches")

	batchesProcessCmd.Flags().BoolVar(&processArchive, "archive-processed", false, "archive each batch once its samples are extracted")
	batchesProcessCmd.Flags().BoolVar(&processWatch, "watch", false, "repeat passes until no batch is pending")
	batchesProcessCmd.Flags().DurationVar(&processInterval, "interval", 0, "poll interval for --watch (default: defaults.poll_interval)")

	batchesCmd.AddCommand(batchesListCmd)
	batchesCmd.AddCommand(batchesCancelCmd)
	batchesCmd.AddCommand(batchesArchiveCmd)
	batchesCmd.AddCommand(batchesProcessCmd)
}

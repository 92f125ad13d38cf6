package batch

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/jackzampolin/tuner/internal/providers"
)

// DefaultPageSize is the listing page size requested from providers.
const DefaultPageSize = 100

// Lister is the provider surface the registry needs.
type Lister interface {
	ListBatches(ctx context.Context, after string, limit int) (*providers.BatchPage, error)
	Cancel(ctx context.Context, batchID string) error
}

// Entry is a listed batch with its local archive flag.
type Entry struct {
	providers.Batch `json:",inline" yaml:",inline"`
	Archived bool `json:"archived" yaml:"archived"`
}

// ListOptions selects which batches a listing yields.
// Archived batches are excluded first, then cancelled and failed ones.
type ListOptions struct {
	IncludeArchived  bool
	IncludeCancelled bool
	IncludeFailed    bool
	PageSize         int
}

// Registry enumerates a provider's batches and owns its archive index.
type Registry struct {
	lister  Lister
	archive *ArchiveIndex
	logger  *slog.Logger
}

// NewRegistry creates a registry over a provider and its archive index.
func NewRegistry(lister Lister, archive *ArchiveIndex, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{lister: lister, archive: archive, logger: logger}
}

// ArchiveIndex returns the registry's archive index.
func (r *Registry) ArchiveIndex() *ArchiveIndex {
	return r.archive
}

// List lazily follows provider pagination and yields the batches opts selects.
// Each batch id is yielded at most once. Iteration stops at the first error.
func (r *Registry) List(ctx context.Context, opts ListOptions) iter.Seq2[Entry, error] {
	limit := opts.PageSize
	if limit <= 0 {
		limit = DefaultPageSize
	}

	return func(yield func(Entry, error) bool) {
		seen := make(map[string]struct{})
		after := ""
		for page := 1; ; page++ {
			if err := ctx.Err(); err != nil {
				yield(Entry{}, err)
				return
			}

			resp, err := r.lister.ListBatches(ctx, after, limit)
			if err != nil {
				yield(Entry{}, fmt.Errorf("failed to list batches (page %d): %w", page, err))
				return
			}
			r.logger.Debug("listed batch page", "page", page, "after", after, "count", len(resp.Batches), "has_more", resp.HasMore)

			for _, b := range resp.Batches {
				if _, dup := seen[b.ID]; dup {
					continue
				}
				seen[b.ID] = struct{}{}

				e := Entry{Batch: b, Archived: r.archive.Contains(b.ID)}
				if !opts.selects(e) {
					continue
				}
				if !yield(e, nil) {
					return
				}
			}

			if !resp.HasMore || len(resp.Batches) == 0 {
				return
			}
			last := resp.Batches[len(resp.Batches)-1].ID
			if last == after {
				yield(Entry{}, fmt.Errorf("batch listing cursor did not advance past %s", after))
				return
			}
			after = last
		}
	}
}

// Collect drains List into a slice.
func (r *Registry) Collect(ctx context.Context, opts ListOptions) ([]Entry, error) {
	var out []Entry
	for e, err := range r.List(ctx, opts) {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (o ListOptions) selects(e Entry) bool {
	if e.Archived && !o.IncludeArchived {
		return false
	}
	switch e.Status {
	case providers.StatusCancelled:
		return o.IncludeCancelled
	case providers.StatusFailed:
		return o.IncludeFailed
	}
	return true
}

// Archive marks a batch archived, recording its current provider status.
func (r *Registry) Archive(b providers.Batch) (bool, error) {
	status := b.ProviderStatus
	if status == "" {
		status = string(b.Status)
	}
	added, err := r.archive.Archive(b.ID, status)
	if err != nil {
		return false, err
	}
	if added {
		r.logger.Info("archived batch", "batch_id", b.ID, "batch_status", status)
	}
	return added, nil
}

// Cancel asks the provider to cancel a batch. The provider may refuse if the
// batch already reached a terminal state; the outcome is observed on a later listing.
func (r *Registry) Cancel(ctx context.Context, batchID string) error {
	if err := r.lister.Cancel(ctx, batchID); err != nil {
		return fmt.Errorf("failed to cancel batch %s: %w", batchID, err)
	}
	r.logger.Info("requested batch cancellation", "batch_id", batchID)
	return nil
}

// CancelActive requests cancellation of every listed pending or running batch.
// Failures are logged per batch and returned joined.
func (r *Registry) CancelActive(ctx context.Context) ([]string, error) {
	var (
		cancelled []string
		errs      []error
	)
	for e, err := range r.List(ctx, ListOptions{}) {
		if err != nil {
			return cancelled, errors.Join(append(errs, err)...)
		}
		if e.Status.Terminal() {
			continue
		}
		if err := r.Cancel(ctx, e.ID); err != nil {
			r.logger.Error("cancel failed", "batch_id", e.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		cancelled = append(cancelled, e.ID)
	}
	return cancelled, errors.Join(errs...)
}

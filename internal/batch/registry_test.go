package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jackzampolin/tuner/internal/providers"
)

func newTestRegistry(t *testing.T, lister Lister) *Registry {
	t.Helper()
	idx, err := LoadArchiveIndex(filepath.Join(t.TempDir(), "archives.json"))
	if err != nil {
		t.Fatal(err)
	}
	return NewRegistry(lister, idx, nil)
}

func TestRegistryPagination(t *testing.T) {
	mock := providers.NewMockBatchProvider()
	for i := 0; i < 237; i++ {
		mock.AddBatch(providers.Batch{ID: fmt.Sprintf("batch_%03d", i), Status: providers.StatusCompleted})
	}
	r := newTestRegistry(t, mock)

	entries, err := r.Collect(context.Background(), ListOptions{})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(entries) != 237 {
		t.Fatalf("listed %d batches, want 237", len(entries))
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		if seen[e.ID] {
			t.Fatalf("duplicate batch %s", e.ID)
		}
		seen[e.ID] = true
	}
	if got := mock.ListCount(); got != 3 {
		t.Errorf("ListCount() = %d, want 3 pages", got)
	}
}

func TestRegistryLazyListing(t *testing.T) {
	mock := providers.NewMockBatchProvider()
	for i := 0; i < 250; i++ {
		mock.AddBatch(providers.Batch{ID: fmt.Sprintf("b%d", i), Status: providers.StatusRunning})
	}
	r := newTestRegistry(t, mock)

	n := 0
	for _, err := range r.List(context.Background(), ListOptions{}) {
		if err != nil {
			t.Fatal(err)
		}
		if n++; n == 5 {
			break
		}
	}
	if got := mock.ListCount(); got != 1 {
		t.Errorf("ListCount() = %d, stopping early should not fetch more pages", got)
	}
}

func TestRegistryFilters(t *testing.T) {
	mock := providers.NewMockBatchProvider()
	mock.AddBatch(providers.Batch{ID: "done", Status: providers.StatusCompleted, ProviderStatus: "completed"})
	mock.AddBatch(providers.Batch{ID: "busy", Status: providers.StatusRunning})
	mock.AddBatch(providers.Batch{ID: "gone", Status: providers.StatusCancelled})
	mock.AddBatch(providers.Batch{ID: "bad", Status: providers.StatusFailed})
	mock.AddBatch(providers.Batch{ID: "old", Status: providers.StatusFailed})
	r := newTestRegistry(t, mock)
	r.ArchiveIndex().Archive("old", "failed")

	ids := func(opts ListOptions) map[string]bool {
		entries, err := r.Collect(context.Background(), opts)
		if err != nil {
			t.Fatal(err)
		}
		got := make(map[string]bool)
		for _, e := range entries {
			got[e.ID] = e.Archived
		}
		return got
	}

	tests := []struct {
		name string
		opts ListOptions
		want []string
	}{
		{"default", ListOptions{}, []string{"done", "busy"}},
		{"cancelled", ListOptions{IncludeCancelled: true}, []string{"done", "busy", "gone"}},
		{"failed", ListOptions{IncludeFailed: true}, []string{"done", "busy", "bad"}},
		{"archived failed", ListOptions{IncludeArchived: true, IncludeFailed: true}, []string{"done", "busy", "bad", "old"}},
		{"archived without failed", ListOptions{IncludeArchived: true}, []string{"done", "busy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(tt.opts)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for _, id := range tt.want {
				if _, ok := got[id]; !ok {
					t.Errorf("missing %s in %v", id, got)
				}
			}
		})
	}
}

func TestRegistryArchiveMonotonic(t *testing.T) {
	mock := providers.NewMockBatchProvider()
	mock.AddBatch(providers.Batch{ID: "b1", Status: providers.StatusCompleted, ProviderStatus: "completed"})
	r := newTestRegistry(t, mock)

	if added, err := r.Archive(providers.Batch{ID: "b1", Status: providers.StatusCompleted, ProviderStatus: "completed"}); err != nil || !added {
		t.Fatalf("Archive() = %v, %v", added, err)
	}

	for _, status := range []providers.BatchStatus{providers.StatusCompleted, providers.StatusRunning, providers.StatusFailed, providers.StatusCancelled} {
		mock.SetBatch(providers.Batch{ID: "b1", Status: status})
		entries, err := r.Collect(context.Background(), ListOptions{IncludeCancelled: true, IncludeFailed: true})
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if e.ID == "b1" {
				t.Errorf("archived batch listed while %s", status)
			}
		}
	}

	entry, _ := r.ArchiveIndex().Get("b1")
	if entry.BatchStatus != "completed" {
		t.Errorf("BatchStatus = %q, want status at archive time", entry.BatchStatus)
	}
}

// stuckLister always reports more pages but never advances.
type stuckLister struct{ calls int }

func (s *stuckLister) ListBatches(ctx context.Context, after string, limit int) (*providers.BatchPage, error) {
	s.calls++
	return &providers.BatchPage{Batches: []providers.Batch{{ID: "same", Status: providers.StatusRunning}}, HasMore: true}, nil
}

func (s *stuckLister) Cancel(ctx context.Context, batchID string) error { return nil }

func TestRegistryStuckCursor(t *testing.T) {
	s := &stuckLister{}
	r := newTestRegistry(t, s)
	entries, err := r.Collect(context.Background(), ListOptions{})
	if err == nil {
		t.Fatal("expected error for a cursor that does not advance")
	}
	if len(entries) != 1 || s.calls != 2 {
		t.Errorf("entries=%d calls=%d", len(entries), s.calls)
	}
}

func TestRegistryListError(t *testing.T) {
	mock := providers.NewMockBatchProvider()
	mock.ListErr = errors.New("unavailable")
	r := newTestRegistry(t, mock)
	if _, err := r.Collect(context.Background(), ListOptions{}); !errors.Is(err, mock.ListErr) {
		t.Errorf("Collect() error = %v", err)
	}
}

func TestRegistryCancelActive(t *testing.T) {
	mock := providers.NewMockBatchProvider()
	mock.AddBatch(providers.Batch{ID: "p", Status: providers.StatusPending})
	mock.AddBatch(providers.Batch{ID: "r", Status: providers.StatusRunning})
	mock.AddBatch(providers.Batch{ID: "c", Status: providers.StatusCompleted})
	r := newTestRegistry(t, mock)

	cancelled, err := r.CancelActive(context.Background())
	if err != nil {
		t.Fatalf("CancelActive() error = %v", err)
	}
	if len(cancelled) != 2 || mock.CancelCount() != 2 {
		t.Errorf("cancelled %v (%d calls)", cancelled, mock.CancelCount())
	}
}

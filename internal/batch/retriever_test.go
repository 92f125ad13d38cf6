package batch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/tuner/internal/providers"
)

func jsonl(lines ...[]byte) []byte {
	return append(bytes.Join(lines, []byte("\n")), '\n')
}

func completed(id, output, errFile string) providers.Batch {
	return providers.Batch{ID: id, Status: providers.StatusCompleted, ProviderStatus: "completed", OutputFileID: output, ErrorFileID: errFile}
}

func TestRetrieverIdempotent(t *testing.T) {
	dir := t.TempDir()
	mock := providers.NewMockBatchProvider()
	mock.SetFile("file_out", jsonl(providers.MockResultLine("x", "{\"a\":1}")))
	r := NewRetriever(mock, dir, nil)
	b := completed("b1", "file_out", "")

	first, err := r.Download(context.Background(), b)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	firstBytes, _ := os.ReadFile(first.Path)

	second, err := r.Download(context.Background(), b)
	if err != nil {
		t.Fatalf("second Download() error = %v", err)
	}
	secondBytes, _ := os.ReadFile(second.Path)

	if mock.FetchCount() != 1 {
		t.Errorf("FetchCount() = %d, want 1", mock.FetchCount())
	}
	if first.Cached || !second.Cached {
		t.Errorf("Cached = %v, %v", first.Cached, second.Cached)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Error("artifacts differ between downloads")
	}
	if first.Path != filepath.Join(dir, "b1_output.jsonl") || first.IsError {
		t.Errorf("download = %+v", first)
	}
}

func TestRetrieverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mock := providers.NewMockBatchProvider()
	mock.SetFile("f", jsonl(providers.MockResultLine("x", "{\"a\":1}\n{\"b\":2}")))
	r := NewRetriever(mock, dir, nil)

	d, err := r.Download(context.Background(), completed("b1", "f", ""))
	if err != nil {
		t.Fatal(err)
	}
	stats, err := r.Demultiplex(d)
	if err != nil {
		t.Fatalf("Demultiplex() error = %v", err)
	}
	if stats.Results != 1 || stats.Samples != 2 {
		t.Errorf("stats = %+v", stats)
	}

	data, err := os.ReadFile(filepath.Join(dir, SampleName("b1", "x")))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || lines[0] != `{"a":1}` || lines[1] != `{"b":2}` {
		t.Errorf("sample file = %q", data)
	}
}

func TestRetrieverDemultiplexTolerance(t *testing.T) {
	dir := t.TempDir()
	mock := providers.NewMockBatchProvider()
	mock.SetFile("f", jsonl(
		providers.MockResultLine("x", "{\"a\":1}\nNOT JSON\n{\"b\":2}"),
		[]byte("{broken envelope"),
		providers.MockErrorLine("y", "context length exceeded"),
		providers.MockResultLine("z", "{\"c\":3}"),
	))
	r := NewRetriever(mock, dir, nil)

	d, err := r.Download(context.Background(), completed("b1", "f", ""))
	if err != nil {
		t.Fatal(err)
	}
	stats, err := r.Demultiplex(d)
	if err != nil {
		t.Fatalf("Demultiplex() error = %v", err)
	}
	want := Demux{Results: 3, Failed: 1, BadEnvelopes: 1, Samples: 3, Skipped: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	for _, name := range []string{
		SampleName("b1", "x"),
		SampleErrorName("b1", "x"),
		SampleErrorName("b1", "y"),
		SampleName("b1", "z"),
		ResultErrorName("b1", false),
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, SampleName("b1", "y"))); !os.IsNotExist(err) {
		t.Error("failed request should not get a sample file")
	}
}

func TestRetrieverDemultiplexContinuesPastBadLines(t *testing.T) {
	dir := t.TempDir()
	mock := providers.NewMockBatchProvider()
	mock.SetFile("f", jsonl(
		providers.MockResultLine("dev/1", "{\"a\":1}"),
		providers.MockResultLine("..", "{\"a\":2}"),
		providers.MockErrorLine("", "boom"),
		providers.MockResultLine("w", "{\"b\":1}"),
		providers.MockResultLine("z", "{\"c\":3}"),
	))
	// A directory in place of the sample file makes its write fail.
	if err := os.MkdirAll(filepath.Join(dir, SampleName("b1", "w"), "keep"), 0o755); err != nil {
		t.Fatal(err)
	}
	r := NewRetriever(mock, dir, nil)

	d, err := r.Download(context.Background(), completed("b1", "f", ""))
	if err != nil {
		t.Fatal(err)
	}
	stats, err := r.Demultiplex(d)
	if err != nil {
		t.Fatalf("Demultiplex() error = %v", err)
	}
	want := Demux{Results: 2, BadEnvelopes: 3, Samples: 1, WriteErrors: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	if _, err := os.Stat(filepath.Join(dir, SampleName("b1", "z"))); err != nil {
		t.Errorf("line after the bad ones was not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sample_b1_dev")); !os.IsNotExist(err) {
		t.Error("custom_id with a separator escaped into a subdirectory")
	}

	rejects, err := os.ReadFile(filepath.Join(dir, ResultErrorName("b1", false)))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"dev/1", "line 2:", "line 3:", "line 4:"} {
		if !strings.Contains(string(rejects), want) {
			t.Errorf("rejects missing %q:\n%s", want, rejects)
		}
	}
}

func TestCheckCustomID(t *testing.T) {
	tests := []struct {
		id string
		ok bool
	}{
		{"home-1_finetune_2_commands", true},
		{"home.v2_finetune_1_routines", true},
		{"", false},
		{".", false},
		{"..", false},
		{"dev/1", false},
		{"../escape", false},
		{`dev\1`, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := CheckCustomID(tt.id)
			if (err == nil) != tt.ok {
				t.Errorf("CheckCustomID(%q) = %v, want ok=%v", tt.id, err, tt.ok)
			}
			if err != nil && !errors.Is(err, ErrUnsafeCustomID) {
				t.Errorf("error = %v, want ErrUnsafeCustomID", err)
			}
		})
	}
}

func TestRetrieverErrorFile(t *testing.T) {
	dir := t.TempDir()
	mock := providers.NewMockBatchProvider()
	mock.SetFile("err", jsonl(providers.MockErrorLine("x", "boom")))
	r := NewRetriever(mock, dir, nil)

	d, err := r.Download(context.Background(), completed("b1", "", "err"))
	if err != nil {
		t.Fatal(err)
	}
	if !d.IsError || filepath.Base(d.Path) != "b1_error.jsonl" {
		t.Errorf("download = %+v", d)
	}
}

func TestRetrieverContractViolation(t *testing.T) {
	mock := providers.NewMockBatchProvider()
	r := NewRetriever(mock, t.TempDir(), nil)

	if _, err := r.Download(context.Background(), completed("b1", "", "")); !errors.Is(err, ErrNoResultFile) {
		t.Errorf("Download() error = %v, want ErrNoResultFile", err)
	}
	running := providers.Batch{ID: "b2", Status: providers.StatusRunning}
	if _, err := r.Download(context.Background(), running); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("Download(running) error = %v, want ErrNotCompleted", err)
	}
	if mock.FetchCount() != 0 {
		t.Error("no fetch expected")
	}
}

func TestRetrieverFetchFailureLeavesNoArtifact(t *testing.T) {
	dir := t.TempDir()
	mock := providers.NewMockBatchProvider()
	mock.FetchErr = errors.New("timeout")
	r := NewRetriever(mock, dir, nil)

	if _, err := r.Download(context.Background(), completed("b1", "f", "")); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(filepath.Join(dir, "b1_output.jsonl")); !os.IsNotExist(err) {
		t.Error("a failed fetch must not leave an artifact behind")
	}
}

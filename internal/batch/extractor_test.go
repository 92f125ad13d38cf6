package batch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantSamples int
		wantSkipped int
	}{
		{"two samples", "{\"a\":1}\n{\"b\":2}", 2, 0},
		{"malformed middle line", "{\"a\":1}\nNOT JSON\n{\"b\":2}", 2, 1},
		{"blank lines ignored", "\n{\"a\":1}\n\n   \n", 1, 0},
		{"code fences", "```json\n{\"a\":1}\n```", 1, 2},
		{"non-object values", "[1,2]\n42\nnull\n\"s\"", 0, 4},
		{"empty", "", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var samples, skipped int
			for _, o := range Extract(tt.text) {
				if o.Skipped {
					skipped++
					if o.Reason == "" {
						t.Errorf("line %d skipped without a reason", o.Line)
					}
				} else {
					samples++
				}
			}
			if samples != tt.wantSamples || skipped != tt.wantSkipped {
				t.Errorf("samples=%d skipped=%d, want %d/%d", samples, skipped, tt.wantSamples, tt.wantSkipped)
			}
		})
	}
}

func TestExtractCompactsAndNumbersLines(t *testing.T) {
	out := Extract("{ \"a\" : 1 }\n\nbad")
	if len(out) != 2 {
		t.Fatalf("len = %d", len(out))
	}
	if string(out[0].Sample) != `{"a":1}` || out[0].Line != 1 {
		t.Errorf("first = %+v", out[0])
	}
	if !out[1].Skipped || out[1].Line != 3 || out[1].Raw != "bad" {
		t.Errorf("second = %+v", out[1])
	}
}

func TestExtractorWrite(t *testing.T) {
	dir := t.TempDir()
	e := NewExtractor(dir, nil)

	res, err := e.Write("sample_b_x", "{\"a\":1}\nNOT JSON\n{\"b\":2}", false)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.Samples != 2 || res.Skipped != 1 {
		t.Errorf("Write() = %+v", res)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "sample_b_x.jsonl"))
	if string(data) != "{\"a\":1}\n{\"b\":2}\n" {
		t.Errorf("samples file = %q", data)
	}
	sidecar, err := os.ReadFile(filepath.Join(dir, "sample_b_x.error"))
	if err != nil {
		t.Fatalf("missing .error sidecar: %v", err)
	}
	if !strings.Contains(string(sidecar), "NOT JSON") || !strings.Contains(string(sidecar), "line 2") {
		t.Errorf("sidecar = %q", sidecar)
	}

	t.Run("append adds to the pass's output", func(t *testing.T) {
		if _, err := e.Write("sample_b_x", `{"c":3}`, true); err != nil {
			t.Fatal(err)
		}
		if got := countLines(t, filepath.Join(dir, "sample_b_x.jsonl")); got != 3 {
			t.Errorf("lines = %d, want 3", got)
		}
	})

	t.Run("rewrite replaces and clears stale sidecar", func(t *testing.T) {
		if _, err := e.Write("sample_b_x", `{"d":4}`, false); err != nil {
			t.Fatal(err)
		}
		if got := countLines(t, filepath.Join(dir, "sample_b_x.jsonl")); got != 1 {
			t.Errorf("lines = %d, want 1", got)
		}
		if _, err := os.Stat(filepath.Join(dir, "sample_b_x.error")); !os.IsNotExist(err) {
			t.Error("stale .error sidecar should be removed")
		}
	})

	t.Run("no empty sample file", func(t *testing.T) {
		res, err := e.Write("sample_b_y", "garbage", false)
		if err != nil {
			t.Fatal(err)
		}
		if res.Samples != 0 {
			t.Errorf("Samples = %d", res.Samples)
		}
		if _, err := os.Stat(filepath.Join(dir, "sample_b_y.jsonl")); !os.IsNotExist(err) {
			t.Error("sample file should not be created without samples")
		}
	})
}

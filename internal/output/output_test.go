package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type sample struct {
	ID    string `json:"id" yaml:"id"`
	Count int    `json:"count" yaml:"count"`
}

type sampleTable []sample

func (s sampleTable) Header() []string { return []string{"ID", "COUNT"} }

func (s sampleTable) Rows() [][]string {
	var rows [][]string
	for _, r := range s {
		rows = append(rows, []string{r.ID, strings.Repeat("x", r.Count)})
	}
	return rows
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"yaml", FormatYAML, false},
		{"JSON", FormatJSON, false},
		{"table", FormatTable, false},
		{"", Default, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWrite(t *testing.T) {
	data := sample{ID: "batch_1", Count: 3}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Write(&buf, FormatJSON, data); err != nil {
			t.Fatal(err)
		}
		var got sample
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil || got != data {
			t.Errorf("json round trip = %+v, %v", got, err)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Write(&buf, FormatYAML, data); err != nil {
			t.Fatal(err)
		}
		var got sample
		if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil || got != data {
			t.Errorf("yaml round trip = %+v, %v", got, err)
		}
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Write(&buf, FormatTable, sampleTable{data, {ID: "b2", Count: 1}}); err != nil {
			t.Fatal(err)
		}
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 3 || !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[1], "batch_1") {
			t.Errorf("table = %q", buf.String())
		}
	})

	t.Run("table falls back to yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Write(&buf, FormatTable, data); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "id: batch_1") {
			t.Errorf("fallback = %q", buf.String())
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if err := Write(&bytes.Buffer{}, Format("xml"), data); err == nil {
			t.Error("expected error")
		}
	})
}

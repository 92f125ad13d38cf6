// Package output renders command results to stdout.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Format is the rendering used for command results.
type Format string

const (
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
	FormatTable Format = "table"
)

// Default is the format used when none is requested.
const Default = FormatYAML

// current is set by the root command's --output flag.
var current = Default

// ParseFormat validates a --output value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatYAML, FormatJSON, FormatTable:
		return f, nil
	case "":
		return Default, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want yaml, json or table)", s)
	}
}

// SetFormat sets the process-wide output format.
func SetFormat(f Format) {
	current = f
}

// CurrentFormat returns the process-wide output format.
func CurrentFormat() Format {
	return current
}

// Table is implemented by results with a tabular rendering.
type Table interface {
	Header() []string
	Rows() [][]string
}

// Print writes data to stdout in the current format.
func Print(data any) error {
	return Write(os.Stdout, current, data)
}

// Write writes data to w in the given format. Data that is not a Table falls
// back to YAML when a table is requested.
func Write(w io.Writer, format Format, data any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	case FormatTable:
		t, ok := data.(Table)
		if !ok {
			return Write(w, FormatYAML, data)
		}
		return writeTable(w, t)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func writeTable(w io.Writer, t Table) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Header(), "\t"))
	for _, row := range t.Rows() {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

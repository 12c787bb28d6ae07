// Package output provides output formatting for the CLI.
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

// Format represents an output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// Writer handles formatted output.
type Writer struct {
	format Format
	out    io.Writer
}

// NewWriter creates a new output writer.
func NewWriter(format string) *Writer {
	f := Format(format)
	switch f {
	case FormatJSON, FormatYAML:
	default:
		f = FormatTable
	}
	return &Writer{format: f, out: os.Stdout}
}

// Print outputs data in the configured format.
func (w *Writer) Print(data interface{}) error {
	switch w.format {
	case FormatJSON:
		return w.printJSON(data)
	case FormatYAML:
		return w.printYAML(data)
	default:
		return w.printTable(data)
	}
}

func (w *Writer) printJSON(data interface{}) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (w *Writer) printYAML(data interface{}) error {
	enc := yaml.NewEncoder(w.out)
	enc.SetIndent(2)
	return enc.Encode(data)
}

func (w *Writer) printTable(data interface{}) error {
	switch v := data.(type) {
	case Table:
		return w.writeTable(v)
	case *Table:
		return w.writeTable(*v)
	default:
		// Fall back to JSON for complex types
		return w.printJSON(data)
	}
}

// Table represents tabular data.
type Table struct {
	Headers []string
	Rows    [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{Headers: headers}
}

// AddRow appends one row of cells.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

func (w *Writer) writeTable(t Table) error {
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Success prints a success message.
func Success(format string, args ...interface{}) {
	fmt.Printf("✓ "+format+"\n", args...)
}

// Error prints an error message.
func Error(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "✗ "+format+"\n", args...)
}

// Info prints an info message.
func Info(format string, args ...interface{}) {
	fmt.Printf("→ "+format+"\n", args...)
}

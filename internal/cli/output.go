package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/bauplanlabs/bauplan-go/pkg/pagination"
	"github.com/jedib0t/go-pretty/v6/table"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Format selects how records are printed.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates an --output value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
	}
}

// Renderer writes records in the selected format.
type Renderer struct {
	out    io.Writer
	format Format
}

// NewRenderer creates a renderer writing to out.
func NewRenderer(out io.Writer, format Format) *Renderer {
	return &Renderer{out: out, format: format}
}

// column describes one table column of a record type.
type column[T any] struct {
	header string
	value  func(T) any
}

// renderList drains p and prints the records. A fetch error is returned
// without printing a partial listing.
func renderList[T any](ctx context.Context, r *Renderer, p *pagination.Paginator[T], cols []column[T]) error {
	records := make([]T, 0)
	for rec, err := range p.All(ctx) {
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	return renderSlice(r, records, cols)
}

// renderSlice prints records as a table with a row count, or as one
// JSON/YAML list.
func renderSlice[T any](r *Renderer, records []T, cols []column[T]) error {
	switch r.format {
	case FormatJSON:
		return r.writeJSON(records)
	case FormatYAML:
		return r.writeYAML(records)
	}

	if len(records) == 0 {
		_, _ = fmt.Fprintln(r.out, "(0 rows)")
		return nil
	}

	t := r.newTable()
	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = c.header
	}
	t.AppendHeader(header)
	for _, rec := range records {
		row := make(table.Row, len(cols))
		for i, c := range cols {
			row[i] = c.value(rec)
		}
		t.AppendRow(row)
	}
	t.Render()
	_, _ = fmt.Fprintf(r.out, "(%d rows)\n", len(records))
	return nil
}

// renderObject prints a single record; tables show one field per row.
func renderObject[T any](r *Renderer, rec T, cols []column[T]) error {
	switch r.format {
	case FormatJSON:
		return r.writeJSON(rec)
	case FormatYAML:
		return r.writeYAML(rec)
	}

	t := r.newTable()
	for _, c := range cols {
		t.AppendRow(table.Row{c.header, c.value(rec)})
	}
	t.Render()
	return nil
}

func (r *Renderer) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)
	return t
}

func (r *Renderer) writeJSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML goes through JSON so records keep their wire field names and
// custom encodings.
func (r *Renderer) writeYAML(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	blockStyle(&doc)

	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle drops the flow and quoting styles inherited from JSON.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return strings.Join(parts, ",")
}

func optional[T any](v *T) any {
	if v == nil {
		return "-"
	}
	return *v
}

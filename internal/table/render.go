package table

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

// ErrUnknownFormat is returned for an unsupported output format.
var ErrUnknownFormat = errors.New("unknown output format")

// RenderOptions controls output.
type RenderOptions struct {
	Format string // table, json, markdown, csv
	Raw    bool   // markdown: skip terminal rendering
	Width  int    // markdown word wrap; 0 means 80
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// Render writes rows in the requested format.
func Render(w io.Writer, cols []Column, rows []Row, opts RenderOptions) error {
	switch opts.Format {
	case "", "table":
		return renderTable(w, cols, rows)
	case "json":
		return renderJSON(w, cols, rows)
	case "markdown":
		return renderMarkdown(w, cols, rows, opts)
	case "csv":
		return renderCSV(w, cols, rows)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, opts.Format)
	}
}

func renderTable(w io.Writer, cols []Column, rows []Row) error {
	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.Name
	}

	t := lgtable.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, r := range rows {
		t.Row(values(cols, r)...)
	}

	_, err := fmt.Fprintln(w, t.String())
	return err
}

func renderJSON(w io.Writer, cols []Column, rows []Row) error {
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		obj := make(map[string]any, len(cols))
		for _, c := range cols {
			v := r[c.Name]
			if c.Type == Integer {
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					obj[c.Name] = n
					continue
				}
			}
			obj[c.Name] = v
		}
		out = append(out, obj)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Markdown returns rows as a GitHub-flavoured markdown table.
func Markdown(cols []Column, rows []Row) string {
	var b strings.Builder
	b.WriteString("|")
	for _, c := range cols {
		b.WriteString(" " + c.Name + " |")
	}
	b.WriteString("\n|")
	for _, c := range cols {
		if c.Type == Integer {
			b.WriteString(" ---: |")
		} else {
			b.WriteString(" --- |")
		}
	}
	b.WriteString("\n")
	for _, r := range rows {
		b.WriteString("|")
		for _, v := range values(cols, r) {
			b.WriteString(" " + strings.ReplaceAll(v, "|", `\|`) + " |")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderMarkdown(w io.Writer, cols []Column, rows []Row, opts RenderOptions) error {
	md := Markdown(cols, rows)
	if opts.Raw {
		_, err := io.WriteString(w, md)
		return err
	}

	width := opts.Width
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fmt.Errorf("markdown renderer: %w", err)
	}
	out, err := renderer.Render(md)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

func renderCSV(w io.Writer, cols []Column, rows []Row) error {
	cw := csv.NewWriter(w)
	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.Name
	}
	if err := cw.Write(headers); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(values(cols, r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func values(cols []Column, r Row) []string {
	vals := make([]string, len(cols))
	for i, c := range cols {
		vals[i] = r[c.Name]
	}
	return vals
}

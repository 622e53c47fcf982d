// Package cli renders command results and wires the shared pieces every
// provenance subcommand needs: client config, keyring, relay client.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"go.yaml.in/yaml/v3"
)

// Format selects how results are written.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat maps the --output flag to a Format. Unknown values mean text.
func ParseFormat(s string) Format {
	switch s {
	case "json":
		return FormatJSON
	case "markdown", "md":
		return FormatMarkdown
	}
	return FormatText
}

// Meta travels with every JSON envelope and markdown frontmatter. It lets
// scripts tell result kinds apart and page through long listings.
type Meta struct {
	Type      string    `json:"type" yaml:"type"`
	Version   string    `json:"version,omitempty" yaml:"version,omitempty"`
	Generated time.Time `json:"generated" yaml:"generated"`
	Cursor    string    `json:"cursor,omitempty" yaml:"cursor,omitempty"`
	HasMore   bool      `json:"has_more,omitempty" yaml:"has_more,omitempty"`
}

// NewMeta stamps a result kind with the current time.
func NewMeta(resultType string) Meta {
	return Meta{Type: resultType, Version: "v1", Generated: time.Now().UTC()}
}

// WithPagination returns a copy of m carrying the next cursor.
func (m Meta) WithPagination(cursor string, hasMore bool) Meta {
	m.Cursor, m.HasMore = cursor, hasMore
	return m
}

// Renderable is anything Output.Render can write.
type Renderable interface {
	Meta() Meta
	RenderText(w io.Writer) error
	RenderJSON() any
	RenderMarkdown(w io.Writer) error
}

// Output writes results in one format to one destination.
type Output struct {
	format Format
	w      io.Writer
	tty    bool
	styles styles
}

// NewOutput binds a format to w. Text output is styled and long hex values
// are shortened only when w is a terminal.
func NewOutput(format Format, w io.Writer) *Output {
	o := &Output{format: format, w: w, styles: newStyles(lipgloss.NewRenderer(w))}
	if f, ok := w.(*os.File); ok {
		o.tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return o
}

// ViperGetter is the slice of viper the output setup reads.
type ViperGetter interface {
	GetString(key string) string
}

// NewOutputFromViper writes to stdout in the format named by "output".
func NewOutputFromViper(v ViperGetter) *Output {
	return NewOutput(ParseFormat(v.GetString("output")), os.Stdout)
}

func (o *Output) Format() Format    { return o.format }
func (o *Output) Writer() io.Writer { return o.w }

func (o *Output) view(resultType string) view {
	return view{out: o, meta: NewMeta(resultType)}
}

// Table starts a tabular result with the given column headers.
func (o *Output) Table(resultType string, headers ...string) *Table {
	return &Table{view: o.view(resultType), headers: headers}
}

// KV starts an ordered key/value result.
func (o *Output) KV(resultType string) *KV {
	return &KV{view: o.view(resultType)}
}

// StringList starts a flat list result, such as document hashes.
func (o *Output) StringList(resultType string) *StringList {
	return &StringList{view: o.view(resultType)}
}

// Result starts a one-line confirmation with optional details.
func (o *Output) Result(resultType, message string) *Result {
	return &Result{view: o.view(resultType), message: message}
}

// Error starts an error report. Its result type gains an "-error" suffix.
func (o *Output) Error(resultType string, err error) *Error {
	return &Error{view: o.view(resultType + "-error"), err: err}
}

// Render writes r in the configured format.
func (o *Output) Render(r Renderable) error {
	switch o.format {
	case FormatJSON:
		return o.writeEnvelope(r)
	case FormatMarkdown:
		if err := o.writeFrontmatter(r.Meta()); err != nil {
			return err
		}
		return r.RenderMarkdown(o.w)
	}
	if err := r.RenderText(o.w); err != nil {
		return err
	}
	if m := r.Meta(); m.HasMore && m.Cursor != "" {
		_, err := fmt.Fprintf(o.w, "\n%s\n", o.styles.dim.Render("More results: --after="+m.Cursor))
		return err
	}
	return nil
}

func (o *Output) writeEnvelope(r Renderable) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Meta Meta `json:"meta"`
		Data any  `json:"data"`
	}{r.Meta(), r.RenderJSON()})
}

func (o *Output) writeFrontmatter(m Meta) error {
	if _, err := io.WriteString(o.w, "---\n"); err != nil {
		return err
	}
	enc := yaml.NewEncoder(o.w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(o.w, "---\n\n")
	return err
}

// WriteJSONLine writes v as one line of JSON, for streamed events.
func WriteJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

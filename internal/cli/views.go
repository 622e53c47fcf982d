package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// view is the part every result kind shares.
type view struct {
	out  *Output
	meta Meta
}

func (v view) Meta() Meta { return v.meta }

type pair struct {
	key   string
	value any
}

// fields are details keyed by label. They render sorted by key.
type fields map[string]any

func (f fields) sorted() []pair {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]pair, len(keys))
	for i, k := range keys {
		out[i] = pair{k, f[k]}
	}
	return out
}

func (f fields) into(m map[string]any) map[string]any {
	for k, v := range f {
		m[toJSONKey(k)] = v
	}
	return m
}

// writeAligned prints "key:  value" lines with values in one column.
func (o *Output) writeAligned(w io.Writer, indent string, pairs []pair) error {
	width := 0
	for _, p := range pairs {
		width = max(width, len(p.key)+1)
	}
	for _, p := range pairs {
		key := o.styles.key.Render(fmt.Sprintf("%-*s", width, p.key+":"))
		if _, err := fmt.Fprintf(w, "%s%s  %s\n", indent, key, o.shorten(fmt.Sprint(p.value))); err != nil {
			return err
		}
	}
	return nil
}

// KV is an ordered list of labelled values, such as a document record.
type KV struct {
	view
	pairs []pair
}

// Set appends a labelled value. Order is kept.
func (k *KV) Set(key string, value any) *KV {
	k.pairs = append(k.pairs, pair{key, value})
	return k
}

func (k *KV) WithPagination(cursor string, hasMore bool) *KV {
	k.meta = k.meta.WithPagination(cursor, hasMore)
	return k
}

func (k *KV) Render() error { return k.out.Render(k) }

func (k *KV) RenderText(w io.Writer) error {
	return k.out.writeAligned(w, "", k.pairs)
}

func (k *KV) RenderJSON() any {
	m := make(map[string]any, len(k.pairs))
	for _, p := range k.pairs {
		m[toJSONKey(p.key)] = p.value
	}
	return m
}

func (k *KV) RenderMarkdown(w io.Writer) error {
	for _, p := range k.pairs {
		if _, err := fmt.Fprintf(w, "**%s:** %s\n\n", p.key, formatMarkdownValue(p.value)); err != nil {
			return err
		}
	}
	return nil
}

// StringList is a bare list of values, one per line.
type StringList struct {
	view
	items []string
}

func (l *StringList) Add(items ...string) *StringList {
	l.items = append(l.items, items...)
	return l
}

func (l *StringList) WithPagination(cursor string, hasMore bool) *StringList {
	l.meta = l.meta.WithPagination(cursor, hasMore)
	return l
}

func (l *StringList) Render() error { return l.out.Render(l) }

func (l *StringList) RenderText(w io.Writer) error {
	if len(l.items) == 0 {
		_, err := fmt.Fprintln(w, l.out.styles.dim.Render("(none)"))
		return err
	}
	for _, item := range l.items {
		if _, err := fmt.Fprintln(w, l.out.shorten(item)); err != nil {
			return err
		}
	}
	return nil
}

func (l *StringList) RenderJSON() any {
	if l.items == nil {
		return []string{}
	}
	return l.items
}

func (l *StringList) RenderMarkdown(w io.Writer) error {
	for _, item := range l.items {
		if _, err := fmt.Fprintf(w, "- %s\n", formatMarkdownValue(item)); err != nil {
			return err
		}
	}
	return nil
}

// Result confirms a completed action, usually a committed transition.
type Result struct {
	view
	message string
	details fields
}

// With records a detail. Details print sorted by key.
func (r *Result) With(key string, value any) *Result {
	if r.details == nil {
		r.details = fields{}
	}
	r.details[key] = value
	return r
}

func (r *Result) Render() error { return r.out.Render(r) }

func (r *Result) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintln(w, r.out.styles.ok.Render(r.message)); err != nil {
		return err
	}
	return r.out.writeAligned(w, "  ", r.details.sorted())
}

func (r *Result) RenderJSON() any {
	return r.details.into(map[string]any{"message": r.message})
}

func (r *Result) RenderMarkdown(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "**%s**\n\n", r.message); err != nil {
		return err
	}
	for _, p := range r.details.sorted() {
		if _, err := fmt.Fprintf(w, "- **%s:** %s\n", p.key, formatMarkdownValue(p.value)); err != nil {
			return err
		}
	}
	return nil
}

// Error reports a rejected or failed command.
type Error struct {
	view
	err     error
	code    string
	details fields
}

// WithCode tags the error with the relay's error code, e.g. "Unauthorized".
func (e *Error) WithCode(code string) *Error {
	e.code = code
	return e
}

func (e *Error) With(key string, value any) *Error {
	if e.details == nil {
		e.details = fields{}
	}
	e.details[key] = value
	return e
}

func (e *Error) Render() error { return e.out.Render(e) }

func (e *Error) label() string {
	if e.code == "" {
		return "Error:"
	}
	return "Error [" + e.code + "]:"
}

func (e *Error) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s %v\n", e.out.styles.err.Render(e.label()), e.err); err != nil {
		return err
	}
	return e.out.writeAligned(w, "  ", e.details.sorted())
}

func (e *Error) RenderJSON() any {
	m := map[string]any{"error": e.err.Error()}
	if e.code != "" {
		m["code"] = e.code
	}
	return e.details.into(m)
}

func (e *Error) RenderMarkdown(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "> **%s** %v\n", e.label(), e.err); err != nil {
		return err
	}
	if len(e.details) == 0 {
		return nil
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	for _, p := range e.details.sorted() {
		if _, err := fmt.Fprintf(w, "- %s: %v\n", p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

// Table is a row-per-record result, such as role members or keys.
type Table struct {
	view
	headers []string
	rows    [][]string
}

// AddRow appends a row. Missing trailing cells render empty.
func (t *Table) AddRow(values ...string) *Table {
	t.rows = append(t.rows, values)
	return t
}

func (t *Table) WithPagination(cursor string, hasMore bool) *Table {
	t.meta = t.meta.WithPagination(cursor, hasMore)
	return t
}

func (t *Table) Render() error { return t.out.Render(t) }

// cells returns every row padded to the header width with each cell
// passed through fn.
func (t *Table) cells(fn func(string) string) [][]string {
	out := make([][]string, len(t.rows))
	for r, row := range t.rows {
		out[r] = make([]string, len(t.headers))
		for c := range out[r] {
			if c < len(row) {
				out[r][c] = fn(row[c])
			}
		}
	}
	return out
}

func (t *Table) RenderText(w io.Writer) error {
	st := t.out.styles
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(st.dim).
		Headers(t.headers...).
		Rows(t.cells(t.out.shorten)...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return st.header
			}
			return st.cell
		})
	_, err := fmt.Fprintln(w, tbl.String())
	return err
}

func (t *Table) RenderJSON() any {
	out := make([]map[string]string, 0, len(t.rows))
	for _, row := range t.rows {
		obj := make(map[string]string, len(row))
		for i := 0; i < len(row) && i < len(t.headers); i++ {
			obj[toJSONKey(t.headers[i])] = row[i]
		}
		out = append(out, obj)
	}
	return out
}

// RenderMarkdown writes a pipe table. Hash cells are code-formatted and
// pipes inside cells are escaped.
func (t *Table) RenderMarkdown(w io.Writer) error {
	escape := func(s string) string { return formatMarkdownValue(s) }
	headers := make([]string, len(t.headers))
	for i, h := range t.headers {
		headers[i] = escape(h)
	}
	tbl := table.New().
		Border(lipgloss.MarkdownBorder()).
		BorderTop(false).
		BorderBottom(false).
		Headers(headers...).
		Rows(t.cells(escape)...).
		StyleFunc(func(int, int) lipgloss.Style { return t.out.styles.cell })
	_, err := fmt.Fprintln(w, tbl.String())
	return err
}

// formatMarkdownValue code-formats hashes and escapes table pipes.
func formatMarkdownValue(v any) string {
	s := fmt.Sprint(v)
	if looksLikeHash(strings.TrimPrefix(s, "0x")) {
		return "`" + s + "`"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}

// looksLikeHash reports whether s is at least 16 hex digits.
func looksLikeHash(s string) bool {
	if len(s) < 16 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// toJSONKey turns a column or detail label into a snake_case key.
func toJSONKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", "_"))
}

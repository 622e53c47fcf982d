package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
)

var (
	accentColor = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	dimColor    = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}
	warnColor   = lipgloss.AdaptiveColor{Light: "#F25D94", Dark: "#F25D94"}
	greenColor  = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
)

// maxHexWidth is the widest hex value shown untruncated on a terminal.
const maxHexWidth = 24

type styles struct {
	header lipgloss.Style
	key    lipgloss.Style
	dim    lipgloss.Style
	ok     lipgloss.Style
	err    lipgloss.Style
	cell   lipgloss.Style
}

// newStyles binds the palette to r so that color is dropped when the
// destination cannot display it.
func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header: r.NewStyle().Foreground(accentColor).Bold(true).Padding(0, 1),
		key:    r.NewStyle().Foreground(dimColor),
		dim:    r.NewStyle().Foreground(dimColor),
		ok:     r.NewStyle().Foreground(greenColor).Bold(true),
		err:    r.NewStyle().Foreground(warnColor).Bold(true),
		cell:   r.NewStyle().Padding(0, 1),
	}
}

// shorten truncates long hex values when writing to a terminal. Piped
// output is never altered.
func (o *Output) shorten(s string) string {
	if !o.tty || len(s) <= maxHexWidth || !looksLikeHash(strings.TrimPrefix(s, "0x")) {
		return s
	}
	return truncate.StringWithTail(s, maxHexWidth, "…")
}

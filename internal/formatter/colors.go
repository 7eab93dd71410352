package formatter

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/lumarr/internal/models"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// Palette is a small stylesheet for text reports built with named [lipgloss.Style] fields.
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	muted lipgloss.Style
}

func NewPalette(t, s, e, w, m string) *Palette {
	return &Palette{
		title: NewBold(t),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		muted: NewEm(m),
	}
}

// Outcome colours an outcome label.
func (p *Palette) Outcome(o models.Outcome) string {
	switch o {
	case models.OutcomeAdded:
		return p.ok.Render(string(o))
	case models.OutcomeFailed:
		return p.err.Render(string(o))
	case models.OutcomeSkipped:
		return p.muted.Render(string(o))
	default:
		return p.warn.Render(string(o))
	}
}

// Status colours a ledger status label.
func (p *Palette) Status(s models.Status) string {
	switch s {
	case models.StatusSuccess:
		return p.ok.Render(string(s))
	case models.StatusFailed:
		return p.err.Render(string(s))
	case models.StatusPending:
		return p.warn.Render(string(s))
	default:
		return p.muted.Render(string(s))
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

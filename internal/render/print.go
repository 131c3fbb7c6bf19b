package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	header      lipgloss.Style
	typ         lipgloss.Style
	body        lipgloss.Style
	description lipgloss.Style
	missing     lipgloss.Style
	link        lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header:      r.NewStyle().Bold(true),
		typ:         r.NewStyle().Faint(true),
		body:        r.NewStyle().PaddingLeft(2),
		description: r.NewStyle().Italic(true).Border(lipgloss.NormalBorder(), false, false, false, true).PaddingLeft(1).MarginLeft(2),
		missing:     r.NewStyle().Foreground(lipgloss.Color("1")).PaddingLeft(2),
		link:        r.NewStyle().Underline(true).PaddingLeft(2),
	}
}

// Print writes views to w, styled for w's color profile.
func Print(w io.Writer, views ...View) error {
	st := newStyles(w)
	var sb strings.Builder
	for i, v := range views {
		if i > 0 {
			sb.WriteByte('\n')
		}
		writeView(&sb, st, v)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func writeView(sb *strings.Builder, st styles, v View) {
	head := fmt.Sprintf("ID %d  %s", v.ID, v.Time.Local().Format("2006-01-02 15:04:05"))
	if v.Source != "" {
		head += "  " + v.Source
	}
	if v.Copyable {
		head += "  [copyable]"
	}
	sb.WriteString(st.header.Render(head))
	sb.WriteByte('\n')

	for _, b := range v.Blocks {
		label := b.Type
		if b.Name != "" {
			label += "  " + b.Name
		}
		sb.WriteString(st.typ.Render(label))
		sb.WriteByte('\n')

		switch {
		case b.Unavailable:
			sb.WriteString(st.missing.Render(b.Text))
		case b.Kind == BlockDescription:
			sb.WriteString(st.description.Render(b.Text))
		default:
			sb.WriteString(st.body.Render(b.Text))
		}
		sb.WriteByte('\n')
		if b.Kind == BlockBinary && b.URL != "" {
			sb.WriteString(st.link.Render(b.URL))
			sb.WriteByte('\n')
		}
	}
}

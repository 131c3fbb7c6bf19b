package render

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// blockElems start a new line.
var blockElems = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Pre: true, atom.Blockquote: true, atom.Ul: true, atom.Ol: true, atom.Table: true,
	atom.Hr: true,
}

// HTMLText returns the visible text of an HTML fragment. Block elements
// become line breaks; scripts and styles are dropped. Unparseable input is
// returned as is.
func HTMLText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	var sb strings.Builder
	walk(&sb, doc, false)

	lines := strings.Split(sb.String(), "\n")
	out := lines[:0]
	blank := true
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func walk(sb *strings.Builder, n *html.Node, pre bool) {
	switch n.Type {
	case html.TextNode:
		if pre {
			sb.WriteString(n.Data)
			return
		}
		writeCollapsed(sb, n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Head:
			return
		case atom.Pre:
			pre = true
		}
		if blockElems[n.DataAtom] {
			newline(sb)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(sb, c, pre)
	}
	if n.Type == html.ElementNode && blockElems[n.DataAtom] {
		newline(sb)
	}
}

func writeCollapsed(sb *strings.Builder, s string) {
	if s == "" {
		return
	}
	if isSpace(s[0]) {
		space(sb)
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return
	}
	sb.WriteString(strings.Join(fields, " "))
	if isSpace(s[len(s)-1]) {
		space(sb)
	}
}

func space(sb *strings.Builder) {
	s := sb.String()
	if s != "" && s[len(s)-1] != '\n' && s[len(s)-1] != ' ' {
		sb.WriteByte(' ')
	}
}

func newline(sb *strings.Builder) {
	s := sb.String()
	if s != "" && s[len(s)-1] != '\n' {
		sb.WriteByte('\n')
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

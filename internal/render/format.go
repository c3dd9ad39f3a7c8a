package render

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Formatter turns segment text into display content.
type Formatter interface {
	Format(text string) string
	// Escape renders text literally, without emphasis.
	Escape(text string) string
	// Cursor is appended to the content of the segment still being written.
	Cursor() string
}

var (
	boldPattern   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicPattern = regexp.MustCompile(`\*(.+?)\*`)
	htmlEscaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// HTMLFormatter escapes markup, converts newlines to breaks and applies
// **bold** and *italic* emphasis.
type HTMLFormatter struct{}

func (HTMLFormatter) Format(text string) string {
	out := htmlEscaper.Replace(text)
	out = strings.ReplaceAll(out, "\n", "<br>")
	out = boldPattern.ReplaceAllString(out, "<strong>$1</strong>")
	return italicPattern.ReplaceAllString(out, "<em>$1</em>")
}

func (HTMLFormatter) Escape(text string) string {
	return htmlEscaper.Replace(text)
}

func (HTMLFormatter) Cursor() string {
	return `<span class="cursor"></span>`
}

// TerminalFormatter applies the same emphasis rules with terminal styles.
// Escape bytes are neutralised so streamed text cannot inject control
// sequences.
type TerminalFormatter struct {
	Bold   lipgloss.Style
	Italic lipgloss.Style
}

// NewTerminalFormatter returns a formatter with bold and italic styles.
func NewTerminalFormatter() TerminalFormatter {
	return TerminalFormatter{
		Bold:   lipgloss.NewStyle().Bold(true),
		Italic: lipgloss.NewStyle().Italic(true),
	}
}

func (f TerminalFormatter) Format(text string) string {
	out := f.Escape(text)
	out = replaceGroup(boldPattern, out, f.Bold)
	return replaceGroup(italicPattern, out, f.Italic)
}

func (TerminalFormatter) Escape(text string) string {
	return strings.ReplaceAll(text, "\x1b", "␛")
}

func (TerminalFormatter) Cursor() string {
	return "▌"
}

func replaceGroup(re *regexp.Regexp, s string, style lipgloss.Style) string {
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return style.Render(re.FindStringSubmatch(match)[1])
	})
}

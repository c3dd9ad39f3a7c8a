package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/streamchat/internal/render"
)

var (
	userStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FDBA74"))
	botStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF7ED"))
	thinkingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")).Italic(true)
	headerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F97316"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Italic(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	blockedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true)
)

// renderTranscript draws the document as terminal text wrapped to width.
func renderTranscript(doc *render.Document, width int) string {
	if width <= 0 {
		width = 80
	}
	var blocks []string
	for _, id := range doc.Children(render.Root) {
		e, ok := doc.Element(id)
		if !ok {
			continue
		}
		switch e.Kind {
		case render.ElementUserMessage:
			blocks = append(blocks, wrap(userStyle, width, "You: "+e.Content))
		case render.ElementBotMessage:
			blocks = append(blocks, renderMessage(doc, e, width))
		case render.ElementErrorNotice:
			blocks = append(blocks, wrap(errorStyle, width, e.Content))
		case render.ElementBlockedNotice:
			blocks = append(blocks, wrap(blockedStyle, width, e.Content))
		}
	}
	return strings.Join(blocks, "\n\n")
}

func renderMessage(doc *render.Document, msg render.Element, width int) string {
	var lines []string
	for _, id := range msg.Children {
		e, ok := doc.Element(id)
		if !ok {
			continue
		}
		switch e.Kind {
		case render.ElementThinking:
			marker := "▾"
			if e.Collapsed {
				marker = "▸"
			}
			lines = append(lines, headerStyle.Render(marker+" "+e.Label))
			if !e.Collapsed {
				lines = append(lines, wrap(thinkingStyle.PaddingLeft(2), width, e.Content))
			}
		case render.ElementResponse, render.ElementCursor:
			lines = append(lines, wrap(botStyle, width, e.Content))
		case render.ElementStatus:
			lines = append(lines, wrap(statusStyle, width, e.Content))
		}
	}
	return strings.Join(lines, "\n")
}

func wrap(style lipgloss.Style, width int, text string) string {
	return style.Width(width).Render(text)
}

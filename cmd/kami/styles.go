package main

import (
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"kamishibai/internal/types"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	roleBannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("110")).
			Padding(0, 1)

	badgeGenerated = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("114")).
			Padding(0, 1)

	badgeCached = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("110")).
			Padding(0, 1)

	badgeFallback = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("180")).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

// provenanceBadge renders the provenance tag of a returned content unit.
func provenanceBadge(p types.Provenance) string {
	switch p {
	case types.ProvenanceGenerated:
		return badgeGenerated.Render("generated")
	case types.ProvenanceCached:
		return badgeCached.Render("cached")
	default:
		return badgeFallback.Render("static")
	}
}

// renderMarkdown renders answer/guide text for the terminal. Falls back to
// the raw text when the renderer cannot be built.
func renderMarkdown(text string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return text
	}
	out, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return out
}

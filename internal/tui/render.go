package tui

import (
	"fmt"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/thomaskoefod/hnreadr/internal/staleness"
	"github.com/thomaskoefod/hnreadr/pkg/models"
)

const indentWidth = 2

// renderer turns HN item HTML into terminal text. The glamour renderer is
// rebuilt only when the width changes.
type renderer struct {
	style     string
	width     int
	term      *glamour.TermRenderer
	converter *md.Converter
}

func newRenderer(style string) *renderer {
	return &renderer{
		style:     style,
		converter: md.NewConverter("news.ycombinator.com", true, nil),
	}
}

func (r *renderer) markdown(html string, width int) (string, error) {
	if width < 20 {
		width = 20
	}
	if r.term == nil || r.width != width {
		opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
		if r.style == "" {
			opts = append(opts, glamour.WithAutoStyle())
		} else {
			opts = append(opts, glamour.WithStandardStyle(r.style))
		}
		term, err := glamour.NewTermRenderer(opts...)
		if err != nil {
			return "", fmt.Errorf("creating markdown renderer: %w", err)
		}
		r.term, r.width = term, width
	}

	text, err := r.converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("converting html: %w", err)
	}
	out, err := r.term.Render(text)
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return strings.Trim(out, "\n"), nil
}

// thread renders the story header and its comments. offsets[i] is the line
// on which comment i starts, for keeping the selection in view.
func (r *renderer) thread(story *models.Story, comments []models.Comment, selected, width int, now time.Time) (string, []int) {
	var s strings.Builder

	title := story.Title
	if story.Favorited != nil {
		title = favoriteMark + title
	}
	s.WriteString(storyTitleStyle.Render(title))
	s.WriteString("\n")
	s.WriteString(helpStyle.Render(fmt.Sprintf("%d points by %s %s | %d comments",
		story.Score, story.By, staleness.Relative(story.PostedAt, now), story.Descendants)))
	s.WriteString("\n")
	if story.URL != "" {
		s.WriteString(helpStyle.Render(story.URL))
		s.WriteString("\n")
	}
	if story.Text != "" {
		if body, err := r.markdown(story.Text, width); err == nil {
			s.WriteString(body)
			s.WriteString("\n")
		}
	}
	s.WriteString("\n")

	if len(comments) == 0 {
		s.WriteString(helpStyle.Render("No comments yet."))
		return s.String(), nil
	}

	offsets := make([]int, len(comments))
	for i, c := range comments {
		offsets[i] = strings.Count(s.String(), "\n")
		indent := c.Depth * indentWidth

		header := fmt.Sprintf("%s %s", c.By, staleness.Relative(c.PostedAt, now))
		if c.Favorited != nil {
			header = favoriteMark + header
		}
		if i == selected {
			header = commentSelectedStyle.Render("▶ " + header)
		} else {
			header = commentHeaderStyle.Render("  " + header)
		}

		body, err := r.markdown(c.Text, width-indent-2)
		if err != nil {
			body = excerpt(c.Text, width)
		}

		block := lipgloss.NewStyle().PaddingLeft(indent).Render(header + "\n" + body)
		s.WriteString(block)
		s.WriteString("\n\n")
	}
	return s.String(), offsets
}

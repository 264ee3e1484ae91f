// Package render projects store contents into the order and text a user sees.
package render

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/astromechza/ama-live/pkg/ama"
)

// Sort returns a new slice ordered by reaction count, highest first, with ties broken by id in
// ascending order. The input is not modified.
func Sort(msgs []ama.Message) []ama.Message {
	out := slices.Clone(msgs)
	slices.SortFunc(out, Compare)
	return out
}

// Compare is the total order used by Sort.
func Compare(a, b ama.Message) int {
	if c := cmp.Compare(b.ReactionCount, a.ReactionCount); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// IDs lists the ids of msgs in order.
func IDs(msgs []ama.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

// Options tune Text output.
type Options struct {
	// ShowIDs appends the message id to each line, needed to react or answer from the CLI.
	ShowIDs bool
	// Width wraps question text when positive.
	Width int
	// Empty is printed when there are no messages.
	Empty string
}

var (
	answeredStyle = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	countStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	idStyle       = lipgloss.NewStyle().Faint(true)
)

// Text writes msgs as a numbered list, sorting them first.
func Text(w io.Writer, msgs []ama.Message, opts Options) error {
	sorted := Sort(msgs)
	if len(sorted) == 0 {
		empty := opts.Empty
		if empty == "" {
			empty = "No questions yet."
		}
		_, err := fmt.Fprintln(w, empty)
		return err
	}
	width := len(fmt.Sprint(len(sorted)))
	for i, m := range sorted {
		if _, err := fmt.Fprintln(w, Line(i+1, width, m, opts)); err != nil {
			return err
		}
	}
	return nil
}

// String is Text into a string.
func String(msgs []ama.Message, opts Options) string {
	var sb strings.Builder
	_ = Text(&sb, msgs, opts)
	return sb.String()
}

// Line renders a single list entry.
func Line(pos, width int, m ama.Message, opts Options) string {
	text := m.Text
	if opts.Width > 0 {
		text = lipgloss.NewStyle().Width(opts.Width).Render(text)
	}
	if m.Answered {
		text = answeredStyle.Render(text)
	}
	reactions := "reactions"
	if m.ReactionCount == 1 {
		reactions = "reaction"
	}
	line := fmt.Sprintf("%*d. %s %s", width, pos, text, countStyle.Render(fmt.Sprintf("(%s %s)", humanize.Comma(m.ReactionCount), reactions)))
	if m.Answered {
		line += " [answered]"
	}
	if opts.ShowIDs {
		line += " " + idStyle.Render(m.ID)
	}
	return line
}

// Package sheet turns a pasted running order into a production sheet and
// feeds user corrections back to the learner.
package sheet

import (
	"errors"
	"regexp"
	"strings"

	"techsheet/internal/domain"
	"techsheet/internal/features"
)

var ErrEmptyRunningOrder = errors.New("sheet: running order has no items")

var (
	listMarkerRegex    = regexp.MustCompile(`^\s*(?:\d{1,3}[.)]|[-*•])(?:\s+|$)`)
	trailingNotesRegex = regexp.MustCompile(`\s*\(([^()]*)\)\s*$`)
)

// Parse reads one item per non-blank line. A line may carry a list marker
// ("3." or "-"), a performer after "|" and notes in trailing parentheses:
//
//	4. SASB 234 Amazing Grace | Band (key of G)
func Parse(text string) ([]domain.ProgramItem, error) {
	var items []domain.ProgramItem
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		item := parseLine(line)
		if item.Title == "" {
			continue
		}
		item.Index = len(items)
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, ErrEmptyRunningOrder
	}
	return items, nil
}

func parseLine(line string) domain.ProgramItem {
	line = listMarkerRegex.ReplaceAllString(line, "")

	var item domain.ProgramItem
	if m := trailingNotesRegex.FindStringSubmatchIndex(line); m != nil {
		item.Notes = strings.TrimSpace(line[m[2]:m[3]])
		line = line[:m[0]]
	}
	if title, performer, ok := strings.Cut(line, "|"); ok {
		line = title
		item.Performer = strings.TrimSpace(performer)
	}
	item.Title = strings.TrimSpace(line)
	item.Type = features.Extract(item.Text()).ContentType
	return item
}

package sheet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"techsheet/internal/domain"
)

// HistoryRecord is one confirmed production sheet from before the learner
// existed.
type HistoryRecord struct {
	Date          time.Time     `json:"date"`
	IsThirdSunday bool          `json:"isThirdSunday"`
	Items         []HistoryItem `json:"items"`
}

type HistoryItem struct {
	Title     string                  `json:"title"`
	Performer string                  `json:"performer,omitempty"`
	Notes     string                  `json:"notes,omitempty"`
	Values    map[domain.Field]string `json:"values"`
}

func ReadHistory(r io.Reader) ([]HistoryRecord, error) {
	var records []HistoryRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	for i, rec := range records {
		for j, it := range rec.Items {
			for f := range it.Values {
				if _, ok := domain.ParseField(string(f)); !ok {
					return nil, fmt.Errorf("record %d item %d: unknown field %q", i, j, f)
				}
			}
		}
	}
	return records, nil
}

// CountItems is the number of items ImportHistory will replay.
func CountItems(records []HistoryRecord) int {
	n := 0
	for _, rec := range records {
		for _, it := range rec.Items {
			if strings.TrimSpace(it.Title) != "" {
				n++
			}
		}
	}
	return n
}

// ImportHistory replays confirmed sheets through the learner as if each item
// had been predicted and then corrected. progress may be nil.
func ImportHistory(ctx context.Context, l Learner, records []HistoryRecord, progress func(done int)) (int, error) {
	done := 0
	for _, rec := range records {
		position := 0
		for _, it := range rec.Items {
			if strings.TrimSpace(it.Title) == "" {
				continue
			}
			if err := ctx.Err(); err != nil {
				return done, err
			}
			item := domain.ProgramItem{
				Title:     strings.TrimSpace(it.Title),
				Performer: strings.TrimSpace(it.Performer),
				Notes:     strings.TrimSpace(it.Notes),
				Index:     position,
			}
			lctx := domain.Context{IsThirdSunday: rec.IsThirdSunday, Timestamp: rec.Date, Position: position}
			preds := l.Predict(ctx, item, lctx)
			l.LearnFromFeedback(ctx, item, preds, it.Values, lctx)

			position++
			done++
			if progress != nil {
				progress(done)
			}
		}
	}
	return done, nil
}

package sheet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"techsheet/internal/domain"
	"techsheet/internal/learning"
)

var ErrRowOutOfRange = errors.New("sheet: row out of range")

// Predictor is the part of the learner a sheet is built from.
type Predictor interface {
	Predict(ctx context.Context, item domain.ProgramItem, lctx domain.Context) map[domain.Field]domain.FieldPrediction
	Phase() learning.Phase
}

// Learner accepts corrections.
type Learner interface {
	Predictor
	LearnFromFeedback(ctx context.Context, item domain.ProgramItem, predictions map[domain.Field]domain.FieldPrediction, userValues map[domain.Field]string, lctx domain.Context)
}

type Sheet struct {
	Items         []domain.ProgramItem `json:"items"`
	IsThirdSunday bool                 `json:"isThirdSunday"`
	Phase         string               `json:"phase"`
	CreatedAt     time.Time            `json:"createdAt"`
}

// Build parses the running order and predicts every item in order.
func Build(ctx context.Context, p Predictor, text string, isThirdSunday bool, now time.Time) (Sheet, error) {
	items, err := Parse(text)
	if err != nil {
		return Sheet{}, err
	}
	phase := p.Phase()
	s := Sheet{IsThirdSunday: isThirdSunday, Phase: phase.String(), CreatedAt: now}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return Sheet{}, err
		}
		preds := p.Predict(ctx, item, domain.Context{IsThirdSunday: isThirdSunday, Timestamp: now, Position: item.Index})
		item.AI = &domain.AIMetadata{
			Predictions: preds,
			Phase:       phase.String(),
			Unmatched:   phase != learning.PhaseRuleBased && !learned(preds),
			PredictedAt: now,
		}
		s.Items = append(s.Items, item)
	}
	return s, nil
}

// learned reports whether any field came from stored examples.
func learned(preds map[domain.Field]domain.FieldPrediction) bool {
	for _, p := range preds {
		switch p.Source {
		case domain.SourcePatternMatching, domain.SourceHybrid, domain.SourceNeuralPrimary:
			return true
		}
	}
	return false
}

// Correct applies the user's values to one row and teaches the learner.
// Fields the user did not touch count as confirmed.
func Correct(ctx context.Context, l Learner, s *Sheet, row int, values map[domain.Field]string) error {
	if row < 0 || row >= len(s.Items) {
		return fmt.Errorf("%w: %d of %d", ErrRowOutOfRange, row+1, len(s.Items))
	}
	item := &s.Items[row]

	var preds map[domain.Field]domain.FieldPrediction
	if item.AI != nil {
		preds = item.AI.Predictions
	}
	final := domain.Values(preds)
	for f, v := range values {
		final[f] = v
	}

	l.LearnFromFeedback(ctx, *item, preds, final, domain.Context{
		IsThirdSunday: s.IsThirdSunday,
		Position:      item.Index,
	})

	updated := make(map[domain.Field]domain.FieldPrediction, len(final))
	for f, v := range final {
		p := preds[f]
		if _, changed := values[f]; changed {
			p = domain.FieldPrediction{Value: v, Confidence: 1, Source: p.Source, Explanation: "corrected"}
		}
		updated[f] = p
	}
	if item.AI == nil {
		item.AI = &domain.AIMetadata{}
	}
	item.AI.Predictions = updated
	item.AI.Unmatched = false
	return nil
}

package domain

import (
	"strings"
	"time"
)

// Field is one of the technical production attributes predicted per item.
type Field string

const (
	FieldCamera Field = "camera"
	FieldScene  Field = "scene"
	FieldMic    Field = "mic"
	FieldStream Field = "stream"
	FieldNotes  Field = "notes"
)

// TechFields lists every tracked field in a fixed order. Network output
// units and report rows follow this order.
var TechFields = []Field{FieldCamera, FieldScene, FieldMic, FieldStream, FieldNotes}

func ParseField(s string) (Field, bool) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range TechFields {
		if f == known {
			return f, true
		}
	}
	return "", false
}

type Source string

const (
	SourceRuleBased       Source = "rule-based"
	SourcePatternMatching Source = "pattern-matching"
	SourceHybrid          Source = "hybrid"
	SourceNeuralPrimary   Source = "neural-primary"
	SourceError           Source = "error"
)

type ProgramItem struct {
	Title     string      `json:"title"`
	Type      string      `json:"type"`
	Performer string      `json:"performer"`
	Notes     string      `json:"notes"`
	Index     int         `json:"index"`
	AI        *AIMetadata `json:"ai,omitempty"`
}

// Text is the string the prediction core sees for an item. Type is left
// out because it is classified from this text.
func (p ProgramItem) Text() string {
	parts := make([]string, 0, 2)
	for _, s := range []string{p.Title, p.Performer} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// AIMetadata holds what the learner said about an item, so a later
// correction can be scored against it.
type AIMetadata struct {
	Predictions map[Field]FieldPrediction `json:"predictions"`
	Phase       string                    `json:"phase"`
	Unmatched   bool                      `json:"unmatched"`
	PredictedAt time.Time                 `json:"predicted_at"`
}

type FieldPrediction struct {
	Value       string  `json:"value"`
	Confidence  float64 `json:"confidence"`
	Source      Source  `json:"source"`
	Explanation string  `json:"explanation,omitempty"`
	// Fallback is set when a learned phase had nothing to offer and the
	// rule table answered instead.
	Fallback          bool    `json:"fallback,omitempty"`
	PatternConfidence float64 `json:"pattern_confidence,omitempty"`
	NeuralConfidence  float64 `json:"neural_confidence,omitempty"`
	SimilarityScore   float64 `json:"similarity_score,omitempty"`
	MatchCount        int     `json:"match_count,omitempty"`
}

// Context describes where an item sits in a service.
type Context struct {
	IsThirdSunday bool      `json:"is_third_sunday"`
	Timestamp     time.Time `json:"timestamp"`
	Position      int       `json:"position"`
}

// Values returns the predicted value per field.
func Values(predictions map[Field]FieldPrediction) map[Field]string {
	out := make(map[Field]string, len(predictions))
	for f, p := range predictions {
		out[f] = p.Value
	}
	return out
}

// Package similarity scores how alike two running-order items are and ranks
// stored examples against a new item.
package similarity

import (
	"math"
	"sort"
	"time"

	"techsheet/internal/features"
)

const (
	textualWeight    = 0.4
	structuralWeight = 0.2
	semanticWeight   = 0.3
	contextualWeight = 0.1

	keywordBoost = 0.1

	contentTypeWeight   = 0.8
	performerTypeWeight = 0.6
	songTypeWeight      = 0.4
	keywordSetWeight    = 1.0

	contextMatch    = 1.0
	contextMismatch = 0.3

	recencyDays = 30.0

	DefaultThreshold     = 0.6
	DefaultRecencyWeight = 0.3
)

// Sample is one side of a comparison.
type Sample struct {
	Text          string
	Features      features.FeatureSet
	IsThirdSunday bool
}

func NewSample(text string, isThirdSunday bool) Sample {
	return Sample{Text: text, Features: features.Extract(text), IsThirdSunday: isThirdSunday}
}

type Breakdown struct {
	Textual    float64 `json:"textual"`
	Structural float64 `json:"structural"`
	Semantic   float64 `json:"semantic"`
	Contextual float64 `json:"contextual"`
}

type Result struct {
	Score      float64   `json:"score"`
	Breakdown  Breakdown `json:"breakdown"`
	Confidence float64   `json:"confidence"`
}

// Candidate is a stored example offered for ranking. Ref is handed back
// untouched in the match.
type Candidate[T any] struct {
	Sample    Sample
	Timestamp time.Time
	Ref       T
}

type Match[T any] struct {
	Ref    T
	Result Result
	Weight float64
}

type Engine struct {
	threshold     float64
	recencyWeight float64
	now           func() time.Time
}

type Option func(*Engine)

func WithThreshold(v float64) Option     { return func(e *Engine) { e.threshold = v } }
func WithRecencyWeight(v float64) Option { return func(e *Engine) { e.recencyWeight = v } }
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		threshold:     DefaultThreshold,
		recencyWeight: DefaultRecencyWeight,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Threshold() float64 { return e.threshold }

// Similarity combines textual, structural, semantic and contextual scores
// with fixed weights.
func (e *Engine) Similarity(a, b Sample) Result {
	bd := Breakdown{
		Textual:    textual(a.Features, b.Features),
		Structural: structural(a.Features, b.Features),
		Semantic:   semantic(a.Features, b.Features),
		Contextual: contextMismatch,
	}
	if a.IsThirdSunday == b.IsThirdSunday {
		bd.Contextual = contextMatch
	}

	score := textualWeight*bd.Textual +
		structuralWeight*bd.Structural +
		semanticWeight*bd.Semantic +
		contextualWeight*bd.Contextual

	return Result{
		Score:      clamp01(score),
		Breakdown:  bd,
		Confidence: confidence(a, b, bd),
	}
}

// CalculateWeight discounts a score by the age of the example. Old examples
// keep a floor of (1 - recencyWeight) of their score.
func (e *Engine) CalculateWeight(score float64, timestamp time.Time) float64 {
	days := 0.0
	if !timestamp.IsZero() {
		days = e.now().Sub(timestamp).Hours() / 24
		if days < 0 {
			days = 0
		}
	}
	decay := math.Exp(-days / recencyDays)
	return score * ((1 - e.recencyWeight) + e.recencyWeight*decay)
}

// FindSimilarPatterns keeps candidates scoring above the threshold and ranks
// them by recency weight. Equal weights keep corpus order.
func FindSimilarPatterns[T any](e *Engine, query Sample, corpus []Candidate[T]) []Match[T] {
	var out []Match[T]
	for _, c := range corpus {
		res := e.Similarity(query, c.Sample)
		if res.Score <= e.threshold {
			continue
		}
		out = append(out, Match[T]{
			Ref:    c.Ref,
			Result: res,
			Weight: e.CalculateWeight(res.Score, c.Timestamp),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Weight > out[j].Weight
	})
	return out
}

func textual(a, b features.FeatureSet) float64 {
	score := jaccard(a.UniqueWords, b.UniqueWords)
	score += keywordBoost * float64(overlap(a.ImportantKeywords, b.ImportantKeywords))
	return math.Min(score, 1)
}

func structural(a, b features.FeatureSet) float64 {
	lengthScore := 1.0
	if longest := max(a.WordCount, b.WordCount); longest > 0 {
		diff := math.Abs(float64(a.WordCount - b.WordCount))
		lengthScore = 1 - diff/float64(longest)
	}

	fa, fb := a.Flags(), b.Flags()
	agree := 0
	for i := range fa {
		if fa[i] == fb[i] {
			agree++
		}
	}
	return (lengthScore + float64(agree)/float64(len(fa))) / 2
}

// semantic is a weighted mean over the classifier factors that apply. When
// neither item carries a class or keyword it falls back to word overlap.
func semantic(a, b features.FeatureSet) float64 {
	var sum, weights float64
	add := func(weight float64, value float64) {
		sum += weight * value
		weights += weight
	}

	if a.ContentType != features.ContentOther || b.ContentType != features.ContentOther {
		add(contentTypeWeight, boolScore(a.ContentType == b.ContentType))
	}
	if a.PerformerType != features.Unknown || b.PerformerType != features.Unknown {
		add(performerTypeWeight, boolScore(a.PerformerType == b.PerformerType))
	}
	if a.SongType != features.Unknown || b.SongType != features.Unknown {
		add(songTypeWeight, boolScore(a.SongType == b.SongType))
	}
	if len(a.ImportantKeywords) > 0 || len(b.ImportantKeywords) > 0 {
		add(keywordSetWeight, jaccard(a.ImportantKeywords, b.ImportantKeywords))
	}

	if weights == 0 {
		return jaccard(a.UniqueWords, b.UniqueWords)
	}
	return sum / weights
}

func confidence(a, b Sample, bd Breakdown) float64 {
	c := (bd.Textual + bd.Structural + bd.Semantic + bd.Contextual) / 4
	if a.Features.ContentType == b.Features.ContentType {
		c += 0.1
	}
	if a.Features.PerformerType == b.Features.PerformerType {
		c += 0.1
	}
	la, lb := a.Features.CharCount, b.Features.CharCount
	if longest := max(la, lb); longest > 0 {
		if float64(min(la, lb))/float64(longest) < 0.5 {
			c *= 0.8
		}
	}
	return clamp01(c)
}

// jaccard of two word lists; two empty lists are identical.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	set := make(map[string]bool, len(a))
	for _, w := range a {
		set[w] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, w := range b {
		if seen[w] {
			continue
		}
		seen[w] = true
		if set[w] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

func overlap(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, w := range a {
		set[w] = true
	}
	n := 0
	for _, w := range b {
		if set[w] {
			n++
			delete(set, w)
		}
	}
	return n
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

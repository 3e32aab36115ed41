// Package stats keeps per-field prediction accuracy, value frequencies and
// a capped accuracy history, and turns similarity matches into confidence.
package stats

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"techsheet/internal/domain"
)

const (
	HistoryCap = 1000

	recentWindow = 100
	trendWindow  = 20
	trendDelta   = 0.05

	frequencyBoostCap   = 0.2
	frequencyBoostScale = 0.4
	accuracyFloor       = 0.7
	accuracySpan        = 0.3

	strengthDecay = 0.9

	DefaultMinConfidence = 0.3
)

type Trend string

const (
	TrendImproving        Trend = "improving"
	TrendDeclining        Trend = "declining"
	TrendStable           Trend = "stable"
	TrendInsufficientData Trend = "insufficient_data"
)

type FieldStatistics struct {
	TotalPredictions   int                `json:"totalPredictions"`
	CorrectPredictions int                `json:"correctPredictions"`
	Accuracy           float64            `json:"accuracy"`
	CommonValues       map[string]int     `json:"commonValues"`
	PatternStrength    map[string]float64 `json:"patternStrength"`
}

type HistoryEntry struct {
	Timestamp  time.Time    `json:"timestamp"`
	Field      domain.Field `json:"field"`
	Predicted  string       `json:"predicted"`
	Actual     string       `json:"actual"`
	Confidence float64      `json:"confidence"`
	Correct    bool         `json:"correct"`
}

type SystemPerformance struct {
	OverallAccuracy  float64 `json:"overallAccuracy"`
	TotalPredictions int     `json:"totalPredictions"`
	RecentAccuracy   float64 `json:"recentAccuracy"`
	Trend            Trend   `json:"trend"`
}

// Match is what confidence scoring needs from one similarity hit.
type Match struct {
	Score      float64
	Confidence float64
}

type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Snapshot is the persisted form of a Tracker.
type Snapshot struct {
	Fields  map[domain.Field]*FieldStatistics `json:"fieldStatistics"`
	History []HistoryEntry                    `json:"accuracyHistory"`
}

type Tracker struct {
	mu            sync.RWMutex
	fields        map[domain.Field]*FieldStatistics
	history       []HistoryEntry
	minConfidence float64
	now           func() time.Time
}

func NewTracker(minConfidence float64) *Tracker {
	t := &Tracker{minConfidence: minConfidence, now: time.Now}
	t.reset()
	return t
}

// SetClock replaces the timestamp source for history entries.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

func (t *Tracker) reset() {
	t.fields = make(map[domain.Field]*FieldStatistics, len(domain.TechFields))
	for _, f := range domain.TechFields {
		t.fields[f] = newFieldStatistics()
	}
	t.history = nil
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
}

func newFieldStatistics() *FieldStatistics {
	return &FieldStatistics{
		CommonValues:    make(map[string]int),
		PatternStrength: make(map[string]float64),
	}
}

// UpdatePredictionStats records one predicted/actual pair. Blank actual
// values count towards accuracy but never enter the frequency table.
func (t *Tracker) UpdatePredictionStats(field domain.Field, predicted, actual string, confidence float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fs, ok := t.fields[field]
	if !ok {
		return
	}
	predicted = strings.TrimSpace(predicted)
	actual = strings.TrimSpace(actual)
	correct := predicted == actual

	fs.TotalPredictions++
	if correct {
		fs.CorrectPredictions++
	}
	fs.Accuracy = float64(fs.CorrectPredictions) / float64(fs.TotalPredictions)

	if actual != "" {
		fs.CommonValues[actual]++
		fs.PatternStrength[actual] = strengthDecay*fs.PatternStrength[actual] + (1-strengthDecay)*boolScore(correct)
	}

	t.history = append(t.history, HistoryEntry{
		Timestamp:  t.now(),
		Field:      field,
		Predicted:  predicted,
		Actual:     actual,
		Confidence: confidence,
		Correct:    correct,
	})
	if over := len(t.history) - HistoryCap; over > 0 {
		t.history = append([]HistoryEntry(nil), t.history[over:]...)
	}
}

// CalculateConfidence scores a predicted value from the matches that
// produced it. No matches means no confidence.
func (t *Tracker) CalculateConfidence(field domain.Field, predicted string, matches []Match) float64 {
	if len(matches) == 0 {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var weighted, weights, plain float64
	for _, m := range matches {
		weighted += m.Score * m.Confidence
		weights += m.Confidence
		plain += m.Score
	}
	score := plain / float64(len(matches))
	if weights > 0 {
		score = weighted / weights
	}

	accuracy := 0.0
	if fs, ok := t.fields[field]; ok {
		accuracy = fs.Accuracy
		if total := sumCounts(fs.CommonValues); total > 0 && predicted != "" {
			freq := float64(fs.CommonValues[predicted]) / float64(total)
			score += math.Min(frequencyBoostCap, freq*frequencyBoostScale)
		}
	}

	score *= accuracyFloor + accuracySpan*accuracy
	if score < t.minConfidence {
		return 0
	}
	return math.Max(0, math.Min(1, score))
}

func (t *Tracker) SystemPerformance() SystemPerformance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total, correct, items int
	for _, fs := range t.fields {
		total += fs.TotalPredictions
		correct += fs.CorrectPredictions
		items = max(items, fs.TotalPredictions)
	}
	perf := SystemPerformance{
		TotalPredictions: items,
		Trend:            t.trend(),
	}
	if total > 0 {
		perf.OverallAccuracy = float64(correct) / float64(total)
	}
	recent := t.history
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}
	perf.RecentAccuracy = correctRate(recent)
	return perf
}

func (t *Tracker) AccuracyTrend() Trend {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.trend()
}

// trend compares the most recent 20 history entries with the 20 before them.
func (t *Tracker) trend() Trend {
	n := len(t.history)
	if n < 2*trendWindow {
		return TrendInsufficientData
	}
	recent := correctRate(t.history[n-trendWindow:])
	previous := correctRate(t.history[n-2*trendWindow : n-trendWindow])
	switch delta := recent - previous; {
	case delta > trendDelta:
		return TrendImproving
	case delta < -trendDelta:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// Field returns a copy of one field's statistics.
func (t *Tracker) Field(field domain.Field) (FieldStatistics, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fs, ok := t.fields[field]
	if !ok {
		return FieldStatistics{}, false
	}
	return copyField(fs), true
}

// TopValues returns the most frequent confirmed values for a field.
func (t *Tracker) TopValues(field domain.Field, limit int) []ValueCount {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fs, ok := t.fields[field]
	if !ok {
		return nil
	}
	out := make([]ValueCount, 0, len(fs.CommonValues))
	for v, c := range fs.CommonValues {
		out = append(out, ValueCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RecentHistory returns up to n of the newest history entries, oldest first.
func (t *Tracker) RecentHistory(n int) []HistoryEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	start := 0
	if n > 0 && len(t.history) > n {
		start = len(t.history) - n
	}
	return append([]HistoryEntry(nil), t.history[start:]...)
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Snapshot{
		Fields:  make(map[domain.Field]*FieldStatistics, len(t.fields)),
		History: append([]HistoryEntry(nil), t.history...),
	}
	for f, fs := range t.fields {
		c := copyField(fs)
		s.Fields[f] = &c
	}
	return s
}

// Restore replaces the tracker state. Missing fields and maps from older
// snapshots start empty; unknown fields are dropped.
func (t *Tracker) Restore(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
	for f, fs := range s.Fields {
		if _, ok := t.fields[f]; !ok || fs == nil {
			continue
		}
		c := copyField(fs)
		delete(c.CommonValues, "")
		if c.TotalPredictions > 0 {
			c.Accuracy = float64(c.CorrectPredictions) / float64(c.TotalPredictions)
		}
		t.fields[f] = &c
	}
	t.history = append([]HistoryEntry(nil), s.History...)
	if over := len(t.history) - HistoryCap; over > 0 {
		t.history = t.history[over:]
	}
}

func copyField(fs *FieldStatistics) FieldStatistics {
	c := *fs
	c.CommonValues = make(map[string]int, len(fs.CommonValues))
	for k, v := range fs.CommonValues {
		c.CommonValues[k] = v
	}
	c.PatternStrength = make(map[string]float64, len(fs.PatternStrength))
	for k, v := range fs.PatternStrength {
		c.PatternStrength[k] = v
	}
	return c
}

func correctRate(entries []HistoryEntry) float64 {
	if len(entries) == 0 {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.Correct {
			n++
		}
	}
	return float64(n) / float64(len(entries))
}

func sumCounts(m map[string]int) int {
	total := 0
	for _, c := range m {
		total += c
	}
	return total
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

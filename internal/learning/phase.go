// Package learning runs the four-phase predictor: rule table first, then
// nearest-neighbour patterns, then patterns blended with the network.
package learning

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"techsheet/internal/stats"
)

type Phase int

const (
	PhaseRuleBased Phase = iota
	PhasePatternLearning
	PhaseHybrid
	PhaseNeuralPrimary
)

var phaseLabels = [...]string{"RULE_BASED", "PATTERN_LEARNING", "HYBRID", "NEURAL_PRIMARY"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseLabels) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseLabels[p]
}

func ParsePhase(s string) (Phase, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, label := range phaseLabels {
		if s == label {
			return Phase(i), nil
		}
	}
	return PhaseRuleBased, fmt.Errorf("unknown phase %q", s)
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	parsed, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PhaseSpec is one row of the phase table. The range is over items
// evaluated, [MinExamples, MaxExamples). MinAccuracy is the overall accuracy
// that must be exceeded to enter the phase; zero means no requirement.
type PhaseSpec struct {
	Phase       Phase   `json:"phase"`
	MinExamples int     `json:"minExamples"`
	MaxExamples int     `json:"maxExamples"`
	AIWeight    float64 `json:"aiWeight"`
	RulesWeight float64 `json:"rulesWeight"`
	MinAccuracy float64 `json:"minAccuracy"`
}

type PhaseTable []PhaseSpec

var ErrInvalidPhaseTable = errors.New("learning: invalid phase table")

// Thresholds are the three transition points, all from configuration.
type Thresholds struct {
	PatternLearning          int
	NeuralLearning           int
	NeuralPrimary            int
	HybridMinAccuracy        float64
	NeuralPrimaryMinAccuracy float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		PatternLearning:          50,
		NeuralLearning:           200,
		NeuralPrimary:            300,
		HybridMinAccuracy:        0.6,
		NeuralPrimaryMinAccuracy: 0.8,
	}
}

func NewPhaseTable(t Thresholds) (PhaseTable, error) {
	table := PhaseTable{
		{Phase: PhaseRuleBased, MinExamples: 0, MaxExamples: t.PatternLearning, AIWeight: 0, RulesWeight: 1},
		{Phase: PhasePatternLearning, MinExamples: t.PatternLearning, MaxExamples: t.NeuralLearning, AIWeight: 0.3, RulesWeight: 0.7},
		{Phase: PhaseHybrid, MinExamples: t.NeuralLearning, MaxExamples: t.NeuralPrimary, AIWeight: 0.6, RulesWeight: 0.4, MinAccuracy: t.HybridMinAccuracy},
		{Phase: PhaseNeuralPrimary, MinExamples: t.NeuralPrimary, MaxExamples: math.MaxInt, AIWeight: 0.9, RulesWeight: 0.1, MinAccuracy: t.NeuralPrimaryMinAccuracy},
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// Validate checks that the rows are in phase order, start at zero and
// cover contiguous, non-overlapping ranges.
func (t PhaseTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidPhaseTable)
	}
	if t[0].MinExamples != 0 {
		return fmt.Errorf("%w: first phase starts at %d", ErrInvalidPhaseTable, t[0].MinExamples)
	}
	for i, s := range t {
		if s.Phase != Phase(i) {
			return fmt.Errorf("%w: row %d is %s", ErrInvalidPhaseTable, i, s.Phase)
		}
		if s.MinExamples >= s.MaxExamples {
			return fmt.Errorf("%w: %s range [%d, %d) is empty", ErrInvalidPhaseTable, s.Phase, s.MinExamples, s.MaxExamples)
		}
		if i > 0 && t[i-1].MaxExamples != s.MinExamples {
			return fmt.Errorf("%w: %s does not start where %s ends", ErrInvalidPhaseTable, s.Phase, t[i-1].Phase)
		}
		if s.MinAccuracy < 0 || s.MinAccuracy > 1 {
			return fmt.Errorf("%w: %s accuracy %.2f outside [0,1]", ErrInvalidPhaseTable, s.Phase, s.MinAccuracy)
		}
	}
	return nil
}

func (t PhaseTable) Spec(p Phase) (PhaseSpec, bool) {
	if p < 0 || int(p) >= len(t) {
		return PhaseSpec{}, false
	}
	return t[p], true
}

// NextPhase returns the phase the learner should be in. It never goes
// backwards and may skip ahead several phases at once.
func NextPhase(current Phase, perf stats.SystemPerformance, table PhaseTable) Phase {
	for {
		next, ok := table.Spec(current + 1)
		if !ok || !next.admits(perf) {
			return current
		}
		current = next.Phase
	}
}

func (s PhaseSpec) admits(perf stats.SystemPerformance) bool {
	if perf.TotalPredictions < s.MinExamples {
		return false
	}
	return s.MinAccuracy == 0 || perf.OverallAccuracy > s.MinAccuracy
}

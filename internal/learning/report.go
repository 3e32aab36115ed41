package learning

import (
	"time"

	"techsheet/internal/domain"
	"techsheet/internal/stats"
	"techsheet/internal/storage"
)

type Status struct {
	Phase               string  `json:"phase"`
	NextPhase           string  `json:"nextPhase,omitempty"`
	ExamplesToNextPhase int     `json:"examplesToNextPhase,omitempty"`
	AIWeight            float64 `json:"aiWeight"`
	RulesWeight         float64 `json:"rulesWeight"`

	TotalExamples    int                     `json:"totalExamples"`
	PatternsPerField map[domain.Field]int    `json:"patternsPerField"`
	Performance      stats.SystemPerformance `json:"performance"`

	NetworkInitialized bool    `json:"networkInitialized"`
	NetworkSteps       int     `json:"networkSteps"`
	NetworkLoss        float64 `json:"networkLoss,omitempty"`
	VocabularySize     int     `json:"vocabularySize"`

	RuleOnly         bool           `json:"ruleOnly"`
	Storage          storage.Status `json:"storage"`
	LastSavedAt      time.Time      `json:"lastSavedAt,omitempty"`
	HasError         bool           `json:"hasError"`
	LastErrorMessage string         `json:"lastErrorMessage,omitempty"`
	ErrorCount       int            `json:"errorCount"`
}

type FieldReport struct {
	Field              domain.Field       `json:"field"`
	Accuracy           float64            `json:"accuracy"`
	TotalPredictions   int                `json:"totalPredictions"`
	CorrectPredictions int                `json:"correctPredictions"`
	Patterns           int                `json:"patterns"`
	TopValues          []stats.ValueCount `json:"topValues"`
}

type Report struct {
	Status              Status               `json:"status"`
	Fields              []FieldReport        `json:"fields"`
	SimilarityThreshold float64              `json:"similarityThreshold"`
	PhaseTable          PhaseTable           `json:"phaseTable"`
	PhaseHistory        []PhaseChange        `json:"phaseHistory"`
	RecentHistory       []stats.HistoryEntry `json:"recentHistory"`
}

const (
	reportTopValues = 5
	reportHistory   = 20
)

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status()
}

func (c *Coordinator) status() Status {
	phase := c.effectivePhase()
	spec, _ := c.table.Spec(phase)
	perf := c.tracker.SystemPerformance()

	s := Status{
		Phase:              phase.String(),
		AIWeight:           spec.AIWeight,
		RulesWeight:        spec.RulesWeight,
		TotalExamples:      c.examples,
		PatternsPerField:   make(map[domain.Field]int, len(domain.TechFields)),
		Performance:        perf,
		NetworkInitialized: c.net.Initialized(),
		NetworkSteps:       c.net.TrainedSteps(),
		NetworkLoss:        c.net.LastLoss(),
		VocabularySize:     len(c.enc.Vocabulary()),
		RuleOnly:           c.ruleOnly,
		LastSavedAt:        c.lastSaved,
		HasError:           c.errCount > 0,
		LastErrorMessage:   c.lastErr,
		ErrorCount:         c.errCount,
	}
	for _, f := range domain.TechFields {
		s.PatternsPerField[f] = len(c.patterns[f])
	}
	if next, ok := c.table.Spec(phase + 1); ok && !c.ruleOnly {
		s.NextPhase = next.Phase.String()
		s.ExamplesToNextPhase = max(0, next.MinExamples-perf.TotalPredictions)
	}
	if c.store != nil {
		s.Storage = c.store.Status()
	}
	return s
}

// DetailedReport adds per-field accuracy, the phase table and recent
// accuracy history to the status.
func (c *Coordinator) DetailedReport() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := Report{
		Status:              c.status(),
		SimilarityThreshold: c.sim.Threshold(),
		PhaseTable:          append(PhaseTable(nil), c.table...),
		PhaseHistory:        append([]PhaseChange(nil), c.changes...),
		RecentHistory:       c.tracker.RecentHistory(reportHistory),
	}
	for _, f := range domain.TechFields {
		fs, _ := c.tracker.Field(f)
		r.Fields = append(r.Fields, FieldReport{
			Field:              f,
			Accuracy:           fs.Accuracy,
			TotalPredictions:   fs.TotalPredictions,
			CorrectPredictions: fs.CorrectPredictions,
			Patterns:           len(c.patterns[f]),
			TopValues:          c.tracker.TopValues(f, reportTopValues),
		})
	}
	return r
}

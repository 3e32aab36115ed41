package learning

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"techsheet/internal/domain"
	"techsheet/internal/features"
	"techsheet/internal/similarity"
	"techsheet/internal/stats"
)

// request carries what every field prediction of one call shares.
type request struct {
	item   domain.ProgramItem
	lctx   domain.Context
	phase  Phase
	sample similarity.Sample
	rules  map[domain.Field]string
	neural []float64 // nil when the network has nothing to say
}

// Predict returns one prediction per tech field. A failure in one field
// yields an error-tagged empty prediction for that field only.
func (c *Coordinator) Predict(ctx context.Context, item domain.ProgramItem, lctx domain.Context) map[domain.Field]domain.FieldPrediction {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	text := item.Text()
	if lctx.Position == 0 {
		lctx.Position = item.Index
	}
	req := request{
		item:   item,
		lctx:   lctx,
		phase:  c.effectivePhase(),
		sample: similarity.NewSample(text, lctx.IsThirdSunday),
		rules:  c.rules.ApplyRules(text, lctx.IsThirdSunday),
	}
	if req.phase >= PhaseHybrid {
		req.neural = c.neuralOutput(item, lctx.Position)
	}

	out := make(map[domain.Field]domain.FieldPrediction, len(domain.TechFields))
	for _, f := range domain.TechFields {
		if ctx.Err() != nil {
			out[f] = errorPrediction(ctx.Err())
			continue
		}
		p, err := c.safePredictField(f, req)
		if err != nil {
			c.logger.Warn("field prediction failed",
				zap.String("field", string(f)), zap.String("title", item.Title), zap.Error(err))
			p = errorPrediction(err)
		}
		out[f] = p
	}

	if elapsed := time.Since(start); c.cfg.MaxPredictionTime > 0 && elapsed > c.cfg.MaxPredictionTime {
		c.logger.Warn("slow prediction",
			zap.Duration("elapsed", elapsed), zap.Duration("budget", c.cfg.MaxPredictionTime),
			zap.Stringer("phase", req.phase))
	}
	c.logger.Debug("predicted item",
		zap.String("title", item.Title), zap.Stringer("phase", req.phase), zap.Duration("elapsed", time.Since(start)))
	return out
}

func errorPrediction(err error) domain.FieldPrediction {
	return domain.FieldPrediction{Value: "", Confidence: 0, Source: domain.SourceError, Explanation: err.Error()}
}

func (c *Coordinator) safePredictField(f domain.Field, req request) (p domain.FieldPrediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("predict %s: %v", f, r)
		}
	}()
	if c.fieldHook != nil {
		c.fieldHook(f)
	}
	return c.predictField(f, req), nil
}

func (c *Coordinator) predictField(f domain.Field, req request) domain.FieldPrediction {
	switch req.phase {
	case PhasePatternLearning:
		return c.patternPrediction(f, req)
	case PhaseHybrid:
		p := c.patternPrediction(f, req)
		if p.Fallback || req.neural == nil {
			if !p.Fallback {
				p.Source = domain.SourceHybrid
			}
			return p
		}
		n := req.neural[fieldIndex(f)]
		p.NeuralConfidence = n
		p.Confidence = clamp01(patternBlend*p.PatternConfidence + neuralBlend*n)
		p.Source = domain.SourceHybrid
		return p
	case PhaseNeuralPrimary:
		p := c.patternPrediction(f, req)
		if p.Fallback {
			return p
		}
		p.Source = domain.SourceNeuralPrimary
		if req.neural != nil {
			n := req.neural[fieldIndex(f)]
			p.NeuralConfidence = n
			p.Confidence = clamp01(n)
		}
		return p
	default:
		return c.rulePrediction(f, req)
	}
}

// rulePrediction is the floor every phase falls back to: the rule table at
// a fixed low confidence, with a couple of confident special cases.
func (c *Coordinator) rulePrediction(f domain.Field, req request) domain.FieldPrediction {
	fs := req.sample.Features
	p := domain.FieldPrediction{
		Value:       req.rules[f],
		Confidence:  RuleConfidence,
		Source:      domain.SourceRuleBased,
		Explanation: "rule table default",
	}
	switch {
	case f == domain.FieldMic && fs.PerformerType == features.PerformerPiano:
		p.Value = "N/A"
		p.Confidence = pianoMicConfidence
		p.Explanation = "piano or organ needs no vocal mic"
	case f == domain.FieldStream && (fs.ContentType == features.ContentPrayer || fs.ContentType == features.ContentBenediction):
		p.Value = "OFF"
		p.Confidence = quietStreamConfidence
		p.Explanation = "prayer and benediction are not streamed"
	}
	return p
}

// patternPrediction copies the value of the best similar example and scores
// it from the matches that agree with it.
func (c *Coordinator) patternPrediction(f domain.Field, req request) domain.FieldPrediction {
	bucket := c.patterns[f]
	corpus := make([]similarity.Candidate[*storedExample], len(bucket))
	for i := range bucket {
		corpus[i] = similarity.Candidate[*storedExample]{
			Sample:    bucket[i].sample,
			Timestamp: bucket[i].example.Context.Timestamp,
			Ref:       &bucket[i],
		}
	}

	matches := similarity.FindSimilarPatterns(c.sim, req.sample, corpus)
	if len(matches) == 0 {
		p := c.rulePrediction(f, req)
		p.Fallback = true
		p.Explanation = "no similar examples, " + p.Explanation
		return p
	}

	best := matches[0]
	value := best.Ref.example.UserValues[f]
	agreeing := make([]stats.Match, 0, len(matches))
	for _, m := range matches {
		if m.Ref.example.UserValues[f] == value {
			agreeing = append(agreeing, stats.Match{Score: m.Result.Score, Confidence: m.Result.Confidence})
		}
	}
	conf := c.tracker.CalculateConfidence(f, value, agreeing)
	return domain.FieldPrediction{
		Value:             value,
		Confidence:        conf,
		Source:            domain.SourcePatternMatching,
		Explanation:       fmt.Sprintf("%d of %d similar examples agree", len(agreeing), len(matches)),
		PatternConfidence: conf,
		SimilarityScore:   best.Result.Score,
		MatchCount:        len(matches),
	}
}

// neuralOutput runs the network without initializing it. A network that has
// never trained, or whose width no longer matches the encoder, contributes
// nothing.
func (c *Coordinator) neuralOutput(item domain.ProgramItem, position int) []float64 {
	act, err := c.net.Infer(c.enc.Encode(item, position))
	if err != nil {
		c.logger.Debug("network output unavailable", zap.Error(err))
		return nil
	}
	return act.Output
}

func fieldIndex(f domain.Field) int {
	for i, known := range domain.TechFields {
		if known == f {
			return i
		}
	}
	return -1
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}

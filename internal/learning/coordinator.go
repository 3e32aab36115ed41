package learning

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"techsheet/internal/domain"
	"techsheet/internal/neural"
	"techsheet/internal/similarity"
	"techsheet/internal/stats"
	"techsheet/internal/storage"
)

const (
	RuleConfidence = 0.3

	pianoMicConfidence     = 0.9
	quietStreamConfidence  = 0.8
	patternBlend           = 0.7
	neuralBlend            = 0.3
	defaultMaxPerField     = 500
	defaultBootstrapEpochs = 20
)

// Persistence is what the coordinator needs from the storage gateway.
type Persistence interface {
	Save(ctx context.Context, key string, value []byte) (bool, error)
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Status() storage.Status
}

// RuleSource supplies baseline values for the rule-based phase.
type RuleSource interface {
	ApplyRules(itemText string, isThirdSunday bool) map[domain.Field]string
}

type Config struct {
	Thresholds Thresholds

	SimilarityThreshold float64
	RecencyWeight       float64
	MinConfidence       float64
	MaxPatternsPerField int

	HiddenSize      int
	LearningRate    float64
	BootstrapEpochs int
	Seed            int64

	// MaxPredictionTime is advisory; slow predictions are logged.
	MaxPredictionTime time.Duration
}

func DefaultConfig() Config {
	return Config{
		Thresholds:          DefaultThresholds(),
		SimilarityThreshold: similarity.DefaultThreshold,
		RecencyWeight:       similarity.DefaultRecencyWeight,
		MinConfidence:       stats.DefaultMinConfidence,
		MaxPatternsPerField: defaultMaxPerField,
		HiddenSize:          neural.DefaultHiddenSize,
		LearningRate:        neural.DefaultLearningRate,
		BootstrapEpochs:     defaultBootstrapEpochs,
		MaxPredictionTime:   250 * time.Millisecond,
	}
}

type Option func(*Coordinator)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// storedExample is a training example with its comparison sample cached.
type storedExample struct {
	example domain.TrainingExample
	sample  similarity.Sample
}

// Coordinator owns every piece of learned state. All exported methods are
// safe for concurrent use; they are serialised by one mutex.
type Coordinator struct {
	mu sync.Mutex

	cfg    Config
	table  PhaseTable
	logger *zap.Logger
	now    func() time.Time

	rules   RuleSource
	store   Persistence
	sim     *similarity.Engine
	tracker *stats.Tracker
	net     *neural.Network
	enc     *neural.FeatureEncoder

	phase    Phase
	patterns map[domain.Field][]storedExample
	examples int
	changes  []PhaseChange

	ruleOnly  bool
	errCount  int
	lastErr   string
	lastSaved time.Time

	// fieldHook runs before each field prediction; tests use it to inject
	// failures.
	fieldHook func(domain.Field)
}

// PhaseChange records one transition.
type PhaseChange struct {
	From             Phase     `json:"from"`
	To               Phase     `json:"to"`
	At               time.Time `json:"at"`
	TotalPredictions int       `json:"totalPredictions"`
	Accuracy         float64   `json:"accuracy"`
}

// NewCoordinator validates the phase table and wires the learning parts.
// store may be nil, in which case nothing is persisted.
func NewCoordinator(cfg Config, ruleSource RuleSource, store Persistence, opts ...Option) (*Coordinator, error) {
	if ruleSource == nil {
		return nil, fmt.Errorf("rule source is required")
	}
	table, err := NewPhaseTable(cfg.Thresholds)
	if err != nil {
		return nil, err
	}
	if cfg.MaxPatternsPerField <= 0 {
		cfg.MaxPatternsPerField = defaultMaxPerField
	}
	if cfg.BootstrapEpochs <= 0 {
		cfg.BootstrapEpochs = defaultBootstrapEpochs
	}

	c := &Coordinator{
		cfg:    cfg,
		table:  table,
		logger: zap.NewNop(),
		now:    time.Now,
		rules:  ruleSource,
		store:  store,
		enc:    neural.NewFeatureEncoder(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.sim = similarity.NewEngine(
		similarity.WithThreshold(cfg.SimilarityThreshold),
		similarity.WithRecencyWeight(cfg.RecencyWeight),
		similarity.WithClock(c.now),
	)
	c.tracker = stats.NewTracker(cfg.MinConfidence)
	c.tracker.SetClock(c.now)
	c.net = c.newNetwork()
	c.patterns = make(map[domain.Field][]storedExample, len(domain.TechFields))
	return c, nil
}

func (c *Coordinator) newNetwork() *neural.Network {
	return neural.NewNetwork(neural.Config{
		HiddenSize:   c.cfg.HiddenSize,
		OutputSize:   len(domain.TechFields),
		LearningRate: c.cfg.LearningRate,
		Seed:         c.cfg.Seed,
	}, c.logger.Named("neural"))
}

func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectivePhase()
}

func (c *Coordinator) effectivePhase() Phase {
	if c.ruleOnly {
		return PhaseRuleBased
	}
	return c.phase
}

// RuleOnly reports whether initialization failed and learning is disabled
// for this process.
func (c *Coordinator) RuleOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ruleOnly
}

// LearnFromFeedback scores the earlier predictions against the user's
// values, stores the item as an example, trains the network once it is in
// use and re-evaluates the phase. Persistence failures are recorded in the
// status and never returned.
func (c *Coordinator) LearnFromFeedback(ctx context.Context, item domain.ProgramItem, predictions map[domain.Field]domain.FieldPrediction, userValues map[domain.Field]string, lctx domain.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ruleOnly {
		c.logger.Debug("rule-only mode, feedback ignored", zap.String("title", item.Title))
		return
	}
	if predictions == nil && item.AI != nil {
		predictions = item.AI.Predictions
	}
	if lctx.Timestamp.IsZero() {
		lctx.Timestamp = c.now()
	}
	if lctx.Position == 0 {
		lctx.Position = item.Index
	}

	values := make(map[domain.Field]string, len(domain.TechFields))
	for _, f := range domain.TechFields {
		p := predictions[f]
		c.tracker.UpdatePredictionStats(f, p.Value, userValues[f], p.Confidence)
		values[f] = strings.TrimSpace(userValues[f])
	}

	ex := domain.TrainingExample{
		ID:         fmt.Sprintf("%d_%s", c.now().UnixMilli(), uuid.NewString()[:8]),
		Item:       domain.NewItemText(item),
		UserValues: values,
		Context:    lctx,
	}
	c.addExample(ex)

	if c.phase >= PhaseHybrid {
		c.trainOn(ex)
	}
	c.advance()
	c.saveLocked(ctx)
}

func (c *Coordinator) addExample(ex domain.TrainingExample) {
	stored := storedExample{
		example: ex,
		sample:  similarity.NewSample(ex.Item.Text(), ex.Context.IsThirdSunday),
	}
	for _, f := range domain.TechFields {
		if ex.UserValues[f] == "" {
			continue
		}
		bucket := append(c.patterns[f], stored)
		if over := len(bucket) - c.cfg.MaxPatternsPerField; over > 0 {
			bucket = append([]storedExample(nil), bucket[over:]...)
		}
		c.patterns[f] = bucket
	}
	c.examples++
}

func (c *Coordinator) advance() {
	perf := c.tracker.SystemPerformance()
	next := NextPhase(c.phase, perf, c.table)
	if next == c.phase {
		return
	}
	c.logger.Info("learning phase changed",
		zap.Stringer("from", c.phase),
		zap.Stringer("to", next),
		zap.Int("total_predictions", perf.TotalPredictions),
		zap.Float64("accuracy", perf.OverallAccuracy),
	)
	c.changes = append(c.changes, PhaseChange{
		From:             c.phase,
		To:               next,
		At:               c.now(),
		TotalPredictions: perf.TotalPredictions,
		Accuracy:         perf.OverallAccuracy,
	})
	entering := c.phase < PhaseHybrid && next >= PhaseHybrid
	c.phase = next
	if entering {
		c.bootstrapNetwork()
	}
}

// uniqueExamples returns every stored example once, in insertion order per
// bucket.
func (c *Coordinator) uniqueExamples() []domain.TrainingExample {
	seen := make(map[string]bool)
	var out []domain.TrainingExample
	for _, f := range domain.TechFields {
		for _, s := range c.patterns[f] {
			if seen[s.example.ID] {
				continue
			}
			seen[s.example.ID] = true
			out = append(out, s.example)
		}
	}
	return out
}

// bootstrapNetwork builds the vocabulary from the stored examples and
// trains the network on all of them.
func (c *Coordinator) bootstrapNetwork() {
	examples := c.uniqueExamples()
	corpus := make([]string, 0, len(examples))
	for _, ex := range examples {
		corpus = append(corpus, ex.Item.Text())
	}
	c.enc.Build(corpus)
	if c.net.Initialized() && c.net.InputSize() != c.enc.Dim() {
		c.net.Reset()
	}

	samples := make([]neural.Sample, 0, len(examples))
	for _, ex := range examples {
		samples = append(samples, neural.Sample{
			Input:  c.enc.Encode(ex.Item.ProgramItem(), ex.Context.Position),
			Target: targets(ex.UserValues),
		})
	}
	loss := c.net.TrainBatch(samples, c.cfg.BootstrapEpochs)
	c.logger.Info("network bootstrapped",
		zap.Int("examples", len(samples)),
		zap.Int("vocabulary", len(c.enc.Vocabulary())),
		zap.Float64("avg_error", loss),
	)
}

func (c *Coordinator) trainOn(ex domain.TrainingExample) {
	input := c.enc.Encode(ex.Item.ProgramItem(), ex.Context.Position)
	if c.net.Initialized() && c.net.InputSize() != len(input) {
		c.logger.Warn("encoder width changed, resetting network",
			zap.Int("was", c.net.InputSize()), zap.Int("now", len(input)))
		c.net.Reset()
	}
	c.net.TrainSingle(input, targets(ex.UserValues))
}

func targets(values map[domain.Field]string) []float64 {
	ordered := make([]string, len(domain.TechFields))
	for i, f := range domain.TechFields {
		ordered[i] = values[f]
	}
	return neural.Targets(ordered)
}

// ResetLearning drops everything learned and deletes the persisted state.
func (c *Coordinator) ResetLearning(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.phase = PhaseRuleBased
	c.patterns = make(map[domain.Field][]storedExample, len(domain.TechFields))
	c.examples = 0
	c.changes = nil
	c.tracker.Reset()
	c.net = c.newNetwork()
	c.enc = neural.NewFeatureEncoder()
	c.logger.Info("learning state reset")

	if c.store == nil {
		return nil
	}
	for _, key := range persistedKeys {
		if err := c.store.Delete(ctx, key); err != nil {
			c.recordError(err)
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

func (c *Coordinator) recordError(err error) {
	c.errCount++
	c.lastErr = err.Error()
}

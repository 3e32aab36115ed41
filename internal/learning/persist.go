package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"techsheet/internal/domain"
	"techsheet/internal/neural"
	"techsheet/internal/similarity"
	"techsheet/internal/stats"
	"techsheet/internal/storage"
)

const (
	KeyPatterns   = "patterns"
	KeyStatistics = "statistics"
	KeyNetwork    = "network"
	KeyState      = "state"
)

var persistedKeys = []string{KeyPatterns, KeyStatistics, KeyNetwork, KeyState}

// savedState is everything not covered by the other three documents.
type savedState struct {
	Phase         Phase         `json:"currentPhase"`
	TotalExamples int           `json:"totalExamples"`
	PhaseHistory  []PhaseChange `json:"phaseHistory,omitempty"`
	SavedAt       time.Time     `json:"savedAt"`
}

// Initialize restores the persisted learner. Missing documents mean a fresh
// start. Any other failure leaves the coordinator in rule-only mode for the
// rest of the process and is returned for the caller to report.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	if err := c.restore(ctx); err != nil {
		c.ruleOnly = true
		c.recordError(err)
		c.logger.Error("learning state could not be restored, using rules only", zap.Error(err))
		return err
	}
	c.logger.Info("learning state restored",
		zap.Stringer("phase", c.phase),
		zap.Int("examples", c.examples),
		zap.Bool("network", c.net.Initialized()),
	)
	return nil
}

func (c *Coordinator) restore(ctx context.Context) error {
	var patterns map[domain.Field][]domain.TrainingExample
	if _, err := c.loadJSON(ctx, KeyPatterns, &patterns); err != nil {
		return err
	}
	var snap stats.Snapshot
	hasStats, err := c.loadJSON(ctx, KeyStatistics, &snap)
	if err != nil {
		return err
	}
	var netSnap neural.Snapshot
	hasNet, err := c.loadJSON(ctx, KeyNetwork, &netSnap)
	if err != nil {
		return err
	}
	var state savedState
	hasState, err := c.loadJSON(ctx, KeyState, &state)
	if err != nil {
		return err
	}

	var net *neural.Network
	if hasNet {
		net, err = c.restoreNetwork(netSnap)
		switch {
		case errors.Is(err, neural.ErrDimensionMismatch):
			c.logger.Warn("network snapshot unusable, the network will be retrained", zap.Error(err))
			net = nil
		case err != nil:
			return err
		}
	}

	c.patterns = make(map[domain.Field][]storedExample, len(domain.TechFields))
	seen := make(map[string]bool)
	for _, f := range domain.TechFields {
		for _, ex := range patterns[f] {
			if ex.UserValues[f] == "" {
				continue
			}
			c.patterns[f] = append(c.patterns[f], storedExample{
				example: ex,
				sample:  similarity.NewSample(ex.Item.Text(), ex.Context.IsThirdSunday),
			})
			seen[ex.ID] = true
		}
		if over := len(c.patterns[f]) - c.cfg.MaxPatternsPerField; over > 0 {
			c.patterns[f] = c.patterns[f][over:]
		}
	}
	c.examples = len(seen)

	if hasStats {
		c.tracker.Restore(snap)
	}
	if net != nil {
		c.net = net
		c.enc.SetVocabulary(netSnap.Vocabulary)
	}
	if hasState {
		c.phase = state.Phase
		c.changes = state.PhaseHistory
		c.examples = max(c.examples, state.TotalExamples)
	}
	// state saved by an older build may lag the statistics
	c.phase = NextPhase(c.phase, c.tracker.SystemPerformance(), c.table)
	if c.phase >= PhaseHybrid && !c.net.Initialized() {
		c.bootstrapNetwork()
	}
	return nil
}

// restoreNetwork fills fields that older snapshots lack. A snapshot for a
// different number of outputs is an error; weights that do not fit their
// recorded shape come back as neural.ErrDimensionMismatch.
func (c *Coordinator) restoreNetwork(s neural.Snapshot) (*neural.Network, error) {
	if s.OutputSize == 0 {
		s.OutputSize = len(domain.TechFields)
	}
	if s.OutputSize != len(domain.TechFields) {
		return nil, fmt.Errorf("network snapshot has %d outputs, want %d", s.OutputSize, len(domain.TechFields))
	}
	if s.HiddenSize == 0 {
		s.HiddenSize = c.cfg.HiddenSize
	}
	if s.LearningRate == 0 {
		s.LearningRate = c.cfg.LearningRate
	}
	net, err := neural.FromSnapshot(s, c.cfg.Seed, c.logger.Named("neural"))
	if err != nil {
		return nil, fmt.Errorf("restore network: %w", err)
	}
	return net, nil
}

// loadJSON reports false without error when the key does not exist.
func (c *Coordinator) loadJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.store.Load(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SaveSystemData writes full snapshots of the learner. Failures are logged
// and recorded in the status.
func (c *Coordinator) SaveSystemData(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saveLocked(ctx)
}

func (c *Coordinator) saveLocked(ctx context.Context) {
	if c.store == nil || c.ruleOnly {
		return
	}

	patterns := make(map[domain.Field][]domain.TrainingExample, len(c.patterns))
	for f, bucket := range c.patterns {
		exs := make([]domain.TrainingExample, len(bucket))
		for i, s := range bucket {
			exs[i] = s.example
		}
		patterns[f] = exs
	}
	netSnap := c.net.Snapshot()
	netSnap.Vocabulary = c.enc.Vocabulary()
	now := c.now()

	docs := []struct {
		key   string
		value any
	}{
		{KeyPatterns, patterns},
		{KeyStatistics, c.tracker.Snapshot()},
		{KeyNetwork, netSnap},
		{KeyState, savedState{
			Phase:         c.phase,
			TotalExamples: c.examples,
			PhaseHistory:  c.changes,
			SavedAt:       now,
		}},
	}

	failed := false
	for _, d := range docs {
		data, err := json.Marshal(d.value)
		if err != nil {
			failed = true
			c.recordError(fmt.Errorf("encode %s: %w", d.key, err))
			continue
		}
		primary, err := c.store.Save(ctx, d.key, data)
		if err != nil {
			failed = true
			c.recordError(err)
			c.logger.Warn("learning state not saved", zap.String("key", d.key), zap.Error(err))
			continue
		}
		if !primary {
			c.logger.Debug("learning state saved locally only", zap.String("key", d.key))
		}
	}
	if !failed {
		c.lastSaved = now
	}
}

package stats

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techsheet/internal/domain"
)

func TestUpdatePredictionStatsCorrect(t *testing.T) {
	tr := NewTracker(DefaultMinConfidence)

	tr.UpdatePredictionStats(domain.FieldCamera, "1", "2", 0.4)
	before, ok := tr.Field(domain.FieldCamera)
	require.True(t, ok)

	tr.UpdatePredictionStats(domain.FieldCamera, "2", "2", 0.8)
	after, _ := tr.Field(domain.FieldCamera)

	assert.Equal(t, before.CorrectPredictions+1, after.CorrectPredictions)
	assert.Equal(t, 2, after.TotalPredictions)
	assert.InDelta(t, 0.5, after.Accuracy, 1e-9)
	assert.Equal(t, 2, after.CommonValues["2"])
}

func TestUpdatePredictionStatsSkipsBlankValues(t *testing.T) {
	tr := NewTracker(DefaultMinConfidence)

	tr.UpdatePredictionStats(domain.FieldCamera, "", "", 0)
	tr.UpdatePredictionStats(domain.FieldCamera, "1", "   ", 0)

	fs, _ := tr.Field(domain.FieldCamera)
	assert.Equal(t, 2, fs.TotalPredictions)
	assert.Equal(t, 1, fs.CorrectPredictions, "blank predicted vs blank actual is correct")
	assert.NotContains(t, fs.CommonValues, "")
	assert.Empty(t, fs.CommonValues)
}

func TestUpdatePredictionStatsIgnoresUnknownField(t *testing.T) {
	tr := NewTracker(DefaultMinConfidence)
	tr.UpdatePredictionStats(domain.Field("lighting"), "a", "a", 1)
	assert.Empty(t, tr.RecentHistory(0))
	assert.Equal(t, 0, tr.SystemPerformance().TotalPredictions)
}

func TestCalculateConfidenceWithoutMatchesIsZero(t *testing.T) {
	tr := NewTracker(0)
	tr.UpdatePredictionStats(domain.FieldMic, "Band", "Band", 1)
	for _, f := range domain.TechFields {
		assert.Equal(t, 0.0, tr.CalculateConfidence(f, "Band", nil))
		assert.Equal(t, 0.0, tr.CalculateConfidence(f, "Band", []Match{}))
	}
}

func TestCalculateConfidence(t *testing.T) {
	tr := NewTracker(0)
	for i := 0; i < 4; i++ {
		tr.UpdatePredictionStats(domain.FieldCamera, "2", "2", 0.9)
	}
	tr.UpdatePredictionStats(domain.FieldCamera, "2", "3", 0.9)

	matches := []Match{{Score: 0.9, Confidence: 1.0}, {Score: 0.7, Confidence: 0.5}}
	got := tr.CalculateConfidence(domain.FieldCamera, "2", matches)

	weighted := (0.9*1.0 + 0.7*0.5) / 1.5
	boost := 0.2 // 4/5 * 0.4 = 0.32, capped
	damp := 0.7 + 0.3*0.8
	assert.InDelta(t, (weighted+boost)*damp, got, 1e-9)
}

func TestCalculateConfidenceIsClampedAndThresholded(t *testing.T) {
	tr := NewTracker(0)
	for i := 0; i < 10; i++ {
		tr.UpdatePredictionStats(domain.FieldScene, "Band", "Band", 1)
	}
	got := tr.CalculateConfidence(domain.FieldScene, "Band", []Match{{Score: 1, Confidence: 1}})
	assert.Equal(t, 1.0, got)

	strict := NewTracker(0.5)
	low := strict.CalculateConfidence(domain.FieldScene, "Band", []Match{{Score: 0.61, Confidence: 0.2}})
	assert.Equal(t, 0.0, low, "0.61 * 0.7 falls under the minimum")
}

func TestAccuracyTrend(t *testing.T) {
	build := func(first, second bool) *Tracker {
		tr := NewTracker(0)
		for i := 0; i < 20; i++ {
			tr.UpdatePredictionStats(domain.FieldNotes, "x", pick(first, "x", "y"), 0.5)
		}
		for i := 0; i < 20; i++ {
			tr.UpdatePredictionStats(domain.FieldNotes, "x", pick(second, "x", "y"), 0.5)
		}
		return tr
	}

	assert.Equal(t, TrendImproving, build(false, true).AccuracyTrend())
	assert.Equal(t, TrendDeclining, build(true, false).AccuracyTrend())
	assert.Equal(t, TrendStable, build(true, true).AccuracyTrend())

	short := NewTracker(0)
	for i := 0; i < 39; i++ {
		short.UpdatePredictionStats(domain.FieldNotes, "x", "x", 0.5)
	}
	assert.Equal(t, TrendInsufficientData, short.AccuracyTrend())
}

func TestSystemPerformance(t *testing.T) {
	tr := NewTracker(0)
	for i := 0; i < 3; i++ {
		for _, f := range domain.TechFields {
			actual := "v"
			if f == domain.FieldNotes {
				actual = "other"
			}
			tr.UpdatePredictionStats(f, "v", actual, 0.5)
		}
	}

	perf := tr.SystemPerformance()
	assert.Equal(t, 3, perf.TotalPredictions, "one per evaluated item")
	assert.InDelta(t, 0.8, perf.OverallAccuracy, 1e-9)
	assert.InDelta(t, 0.8, perf.RecentAccuracy, 1e-9)
	assert.Equal(t, TrendInsufficientData, perf.Trend)
}

func TestHistoryIsCapped(t *testing.T) {
	tr := NewTracker(0)
	for i := 0; i < HistoryCap+50; i++ {
		tr.UpdatePredictionStats(domain.FieldStream, "ON", "ON", 1)
	}
	assert.Len(t, tr.RecentHistory(0), HistoryCap)
	assert.Len(t, tr.RecentHistory(20), 20)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	tr := NewTracker(0)
	tr.UpdatePredictionStats(domain.FieldMic, "N/A", "N/A", 0.9)
	tr.UpdatePredictionStats(domain.FieldMic, "N/A", "Lectern", 0.9)

	data, err := json.Marshal(tr.Snapshot())
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	restored := NewTracker(0)
	restored.Restore(snap)

	fs, _ := restored.Field(domain.FieldMic)
	assert.Equal(t, 2, fs.TotalPredictions)
	assert.Equal(t, 1, fs.CommonValues["Lectern"])
	assert.Len(t, restored.RecentHistory(0), 2)
	assert.Equal(t, tr.SystemPerformance(), restored.SystemPerformance())
}

func TestRestoreOlderSnapshot(t *testing.T) {
	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(`{"fieldStatistics":{"camera":{"totalPredictions":4,"correctPredictions":3},"lighting":{"totalPredictions":1}}}`), &snap))

	tr := NewTracker(0)
	tr.Restore(snap)

	fs, _ := tr.Field(domain.FieldCamera)
	assert.InDelta(t, 0.75, fs.Accuracy, 1e-9)
	assert.NotNil(t, fs.CommonValues)
	_, ok := tr.Field(domain.Field("lighting"))
	assert.False(t, ok)
	tr.UpdatePredictionStats(domain.FieldScene, "a", "a", 1)
}

func pick(ok bool, a, b string) string {
	if ok {
		return a
	}
	return b
}

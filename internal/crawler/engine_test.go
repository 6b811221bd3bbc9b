package crawler

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/fetch"
	"github.com/JakeFAU/snowball-crawler/internal/metrics"
)

type harness struct {
	source     *snowballSource
	classifier *everyNth
	cache      *fakeCache
	checkpoint *fakeCheckpoint
	clock      *fakeClock
	deps       Dependencies
	cfg        Config
}

func newHarness(perKey, acceptEvery int) *harness {
	h := &harness{
		source:     newSnowballSource(perKey),
		classifier: &everyNth{n: acceptEvery},
		cache:      newFakeCache(),
		checkpoint: &fakeCheckpoint{},
		clock:      newFakeClock(),
		cfg: Config{
			Target:       5,
			ListLimit:    3,
			Pacing:       10 * time.Millisecond,
			MaxQueueSize: 100,
			SaveEvery:    2,
			RunID:        "run-1",
		},
	}
	h.deps = Dependencies{
		Source:     h.source,
		Classifier: h.classifier,
		Extractor:  childKeys{},
		Tagger:     depthTagger{},
		Resolver:   mapResolver{},
		Cache:      h.cache,
		Checkpoint: h.checkpoint,
		Clock:      h.clock,
	}
	return h
}

func (h *harness) run(t *testing.T, ctx context.Context, seeds ...string) (Summary, *State, error) {
	t.Helper()
	engine, err := NewEngine(h.cfg, h.deps, zap.NewNop())
	require.NoError(t, err)
	state, err := engine.Load(ctx)
	require.NoError(t, err)
	summary, runErr := engine.Run(ctx, state, seeds)
	return summary, state, runErr
}

func keptIDs(state *State) []string {
	out := make([]string, 0, len(state.Kept))
	for id := range state.Kept {
		out = append(out, string(id))
	}
	sort.Strings(out)
	return out
}

func TestEngineReachesTarget(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 3)
	summary, state, err := h.run(t, context.Background(), "A", "B")
	require.NoError(t, err)

	assert.Equal(t, OutcomeTargetReached, summary.Outcome)
	assert.Equal(t, 5, summary.Kept)
	assert.Equal(t, []string{"A.1.3", "A.2.3", "A.3", "A.3.3", "B.3"}, keptIDs(state))
	assert.Equal(t, "run-1", summary.RunID)

	// Fifteen records examined, each paced once.
	assert.Len(t, h.clock.sleeps, 15)
	assert.Equal(t, []TagCount{{Tag: "depth-2", Count: 9}, {Tag: "depth-1", Count: 6}}, summary.TopTags)

	saved := h.checkpoint.last()
	assert.Equal(t, 5, saved.KeptCount)
	assert.Equal(t, []RecordID{"A.1.3", "A.2.3", "A.3", "A.3.3", "B.3"}, saved.KeptRecordIDs)
	assert.Len(t, saved.SeenRecordIDs, 15)
	// Saves after kept 2 and 4, then the final save.
	assert.Equal(t, 3, h.checkpoint.saves)

	for id := range state.SeenRecords {
		assert.Equal(t, 1, h.source.fetchCount(id), "record %s fetched more than once", id)
	}
	assert.Equal(t, 15, h.cache.writes)
}

func TestEngineResumesWithoutReprocessing(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 3)
	h.cfg.Target = 2
	first, _, err := h.run(t, context.Background(), "A", "B")
	require.NoError(t, err)
	require.Equal(t, OutcomeTargetReached, first.Outcome)
	firstAsked := append([]RecordID(nil), h.classifier.asked...)
	require.Len(t, firstAsked, 6)
	assert.Equal(t, 6, first.FrontierRemaining)

	h.classifier = &everyNth{n: 3}
	h.deps.Classifier = h.classifier
	h.cfg.Target = 5
	second, state, err := h.run(t, context.Background(), "A", "B")
	require.NoError(t, err)

	assert.Equal(t, OutcomeTargetReached, second.Outcome)
	assert.Equal(t, []string{"A.1.3", "A.2.3", "A.3", "A.3.3", "B.3"}, keptIDs(state))
	for _, id := range firstAsked {
		assert.NotContains(t, h.classifier.asked, id)
	}
	for id := range state.SeenRecords {
		assert.Equal(t, 1, h.source.fetchCount(id))
	}
	// Seeds seen in the first run are not listed again.
	lists := map[ExpansionKey]int{}
	for _, key := range h.source.lists {
		lists[key]++
	}
	assert.Equal(t, 1, lists["A"])
	assert.Equal(t, 1, lists["B"])
}

func TestEngineAbortsOnAuthFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 3)
	h.cfg.Target = 10
	h.source.listErr["k:A.2"] = &fetch.AuthError{Status: http.StatusUnauthorized}

	engine, err := NewEngine(h.cfg, h.deps, nil)
	require.NoError(t, err)
	state, err := engine.Load(context.Background())
	require.NoError(t, err)
	summary, err := engine.Run(context.Background(), state, []string{"A", "B"})

	require.Error(t, err)
	assert.True(t, fetch.IsFatal(err))
	var authErr *fetch.AuthError
	require.ErrorAs(t, err, &authErr)

	assert.Equal(t, OutcomeAborted, summary.Outcome)
	// A.1.3 was kept after the last save; the summary reflects the committed state.
	assert.Equal(t, 3, state.KeptCount())
	assert.Equal(t, 2, summary.Kept)
	assert.Equal(t, 1, h.checkpoint.saves)
	assert.Equal(t, []RecordID{"A.3", "B.3"}, h.checkpoint.last().KeptRecordIDs)

	status := engine.Status()
	assert.Equal(t, PhaseFinished, status.Phase)
	assert.Equal(t, OutcomeAborted, status.Outcome)
}

func TestEngineFrontierExhausted(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 3)
	h.deps.Extractor = noKeys{}
	h.cfg.Target = 10

	summary, _, err := h.run(t, context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFrontierExhausted, summary.Outcome)
	assert.Equal(t, 1, summary.Kept)
	assert.Equal(t, 0, summary.FrontierRemaining)
	assert.Equal(t, 1, h.checkpoint.saves)
}

func TestEngineSkipsPerItemFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 1)
	h.deps.Extractor = noKeys{}
	h.cfg.Target = 10
	h.source.listErr["B"] = &fetch.RequestError{Status: http.StatusNotFound}
	h.source.fetchErr["A.2"] = &fetch.RetriesExhaustedError{Attempts: 9, LastStatus: http.StatusServiceUnavailable}

	summary, state, err := h.run(t, context.Background(), "A", "B")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFrontierExhausted, summary.Outcome)
	assert.Equal(t, []string{"A.1", "A.3"}, keptIDs(state))
	assert.Contains(t, state.SeenRecords, RecordID("A.2"))
	assert.Equal(t, 1, h.source.fetchCount("A.2"))
	// Three records and one failed listing, each followed by the pacing delay.
	assert.Len(t, h.clock.sleeps, 4)
}

func TestEngineUsesCacheBeforeRemote(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 1)
	h.deps.Extractor = noKeys{}
	h.cfg.Target = 10
	h.cache.records["A.1"] = Record("A.1")

	_, state, err := h.run(t, context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 0, h.source.fetchCount("A.1"))
	assert.Equal(t, 1, h.source.fetchCount("A.2"))
	assert.Equal(t, 3, state.KeptCount())
	assert.Equal(t, 2, h.cache.writes)
}

func TestEngineContinuesWhenCacheWriteFails(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 1)
	h.deps.Extractor = noKeys{}
	h.cfg.Target = 10
	h.cache.writeErr = errors.New("disk full")

	_, state, err := h.run(t, context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 3, state.KeptCount())
}

func TestEngineCountsFrontierOverflow(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 3)
	h.cfg.MaxQueueSize = 2
	h.cfg.Target = 4

	engine, err := NewEngine(h.cfg, h.deps, nil)
	require.NoError(t, err)
	state := NewState(h.cfg.MaxQueueSize)
	summary, err := engine.Run(context.Background(), state, []string{"A"})
	require.NoError(t, err)

	assert.LessOrEqual(t, state.Frontier.Len(), 2)
	assert.Positive(t, summary.FrontierDropped)
	assert.Equal(t, summary.FrontierDropped, h.checkpoint.last().FrontierDropped)
	assert.LessOrEqual(t, len(h.checkpoint.last().Frontier), 2)
}

func TestEngineCancelSavesAndReturnsContextError(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 3)
	h.cfg.Target = 50
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.onSleep = func(n int) error {
		if n == 4 {
			cancel()
		}
		return nil
	}

	summary, _, err := h.run(t, ctx, "A")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeCanceled, summary.Outcome)
	assert.Equal(t, 1, h.checkpoint.saves)
	assert.Len(t, h.checkpoint.last().SeenRecordIDs, 4)
}

func TestEngineSeeding(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 3)
	h.deps.Extractor = noKeys{}
	h.cfg.Target = 10
	h.deps.Resolver = mapResolver{errs: map[string]error{"ghost": errors.New("account not found")}}

	summary, state, err := h.run(t, context.Background(), "A", "ghost", "A")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFrontierExhausted, summary.Outcome)
	assert.True(t, state.Frontier.Seen("A"))
	assert.False(t, state.Frontier.Seen("ghost"))
	assert.Equal(t, []ExpansionKey{"A"}, h.source.lists)
}

func TestEngineSeedAuthFailureAborts(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 3)
	h.deps.Resolver = mapResolver{errs: map[string]error{"A": &fetch.AuthError{Status: http.StatusForbidden}}}

	summary, _, err := h.run(t, context.Background(), "A")
	require.Error(t, err)
	assert.True(t, fetch.IsFatal(err))
	assert.Equal(t, OutcomeAborted, summary.Outcome)
	assert.Zero(t, h.checkpoint.saves)
	assert.Empty(t, h.source.lists)
}

func TestEngineFinalSaveFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 3)
	h.deps.Extractor = noKeys{}
	h.checkpoint.saveErr = errors.New("read-only filesystem")

	_, _, err := h.run(t, context.Background(), "A")
	require.ErrorIs(t, err, ErrFinalSave)
	assert.Contains(t, err.Error(), "read-only filesystem")
}

func TestEngineCancelWithFailedSaveReportsFinalSave(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 3)
	h.cfg.Target = 50
	h.checkpoint.saveErr = errors.New("disk full")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.onSleep = func(n int) error {
		if n == 2 {
			cancel()
		}
		return nil
	}

	summary, _, err := h.run(t, ctx, "A")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, ErrFinalSave)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, OutcomeCanceled, summary.Outcome)
	assert.Zero(t, summary.Kept)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	args := m.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}

func TestEnginePublishesKeptRecords(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 1)
	h.deps.Extractor = noKeys{}
	h.cfg.Target = 10
	h.cfg.Topic = "kept-records"
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "kept-records", mock.MatchedBy(func(p map[string]any) bool {
		return p["run_id"] == "run-1" && p["target"] == 10
	})).Return("msg-1", nil).Times(3)
	h.deps.Publisher = pub

	_, _, err := h.run(t, context.Background(), "A")
	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestEnginePublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 1)
	h.deps.Extractor = noKeys{}
	h.cfg.Target = 10
	h.cfg.Topic = "kept-records"
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "kept-records", mock.Anything).Return("", errors.New("unavailable"))
	h.deps.Publisher = pub

	summary, _, err := h.run(t, context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Kept)
}

func TestEngineAlreadyAtTarget(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 1)
	h.cfg.Target = 1
	h.checkpoint.saved = &Snapshot{
		SeenRecordIDs: []RecordID{"X"},
		KeptRecordIDs: []RecordID{"X"},
		KeptCount:     1,
		Frontier:      []ExpansionKey{"k:X"},
		SeenKeys:      []ExpansionKey{"k:X"},
	}

	summary, _, err := h.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeTargetReached, summary.Outcome)
	assert.Empty(t, h.source.lists)
	assert.Equal(t, 1, summary.FrontierRemaining)
}

// Not parallel: it reads the process-wide kept gauge, and parallel tests only
// resume after every sequential test has finished.
func TestEngineRunPublishesRestoredKeptGauge(t *testing.T) {
	metrics.SetKept(0)

	h := newHarness(3, 1)
	h.cfg.Target = 1
	h.checkpoint.saved = &Snapshot{
		SeenRecordIDs: []RecordID{"X"},
		KeptRecordIDs: []RecordID{"X"},
		KeptCount:     1,
	}

	summary, _, err := h.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeTargetReached, summary.Outcome)
	assert.Equal(t, 1.0, gaugeValue(t, "crawler_kept_records"))
}

func gaugeValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			require.Len(t, family.GetMetric(), 1)
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestNewEngineValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(3, 3)
	tests := []struct {
		name   string
		mutate func(*Config, *Dependencies)
	}{
		{"target", func(c *Config, _ *Dependencies) { c.Target = 0 }},
		{"list limit", func(c *Config, _ *Dependencies) { c.ListLimit = 0 }},
		{"queue", func(c *Config, _ *Dependencies) { c.MaxQueueSize = 0 }},
		{"save interval", func(c *Config, _ *Dependencies) { c.SaveEvery = 0 }},
		{"pacing", func(c *Config, _ *Dependencies) { c.Pacing = -time.Second }},
		{"source", func(_ *Config, d *Dependencies) { d.Source = nil }},
		{"cache", func(_ *Config, d *Dependencies) { d.Cache = nil }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, deps := h.cfg, h.deps
			tt.mutate(&cfg, &deps)
			_, err := NewEngine(cfg, deps, nil)
			require.Error(t, err)
		})
	}
}

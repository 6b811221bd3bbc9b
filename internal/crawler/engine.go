package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/fetch"
	"github.com/JakeFAU/snowball-crawler/internal/frontier"
	"github.com/JakeFAU/snowball-crawler/internal/metrics"
)

// Config controls one crawl run.
type Config struct {
	Target       int
	ListLimit    int
	Pacing       time.Duration
	MaxQueueSize int
	SaveEvery    int
	// Topic receives a kept-record event when a Publisher is configured.
	Topic string
	RunID string
}

// Dependencies are the collaborators the engine drives.
type Dependencies struct {
	Source     Source
	Classifier Classifier
	Extractor  Extractor
	Tagger     Tagger
	Resolver   SeedResolver
	Cache      RecordCache
	Checkpoint CheckpointStore
	Publisher  Publisher
	Clock      Clock
}

// Engine runs the snowball traversal over a State.
type Engine struct {
	cfg    Config
	deps   Dependencies
	logger *zap.Logger

	mu     sync.RWMutex
	status Status
}

// errAbort marks a fatal failure surfaced by a collaborator.
type errAbort struct{ err error }

func (e *errAbort) Error() string { return e.err.Error() }
func (e *errAbort) Unwrap() error { return e.err }

// NewEngine validates cfg and deps and builds an Engine.
func NewEngine(cfg Config, deps Dependencies, logger *zap.Logger) (*Engine, error) {
	switch {
	case cfg.Target <= 0:
		return nil, fmt.Errorf("target must be > 0")
	case cfg.ListLimit <= 0:
		return nil, fmt.Errorf("list limit must be > 0")
	case cfg.MaxQueueSize <= 0:
		return nil, fmt.Errorf("max queue size must be > 0")
	case cfg.SaveEvery <= 0:
		return nil, fmt.Errorf("save interval must be > 0")
	case cfg.Pacing < 0:
		return nil, fmt.Errorf("pacing must be >= 0")
	}
	if deps.Source == nil || deps.Classifier == nil || deps.Extractor == nil {
		return nil, fmt.Errorf("source, classifier and extractor are required")
	}
	if deps.Resolver == nil || deps.Cache == nil || deps.Checkpoint == nil || deps.Clock == nil {
		return nil, fmt.Errorf("resolver, cache, checkpoint and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(zap.String("run_id", cfg.RunID)),
		status: Status{RunID: cfg.RunID, Phase: PhaseIdle, Target: cfg.Target},
	}, nil
}

// Status returns a copy of the live progress view. Safe for concurrent use.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Load reads the checkpoint and rebuilds the state it describes.
func (e *Engine) Load(ctx context.Context) (*State, error) {
	snap, err := e.deps.Checkpoint.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	state, err := StateFromSnapshot(snap, e.cfg.MaxQueueSize)
	if err != nil {
		return nil, fmt.Errorf("restore checkpoint: %w", err)
	}
	return state, nil
}

// Run seeds the frontier and expands it until the target is reached, the
// frontier empties, a fatal error occurs or ctx is canceled.
func (e *Engine) Run(ctx context.Context, state *State, seeds []string) (Summary, error) {
	if state == nil {
		return Summary{}, errors.New("state is required")
	}
	committed := state.Snapshot()
	lastSavedKept := state.KeptCount()
	droppedBefore := state.Frontier.Dropped()
	now := e.deps.Clock.Now()
	e.updateStatus(state, func(s *Status) {
		s.Phase = PhaseSeeding
		s.Outcome = ""
		s.StartedAt = &now
		s.LastSavedKept = lastSavedKept
	})
	metrics.SetKept(state.KeptCount())

	e.logger.Info("crawl starting",
		zap.Int("seeds", len(seeds)),
		zap.Int("frontier", state.Frontier.Len()),
		zap.Int("kept", state.KeptCount()),
		zap.Int("target", e.cfg.Target),
	)

	outcome, err := e.run(ctx, state, seeds, &committed, &lastSavedKept, &droppedBefore)

	var abort *errAbort
	switch {
	case errors.As(err, &abort):
		e.logger.Error("crawl aborted", zap.Error(abort.err))
		summary := e.finish(state, OutcomeAborted, SummaryFromSnapshot(committed, e.cfg.Target, OutcomeAborted))
		return summary, abort.err
	case err != nil && ctx.Err() != nil:
		e.logger.Warn("crawl canceled, saving checkpoint", zap.Error(err))
		if saveErr := e.save(context.WithoutCancel(ctx), state, &committed, &lastSavedKept); saveErr != nil {
			summary := e.finish(state, OutcomeCanceled, SummaryFromSnapshot(committed, e.cfg.Target, OutcomeCanceled))
			return summary, errors.Join(ctx.Err(), fmt.Errorf("%w: %w", ErrFinalSave, saveErr))
		}
		summary := e.finish(state, OutcomeCanceled, e.summary(state, OutcomeCanceled))
		return summary, ctx.Err()
	case err != nil:
		summary := e.finish(state, OutcomeAborted, SummaryFromSnapshot(committed, e.cfg.Target, OutcomeAborted))
		return summary, err
	}

	if err := e.save(ctx, state, &committed, &lastSavedKept); err != nil {
		summary := e.finish(state, outcome, SummaryFromSnapshot(committed, e.cfg.Target, outcome))
		return summary, fmt.Errorf("%w: %w", ErrFinalSave, err)
	}
	summary := e.finish(state, outcome, e.summary(state, outcome))
	e.logger.Info("crawl finished",
		zap.String("outcome", string(outcome)),
		zap.Int("kept", summary.Kept),
		zap.Int("target", summary.Target),
		zap.Int("frontier_remaining", summary.FrontierRemaining),
		zap.Int("frontier_dropped", summary.FrontierDropped),
	)
	return summary, nil
}

func (e *Engine) run(
	ctx context.Context,
	state *State,
	seeds []string,
	committed *Snapshot,
	lastSavedKept *int,
	droppedBefore *int,
) (Outcome, error) {
	if err := e.seed(ctx, state, seeds); err != nil {
		return "", err
	}
	e.updateStatus(state, func(s *Status) { s.Phase = PhaseRunning })

	for state.KeptCount() < e.cfg.Target {
		key, err := state.Frontier.Pop()
		if errors.Is(err, frontier.ErrEmpty) {
			return OutcomeFrontierExhausted, nil
		}
		if err := e.expand(ctx, state, key, committed, lastSavedKept); err != nil {
			return "", err
		}
		e.reportDropped(state, droppedBefore)
		e.updateStatus(state, nil)
	}
	return OutcomeTargetReached, nil
}

// seed resolves each token and pushes keys not seen before.
func (e *Engine) seed(ctx context.Context, state *State, seeds []string) error {
	for _, token := range seeds {
		key, err := e.deps.Resolver.Resolve(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if fetch.IsFatal(err) {
				return &errAbort{err: fmt.Errorf("resolve seed %q: %w", token, err)}
			}
			e.logger.Warn("seed resolve failed", zap.String("seed", token), zap.Error(err))
			continue
		}
		if state.Frontier.Push(key) {
			e.logger.Info("seed queued", zap.String("seed", token), zap.String("key", string(key)))
			continue
		}
		e.logger.Debug("seed skipped", zap.String("seed", token), zap.Bool("seen", state.Frontier.Seen(key)))
	}
	return nil
}

// expand lists the records related to key and processes every unseen one.
func (e *Engine) expand(ctx context.Context, state *State, key ExpansionKey, committed *Snapshot, lastSavedKept *int) error {
	ids, err := e.deps.Source.ListRecordIDs(ctx, key, e.cfg.ListLimit)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fetch.IsFatal(err) {
			return &errAbort{err: fmt.Errorf("list records for %s: %w", key, err)}
		}
		e.logger.Warn("record listing failed",
			zap.String("key", string(key)),
			zap.Int("status", fetch.StatusCode(err)),
			zap.Error(err),
		)
		return e.pace(ctx)
	}

	for _, id := range ids {
		if state.KeptCount() >= e.cfg.Target {
			return nil
		}
		if _, seen := state.SeenRecords[id]; seen {
			continue
		}
		state.SeenRecords[id] = struct{}{}

		rec, err := e.obtain(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if fetch.IsFatal(err) {
				return &errAbort{err: fmt.Errorf("fetch record %s: %w", id, err)}
			}
			metrics.ObserveRecord("failed")
			e.logger.Warn("record fetch failed",
				zap.String("record_id", string(id)),
				zap.Int("status", fetch.StatusCode(err)),
				zap.Error(err),
			)
			if err := e.pace(ctx); err != nil {
				return err
			}
			continue
		}

		e.examine(ctx, state, id, rec)

		if err := e.pace(ctx); err != nil {
			return err
		}
		if state.KeptCount()-*lastSavedKept >= e.cfg.SaveEvery {
			if err := e.save(ctx, state, committed, lastSavedKept); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Warn("checkpoint save failed", zap.Error(err))
			}
		}
	}
	return nil
}

// obtain returns the record from cache, or fetches and caches it.
func (e *Engine) obtain(ctx context.Context, id RecordID) (Record, error) {
	hit, err := e.deps.Cache.Has(ctx, id)
	if err != nil {
		e.logger.Warn("cache lookup failed", zap.String("record_id", string(id)), zap.Error(err))
	}
	if hit {
		rec, err := e.deps.Cache.Read(ctx, id)
		if err == nil {
			metrics.ObserveCacheLookup(true)
			return rec, nil
		}
		e.logger.Warn("cache read failed, refetching", zap.String("record_id", string(id)), zap.Error(err))
	}
	metrics.ObserveCacheLookup(false)

	rec, err := e.deps.Source.FetchRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.deps.Cache.Write(ctx, id, rec); err != nil {
		e.logger.Warn("cache write failed", zap.String("record_id", string(id)), zap.Error(err))
	}
	return rec, nil
}

// examine tags, classifies and expands one record.
func (e *Engine) examine(ctx context.Context, state *State, id RecordID, rec Record) {
	if e.deps.Tagger != nil {
		if tag, ok := e.deps.Tagger.Tag(rec); ok {
			state.Histogram[tag]++
		}
	}

	if e.deps.Classifier.Accepts(rec) {
		if _, kept := state.Kept[id]; !kept {
			state.Kept[id] = struct{}{}
			metrics.ObserveRecord("kept")
			metrics.SetKept(state.KeptCount())
			e.logger.Info("record kept",
				zap.String("record_id", string(id)),
				zap.Int("kept", state.KeptCount()),
				zap.Int("target", e.cfg.Target),
			)
			e.publishKept(ctx, id, state.KeptCount())
		}
	} else {
		metrics.ObserveRecord("rejected")
	}

	pushed := 0
	for _, key := range e.deps.Extractor.RelatedKeys(rec) {
		if state.Frontier.Push(key) {
			pushed++
		}
	}
	e.logger.Debug("record examined",
		zap.String("record_id", string(id)),
		zap.Int("keys_pushed", pushed),
		zap.Int("frontier", state.Frontier.Len()),
	)
}

func (e *Engine) publishKept(ctx context.Context, id RecordID, kept int) {
	if e.deps.Publisher == nil || e.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"run_id":    e.cfg.RunID,
		"record_id": string(id),
		"kept":      kept,
		"target":    e.cfg.Target,
		"timestamp": e.deps.Clock.Now().Format(time.RFC3339),
	}
	if _, err := e.deps.Publisher.Publish(ctx, e.cfg.Topic, payload); err != nil {
		e.logger.Warn("publish kept record failed", zap.String("record_id", string(id)), zap.Error(err))
	}
}

func (e *Engine) pace(ctx context.Context) error {
	if e.cfg.Pacing <= 0 {
		return ctx.Err()
	}
	if err := e.deps.Clock.Sleep(ctx, e.cfg.Pacing); err != nil {
		return fmt.Errorf("pacing: %w", err)
	}
	return nil
}

// save persists state and records it as the last committed snapshot.
func (e *Engine) save(ctx context.Context, state *State, committed *Snapshot, lastSavedKept *int) error {
	snap := state.Snapshot()
	err := e.deps.Checkpoint.Save(ctx, snap)
	metrics.ObserveCheckpointSave(err)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	*committed = snap
	*lastSavedKept = snap.KeptCount
	e.updateStatus(state, func(s *Status) { s.LastSavedKept = snap.KeptCount })
	e.logger.Info("checkpoint saved",
		zap.Int("kept", snap.KeptCount),
		zap.Int("frontier", len(snap.Frontier)),
		zap.Int("seen_records", len(snap.SeenRecordIDs)),
	)
	return nil
}

func (e *Engine) reportDropped(state *State, before *int) {
	now := state.Frontier.Dropped()
	if delta := now - *before; delta > 0 {
		metrics.AddFrontierDropped(delta)
		e.logger.Warn("frontier full, keys dropped",
			zap.Int("dropped", delta),
			zap.Int("total_dropped", now),
			zap.Int("max_queue_size", state.Frontier.Max()),
		)
		*before = now
	}
}

func (e *Engine) summary(state *State, outcome Outcome) Summary {
	return Summary{
		RunID:             e.cfg.RunID,
		Outcome:           outcome,
		Kept:              state.KeptCount(),
		Target:            e.cfg.Target,
		FrontierRemaining: state.Frontier.Len(),
		FrontierDropped:   state.Frontier.Dropped(),
		SeenRecords:       len(state.SeenRecords),
		SeenKeys:          state.Frontier.SeenCount(),
		TopTags:           TopTags(state.Histogram, topTagLimit),
	}
}

func (e *Engine) finish(state *State, outcome Outcome, summary Summary) Summary {
	summary.RunID = e.cfg.RunID
	e.updateStatus(state, func(s *Status) {
		s.Phase = PhaseFinished
		s.Outcome = outcome
	})
	return summary
}

func (e *Engine) updateStatus(state *State, mutate func(*Status)) {
	now := e.deps.Clock.Now()
	metrics.SetFrontierSize(state.Frontier.Len())
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Kept = state.KeptCount()
	e.status.Frontier = state.Frontier.Len()
	e.status.FrontierDropped = state.Frontier.Dropped()
	e.status.SeenRecords = len(state.SeenRecords)
	e.status.UpdatedAt = &now
	if mutate != nil {
		mutate(&e.status)
	}
}

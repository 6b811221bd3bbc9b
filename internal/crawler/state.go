package crawler

import (
	"fmt"

	"github.com/JakeFAU/snowball-crawler/internal/frontier"
)

// State is the in-memory crawl aggregate. It is owned by one Engine run at a time.
type State struct {
	SeenRecords map[RecordID]struct{}
	Frontier    *frontier.Frontier[ExpansionKey]
	Kept        map[RecordID]struct{}
	Histogram   map[string]int
}

// NewState returns an empty state whose frontier holds at most maxQueueSize keys.
func NewState(maxQueueSize int) *State {
	return &State{
		SeenRecords: make(map[RecordID]struct{}),
		Frontier:    frontier.New[ExpansionKey](maxQueueSize),
		Kept:        make(map[RecordID]struct{}),
		Histogram:   make(map[string]int),
	}
}

// StateFromSnapshot rebuilds state from a persisted snapshot.
func StateFromSnapshot(s Snapshot, maxQueueSize int) (*State, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	state := NewState(maxQueueSize)
	for _, id := range s.SeenRecordIDs {
		state.SeenRecords[id] = struct{}{}
	}
	for _, id := range s.KeptRecordIDs {
		state.Kept[id] = struct{}{}
	}
	if len(state.Kept) != s.KeptCount {
		return nil, fmt.Errorf("%w: duplicate kept record ids", ErrCorruptCheckpoint)
	}
	for tag, count := range s.Histogram {
		state.Histogram[tag] = count
	}
	state.Frontier.Restore(maxQueueSize, s.Frontier, s.SeenKeys, s.FrontierDropped)
	return state, nil
}

// KeptCount returns the number of accepted records.
func (s *State) KeptCount() int {
	return len(s.Kept)
}

// Snapshot captures the state in its persisted form.
func (s *State) Snapshot() Snapshot {
	seen := make([]RecordID, 0, len(s.SeenRecords))
	for id := range s.SeenRecords {
		seen = append(seen, id)
	}
	kept := make([]RecordID, 0, len(s.Kept))
	for id := range s.Kept {
		kept = append(kept, id)
	}
	snap := Snapshot{
		SeenRecordIDs:   seen,
		SeenKeys:        s.Frontier.SeenKeys(),
		Frontier:        s.Frontier.Pending(),
		KeptRecordIDs:   kept,
		KeptCount:       len(kept),
		Histogram:       s.Histogram,
		FrontierDropped: s.Frontier.Dropped(),
	}
	return snap.Normalize()
}

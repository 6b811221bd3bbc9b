package crawler

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ExpansionKey identifies a traversal node whose related records can be listed.
type ExpansionKey string

// RecordID identifies a single fetchable record.
type RecordID string

// Record is an opaque payload.
type Record []byte

var (
	// ErrCorruptCheckpoint is returned when persisted state cannot be trusted.
	ErrCorruptCheckpoint = errors.New("corrupt checkpoint")
	// ErrRecordNotFound is returned by a RecordCache read for an absent id.
	ErrRecordNotFound = errors.New("record not found")
	// ErrFinalSave marks a crawl whose last checkpoint write failed, so progress
	// since the previous save is lost.
	ErrFinalSave = errors.New("final checkpoint save failed")
)

// Snapshot is the persisted form of State. Sets are kept sorted and the
// frontier in FIFO order so encoding is deterministic.
type Snapshot struct {
	SeenRecordIDs   []RecordID     `json:"seen_record_ids"`
	SeenKeys        []ExpansionKey `json:"seen_keys"`
	Frontier        []ExpansionKey `json:"frontier"`
	KeptRecordIDs   []RecordID     `json:"kept_record_ids"`
	KeptCount       int            `json:"kept_count"`
	Histogram       map[string]int `json:"histogram"`
	FrontierDropped int            `json:"frontier_dropped"`
}

// Normalize returns a copy with non-nil collections and sorted sets.
func (s Snapshot) Normalize() Snapshot {
	out := Snapshot{
		SeenRecordIDs:   sortedIDs(s.SeenRecordIDs),
		SeenKeys:        sortedKeys(s.SeenKeys),
		Frontier:        append(make([]ExpansionKey, 0, len(s.Frontier)), s.Frontier...),
		KeptRecordIDs:   sortedIDs(s.KeptRecordIDs),
		KeptCount:       s.KeptCount,
		Histogram:       make(map[string]int, len(s.Histogram)),
		FrontierDropped: s.FrontierDropped,
	}
	for tag, count := range s.Histogram {
		out.Histogram[tag] = count
	}
	return out
}

// Validate checks internal consistency.
func (s Snapshot) Validate() error {
	if s.KeptCount != len(s.KeptRecordIDs) {
		return fmt.Errorf("%w: kept_count %d does not match %d kept_record_ids",
			ErrCorruptCheckpoint, s.KeptCount, len(s.KeptRecordIDs))
	}
	if s.KeptCount < 0 || s.FrontierDropped < 0 {
		return fmt.Errorf("%w: negative counter", ErrCorruptCheckpoint)
	}
	return nil
}

func sortedIDs(in []RecordID) []RecordID {
	out := append(make([]RecordID, 0, len(in)), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedKeys(in []ExpansionKey) []ExpansionKey {
	out := append(make([]ExpansionKey, 0, len(in)), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Outcome is the terminal state of a run.
type Outcome string

// Run outcomes.
const (
	OutcomeTargetReached     Outcome = "TARGET_REACHED"
	OutcomeFrontierExhausted Outcome = "FRONTIER_EXHAUSTED"
	OutcomeAborted           Outcome = "ABORTED"
	OutcomeCanceled          Outcome = "CANCELED"
)

// Phase is the engine's position in its state machine.
type Phase string

// Engine phases.
const (
	PhaseIdle     Phase = "IDLE"
	PhaseSeeding  Phase = "SEEDING"
	PhaseRunning  Phase = "RUNNING"
	PhaseFinished Phase = "FINISHED"
)

// TagCount is one histogram entry.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Summary reports the result of a run.
type Summary struct {
	RunID             string     `json:"run_id,omitempty"`
	Outcome           Outcome    `json:"outcome"`
	Kept              int        `json:"kept"`
	Target            int        `json:"target"`
	FrontierRemaining int        `json:"frontier_remaining"`
	FrontierDropped   int        `json:"frontier_dropped"`
	SeenRecords       int        `json:"seen_records"`
	SeenKeys          int        `json:"seen_keys"`
	TopTags           []TagCount `json:"top_tags"`
}

// Status is a point-in-time view of a running engine.
type Status struct {
	RunID           string     `json:"run_id,omitempty"`
	Phase           Phase      `json:"phase"`
	Outcome         Outcome    `json:"outcome,omitempty"`
	Kept            int        `json:"kept"`
	Target          int        `json:"target"`
	Frontier        int        `json:"frontier"`
	FrontierDropped int        `json:"frontier_dropped"`
	SeenRecords     int        `json:"seen_records"`
	LastSavedKept   int        `json:"last_saved_kept"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// TopTags returns the n most frequent tags, ties broken by tag name.
func TopTags(histogram map[string]int, n int) []TagCount {
	out := make([]TagCount, 0, len(histogram))
	for tag, count := range histogram {
		out = append(out, TagCount{Tag: tag, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// SummaryFromSnapshot builds a summary of persisted state.
func SummaryFromSnapshot(s Snapshot, target int, outcome Outcome) Summary {
	return Summary{
		Outcome:           outcome,
		Kept:              s.KeptCount,
		Target:            target,
		FrontierRemaining: len(s.Frontier),
		FrontierDropped:   s.FrontierDropped,
		SeenRecords:       len(s.SeenRecordIDs),
		SeenKeys:          len(s.SeenKeys),
		TopTags:           TopTags(s.Histogram, topTagLimit),
	}
}

const topTagLimit = 10

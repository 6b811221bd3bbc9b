package crawler

import (
	"context"
	"time"
)

// Source lists and retrieves records from the remote API.
type Source interface {
	ListRecordIDs(ctx context.Context, key ExpansionKey, limit int) ([]RecordID, error)
	FetchRecord(ctx context.Context, id RecordID) (Record, error)
}

// Classifier decides whether a record satisfies the acceptance criteria.
type Classifier interface {
	Accepts(rec Record) bool
}

// Extractor derives further traversal keys from a record.
type Extractor interface {
	RelatedKeys(rec Record) []ExpansionKey
}

// Tagger labels a record for the diagnostic histogram.
type Tagger interface {
	Tag(rec Record) (string, bool)
}

// SeedResolver maps a human seed token to an expansion key.
type SeedResolver interface {
	Resolve(ctx context.Context, seed string) (ExpansionKey, error)
}

// RecordCache persists fetched payloads keyed by record id.
type RecordCache interface {
	Has(ctx context.Context, id RecordID) (bool, error)
	Read(ctx context.Context, id RecordID) (Record, error)
	Write(ctx context.Context, id RecordID, rec Record) error
}

// CheckpointStore loads and atomically saves crawl state.
type CheckpointStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
}

// Publisher pushes kept-record events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time and suspends for pacing.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

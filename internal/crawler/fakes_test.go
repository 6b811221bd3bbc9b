package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// snowballSource lists three child ids per key and serves each id as its own payload.
type snowballSource struct {
	mu         sync.Mutex
	perKey     int
	listErr    map[ExpansionKey]error
	fetchErr   map[RecordID]error
	lists      []ExpansionKey
	fetches    map[RecordID]int
	fixedLists map[ExpansionKey][]RecordID
}

func newSnowballSource(perKey int) *snowballSource {
	return &snowballSource{
		perKey:   perKey,
		listErr:  map[ExpansionKey]error{},
		fetchErr: map[RecordID]error{},
		fetches:  map[RecordID]int{},
	}
}

func (s *snowballSource) ListRecordIDs(_ context.Context, key ExpansionKey, limit int) ([]RecordID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists = append(s.lists, key)
	if err := s.listErr[key]; err != nil {
		return nil, err
	}
	if ids, ok := s.fixedLists[key]; ok {
		return ids, nil
	}
	n := s.perKey
	if limit < n {
		n = limit
	}
	ids := make([]RecordID, 0, n)
	for i := 1; i <= n; i++ {
		ids = append(ids, RecordID(fmt.Sprintf("%s.%d", strings.TrimPrefix(string(key), "k:"), i)))
	}
	return ids, nil
}

func (s *snowballSource) FetchRecord(_ context.Context, id RecordID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[id]++
	if err := s.fetchErr[id]; err != nil {
		return nil, err
	}
	return Record(id), nil
}

func (s *snowballSource) fetchCount(id RecordID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[id]
}

// everyNth accepts every n-th record it is asked about.
type everyNth struct {
	n     int
	calls int
	asked []RecordID
}

func (c *everyNth) Accepts(rec Record) bool {
	c.calls++
	c.asked = append(c.asked, RecordID(rec))
	return c.calls%c.n == 0
}

// childKeys expands each record into a single key named after it.
type childKeys struct{}

func (childKeys) RelatedKeys(rec Record) []ExpansionKey {
	return []ExpansionKey{ExpansionKey("k:" + string(rec))}
}

type noKeys struct{}

func (noKeys) RelatedKeys(Record) []ExpansionKey { return nil }

// depthTagger tags records by the number of dots in their id.
type depthTagger struct{}

func (depthTagger) Tag(rec Record) (string, bool) {
	return fmt.Sprintf("depth-%d", strings.Count(string(rec), ".")), true
}

type mapResolver struct {
	errs map[string]error
}

func (r mapResolver) Resolve(_ context.Context, seed string) (ExpansionKey, error) {
	if err := r.errs[seed]; err != nil {
		return "", err
	}
	return ExpansionKey(seed), nil
}

type fakeCache struct {
	mu       sync.Mutex
	records  map[RecordID]Record
	writeErr error
	writes   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{records: map[RecordID]Record{}}
}

func (c *fakeCache) Has(_ context.Context, id RecordID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.records[id]
	return ok, nil
}

func (c *fakeCache) Read(_ context.Context, id RecordID) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

func (c *fakeCache) Write(_ context.Context, id RecordID, rec Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if c.writeErr != nil {
		return c.writeErr
	}
	c.records[id] = append(Record(nil), rec...)
	return nil
}

type fakeCheckpoint struct {
	mu      sync.Mutex
	saved   *Snapshot
	saves   int
	saveErr error
}

func (c *fakeCheckpoint) Load(context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saved == nil {
		return Snapshot{}, nil
	}
	return c.saved.Normalize(), nil
}

func (c *fakeCheckpoint) Save(_ context.Context, snap Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveErr != nil {
		return c.saveErr
	}
	copied := snap.Normalize()
	c.saved = &copied
	c.saves++
	return nil
}

func (c *fakeCheckpoint) last() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saved == nil {
		return Snapshot{}
	}
	return c.saved.Normalize()
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	// onSleep runs before each sleep returns; a non-nil result is returned.
	onSleep func(n int) error
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	n := len(c.sleeps)
	hook := c.onSleep
	c.mu.Unlock()
	if hook != nil {
		if err := hook(n); err != nil {
			return err
		}
	}
	return ctx.Err()
}

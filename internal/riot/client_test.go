package riot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/cache/memory"
	"github.com/JakeFAU/snowball-crawler/internal/checkpoint"
	"github.com/JakeFAU/snowball-crawler/internal/checkpoint/file"
	"github.com/JakeFAU/snowball-crawler/internal/crawler"
	"github.com/JakeFAU/snowball-crawler/internal/fetch"
	"github.com/JakeFAU/snowball-crawler/internal/hash/sha256"
)

type recordingSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return nil
}

func (r *recordingSleeper) Now() time.Time { return time.Unix(0, 0).UTC() }

// fakeRiot serves a tiny match graph. The first match-id listing is rate limited.
type fakeRiot struct {
	mu          sync.Mutex
	rateLimited bool
	status      int
	matchCalls  map[string]int
	tokens      []string
}

func (f *fakeRiot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, r.Header.Get(TokenHeader))
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}

	write := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	switch r.URL.Path {
	case "/riot/account/v1/accounts/by-riot-id/Lewking/EUNE":
		write(Account{PUUID: "p1", GameName: "Lewking", TagLine: "EUNE"})
	case "/tft/match/v1/matches/by-puuid/p1/ids":
		if !f.rateLimited {
			f.rateLimited = true
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if r.URL.Query().Get("count") != "50" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		write([]string{"EUN1_1", "EUN1_2"})
	case "/tft/match/v1/matches/by-puuid/p2/ids":
		write([]string{})
	case "/tft/match/v1/matches/by-puuid/p3/ids":
		write([]string{"EUN1_1"})
	case "/tft/match/v1/matches/EUN1_1":
		f.matchCalls["EUN1_1"]++
		_, _ = w.Write(matchJSON(release163, "1160", "p1", "p2"))
	case "/tft/match/v1/matches/EUN1_2":
		f.matchCalls["EUN1_2"]++
		_, _ = w.Write(matchJSON(release163, "1090", "p3"))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":{"message":"Data not found","status_code":404}}`))
	}
}

func newFakeRiot() *fakeRiot {
	return &fakeRiot{matchCalls: map[string]int{}}
}

func newRiotClient(t *testing.T, handler http.Handler, sleeper fetch.Sleeper) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(fetch.NewClient(fetch.Options{
		BaseURL:   srv.URL,
		Header:    Header("RGAPI-test"),
		Transport: fetch.NewCollyTransport("snowball-test", 5*time.Second),
		Sleeper:   sleeper,
	}))
}

func TestResolve(t *testing.T) {
	t.Parallel()

	client := newRiotClient(t, newFakeRiot(), &recordingSleeper{})
	ctx := context.Background()

	key, err := client.Resolve(ctx, "Lewking#EUNE")
	require.NoError(t, err)
	assert.Equal(t, crawler.ExpansionKey("p1"), key)

	key, err = client.Resolve(ctx, "  raw-puuid  ")
	require.NoError(t, err)
	assert.Equal(t, crawler.ExpansionKey("raw-puuid"), key)

	_, err = client.Resolve(ctx, "#EUNE")
	require.Error(t, err)
	_, err = client.Resolve(ctx, "")
	require.Error(t, err)

	_, err = client.Resolve(ctx, "Nobody#EUNE")
	var reqErr *fetch.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.Status)
	assert.Contains(t, reqErr.Body, "Data not found")
}

func TestAuthFailureIsFatal(t *testing.T) {
	t.Parallel()

	api := newFakeRiot()
	api.status = http.StatusForbidden
	client := newRiotClient(t, api, &recordingSleeper{})

	_, err := client.ListRecordIDs(context.Background(), "p1", 20)
	require.Error(t, err)
	assert.True(t, fetch.IsFatal(err))
}

func TestCrawlAgainstFakeAPI(t *testing.T) {
	t.Parallel()

	api := newFakeRiot()
	sleeper := &recordingSleeper{}
	client := newRiotClient(t, api, sleeper)
	filter := NewMatchFilter("16.3", []int{1150, 1160})
	store, err := file.New(filepath.Join(t.TempDir(), "state.json"), checkpoint.NewCodec(sha256.New(), true))
	require.NoError(t, err)

	engine, err := crawler.NewEngine(crawler.Config{
		Target:       5,
		ListLimit:    50,
		MaxQueueSize: 100,
		SaveEvery:    1,
	}, crawler.Dependencies{
		Source:     client,
		Classifier: filter,
		Extractor:  filter,
		Tagger:     filter,
		Resolver:   client,
		Cache:      memory.New(),
		Checkpoint: store,
		Clock:      &recordingSleeper{},
	}, zap.NewNop())
	require.NoError(t, err)

	state, err := engine.Load(context.Background())
	require.NoError(t, err)
	summary, err := engine.Run(context.Background(), state, []string{"Lewking#EUNE"})
	require.NoError(t, err)

	assert.Equal(t, crawler.OutcomeFrontierExhausted, summary.Outcome)
	assert.Equal(t, 1, summary.Kept)
	assert.Contains(t, state.Kept, crawler.RecordID("EUN1_1"))
	assert.ElementsMatch(t, []crawler.TagCount{{Tag: "1160", Count: 1}, {Tag: "1090", Count: 1}}, summary.TopTags)
	assert.Equal(t, 1, api.matchCalls["EUN1_1"])
	assert.Equal(t, 1, api.matchCalls["EUN1_2"])

	// The rate limited listing slept once for the server hint plus jitter.
	require.Len(t, sleeper.sleeps, 1)
	assert.GreaterOrEqual(t, sleeper.sleeps[0], 2*time.Second)
	assert.Less(t, sleeper.sleeps[0], 3500*time.Millisecond)

	for _, token := range api.tokens {
		assert.Equal(t, "RGAPI-test", token)
	}

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []crawler.RecordID{"EUN1_1"}, saved.KeptRecordIDs)
	assert.ElementsMatch(t, []crawler.ExpansionKey{"p1", "p2", "p3"}, saved.SeenKeys)
}

// Package riot binds the crawl engine to the Riot Games TFT match API:
// players (PUUIDs) are expansion keys and matches are records.
package riot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
	"github.com/JakeFAU/snowball-crawler/internal/fetch"
)

// Route labels used for metrics and request budgets.
const (
	RouteAccount  = "account"
	RouteMatchIDs = "match_ids"
	RouteMatch    = "match"
)

// TokenHeader carries the API key on every request.
const TokenHeader = "X-Riot-Token"

// Getter is the fetch client surface used by Client.
type Getter interface {
	Get(ctx context.Context, endpoint fetch.Endpoint) ([]byte, error)
	GetJSON(ctx context.Context, endpoint fetch.Endpoint, out any) error
}

// Account is the subset of the account-v1 response the crawler needs.
type Account struct {
	PUUID    string `json:"puuid"`
	GameName string `json:"gameName"`
	TagLine  string `json:"tagLine"`
}

// Client calls the Riot endpoints through a retrying fetch client.
type Client struct {
	http Getter
}

// NewClient wraps a fetch client.
func NewClient(getter Getter) *Client {
	return &Client{http: getter}
}

// Header returns the auth header set for apiKey.
func Header(apiKey string) http.Header {
	h := http.Header{}
	h.Set(TokenHeader, apiKey)
	return h
}

// AccountByRiotID looks up an account by "GameName#TagLine".
func (c *Client) AccountByRiotID(ctx context.Context, riotID string) (Account, error) {
	game, tag, ok := strings.Cut(riotID, "#")
	game, tag = strings.TrimSpace(game), strings.TrimSpace(tag)
	if !ok || game == "" || tag == "" {
		return Account{}, fmt.Errorf("riot id %q must look like GameName#TagLine", riotID)
	}
	var acc Account
	err := c.http.GetJSON(ctx, fetch.Endpoint{
		Route: RouteAccount,
		Path:  "/riot/account/v1/accounts/by-riot-id/" + url.PathEscape(game) + "/" + url.PathEscape(tag),
	}, &acc)
	if err != nil {
		return Account{}, fmt.Errorf("account lookup %q: %w", riotID, err)
	}
	return acc, nil
}

// MatchIDsByPUUID lists up to count recent match ids for a player.
func (c *Client) MatchIDsByPUUID(ctx context.Context, puuid string, count int) ([]string, error) {
	var ids []string
	err := c.http.GetJSON(ctx, fetch.Endpoint{
		Route: RouteMatchIDs,
		Path:  "/tft/match/v1/matches/by-puuid/" + url.PathEscape(puuid) + "/ids",
		Query: url.Values{"count": {strconv.Itoa(count)}},
	}, &ids)
	if err != nil {
		return nil, fmt.Errorf("match ids for %s: %w", puuid, err)
	}
	return ids, nil
}

// Match returns the raw match document.
func (c *Client) Match(ctx context.Context, matchID string) ([]byte, error) {
	body, err := c.http.Get(ctx, fetch.Endpoint{
		Route: RouteMatch,
		Path:  "/tft/match/v1/matches/" + url.PathEscape(matchID),
	})
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", matchID, err)
	}
	return body, nil
}

// ListRecordIDs implements crawler.Source.
func (c *Client) ListRecordIDs(ctx context.Context, key crawler.ExpansionKey, limit int) ([]crawler.RecordID, error) {
	ids, err := c.MatchIDsByPUUID(ctx, string(key), limit)
	if err != nil {
		return nil, err
	}
	out := make([]crawler.RecordID, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, crawler.RecordID(id))
		}
	}
	return out, nil
}

// FetchRecord implements crawler.Source.
func (c *Client) FetchRecord(ctx context.Context, id crawler.RecordID) (crawler.Record, error) {
	return c.Match(ctx, string(id))
}

// Resolve implements crawler.SeedResolver. "Name#Tag" tokens are looked up;
// anything else is taken to be a PUUID already.
func (c *Client) Resolve(ctx context.Context, seed string) (crawler.ExpansionKey, error) {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return "", fmt.Errorf("empty seed")
	}
	if !strings.Contains(seed, "#") {
		return crawler.ExpansionKey(seed), nil
	}
	acc, err := c.AccountByRiotID(ctx, seed)
	if err != nil {
		return "", err
	}
	if acc.PUUID == "" {
		return "", fmt.Errorf("account %q has no puuid", seed)
	}
	return crawler.ExpansionKey(acc.PUUID), nil
}

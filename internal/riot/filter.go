package riot

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
)

var releasePattern = regexp.MustCompile(`<Releases/(\d+\.\d+)>`)

type matchDoc struct {
	Info struct {
		GameVersion  string `json:"game_version"`
		QueueID      *int   `json:"queue_id"`
		Participants []struct {
			PUUID string `json:"puuid"`
		} `json:"participants"`
	} `json:"info"`
}

func parseMatch(rec crawler.Record) (matchDoc, bool) {
	var doc matchDoc
	if err := json.Unmarshal(rec, &doc); err != nil {
		return matchDoc{}, false
	}
	return doc, true
}

// MatchFilter accepts matches from one patch and a set of queues. It also
// tags matches by queue id and extracts participant PUUIDs.
type MatchFilter struct {
	patch  string
	queues map[int]struct{}
}

// NewMatchFilter builds a filter. An empty patch or queue list matches everything.
func NewMatchFilter(patch string, queueIDs []int) *MatchFilter {
	queues := make(map[int]struct{}, len(queueIDs))
	for _, id := range queueIDs {
		queues[id] = struct{}{}
	}
	return &MatchFilter{patch: strings.TrimSpace(patch), queues: queues}
}

// Accepts implements crawler.Classifier.
func (f *MatchFilter) Accepts(rec crawler.Record) bool {
	doc, ok := parseMatch(rec)
	if !ok {
		return false
	}
	return f.patchMatches(doc.Info.GameVersion) && f.queueMatches(doc.Info.QueueID)
}

func (f *MatchFilter) patchMatches(gameVersion string) bool {
	if f.patch == "" {
		return true
	}
	if m := releasePattern.FindStringSubmatch(gameVersion); m != nil {
		return m[1] == f.patch
	}
	return strings.Contains(gameVersion, f.patch)
}

func (f *MatchFilter) queueMatches(queueID *int) bool {
	if len(f.queues) == 0 {
		return true
	}
	if queueID == nil {
		return false
	}
	_, ok := f.queues[*queueID]
	return ok
}

// Tag implements crawler.Tagger with the match queue id.
func (f *MatchFilter) Tag(rec crawler.Record) (string, bool) {
	doc, ok := parseMatch(rec)
	if !ok || doc.Info.QueueID == nil {
		return "", false
	}
	return strconv.Itoa(*doc.Info.QueueID), true
}

// RelatedKeys implements crawler.Extractor with the participants' PUUIDs.
func (f *MatchFilter) RelatedKeys(rec crawler.Record) []crawler.ExpansionKey {
	doc, ok := parseMatch(rec)
	if !ok {
		return nil
	}
	keys := make([]crawler.ExpansionKey, 0, len(doc.Info.Participants))
	for _, p := range doc.Info.Participants {
		if p.PUUID != "" {
			keys = append(keys, crawler.ExpansionKey(p.PUUID))
		}
	}
	return keys
}

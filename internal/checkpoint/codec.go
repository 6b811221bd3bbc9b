// Package checkpoint encodes crawl snapshots into a versioned, checksummed
// document. Backends in the subpackages decide where the document lives.
package checkpoint

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
)

// Version is the document format written by Encode.
const Version = 1

// Hasher computes the checksum stored next to the state.
type Hasher interface {
	Hash(data []byte) (string, error)
}

type envelope struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	State    json.RawMessage `json:"state"`
}

// Codec converts snapshots to and from checkpoint documents.
type Codec struct {
	hasher Hasher
	indent bool
}

// NewCodec builds a Codec. Indented output is meant for files people may read.
func NewCodec(hasher Hasher, indent bool) *Codec {
	return &Codec{hasher: hasher, indent: indent}
}

// Encode renders snap and returns the document together with its state checksum.
// Equal snapshots always produce identical bytes.
func (c *Codec) Encode(snap crawler.Snapshot) ([]byte, string, error) {
	norm := snap.Normalize()
	if err := norm.Validate(); err != nil {
		return nil, "", fmt.Errorf("encode checkpoint: %w", err)
	}
	state, err := json.Marshal(norm)
	if err != nil {
		return nil, "", fmt.Errorf("marshal state: %w", err)
	}
	sum, err := c.hasher.Hash(state)
	if err != nil {
		return nil, "", fmt.Errorf("hash state: %w", err)
	}
	env := envelope{Version: Version, Checksum: sum, State: state}

	var doc []byte
	if c.indent {
		doc, err = json.MarshalIndent(env, "", "  ")
	} else {
		doc, err = json.Marshal(env)
	}
	if err != nil {
		return nil, "", fmt.Errorf("marshal checkpoint: %w", err)
	}
	return append(doc, '\n'), sum, nil
}

// Decode parses and verifies a document. Any inconsistency is reported as
// crawler.ErrCorruptCheckpoint.
func (c *Codec) Decode(doc []byte) (crawler.Snapshot, error) {
	var env envelope
	if err := json.Unmarshal(doc, &env); err != nil {
		return crawler.Snapshot{}, fmt.Errorf("%w: %v", crawler.ErrCorruptCheckpoint, err)
	}
	if env.Version != Version {
		return crawler.Snapshot{}, fmt.Errorf("%w: unsupported version %d", crawler.ErrCorruptCheckpoint, env.Version)
	}
	if len(env.State) == 0 {
		return crawler.Snapshot{}, fmt.Errorf("%w: missing state", crawler.ErrCorruptCheckpoint)
	}

	var snap crawler.Snapshot
	if err := json.Unmarshal(env.State, &snap); err != nil {
		return crawler.Snapshot{}, fmt.Errorf("%w: %v", crawler.ErrCorruptCheckpoint, err)
	}
	// The state may have been re-indented, so hash its canonical encoding.
	canonical, err := json.Marshal(snap.Normalize())
	if err != nil {
		return crawler.Snapshot{}, fmt.Errorf("marshal state: %w", err)
	}
	sum, err := c.hasher.Hash(canonical)
	if err != nil {
		return crawler.Snapshot{}, fmt.Errorf("hash state: %w", err)
	}
	if sum != env.Checksum {
		return crawler.Snapshot{}, fmt.Errorf("%w: checksum mismatch", crawler.ErrCorruptCheckpoint)
	}
	if err := snap.Validate(); err != nil {
		return crawler.Snapshot{}, err
	}
	return snap.Normalize(), nil
}

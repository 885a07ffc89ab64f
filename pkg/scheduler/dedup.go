package scheduler

import (
	"crypto/sha256"
	"encoding/hex"
)

// Item is one extracted entry of a feed: its field values and the hash of its
// resolved identity.
type Item struct {
	Feed   string
	Fields map[string]any
	Hash   string
}

// identityHash is the short content hash persisted in dedup records. The
// width is enough at this scale; collisions only cost a skipped item.
func identityHash(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:8])
}

// scanNew returns the items preceding the dedup boundary. The document is
// assumed newest-first: the first item whose hash appears in the prior record
// is the boundary, it and everything after it were already delivered. With no
// boundary the whole feed is new.
func scanNew(items []Item, prior []string) []Item {
	seen := make(map[string]bool, len(prior))
	for _, h := range prior {
		seen[h] = true
	}
	for i, item := range items {
		if seen[item.Hash] {
			return items[:i]
		}
	}
	return items
}

// recordHashes lists the hashes of a new-item batch in document order; this
// replaces the feed's dedup record wholesale
func recordHashes(items []Item) []string {
	hashes := make([]string, len(items))
	for i, item := range items {
		hashes[i] = item.Hash
	}
	return hashes
}

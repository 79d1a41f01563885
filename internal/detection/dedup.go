package detection

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/target/soc-core/internal/core"
)

const dedupLockStripeCount = 256

// dedupLockStripes coordinates concurrent evaluators across a single
// process; cross-process coordination is left to the distributed cache's
// own atomic SetIfNotExists.
var dedupLockStripes [dedupLockStripeCount]sync.Mutex

func dedupStripeIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(dedupLockStripeCount))
}

// DedupCache enforces alert-once-per-fingerprint-per-window, backed by a
// distributed cache with a local LRU assist so repeated hits on the same
// fingerprint within one process don't all round-trip to the backend.
type DedupCache struct {
	local  *ttlCache
	remote core.CacheRepository
}

// NewDedupCache builds a DedupCache. remote may be nil, in which case
// dedup is local-process-only (acceptable for a single detection worker,
// insufficient once multiple workers evaluate rules concurrently).
func NewDedupCache(remote core.CacheRepository) *DedupCache {
	return &DedupCache{
		local:  newTTLCache(8192, time.Now),
		remote: remote,
	}
}

func dedupKey(ruleID, fingerprint string) string {
	return "detection:dedup:rule:" + ruleID + ":fp:" + strings.ToLower(strings.TrimSpace(fingerprint))
}

// Seen records the fingerprint as fired and reports whether it had already
// fired within the window (ttl). A false result means the caller should
// create a new alert; true means it should extend the existing one instead.
func (d *DedupCache) Seen(ctx context.Context, ruleID, fingerprint string, ttl time.Duration) (bool, error) {
	if fingerprint == "" {
		return false, errors.New("detection: fingerprint is required")
	}
	key := dedupKey(ruleID, fingerprint)

	mu := &dedupLockStripes[dedupStripeIndex(key)]
	mu.Lock()
	defer mu.Unlock()

	if d.local.Exists(key) {
		return true, nil
	}

	if d.remote == nil {
		d.local.Set(key, []byte("1"), ttl)
		return false, nil
	}

	wasSet, err := d.remote.SetIfNotExists(ctx, key, []byte("1"), ttl)
	if err != nil {
		return false, err
	}
	d.local.Set(key, []byte("1"), ttl)
	return !wasSet, nil
}

// Peek reports whether the fingerprint has already fired, without marking
// it as seen. Used to decide whether to touch an existing alert.
func (d *DedupCache) Peek(ctx context.Context, ruleID, fingerprint string) (bool, error) {
	key := dedupKey(ruleID, fingerprint)
	if d.local.Exists(key) {
		return true, nil
	}
	if d.remote == nil {
		return false, nil
	}
	return d.remote.Exists(ctx, key)
}

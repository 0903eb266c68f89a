// Package shard narrows the Polling Loop's claim query across a fleet of
// workers via rendezvous hashing, reducing row-lock contention at scale.
// It is an optimization, never a correctness mechanism: SKIP LOCKED plus
// the Task Store's picked_by lease check on every mutation remain the
// only thing that guarantees exactly-one-worker-per-row. A stale or empty view of the
// fleet just makes this worker bid for fewer (or more) buckets for one
// refresh cycle.
package shard

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// Router assigns the ShardCount-sized due-task keyspace to the currently
// known worker set via rendezvous hashing.
type Router struct {
	shardCount int

	mu      sync.RWMutex
	workers []string
	rv      *rendezvous.Rendezvous
}

// New builds a Router with shardCount buckets. shardCount <= 1 makes
// every Predicate call a no-op ("" — no narrowing), which is the default
// single-worker deployment shape.
func New(shardCount int) *Router {
	if shardCount < 1 {
		shardCount = 1
	}
	return &Router{shardCount: shardCount}
}

func hash(s string) uint64 { return xxhash.Sum64String(s) }

// SetWorkers replaces the known worker set. Call this on a slower cadence
// than the polling loop itself (30s by default).
func (r *Router) SetWorkers(workers []string) {
	sorted := append([]string(nil), workers...)
	sort.Strings(sorted)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = sorted
	if len(sorted) == 0 {
		r.rv = nil
		return
	}
	r.rv = rendezvous.New(sorted, hash)
}

// ShardCount reports the configured bucket count.
func (r *Router) ShardCount() int { return r.shardCount }

// Predicate returns a SQL boolean expression (safe to splice into a WHERE
// clause — every value in it is a router-computed integer, never
// user input) that narrows ClaimDue's candidate rows to the buckets
// currently assigned to workerID. An empty string means "no narrowing."
func (r *Router) Predicate(workerID string) string {
	if r.shardCount <= 1 {
		return ""
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.rv == nil {
		// No known fleet yet; claim nothing rather than double-claim
		// everything until the first refresh populates the view.
		return "false"
	}

	var owned []string
	for bucket := 0; bucket < r.shardCount; bucket++ {
		if r.rv.Lookup(bucketKey(bucket)) == workerID {
			owned = append(owned, strconv.Itoa(bucket))
		}
	}
	if len(owned) == 0 {
		return "false"
	}
	return fmt.Sprintf("MOD(ABS(hashtext(task_instance)), %d) IN (%s)", r.shardCount, strings.Join(owned, ","))
}

func bucketKey(bucket int) string { return "bucket-" + strconv.Itoa(bucket) }

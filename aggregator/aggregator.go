package aggregator

import (
	"sync"
	"sync/atomic"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/angu-team/ethernity-detector-mev/mevtypes"
)

// Config holds the tunables from spec §4.2, all with the documented defaults.
type Config struct {
	MinVictims          int
	MinAge              time.Duration
	TTL                 time.Duration
	MaxMembersPerBucket int
	ContaminationWindow time.Duration
}

// DefaultConfig matches the defaults named in the specification.
func DefaultConfig(blockTime time.Duration) Config {
	return Config{
		MinVictims:          1,
		MinAge:              100 * time.Millisecond,
		TTL:                 time.Duration(1.5 * float64(blockTime)),
		MaxMembersPerBucket: 64,
		ContaminationWindow: 10 * time.Second,
	}
}

const shardCount = 64

type shard struct {
	mu      sync.Mutex
	buckets map[ethcommon.Hash]*Bucket
}

// senderSighting tracks a sender address observed recently in a group,
// used by mark_contaminated's trivial-signature heuristic: a sender that
// repeats a matched pre/post swap within the TTL window.
type senderSighting struct {
	at      time.Time
	txCount int
}

// Aggregator maintains the concurrent group_key -> Bucket mapping described
// in spec §4.2. ingest may be called from any number of producers; tick is
// expected to be driven by a single supervisor loop.
type Aggregator struct {
	cfg    Config
	ttl    atomic.Int64
	shards [shardCount]*shard

	sendersMu sync.Mutex
	senders   map[ethcommon.Hash]map[ethcommon.Address]*senderSighting

	counters counters
}

// Counters is a point-in-time copy of the outcome tallies the Aggregator
// surfaces to an observability interface.
type Counters struct {
	ContaminatedGroups uint64
	Evicted            uint64
	Emitted            uint64
}

type counters struct {
	contaminated atomic.Uint64
	evicted      atomic.Uint64
	emitted      atomic.Uint64
}

func (c *counters) incContaminated() { c.contaminated.Add(1) }
func (c *counters) incEvicted()      { c.evicted.Add(1) }
func (c *counters) incEmitted()      { c.emitted.Add(1) }

func (c *counters) snapshot() Counters {
	return Counters{
		ContaminatedGroups: c.contaminated.Load(),
		Evicted:            c.evicted.Load(),
		Emitted:            c.emitted.Load(),
	}
}

// New builds an empty Aggregator.
func New(cfg Config) *Aggregator {
	a := &Aggregator{cfg: cfg, senders: map[ethcommon.Hash]map[ethcommon.Address]*senderSighting{}}
	a.ttl.Store(int64(cfg.TTL))
	for i := range a.shards {
		a.shards[i] = &shard{buckets: map[ethcommon.Hash]*Bucket{}}
	}
	return a
}

// SetTTL retunes the TTL applied to newly created buckets, driven by the
// Supervisor's per-state effects table. Buckets already open keep the TTL
// they were created with.
func (a *Aggregator) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		a.ttl.Store(int64(ttl))
	}
}

func (a *Aggregator) shardFor(key ethcommon.Hash) *shard {
	return a.shards[key[0]%shardCount]
}

// Ready is a bucket that has crossed an emission threshold, returned by
// Ingest or Tick for the caller to forward into snapshot/evaluation.
type Ready struct {
	Bucket *Bucket
}

// Ingest appends tx to the bucket at its group key, creating the bucket if
// absent, and returns a Ready value when the bucket newly qualifies for
// promotion to a snapshot request.
func (a *Aggregator) Ingest(tx *mevtypes.TaggedTx, now time.Time) *Ready {
	// Unknown-tagged transactions carry no targets and can never be priced.
	if len(tx.Targets) == 0 {
		return nil
	}

	sh := a.shardFor(tx.GroupKey)
	sh.mu.Lock()
	b, ok := sh.buckets[tx.GroupKey]
	if !ok {
		b = &Bucket{
			GroupKey:  tx.GroupKey,
			Tokens:    tx.SortedTokenPath(),
			Targets:   tx.SortedTargets(),
			CreatedAt: now,
			TTL:       time.Duration(a.ttl.Load()),
		}
		sh.buckets[tx.GroupKey] = b
	}
	b.append(tx, a.cfg.MaxMembersPerBucket)
	wasContaminated := b.ContaminationFlag
	a.evaluateContamination(b, tx, now)
	eligible := b.eligibleForEmission(now, a.cfg.MinVictims, a.cfg.MinAge)
	sh.mu.Unlock()

	if b.ContaminationFlag && !wasContaminated {
		a.counters.incContaminated()
	}
	if eligible && !b.ContaminationFlag {
		return &Ready{Bucket: b}
	}
	return nil
}

// evaluateContamination applies the minimum-viable contamination contract
// from spec §9 Open Question 2: reject buckets containing a sender that
// repeats a matched pre/post swap signature within the TTL window.
func (a *Aggregator) evaluateContamination(b *Bucket, tx *mevtypes.TaggedTx, now time.Time) {
	if !tx.HasTag(mevtypes.TagSwapV2) && !tx.HasTag(mevtypes.TagSwapV3) {
		return
	}
	a.sendersMu.Lock()
	defer a.sendersMu.Unlock()

	perGroup, ok := a.senders[b.GroupKey]
	if !ok {
		perGroup = map[ethcommon.Address]*senderSighting{}
		a.senders[b.GroupKey] = perGroup
	}
	sighting, seen := perGroup[tx.From]
	if !seen || now.Sub(sighting.at) > a.cfg.ContaminationWindow {
		perGroup[tx.From] = &senderSighting{at: now, txCount: 1}
		return
	}
	sighting.at = now
	sighting.txCount++
	if sighting.txCount >= 2 {
		b.ContaminationFlag = true
		b.ContaminationNotes = append(b.ContaminationNotes, "sender "+tx.From.Hex()+" repeated swap signature within contamination window")
	}
}

// MarkContaminated applies an externally-observed contamination reason
// (e.g. from AttackDetector-style heuristics layered above the Aggregator).
func (a *Aggregator) MarkContaminated(groupKey ethcommon.Hash, reason string) {
	sh := a.shardFor(groupKey)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if b, ok := sh.buckets[groupKey]; ok {
		if !b.ContaminationFlag {
			a.counters.incContaminated()
		}
		b.ContaminationFlag = true
		b.ContaminationNotes = append(b.ContaminationNotes, reason)
	}
}

// Tick evicts expired buckets without emitting them and returns every other
// bucket that is currently ripe for emission. It iterates an epoch snapshot of keys per
// shard, so it never holds more than one shard's lock at a time.
func (a *Aggregator) Tick(now time.Time) (ready []Ready, evicted int) {
	var removed []ethcommon.Hash
	for _, sh := range a.shards {
		sh.mu.Lock()
		keys := make([]ethcommon.Hash, 0, len(sh.buckets))
		for k := range sh.buckets {
			keys = append(keys, k)
		}
		for _, k := range keys {
			b := sh.buckets[k]
			switch {
			case b.expired(now):
				// aged out: evicted without emission, ripe or not
				delete(sh.buckets, k)
				removed = append(removed, k)
				evicted++
			case b.eligibleForEmission(now, a.cfg.MinVictims, a.cfg.MinAge) && !b.ContaminationFlag:
				// sender sightings are kept: the contamination window outlives
				// a quickly emitted bucket.
				ready = append(ready, Ready{Bucket: b})
				delete(sh.buckets, k)
			}
		}
		sh.mu.Unlock()
	}
	if len(removed) > 0 {
		a.sendersMu.Lock()
		for _, k := range removed {
			delete(a.senders, k)
		}
		a.sendersMu.Unlock()
	}
	if evicted > 0 {
		for i := 0; i < evicted; i++ {
			a.counters.incEvicted()
		}
	}
	for range ready {
		a.counters.incEmitted()
	}
	return ready, evicted
}

// Len returns the current number of live buckets across all shards, used by
// the Supervisor's bucket_soft_cap burst trigger.
func (a *Aggregator) Len() int {
	n := 0
	for _, sh := range a.shards {
		sh.mu.Lock()
		n += len(sh.buckets)
		sh.mu.Unlock()
	}
	return n
}

// CountersSnapshot returns the aggregator's recovered-outcome counters.
func (a *Aggregator) CountersSnapshot() Counters {
	return a.counters.snapshot()
}

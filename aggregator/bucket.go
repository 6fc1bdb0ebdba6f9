// Package aggregator groups tagged transactions that contend for the same
// liquidity surface into time-bounded buckets, and evicts them on TTL
// expiry or promotes them once they are ripe for evaluation.
package aggregator

import (
	"sort"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/angu-team/ethernity-detector-mev/mevtypes"
)

// Bucket is the mutable, per-group_key accumulation of tagged transactions.
// Access is always mediated by the owning shard's lock.
type Bucket struct {
	GroupKey           ethcommon.Hash
	Tokens             []ethcommon.Address
	Targets            []ethcommon.Address
	Members            []*mevtypes.TaggedTx
	Overflow           []*mevtypes.TaggedTx
	CreatedAt          time.Time
	TTL                time.Duration
	ContaminationFlag  bool
	ContaminationNotes []string
}

// append inserts tx keeping FIFO order by ObservedAt; ties keep insertion
// order, matching the spec's "FIFO by observed_at within bucket" invariant.
func (b *Bucket) append(tx *mevtypes.TaggedTx, maxMembers int) {
	if len(b.Members) >= maxMembers {
		b.Overflow = append(b.Overflow, tx)
		return
	}
	b.Members = append(b.Members, tx)
	sort.SliceStable(b.Members, func(i, j int) bool {
		return b.Members[i].ObservedAt.Before(b.Members[j].ObservedAt)
	})
}

func (b *Bucket) expired(now time.Time) bool {
	return now.After(b.CreatedAt.Add(b.TTL))
}

func (b *Bucket) eligibleForEmission(now time.Time, minVictims int, minAge time.Duration) bool {
	if b.ContaminationFlag {
		return false
	}
	sizeOK := len(b.Members) >= minVictims
	ageOK := now.Sub(b.CreatedAt) >= minAge
	return sizeOK || ageOK
}

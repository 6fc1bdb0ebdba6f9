// Package mevtypes holds the data model shared by every stage of the
// detector pipeline: mempool ingestion, tagging, aggregation, snapshotting
// and impact evaluation.
package mevtypes

import (
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Tag is the closed set of semantic labels NatureTagger can attach to a
// transaction. New variants must be added here, never inferred elsewhere.
type Tag string

const (
	TagSwapV2    Tag = "swap_v2"
	TagSwapV3    Tag = "swap_v3"
	TagMulticall Tag = "multicall"
	TagProxyCall Tag = "proxy_call"
	TagTransfer  Tag = "transfer"
	TagApprove   Tag = "approve"
	TagUnknown   Tag = "unknown"
)

// PendingTx is a transaction observed in the mempool, before any
// classification has taken place.
type PendingTx struct {
	Hash          ethcommon.Hash
	From          ethcommon.Address
	To            ethcommon.Address
	Input         []byte
	Value         *big.Int
	Gas           uint64
	GasPrice      *big.Int
	GasTipCap     *big.Int // max priority fee per gas, nil for legacy tx
	ObservedAt    time.Time
}

// TaggedTx embeds PendingTx with the output of NatureTagger.
type TaggedTx struct {
	PendingTx

	Tags       map[Tag]struct{}
	TokenPath  []ethcommon.Address
	Targets    map[ethcommon.Address]struct{}
	GroupKey   ethcommon.Hash

	// AmountIn / AmountOutMin are populated when the calldata carries them
	// (V2/V3 swaps); they remain nil when the tagger could not decode them.
	AmountIn     *big.Int
	AmountOutMin *big.Int
}

// HasTag reports whether t carries the given tag.
func (t *TaggedTx) HasTag(tag Tag) bool {
	_, ok := t.Tags[tag]
	return ok
}

// SortedTokenPath returns a defensive, lexicographically sorted copy of the
// token path, used as the canonical input to the group-key hash.
func (t *TaggedTx) SortedTokenPath() []ethcommon.Address {
	return sortAddresses(t.TokenPath)
}

// SortedTargets returns a defensive, lexicographically sorted copy of the
// target set, used as the canonical input to the group-key hash.
func (t *TaggedTx) SortedTargets() []ethcommon.Address {
	out := make([]ethcommon.Address, 0, len(t.Targets))
	for a := range t.Targets {
		out = append(out, a)
	}
	return sortAddresses(out)
}

func sortAddresses(in []ethcommon.Address) []ethcommon.Address {
	out := make([]ethcommon.Address, len(in))
	copy(out, in)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && bytesLess(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func bytesLess(a, b ethcommon.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// PoolKind is the closed set of pool archetypes StateProvider can fingerprint.
type PoolKind int

const (
	PoolUnknown PoolKind = iota
	PoolV2
	PoolV3
)

func (k PoolKind) String() string {
	switch k {
	case PoolV2:
		return "V2"
	case PoolV3:
		return "V3"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable record of a pool's pricing-relevant state at a
// specific (block_number, block_hash).
type Snapshot struct {
	Pool        ethcommon.Address
	BlockNumber uint64
	BlockHash   ethcommon.Hash
	Kind        PoolKind

	// V2 fields
	Reserve0 *big.Int
	Reserve1 *big.Int
	Token0   ethcommon.Address
	Token1   ethcommon.Address

	// V3 fields
	SqrtPriceX96 *big.Int
	Tick         int32
	Liquidity    *big.Int

	FeeBps uint32
}

// VictimMetrics is the per-victim output of ImpactEvaluator.
type VictimMetrics struct {
	TxHash             ethcommon.Hash
	Side               string // "buy" | "sell"
	AmountIn           *big.Int
	ExpectedAmountOut  *big.Int
	AmountOutMin       *big.Int
	SlippageTolerated  float64 // percent, clamped to [0, 100]
	DroppedReason      string  // not set by the evaluator: dropped victims are left out and their reason is only logged
}

// BlockRef identifies a canonical block by number and hash.
type BlockRef struct {
	Number uint64
	Hash   ethcommon.Hash
}

// GroupFlags are the boolean outcome annotations carried on a GroupReady event.
type GroupFlags struct {
	DeadlineMissed   bool
	Contaminated     bool
	ConvexityHigh    bool
	StateUnavailable bool
	BelowThreshold   bool
}

// GroupReady is the externally emitted candidate MEV opportunity.
type GroupReady struct {
	GroupID                string
	Tokens                 []ethcommon.Address
	Targets                []ethcommon.Address
	Block                  BlockRef
	Victims                []VictimMetrics
	OpportunityScore       float64
	ExpectedProfitBackrun  *big.Int
	Flags                  GroupFlags
}

package nature

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// GroupKey computes hash(tokenPath ‖ targets), hashing both slices in the
// order given; callers pass the sorted forms (SortedTokenPath, SortedTargets)
// so that the key the Aggregator uses to decide whether two transactions
// contend for the same liquidity surface is order-independent.
func GroupKey(tokenPath []ethcommon.Address, targets []ethcommon.Address) ethcommon.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, a := range tokenPath {
		h.Write(a.Bytes())
	}
	for _, a := range targets {
		h.Write(a.Bytes())
	}
	var out ethcommon.Hash
	h.Sum(out[:0])
	return out
}

// Package nature implements the NatureTagger: a pure, side-effect-free
// classifier that infers a pending transaction's semantic nature from its
// calldata and destination bytecode, without executing or simulating it.
package nature

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/angu-team/ethernity-detector-mev/mevtypes"
)

const maxMulticallDepth = 4

// decoded is the intermediate result of analyzing one piece of calldata
// (either the top-level call or one multicall sub-call).
type decoded struct {
	tags         []mevtypes.Tag
	path         []ethcommon.Address
	amountIn     *big.Int
	amountOutMin *big.Int
	matched      bool
}

// Tag classifies a pending transaction. It never errors: malformed or
// unrecognized calldata downgrades to mevtypes.TagUnknown.
func Tag(tx mevtypes.PendingTx, code []byte) *mevtypes.TaggedTx {
	out := &mevtypes.TaggedTx{
		PendingTx: tx,
		Tags:      map[mevtypes.Tag]struct{}{},
		Targets:   map[ethcommon.Address]struct{}{},
	}

	s, ok := readSelector(tx.Input)
	if !ok {
		out.Tags[mevtypes.TagUnknown] = struct{}{}
		out.GroupKey = GroupKey(nil, nil)
		return out
	}

	if d, matched := decodeTop(s, tx.To, tx.Input[4:], 0); matched {
		for _, t := range d.tags {
			out.Tags[t] = struct{}{}
		}
		out.TokenPath = dedupAdjacent(d.path)
		out.Targets[tx.To] = struct{}{}
		out.AmountIn = d.amountIn
		out.AmountOutMin = d.amountOutMin
		out.GroupKey = GroupKey(out.SortedTokenPath(), out.SortedTargets())
		return out
	}

	if looksLikeProxy(code) {
		out.Tags[mevtypes.TagProxyCall] = struct{}{}
		out.Targets[tx.To] = struct{}{}
		out.GroupKey = GroupKey(nil, out.SortedTargets())
		return out
	}

	out.Tags[mevtypes.TagUnknown] = struct{}{}
	out.GroupKey = GroupKey(nil, nil)
	return out
}

// decodeTop dispatches a single call (top-level or recursed from a
// multicall) against the known selector tables.
func decodeTop(s selector, to ethcommon.Address, data []byte, depth int) (decoded, bool) {
	if v2, ok := v2Selectors[s]; ok {
		d, err := decodeV2Swap(v2.kind, data)
		if err != nil {
			return decoded{}, false
		}
		return decoded{tags: v2.tags, path: d.path, amountIn: d.amountIn, amountOutMin: d.amountOutMin, matched: true}, true
	}

	if v3, ok := v3Selectors[s]; ok {
		d, err := decodeV3Swap(v3, data)
		if err != nil {
			return decoded{}, false
		}
		return decoded{tags: []mevtypes.Tag{mevtypes.TagSwapV3}, path: d.path, amountIn: d.amountIn, amountOutMin: d.amountOutMin, matched: true}, true
	}

	if tag, ok := erc20Selectors[s]; ok {
		return decoded{tags: []mevtypes.Tag{tag}, path: []ethcommon.Address{to}, matched: true}, true
	}

	if isMulticallSelector(s) && depth < maxMulticallDepth {
		inner, err := unpackMulticall(s, data)
		if err != nil || len(inner) == 0 {
			return decoded{}, false
		}
		d := foldMulticall(to, inner, depth)
		return d, d.matched
	}

	return decoded{}, false
}

func isMulticallSelector(s selector) bool {
	return s == multicallSelector || s == multicallDeadlineSel || s == universalRouterExecute || s == universalRouterExecuteNd
}

func unpackMulticall(s selector, data []byte) ([][]byte, error) {
	switch s {
	case multicallDeadlineSel:
		return decodeMulticallWithDeadline(data)
	case universalRouterExecute, universalRouterExecuteNd:
		return decodeUniversalExecute(s == universalRouterExecute, data)
	}
	return decodeMulticall(data)
}

// foldMulticall decodes every inner call against the same destination,
// unions the resulting tags, concatenates their paths (Tag dedups adjacent
// repeats at the seam) and keeps the first amounts an inner call carries. The
// result carries only the inner calls' tags: a multicall wrapping two V2
// swaps is tagged {SwapV2}, not {Multicall, SwapV2}. The Multicall tag is
// reserved for containers whose inner calls all miss the known tables.
func foldMulticall(to ethcommon.Address, inner [][]byte, depth int) decoded {
	var out decoded
	for _, raw := range inner {
		s, ok := readSelector(raw)
		if !ok {
			continue
		}
		d, matched := decodeTop(s, to, raw[4:], depth+1)
		if !matched {
			continue
		}
		out.matched = true
		out.tags = append(out.tags, d.tags...)
		out.path = append(out.path, d.path...)
		if out.amountIn == nil {
			out.amountIn = d.amountIn
		}
		if out.amountOutMin == nil {
			out.amountOutMin = d.amountOutMin
		}
	}
	if !out.matched {
		return decoded{tags: []mevtypes.Tag{mevtypes.TagMulticall}, matched: true}
	}
	return out
}

func dedupAdjacent(in []ethcommon.Address) []ethcommon.Address {
	if len(in) == 0 {
		return nil
	}
	out := make([]ethcommon.Address, 0, len(in))
	out = append(out, in[0])
	for i := 1; i < len(in); i++ {
		if in[i] != out[len(out)-1] {
			out = append(out, in[i])
		}
	}
	return out
}

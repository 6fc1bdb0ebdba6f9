package mevtypes

import (
	"encoding/json"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// lowerHex renders an address in the normalized lowercase form used on the
// wire, rather than the EIP-55 checksummed form Hex() produces.
func lowerHex(a ethcommon.Address) string {
	return strings.ToLower(a.Hex())
}

// DecimalString renders a big.Int as a plain base-10 string, matching the
// "<decimal>" wire format used by GroupReady's victim and profit fields.
func DecimalString(i *big.Int) string {
	if i == nil {
		return "0"
	}
	return i.String()
}

type victimWire struct {
	TxHash            string  `json:"tx_hash"`
	Side              string  `json:"side"`
	AmountIn          string  `json:"amount_in"`
	ExpectedAmountOut string  `json:"expected_amount_out"`
	AmountOutMin      string  `json:"amount_out_min"`
	SlippageTolerated float64 `json:"slippage_tolerated"`
}

type blockWire struct {
	Number uint64 `json:"number"`
	Hash   string `json:"hash"`
}

type flagsWire struct {
	DeadlineMissed   bool `json:"deadline_missed"`
	Contaminated     bool `json:"contaminated"`
	ConvexityHigh    bool `json:"convexity_high"`
	StateUnavailable bool `json:"state_unavailable"`
	BelowThreshold   bool `json:"below_threshold"`
}

type groupReadyWire struct {
	GroupID               string       `json:"group_id"`
	Tokens                []string     `json:"tokens"`
	Targets               []string     `json:"targets"`
	Block                 blockWire    `json:"block"`
	Victims               []victimWire `json:"victims"`
	OpportunityScore      float64      `json:"opportunity_score"`
	ExpectedProfitBackrun string       `json:"expected_profit_backrun"`
	Flags                 flagsWire    `json:"flags"`
}

// MarshalJSON renders the externally emitted event shape: decimal strings for
// amounts, lowercase hex for addresses and hashes, and an explicit flags
// object so downstream consumers never need to treat absence as false.
func (g GroupReady) MarshalJSON() ([]byte, error) {
	wire := groupReadyWire{
		GroupID:               g.GroupID,
		Tokens:                make([]string, 0, len(g.Tokens)),
		Targets:               make([]string, 0, len(g.Targets)),
		Block:                 blockWire{Number: g.Block.Number, Hash: g.Block.Hash.Hex()},
		Victims:               make([]victimWire, 0, len(g.Victims)),
		OpportunityScore:      g.OpportunityScore,
		ExpectedProfitBackrun: DecimalString(g.ExpectedProfitBackrun),
		Flags: flagsWire{
			DeadlineMissed:   g.Flags.DeadlineMissed,
			Contaminated:     g.Flags.Contaminated,
			ConvexityHigh:    g.Flags.ConvexityHigh,
			StateUnavailable: g.Flags.StateUnavailable,
			BelowThreshold:   g.Flags.BelowThreshold,
		},
	}
	for _, t := range g.Tokens {
		wire.Tokens = append(wire.Tokens, lowerHex(t))
	}
	for _, t := range g.Targets {
		wire.Targets = append(wire.Targets, lowerHex(t))
	}
	for _, v := range g.Victims {
		wire.Victims = append(wire.Victims, victimWire{
			TxHash:            v.TxHash.Hex(),
			Side:              v.Side,
			AmountIn:          DecimalString(v.AmountIn),
			ExpectedAmountOut: DecimalString(v.ExpectedAmountOut),
			AmountOutMin:      DecimalString(v.AmountOutMin),
			SlippageTolerated: v.SlippageTolerated,
		})
	}
	return json.Marshal(wire)
}


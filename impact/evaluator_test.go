package impact

import (
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/angu-team/ethernity-detector-mev/mevtypes"
)

func v2Snapshot(pool, token0, token1 ethcommon.Address) mevtypes.Snapshot {
	return mevtypes.Snapshot{
		Pool:        pool,
		Token0:      token0,
		Token1:      token1,
		BlockNumber: 100,
		BlockHash:   ethcommon.HexToHash("0xabc"),
		Kind:        mevtypes.PoolV2,
		Reserve0:    new(big.Int).Mul(big.NewInt(1000), pow10(18)),
		Reserve1:    new(big.Int).Mul(big.NewInt(2000000), pow10(6)),
		FeeBps:      30,
	}
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

func victimSwap(hash ethcommon.Hash, pool, token0, token1 ethcommon.Address, amountIn, amountOutMin *big.Int) *mevtypes.TaggedTx {
	return &mevtypes.TaggedTx{
		PendingTx: mevtypes.PendingTx{Hash: hash},
		Tags:      map[mevtypes.Tag]struct{}{mevtypes.TagSwapV2: {}},
		TokenPath: []ethcommon.Address{token0, token1},
		Targets:   map[ethcommon.Address]struct{}{pool: {}},
		AmountIn:  amountIn,
		AmountOutMin: amountOutMin,
	}
}

// TestSingleV2VictimMatchesWorkedExample exercises scenario S1: one SwapV2
// victim against a pool with reserves (1000e18, 2_000_000e6) at 30 bps fee.
// expected_amount_out is computed via the formula's literal definition:
// y = R_out*x*(10000-f) / (R_in*10000 + x*(10000-f)).
func TestSingleV2VictimMatchesWorkedExample(t *testing.T) {
	pool := ethcommon.HexToAddress("0xpool")
	token0 := ethcommon.HexToAddress("0x01")
	token1 := ethcommon.HexToAddress("0x02")
	snap := v2Snapshot(pool, token0, token1)

	amountIn := pow10(18)
	amountOutMin := new(big.Int).Mul(big.NewInt(1900), pow10(6))
	victim := victimSwap(ethcommon.HexToHash("0x01"), pool, token0, token1, amountIn, amountOutMin)

	e := New(DefaultConfig(), zerolog.Nop())
	in := Input{
		GroupKey:  ethcommon.HexToHash("0xg1"),
		Tokens:    []ethcommon.Address{token0, token1},
		Targets:   []ethcommon.Address{pool},
		Members:   []*mevtypes.TaggedTx{victim},
		Snapshots: map[ethcommon.Address]mevtypes.Snapshot{pool: snap},
		Block:     mevtypes.BlockRef{Number: 100, Hash: snap.BlockHash},
	}

	result := e.Evaluate(in, time.Now())
	require.Len(t, result.Victims, 1)

	expectedOut, _ := new(big.Int).SetString("1992013962", 10)
	require.Equal(t, expectedOut.String(), result.Victims[0].ExpectedAmountOut.String())
	require.InDelta(t, 4.62, result.Victims[0].SlippageTolerated, 0.05)
	require.False(t, result.Flags.DeadlineMissed)
}

// TestDeadlineMissedYieldsZeroScoreAndNoVictims exercises scenario S5.
func TestDeadlineMissedYieldsZeroScoreAndNoVictims(t *testing.T) {
	pool := ethcommon.HexToAddress("0xpool2")
	token0 := ethcommon.HexToAddress("0x01")
	token1 := ethcommon.HexToAddress("0x02")
	snap := v2Snapshot(pool, token0, token1)
	victim := victimSwap(ethcommon.HexToHash("0x02"), pool, token0, token1, pow10(18), big.NewInt(1))

	cfg := DefaultConfig()
	cfg.EvaluationDeadline = time.Nanosecond
	e := New(cfg, zerolog.Nop())
	in := Input{
		GroupKey:  ethcommon.HexToHash("0xg2"),
		Targets:   []ethcommon.Address{pool},
		Members:   []*mevtypes.TaggedTx{victim},
		Snapshots: map[ethcommon.Address]mevtypes.Snapshot{pool: snap},
	}

	result := e.Evaluate(in, time.Now().Add(-time.Hour))
	require.Equal(t, 0.0, result.OpportunityScore)
	require.True(t, result.Flags.DeadlineMissed)
	require.Empty(t, result.Victims)
}

// TestScoreMonotonicInAmountIn is Testable Property #5: holding pool state
// fixed, doubling every victim's amount_in never decreases opportunity_score.
func TestScoreMonotonicInAmountIn(t *testing.T) {
	pool := ethcommon.HexToAddress("0xpool3")
	token0 := ethcommon.HexToAddress("0x01")
	token1 := ethcommon.HexToAddress("0x02")

	run := func(amountIn *big.Int) float64 {
		snap := v2Snapshot(pool, token0, token1)
		victim := victimSwap(ethcommon.HexToHash("0x03"), pool, token0, token1, amountIn, big.NewInt(1))
		e := New(DefaultConfig(), zerolog.Nop())
		in := Input{
			GroupKey:  ethcommon.HexToHash("0xg3"),
			Targets:   []ethcommon.Address{pool},
			Members:   []*mevtypes.TaggedTx{victim},
			Snapshots: map[ethcommon.Address]mevtypes.Snapshot{pool: snap},
		}
		return e.Evaluate(in, time.Now()).OpportunityScore
	}

	base := pow10(17)
	doubled := new(big.Int).Mul(base, big.NewInt(2))

	scoreBase := run(base)
	scoreDoubled := run(doubled)
	require.GreaterOrEqual(t, scoreDoubled, scoreBase)
}

// TestEmptyPoolDropsVictim covers the zero-reserve boundary: the exact V2
// formula returns zero output, and the victim is excluded from the group.
func TestEmptyPoolDropsVictim(t *testing.T) {
	pool := ethcommon.HexToAddress("0xpool5")
	token0 := ethcommon.HexToAddress("0x01")
	token1 := ethcommon.HexToAddress("0x02")
	snap := v2Snapshot(pool, token0, token1)
	snap.Reserve0 = big.NewInt(0)
	snap.Reserve1 = big.NewInt(0)
	victim := victimSwap(ethcommon.HexToHash("0x05"), pool, token0, token1, pow10(18), big.NewInt(1))

	e := New(DefaultConfig(), zerolog.Nop())
	in := Input{
		GroupKey:  ethcommon.HexToHash("0xg5"),
		Targets:   []ethcommon.Address{pool},
		Members:   []*mevtypes.TaggedTx{victim},
		Snapshots: map[ethcommon.Address]mevtypes.Snapshot{pool: snap},
	}
	result := e.Evaluate(in, time.Now())
	require.Empty(t, result.Victims)
	require.Equal(t, 0.0, result.OpportunityScore)
}

// TestProfitNeverNegative is Testable Property #6.
func TestProfitNeverNegative(t *testing.T) {
	pool := ethcommon.HexToAddress("0xpool4")
	token0 := ethcommon.HexToAddress("0x01")
	token1 := ethcommon.HexToAddress("0x02")
	snap := v2Snapshot(pool, token0, token1)
	// dust-sized input (1e6 wei) whose priced output rounds down to zero
	victim := victimSwap(ethcommon.HexToHash("0x04"), pool, token0, token1, pow10(6), big.NewInt(1))

	e := New(DefaultConfig(), zerolog.Nop())
	in := Input{
		GroupKey:  ethcommon.HexToHash("0xg4"),
		Targets:   []ethcommon.Address{pool},
		Members:   []*mevtypes.TaggedTx{victim},
		Snapshots: map[ethcommon.Address]mevtypes.Snapshot{pool: snap},
	}
	result := e.Evaluate(in, time.Now())
	require.GreaterOrEqual(t, result.ExpectedProfitBackrun.Sign(), 0)
}

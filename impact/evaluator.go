// Package impact implements ImpactEvaluator: given a ripe bucket and fresh
// pool snapshots, computes per-victim slippage, aggregate pool impact, and
// an opportunity score summarizing a group's MEV viability.
package impact

import (
	"fmt"
	"math"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/angu-team/ethernity-detector-mev/mevtypes"
)

// Config holds the tunable weights named in the specification.
type Config struct {
	WeightA float64 // aggregate-size weight, default 4
	WeightB float64 // slippage-above-baseline weight, default 6
	WeightC float64 // convexity weight, default 2

	// GasCostFloor is compared against expected_profit_backrun, expressed in
	// the same unit (the bucket's primary input token). The assumed
	// back-run gas amount is a tunable constant; no canonical value is
	// prescribed by the specification (Open Question 1).
	GasCostFloor *big.Int

	// SlippageBaseline seeds each token pair's tolerated-slippage EWMA, in
	// percent, before any observation has been recorded.
	SlippageBaseline float64

	EvaluationDeadline time.Duration
}

// DefaultConfig matches the documented weight defaults.
func DefaultConfig() Config {
	return Config{
		WeightA:            4,
		WeightB:            6,
		WeightC:            2,
		GasCostFloor:       big.NewInt(0),
		SlippageBaseline:   defaultInitialBaseline,
		EvaluationDeadline: 200 * time.Millisecond,
	}
}

// Input is everything ImpactEvaluator needs for one bucket evaluation. It is
// deliberately decoupled from the aggregator.Bucket type so this package has
// no dependency on it.
type Input struct {
	GroupKey  ethcommon.Hash
	Tokens    []ethcommon.Address
	Targets   []ethcommon.Address
	Members   []*mevtypes.TaggedTx
	Snapshots map[ethcommon.Address]mevtypes.Snapshot
	Block     mevtypes.BlockRef
}

// Evaluator computes opportunity metrics for ripe buckets. It carries the
// per-token-pair baseline state across calls, so a single Evaluator should
// be shared by every evaluation worker.
type Evaluator struct {
	cfg       Config
	baselines *baselineTracker
	log       zerolog.Logger
}

// New builds an Evaluator.
func New(cfg Config, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		cfg:       cfg,
		baselines: newBaselineTracker(cfg.SlippageBaseline),
		log:       log.With().Str("component", "impact_evaluator").Logger(),
	}
}

// Evaluate runs the full per-victim and aggregate pipeline. startedAt is the
// time the bucket was handed to the evaluator, used to enforce the
// per-bucket deadline.
func (e *Evaluator) Evaluate(in Input, startedAt time.Time) mevtypes.GroupReady {
	if time.Since(startedAt) > e.cfg.EvaluationDeadline {
		return mevtypes.GroupReady{
			GroupID:          groupID(in.GroupKey, in.Block.Number),
			Tokens:           in.Tokens,
			Targets:          in.Targets,
			Block:            in.Block,
			Victims:          nil,
			OpportunityScore: 0,
			ExpectedProfitBackrun: big.NewInt(0),
			Flags:            mevtypes.GroupFlags{DeadlineMissed: true},
		}
	}

	var flags mevtypes.GroupFlags
	bestScore := 0.0
	totalProfit := big.NewInt(0)
	var allVictims []mevtypes.VictimMetrics

	for _, pool := range in.Targets {
		snap, ok := in.Snapshots[pool]
		if !ok {
			flags.StateUnavailable = true
			continue
		}

		result := e.evaluatePool(pool, snap, in.Members)
		allVictims = append(allVictims, result.victims...)
		if result.convexityHigh {
			flags.ConvexityHigh = true
		}
		if result.score > bestScore {
			bestScore = result.score
		}
		totalProfit.Add(totalProfit, result.profit)
	}

	if totalProfit.Sign() < 0 {
		totalProfit.SetInt64(0)
		flags.BelowThreshold = true
	}
	if bestScore == 0 {
		flags.BelowThreshold = true
	}

	return mevtypes.GroupReady{
		GroupID:               groupID(in.GroupKey, in.Block.Number),
		Tokens:                in.Tokens,
		Targets:               in.Targets,
		Block:                 in.Block,
		Victims:               allVictims,
		OpportunityScore:      bestScore,
		ExpectedProfitBackrun: totalProfit,
		Flags:                 flags,
	}
}

// groupID renders the externally visible "<hash>_<block>" identifier.
func groupID(key ethcommon.Hash, block uint64) string {
	return fmt.Sprintf("%s_%d", key.Hex(), block)
}

type poolResult struct {
	victims       []mevtypes.VictimMetrics
	score         float64
	profit        *big.Int
	convexityHigh bool
}

func (e *Evaluator) evaluatePool(pool ethcommon.Address, snap mevtypes.Snapshot, members []*mevtypes.TaggedTx) poolResult {
	var (
		victims       []mevtypes.VictimMetrics
		aggregateIn   = new(big.Int)
		slippageSum   float64
		slippageCount int
		convexityHigh bool
	)

	for _, tx := range members {
		if _, targeted := tx.Targets[pool]; !targeted {
			continue
		}
		if tx.AmountIn == nil || tx.AmountOutMin == nil {
			continue
		}
		zeroForOne, determined := sideFor(tx, snap)
		if !determined {
			e.log.Debug().Str("tx", tx.Hash.Hex()).Str("reason", "side_undetermined").Msg("victim dropped")
			continue
		}

		expectedOut, convex := e.expectedAmountOut(snap, tx.AmountIn, zeroForOne)
		convexityHigh = convexityHigh || convex
		if expectedOut == nil || expectedOut.Sign() == 0 {
			e.log.Debug().Str("tx", tx.Hash.Hex()).Str("reason", "empty_pool").Msg("victim dropped")
			continue
		}

		slippage := slippagePercent(expectedOut, tx.AmountOutMin)
		side := "buy"
		if !zeroForOne {
			side = "sell"
		}
		victims = append(victims, mevtypes.VictimMetrics{
			TxHash:             tx.Hash,
			Side:               side,
			AmountIn:           tx.AmountIn,
			ExpectedAmountOut:  expectedOut,
			AmountOutMin:       tx.AmountOutMin,
			SlippageTolerated:  slippage,
		})
		aggregateIn.Add(aggregateIn, tx.AmountIn)
		slippageSum += slippage
		slippageCount++

		e.baselines.Observe(snap.Token0, snap.Token1, slippage)
	}

	if len(victims) == 0 || aggregateIn.Sign() == 0 {
		return poolResult{profit: big.NewInt(0)}
	}

	zeroForOne := victims[0].Side == "buy"
	depth := depthFor(snap, zeroForOne)
	priceBefore := priceOf(snap)

	forwardOut, convexFwd := e.expectedAmountOut(snap, aggregateIn, zeroForOne)
	convexityHigh = convexityHigh || convexFwd
	if forwardOut == nil || forwardOut.Sign() == 0 || depth.Sign() == 0 {
		return poolResult{victims: victims, profit: big.NewInt(0)}
	}

	advanced := advanceSnapshot(snap, aggregateIn, forwardOut, zeroForOne)
	priceAfter := priceOf(advanced)

	recovered, convexBack := e.expectedAmountOut(advanced, forwardOut, !zeroForOne)
	convexityHigh = convexityHigh || convexBack

	profit := big.NewInt(0)
	if recovered != nil {
		profit = new(big.Int).Sub(recovered, aggregateIn)
	}

	s := new(big.Float).Quo(new(big.Float).SetInt(aggregateIn), new(big.Float).SetInt(depth))
	sOverD, _ := s.Float64()

	slippageAvg := slippageSum / float64(slippageCount)
	baseline := e.baselines.Get(snap.Token0, snap.Token1)

	kappa := 0.0
	if priceBefore != 0 && sOverD != 0 {
		kappa = (priceAfter/priceBefore - 1) / sOverD
	}

	viability := 0.0
	if profit.Cmp(e.cfg.GasCostFloor) > 0 {
		viability = 1.0
	}

	z := e.cfg.WeightA*sOverD + e.cfg.WeightB*math.Max(0, slippageAvg-baseline) + e.cfg.WeightC*kappa
	score := sigmoid(z) * viability

	if profit.Sign() < 0 {
		profit = big.NewInt(0)
	}

	return poolResult{victims: victims, score: score, profit: profit, convexityHigh: convexityHigh}
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func sideFor(tx *mevtypes.TaggedTx, snap mevtypes.Snapshot) (zeroForOne bool, determined bool) {
	if len(tx.TokenPath) < 2 {
		return false, false
	}
	in, out := tx.TokenPath[0], tx.TokenPath[len(tx.TokenPath)-1]
	switch {
	case in == snap.Token0 && out == snap.Token1:
		return true, true
	case in == snap.Token1 && out == snap.Token0:
		return false, true
	default:
		return false, false
	}
}

func (e *Evaluator) expectedAmountOut(snap mevtypes.Snapshot, amountIn *big.Int, zeroForOne bool) (*big.Int, bool) {
	switch snap.Kind {
	case mevtypes.PoolV2:
		reserveIn, reserveOut := snap.Reserve0, snap.Reserve1
		if !zeroForOne {
			reserveIn, reserveOut = snap.Reserve1, snap.Reserve0
		}
		out, ok := v2AmountOut(reserveIn, reserveOut, amountIn, snap.FeeBps)
		if !ok {
			return nil, false
		}
		return out, false
	case mevtypes.PoolV3:
		result := v3AmountOut(snap.SqrtPriceX96, snap.Liquidity, amountIn, zeroForOne)
		return result.amountOut, result.convexityHigh
	default:
		return nil, false
	}
}

func depthFor(snap mevtypes.Snapshot, zeroForOne bool) *big.Int {
	if snap.Kind == mevtypes.PoolV3 {
		return v3PoolDepth(snap.Liquidity, snap.SqrtPriceX96)
	}
	if !zeroForOne {
		return v2PoolDepth(snap.Reserve1)
	}
	return v2PoolDepth(snap.Reserve0)
}

func priceOf(snap mevtypes.Snapshot) float64 {
	if snap.Kind == mevtypes.PoolV3 {
		sqrtP := new(big.Float).Quo(new(big.Float).SetInt(snap.SqrtPriceX96), new(big.Float).SetInt(q96))
		p, _ := new(big.Float).Mul(sqrtP, sqrtP).Float64()
		return p
	}
	return v2PriceRatio(snap.Reserve0, snap.Reserve1)
}

// advanceSnapshot produces the post-forward-swap snapshot used to price the
// hypothetical back-run, without mutating the original.
func advanceSnapshot(snap mevtypes.Snapshot, amountIn, amountOut *big.Int, zeroForOne bool) mevtypes.Snapshot {
	next := snap
	switch snap.Kind {
	case mevtypes.PoolV2:
		if zeroForOne {
			next.Reserve0 = new(big.Int).Add(snap.Reserve0, amountIn)
			next.Reserve1 = new(big.Int).Sub(snap.Reserve1, amountOut)
		} else {
			next.Reserve1 = new(big.Int).Add(snap.Reserve1, amountIn)
			next.Reserve0 = new(big.Int).Sub(snap.Reserve0, amountOut)
		}
	case mevtypes.PoolV3:
		result := v3AmountOut(snap.SqrtPriceX96, snap.Liquidity, amountIn, zeroForOne)
		next.SqrtPriceX96 = result.sqrtPriceAfter
	}
	return next
}

func slippagePercent(expected, minOut *big.Int) float64 {
	if expected.Sign() == 0 {
		return 0
	}
	diff := new(big.Int).Sub(expected, minOut)
	ratio := new(big.Float).Quo(new(big.Float).SetInt(diff), new(big.Float).SetInt(expected))
	f, _ := ratio.Float64()
	pct := f * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

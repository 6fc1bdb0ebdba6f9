package impact

import "math/big"

var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// v3SwapResult captures the pricing outcome of one approximated V3 swap.
type v3SwapResult struct {
	amountOut      *big.Int
	sqrtPriceAfter *big.Int
	convexityHigh  bool
}

// convexityThreshold is the fractional move in sqrtPriceX96 beyond which the
// constant-liquidity approximation is considered unreliable and the
// two-tick linear blend fallback kicks in.
const convexityThreshold = 0.10

// v3AmountOut approximates a V3 exact-input swap by treating the active
// tick's liquidity as constant (per the standard closed-form delta-sqrt-price
// equations), falling back to a two-tick linear blend when the implied price
// move is large enough that a single-tick approximation would badly
// misstate impact.
func v3AmountOut(sqrtPriceX96, liquidity, amountIn *big.Int, zeroForOne bool) v3SwapResult {
	if liquidity == nil || liquidity.Sign() <= 0 || amountIn.Sign() <= 0 {
		return v3SwapResult{amountOut: new(big.Int), sqrtPriceAfter: sqrtPriceX96}
	}

	out, sqrtAfter := swapConstantLiquidity(sqrtPriceX96, liquidity, amountIn, zeroForOne)
	if sqrtAfter == nil {
		return v3SwapResult{amountOut: new(big.Int), sqrtPriceAfter: sqrtPriceX96, convexityHigh: true}
	}

	if !priceMoveExceeds(sqrtPriceX96, sqrtAfter, convexityThreshold) {
		return v3SwapResult{amountOut: out, sqrtPriceAfter: sqrtAfter}
	}

	// Two-tick linear blend: split the input in half, apply the first half
	// at full liquidity and the second half at half liquidity, approximating
	// a tick crossing without a full tick-walk.
	half := new(big.Int).Rsh(amountIn, 1)
	firstOut, sqrtMid := swapConstantLiquidity(sqrtPriceX96, liquidity, half, zeroForOne)
	if sqrtMid == nil {
		return v3SwapResult{amountOut: new(big.Int), sqrtPriceAfter: sqrtPriceX96, convexityHigh: true}
	}
	halvedLiquidity := new(big.Int).Rsh(liquidity, 1)
	if halvedLiquidity.Sign() == 0 {
		halvedLiquidity = big.NewInt(1)
	}
	secondOut, sqrtFinal := swapConstantLiquidity(sqrtMid, halvedLiquidity, new(big.Int).Sub(amountIn, half), zeroForOne)
	if sqrtFinal == nil {
		return v3SwapResult{amountOut: firstOut, sqrtPriceAfter: sqrtMid, convexityHigh: true}
	}

	total := new(big.Int).Add(firstOut, secondOut)
	return v3SwapResult{amountOut: total, sqrtPriceAfter: sqrtFinal, convexityHigh: true}
}

func swapConstantLiquidity(sqrtPriceX96, liquidity, amountIn *big.Int, zeroForOne bool) (*big.Int, *big.Int) {
	if zeroForOne {
		sqrtAfter := nextSqrtPriceFromAmount0(sqrtPriceX96, liquidity, amountIn)
		if sqrtAfter == nil || sqrtAfter.Sign() <= 0 {
			return nil, nil
		}
		return amount1Delta(sqrtAfter, sqrtPriceX96, liquidity), sqrtAfter
	}
	sqrtAfter := nextSqrtPriceFromAmount1(sqrtPriceX96, liquidity, amountIn)
	return amount0Delta(sqrtPriceX96, sqrtAfter, liquidity), sqrtAfter
}

// nextSqrtPriceFromAmount0 implements getNextSqrtPriceFromAmount0RoundingUp
// for an exact-input swap (amount0 added to the pool, price decreases).
func nextSqrtPriceFromAmount0(sqrtPriceX96, liquidity, amount *big.Int) *big.Int {
	numerator1 := new(big.Int).Lsh(liquidity, 96)
	product := new(big.Int).Mul(amount, sqrtPriceX96)
	denominator := new(big.Int).Add(numerator1, product)
	if denominator.Sign() <= 0 {
		return nil
	}
	q, r := new(big.Int).QuoRem(new(big.Int).Mul(numerator1, sqrtPriceX96), denominator, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// nextSqrtPriceFromAmount1 implements getNextSqrtPriceFromAmount1RoundingDown
// for an exact-input swap (amount1 added to the pool, price increases).
func nextSqrtPriceFromAmount1(sqrtPriceX96, liquidity, amount *big.Int) *big.Int {
	quotient := new(big.Int).Div(new(big.Int).Lsh(amount, 96), liquidity)
	return new(big.Int).Add(sqrtPriceX96, quotient)
}

// amount1Delta = L * (sqrtB - sqrtA) / Q96, for sqrtB >= sqrtA.
func amount1Delta(sqrtB, sqrtA, liquidity *big.Int) *big.Int {
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	if diff.Sign() < 0 {
		diff = new(big.Int).Neg(diff)
	}
	num := new(big.Int).Mul(liquidity, diff)
	return new(big.Int).Div(num, q96)
}

// amount0Delta = L * Q96 * (sqrtB - sqrtA) / (sqrtA * sqrtB), for sqrtB >= sqrtA.
func amount0Delta(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	if diff.Sign() < 0 {
		diff = new(big.Int).Neg(diff)
	}
	num := new(big.Int).Mul(liquidity, q96)
	num.Mul(num, diff)
	denom := new(big.Int).Mul(sqrtA, sqrtB)
	if denom.Sign() == 0 {
		return new(big.Int)
	}
	return new(big.Int).Div(num, denom)
}

func priceMoveExceeds(before, after *big.Int, frac float64) bool {
	if before.Sign() == 0 {
		return true
	}
	diff := new(big.Int).Sub(after, before)
	if diff.Sign() < 0 {
		diff = new(big.Int).Neg(diff)
	}
	ratio := new(big.Float).Quo(new(big.Float).SetInt(diff), new(big.Float).SetInt(before))
	f, _ := ratio.Float64()
	return f > frac
}

// v3PoolDepth = liquidity / sqrt(p), matching the spec's definition of D for
// concentrated-liquidity pools.
func v3PoolDepth(liquidity, sqrtPriceX96 *big.Int) *big.Int {
	if sqrtPriceX96.Sign() == 0 {
		return new(big.Int)
	}
	sqrtP := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96), new(big.Float).SetInt(q96))
	l := new(big.Float).SetInt(liquidity)
	depth := new(big.Float).Quo(l, sqrtP)
	out, _ := depth.Int(nil)
	return out
}

package impact

import (
	"math/big"

	"github.com/holiman/uint256"
)

const bpsDenominator = 10000

// v2AmountOut computes the constant-product output for a V2 swap of x units
// of the input token against reserves (reserveIn, reserveOut) with a pool
// fee of feeBps basis points. The multiply-then-divide is carried out with
// 512-bit intermediate precision via MulDivOverflow so that reserveOut*x
// never silently wraps even when both operands are near 2^256.
func v2AmountOut(reserveIn, reserveOut *big.Int, x *big.Int, feeBps uint32) (*big.Int, bool) {
	if x.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int), false
	}

	rIn, overflow := uint256.FromBig(reserveIn)
	if overflow {
		return new(big.Int), false
	}
	rOut, overflow := uint256.FromBig(reserveOut)
	if overflow {
		return new(big.Int), false
	}
	amountIn, overflow := uint256.FromBig(x)
	if overflow {
		return new(big.Int), false
	}

	feeMultiplier := uint256.NewInt(uint64(bpsDenominator - feeBps))
	amountInWithFee := new(uint256.Int).Mul(amountIn, feeMultiplier)

	denominator := new(uint256.Int).Mul(rIn, uint256.NewInt(bpsDenominator))
	denominator.Add(denominator, amountInWithFee)
	if denominator.IsZero() {
		return new(big.Int), false
	}

	result, ovf := new(uint256.Int).MulDivOverflow(rOut, amountInWithFee, denominator)
	if ovf {
		return new(big.Int), false
	}
	return result.ToBig(), true
}

// v2PoolDepth is the "deeper reserve side" used to normalize aggregate
// victim size S/D, expressed in terms of the input token's reserve.
func v2PoolDepth(reserveIn *big.Int) *big.Int {
	return new(big.Int).Set(reserveIn)
}

// v2PriceRatio returns reserveOut/reserveIn as a float64, used only for the
// dimensionless convexity measure kappa, never for amount computations.
func v2PriceRatio(reserveIn, reserveOut *big.Int) float64 {
	if reserveIn.Sign() == 0 {
		return 0
	}
	ri := new(big.Float).SetInt(reserveIn)
	ro := new(big.Float).SetInt(reserveOut)
	ratio, _ := new(big.Float).Quo(ro, ri).Float64()
	return ratio
}

package nature

import (
	"math/big"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	tUint256    = mustType("uint256")
	tAddress    = mustType("address")
	tAddressArr = mustType("address[]")
	tBytes      = mustType("bytes")
	tBytesArr   = mustType("bytes[]")
)

type v2Decoded struct {
	path         []ethcommon.Address
	amountIn     *big.Int
	amountOutMin *big.Int
}

// decodeV2Swap unpacks the arguments of a Uniswap V2 router swap call. The
// exact argument layout depends on which side of the trade is fixed
// (exact-in vs exact-out) and whether one leg is native ETH.
func decodeV2Swap(kind swapKind, data []byte) (v2Decoded, error) {
	var args ethabi.Arguments
	switch kind {
	case kindExactInTokens:
		// swapExactTokensForTokens(amountIn, amountOutMin, path, to, deadline)
		args = ethabi.Arguments{{Type: tUint256}, {Type: tUint256}, {Type: tAddressArr}, {Type: tAddress}, {Type: tUint256}}
	case kindExactOutTokens:
		// swapTokensForExactTokens / swapTokensForExactETH(amountOut, amountInMax, path, to, deadline)
		args = ethabi.Arguments{{Type: tUint256}, {Type: tUint256}, {Type: tAddressArr}, {Type: tAddress}, {Type: tUint256}}
	case kindExactInETH:
		// swapExactETHForTokens(amountOutMin, path, to, deadline) — amountIn is msg.value
		args = ethabi.Arguments{{Type: tUint256}, {Type: tAddressArr}, {Type: tAddress}, {Type: tUint256}}
	case kindExactOutETH:
		// swapETHForExactTokens(amountOut, path, to, deadline)
		args = ethabi.Arguments{{Type: tUint256}, {Type: tAddressArr}, {Type: tAddress}, {Type: tUint256}}
	}

	values, err := args.Unpack(data)
	if err != nil {
		return v2Decoded{}, err
	}

	var out v2Decoded
	switch kind {
	case kindExactInTokens:
		out.amountIn = values[0].(*big.Int)
		out.amountOutMin = values[1].(*big.Int)
		out.path = values[2].([]ethcommon.Address)
	case kindExactOutTokens:
		out.amountOutMin = values[0].(*big.Int) // amountOut, reused as the known-side bound
		out.amountIn = values[1].(*big.Int)      // amountInMax
		out.path = values[2].([]ethcommon.Address)
	case kindExactInETH, kindExactOutETH:
		out.amountOutMin = values[0].(*big.Int)
		out.path = values[1].([]ethcommon.Address)
	}
	return out, nil
}

type v3Decoded struct {
	path         []ethcommon.Address
	amountIn     *big.Int
	amountOutMin *big.Int
}

// decodeV3Swap handles the four Uniswap V3 SwapRouter entry points. Single-hop
// calls carry a flat params struct; multi-hop calls carry a packed path.
func decodeV3Swap(kind v3Kind, data []byte) (v3Decoded, error) {
	switch kind {
	case v3ExactInputSingle, v3ExactOutputSingle:
		// ExactInputSingleParams{tokenIn, tokenOut, fee uint24, recipient, deadline, amountIn, amountOutMinimum, sqrtPriceLimitX96 uint160}
		tUint24 := mustType("uint24")
		tUint160 := mustType("uint160")
		args := ethabi.Arguments{
			{Type: tAddress}, {Type: tAddress}, {Type: tUint24}, {Type: tAddress},
			{Type: tUint256}, {Type: tUint256}, {Type: tUint256}, {Type: tUint160},
		}
		values, err := args.Unpack(data)
		if err != nil {
			return v3Decoded{}, err
		}
		tokenIn := values[0].(ethcommon.Address)
		tokenOut := values[1].(ethcommon.Address)
		amountIn := values[5].(*big.Int)
		amountOutMin := values[6].(*big.Int)
		if kind == v3ExactOutputSingle {
			amountIn, amountOutMin = values[6].(*big.Int), values[5].(*big.Int)
		}
		return v3Decoded{
			path:         []ethcommon.Address{tokenIn, tokenOut},
			amountIn:     amountIn,
			amountOutMin: amountOutMin,
		}, nil

	case v3ExactInput, v3ExactOutput:
		// ExactInputParams{path bytes, recipient, deadline, amountIn, amountOutMinimum}
		args := ethabi.Arguments{{Type: tBytes}, {Type: tAddress}, {Type: tUint256}, {Type: tUint256}, {Type: tUint256}}
		values, err := args.Unpack(data)
		if err != nil {
			return v3Decoded{}, err
		}
		packed := values[0].([]byte)
		path := decodeV3Path(packed)
		amountIn := values[3].(*big.Int)
		amountOutMin := values[4].(*big.Int)
		if kind == v3ExactOutput {
			amountIn, amountOutMin = values[4].(*big.Int), values[3].(*big.Int)
			// exactOutput's packed path is encoded tokenOut -> tokenIn; present it
			// to callers in swap-execution order (in -> out).
			path = reverseAddresses(path)
		}
		return v3Decoded{path: path, amountIn: amountIn, amountOutMin: amountOutMin}, nil
	}
	return v3Decoded{}, errUnsupportedKind
}

// decodeV3Path unpacks the Uniswap V3 packed path format: 20-byte token, then
// repeating (3-byte fee, 20-byte token) segments.
func decodeV3Path(packed []byte) []ethcommon.Address {
	const addrLen, feeLen = 20, 3
	if len(packed) < addrLen {
		return nil
	}
	var out []ethcommon.Address
	out = append(out, ethcommon.BytesToAddress(packed[:addrLen]))
	rest := packed[addrLen:]
	for len(rest) >= feeLen+addrLen {
		rest = rest[feeLen:]
		out = append(out, ethcommon.BytesToAddress(rest[:addrLen]))
		rest = rest[addrLen:]
	}
	return out
}

func reverseAddresses(in []ethcommon.Address) []ethcommon.Address {
	out := make([]ethcommon.Address, len(in))
	for i, a := range in {
		out[len(in)-1-i] = a
	}
	return out
}

func decodeMulticall(data []byte) ([][]byte, error) {
	values, err := ethabi.Arguments{{Type: tBytesArr}}.Unpack(data)
	if err != nil {
		return nil, err
	}
	return values[0].([][]byte), nil
}

// decodeMulticallWithDeadline handles multicall(uint256 deadline, bytes[] data).
func decodeMulticallWithDeadline(data []byte) ([][]byte, error) {
	values, err := ethabi.Arguments{{Type: tUint256}, {Type: tBytesArr}}.Unpack(data)
	if err != nil {
		return nil, err
	}
	return values[1].([][]byte), nil
}

// decodeUniversalExecute handles the Universal Router entry points
// execute(bytes commands, bytes[] inputs[, uint256 deadline]). The inputs are
// command-encoded parameter blobs rather than selector-prefixed calldata, so
// recursing over them rarely matches; the call still surfaces the inner bytes
// for the subset of integrations that pass through sub-calls verbatim.
func decodeUniversalExecute(withDeadline bool, data []byte) ([][]byte, error) {
	args := ethabi.Arguments{{Type: tBytes}, {Type: tBytesArr}}
	if withDeadline {
		args = append(args, ethabi.Argument{Type: tUint256})
	}
	values, err := args.Unpack(data)
	if err != nil {
		return nil, err
	}
	return values[1].([][]byte), nil
}

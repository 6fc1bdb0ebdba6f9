package nature

import (
	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/angu-team/ethernity-detector-mev/mevtypes"
)

// selector is the first four bytes of calldata, used as the static dispatch
// key into the known Uniswap V2/V3 and ERC-20 function table.
type selector [4]byte

func sel(hexStr string) selector {
	var raw [4]byte
	b := ethcommon.FromHex(hexStr)
	copy(raw[:], b)
	return raw
}

// swapKind distinguishes how a V2-family selector's parameters are laid out,
// since the ETH-input variants carry no amountIn/amountInMax argument.
type swapKind int

const (
	kindExactInTokens swapKind = iota
	kindExactOutTokens
	kindExactInETH
	kindExactOutETH
)

type v2Selector struct {
	kind swapKind
	tags []mevtypes.Tag
}

var v2Selectors = map[selector]v2Selector{
	sel("0x38ed1739"): {kindExactInTokens, []mevtypes.Tag{mevtypes.TagSwapV2}},  // swapExactTokensForTokens
	sel("0x8803dbee"): {kindExactOutTokens, []mevtypes.Tag{mevtypes.TagSwapV2}}, // swapTokensForExactTokens
	sel("0x7ff36ab5"): {kindExactInETH, []mevtypes.Tag{mevtypes.TagSwapV2}},     // swapExactETHForTokens
	sel("0x4a25d94a"): {kindExactOutTokens, []mevtypes.Tag{mevtypes.TagSwapV2}}, // swapTokensForExactETH
	sel("0x18cbafe5"): {kindExactInTokens, []mevtypes.Tag{mevtypes.TagSwapV2}},  // swapExactTokensForETH
	sel("0xfb3bdb41"): {kindExactOutETH, []mevtypes.Tag{mevtypes.TagSwapV2}},    // swapETHForExactTokens
	// fee-on-transfer variants share the exact-in-tokens / exact-in-eth layout
	sel("0x5c11d795"): {kindExactInTokens, []mevtypes.Tag{mevtypes.TagSwapV2}}, // ...SupportingFeeOnTransferTokens
	sel("0xb6f9de95"): {kindExactInETH, []mevtypes.Tag{mevtypes.TagSwapV2}},    // swapExactETHForTokensSupportingFeeOnTransferTokens
	sel("0x791ac947"): {kindExactInTokens, []mevtypes.Tag{mevtypes.TagSwapV2}}, // swapExactTokensForETHSupportingFeeOnTransferTokens
}

type v3Kind int

const (
	v3ExactInputSingle v3Kind = iota
	v3ExactOutputSingle
	v3ExactInput
	v3ExactOutput
)

var v3Selectors = map[selector]v3Kind{
	sel("0x414bf389"): v3ExactInputSingle,  // exactInputSingle
	sel("0xdb3e2198"): v3ExactOutputSingle, // exactOutputSingle
	sel("0xc04b8d59"): v3ExactInput,        // exactInput
	sel("0xf28c0498"): v3ExactOutput,       // exactOutput
}

var (
	multicallSelector        = sel("0xac9650d8") // multicall(bytes[])
	multicallDeadlineSel     = sel("0x5ae401dc") // multicall(uint256,bytes[])
	universalRouterExecute   = sel("0x3593564c") // execute(bytes,bytes[],uint256)
	universalRouterExecuteNd = sel("0x24856bc3") // execute(bytes,bytes[])
)

var erc20Selectors = map[selector]mevtypes.Tag{
	sel("0xa9059cbb"): mevtypes.TagTransfer, // transfer(address,uint256)
	sel("0x23b872dd"): mevtypes.TagTransfer, // transferFrom(address,address,uint256)
	sel("0x095ea7b3"): mevtypes.TagApprove,  // approve(address,uint256)
}

func readSelector(input []byte) (selector, bool) {
	if len(input) < 4 {
		return selector{}, false
	}
	var s selector
	copy(s[:], input[:4])
	return s, true
}

func mustType(t string) ethabi.Type {
	ty, err := ethabi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

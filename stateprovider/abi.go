package stateprovider

import ethabi "github.com/ethereum/go-ethereum/accounts/abi"

var (
	getReservesSelector = []byte{0x09, 0x02, 0xf1, 0xac}
	token0Selector       = []byte{0x0d, 0xfe, 0x16, 0x81}
	token1Selector       = []byte{0xd2, 0x12, 0x20, 0xa7}
	slot0Selector        = []byte{0x38, 0x50, 0xc7, 0xbd}
	liquiditySelector    = []byte{0x1a, 0x68, 0x65, 0x02}
	feeSelector          = []byte{0xdd, 0xca, 0x3f, 0x43}
)

func mustType(t string) ethabi.Type {
	typ, err := ethabi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	tUint112  = mustType("uint112")
	tUint32   = mustType("uint32")
	tAddress  = mustType("address")
	tUint160  = mustType("uint160")
	tInt24    = mustType("int24")
	tUint16   = mustType("uint16")
	tUint8    = mustType("uint8")
	tBool     = mustType("bool")
	tUint128  = mustType("uint128")
	tUint24   = mustType("uint24")
)

var reservesOut = ethabi.Arguments{{Type: tUint112}, {Type: tUint112}, {Type: tUint32}}
var slot0Out = ethabi.Arguments{
	{Type: tUint160}, {Type: tInt24}, {Type: tUint16}, {Type: tUint16}, {Type: tUint16}, {Type: tUint8}, {Type: tBool},
}
var addressOut = ethabi.Arguments{{Type: tAddress}}
var uint128Out = ethabi.Arguments{{Type: tUint128}}
var uint24Out = ethabi.Arguments{{Type: tUint24}}

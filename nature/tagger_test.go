package nature

import (
	"math/big"
	"testing"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/angu-team/ethernity-detector-mev/mevtypes"
)

func encodeSwapExactTokensForTokens(t *testing.T, amountIn, amountOutMin *big.Int, path []ethcommon.Address, to ethcommon.Address) []byte {
	t.Helper()
	args := ethabi.Arguments{{Type: tUint256}, {Type: tUint256}, {Type: tAddressArr}, {Type: tAddress}, {Type: tUint256}}
	packed, err := args.Pack(amountIn, amountOutMin, path, to, big.NewInt(0))
	require.NoError(t, err)
	return append(ethcommon.FromHex("0x38ed1739"), packed...)
}

func TestTagDeterministic(t *testing.T) {
	router := ethcommon.HexToAddress("0x1000000000000000000000000000000000000b")
	path := []ethcommon.Address{
		ethcommon.HexToAddress("0x00000000000000000000000000000000000a01"),
		ethcommon.HexToAddress("0x00000000000000000000000000000000000b02"),
	}
	input := encodeSwapExactTokensForTokens(t, big.NewInt(1000), big.NewInt(900), path, router)
	tx := mevtypes.PendingTx{Hash: ethcommon.HexToHash("0x01"), To: router, Input: input}

	a := Tag(tx, nil)
	b := Tag(tx, nil)
	require.Equal(t, a.GroupKey, b.GroupKey)
	require.ElementsMatch(t, a.TokenPath, b.TokenPath)
	require.True(t, a.HasTag(mevtypes.TagSwapV2))
}

func TestTagV2SwapRoundTrip(t *testing.T) {
	router := ethcommon.HexToAddress("0x200000000000000000000000000000000000b")
	path := []ethcommon.Address{
		ethcommon.HexToAddress("0x000000000000000000000000000000000aaaa1"),
		ethcommon.HexToAddress("0x000000000000000000000000000000000bbbb2"),
	}
	input := encodeSwapExactTokensForTokens(t, big.NewInt(1e18), big.NewInt(1), path, router)
	tx := mevtypes.PendingTx{Hash: ethcommon.HexToHash("0x02"), To: router, Input: input}

	tagged := Tag(tx, nil)
	require.True(t, tagged.HasTag(mevtypes.TagSwapV2))
	require.Equal(t, path, tagged.TokenPath)
	_, hasTarget := tagged.Targets[router]
	require.True(t, hasTarget)
}

func TestTagV3PackedPath(t *testing.T) {
	router := ethcommon.HexToAddress("0x300000000000000000000000000000000000b")
	t1 := ethcommon.HexToAddress("0x0000000000000000000000000000000001111a")
	t2 := ethcommon.HexToAddress("0x0000000000000000000000000000000002222b")
	t3 := ethcommon.HexToAddress("0x0000000000000000000000000000000003333c")

	var packed []byte
	packed = append(packed, t1.Bytes()...)
	packed = append(packed, 0x00, 0x01, 0xf4) // fee 500 (0.05%)
	packed = append(packed, t2.Bytes()...)
	packed = append(packed, 0x00, 0x0b, 0xb8) // fee 3000 (0.3%)
	packed = append(packed, t3.Bytes()...)

	args := ethabi.Arguments{{Type: tBytes}, {Type: tAddress}, {Type: tUint256}, {Type: tUint256}, {Type: tUint256}}
	body, err := args.Pack(packed, router, big.NewInt(0), big.NewInt(1e18), big.NewInt(1))
	require.NoError(t, err)
	input := append(ethcommon.FromHex("0xc04b8d59"), body...)

	tx := mevtypes.PendingTx{Hash: ethcommon.HexToHash("0x03"), To: router, Input: input}
	tagged := Tag(tx, nil)
	require.True(t, tagged.HasTag(mevtypes.TagSwapV3))
	require.Equal(t, []ethcommon.Address{t1, t2, t3}, tagged.TokenPath)
}

func TestTagCalldataBoundaries(t *testing.T) {
	for n := 0; n <= 3; n++ {
		input := make([]byte, n)
		tx := mevtypes.PendingTx{Hash: ethcommon.HexToHash("0x04"), Input: input}
		require.NotPanics(t, func() {
			tagged := Tag(tx, nil)
			require.True(t, tagged.HasTag(mevtypes.TagUnknown))
		})
	}
}

func TestTagMulticallDecomposition(t *testing.T) {
	router := ethcommon.HexToAddress("0x400000000000000000000000000000000000b")
	pathA := []ethcommon.Address{
		ethcommon.HexToAddress("0x000000000000000000000000000000000a0001"),
		ethcommon.HexToAddress("0x000000000000000000000000000000000a0002"),
	}
	pathB := []ethcommon.Address{
		ethcommon.HexToAddress("0x000000000000000000000000000000000a0002"),
		ethcommon.HexToAddress("0x000000000000000000000000000000000a0003"),
	}
	callA := encodeSwapExactTokensForTokens(t, big.NewInt(1), big.NewInt(1), pathA, router)
	callB := encodeSwapExactTokensForTokens(t, big.NewInt(1), big.NewInt(1), pathB, router)

	args := ethabi.Arguments{{Type: tBytesArr}}
	packed, err := args.Pack([][]byte{callA, callB})
	require.NoError(t, err)
	input := append(ethcommon.FromHex("0xac9650d8"), packed...)

	tx := mevtypes.PendingTx{Hash: ethcommon.HexToHash("0x05"), To: router, Input: input}
	tagged := Tag(tx, nil)

	// tags are exactly the inner calls' union: the wrapper contributes nothing
	require.Equal(t, map[mevtypes.Tag]struct{}{mevtypes.TagSwapV2: {}}, tagged.Tags)
	require.Equal(t, 1, len(tagged.Targets))
	_, has := tagged.Targets[router]
	require.True(t, has)
	require.Equal(t, []ethcommon.Address{pathA[0], pathA[1], pathB[1]}, tagged.TokenPath)
}

func TestTagMulticallUnrecognizedInnerCalls(t *testing.T) {
	router := ethcommon.HexToAddress("0x500000000000000000000000000000000000b")

	args := ethabi.Arguments{{Type: tBytesArr}}
	packed, err := args.Pack([][]byte{ethcommon.FromHex("0xdeadbeef00000000")})
	require.NoError(t, err)
	input := append(ethcommon.FromHex("0xac9650d8"), packed...)

	tx := mevtypes.PendingTx{Hash: ethcommon.HexToHash("0x07"), To: router, Input: input}
	tagged := Tag(tx, nil)
	require.Equal(t, map[mevtypes.Tag]struct{}{mevtypes.TagMulticall: {}}, tagged.Tags)
	require.Empty(t, tagged.TokenPath)
}

func TestTagProxyFallback(t *testing.T) {
	target := ethcommon.HexToAddress("0x0000000000000000000000000000000000beef")
	delegate := ethcommon.HexToAddress("0x000000000000000000000000000000000decaf")
	code := append(append(append([]byte{}, minimalProxyPrefix...), delegate.Bytes()...), minimalProxySuffix...)

	tx := mevtypes.PendingTx{Hash: ethcommon.HexToHash("0x06"), To: target, Input: ethcommon.FromHex("0xdeadbeef")}
	tagged := Tag(tx, code)
	require.True(t, tagged.HasTag(mevtypes.TagProxyCall))
	require.Empty(t, tagged.TokenPath)
}

func TestGroupKeyCollisionAndDivergence(t *testing.T) {
	a := []ethcommon.Address{ethcommon.HexToAddress("0x1"), ethcommon.HexToAddress("0x2")}
	b := []ethcommon.Address{ethcommon.HexToAddress("0x2"), ethcommon.HexToAddress("0x1")}
	targets := []ethcommon.Address{ethcommon.HexToAddress("0x3")}

	k1 := GroupKey(a, targets)
	k2 := GroupKey(b, targets)
	require.NotEqual(t, k1, k2, "GroupKey is order-sensitive; callers must sort before hashing")

	sortedA := mevtypes.TaggedTx{TokenPath: a}
	sortedB := mevtypes.TaggedTx{TokenPath: b}
	require.Equal(t, sortedA.SortedTokenPath(), sortedB.SortedTokenPath())
}

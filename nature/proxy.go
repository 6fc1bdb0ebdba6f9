package nature

import "bytes"

// minimalProxyPrefix is the fixed EIP-1167 preamble that precedes the
// delegate address in a minimal proxy's runtime bytecode.
var minimalProxyPrefix = []byte{
	0x36, 0x3d, 0x3d, 0x37, 0x3d, 0x3d, 0x3d, 0x36, 0x3d, 0x73,
}

// minimalProxySuffix follows the 20-byte delegate address.
var minimalProxySuffix = []byte{
	0x5a, 0xf4, 0x3d, 0x82, 0x80, 0x3e, 0x90, 0x3d, 0x91, 0x60, 0x2b, 0x57, 0xfd, 0x5b, 0xf3,
}

const delegatecallOpcode = 0xf4

// isMinimalProxy reports whether code matches the EIP-1167 template exactly:
// prefix, 20-byte address, suffix.
func isMinimalProxy(code []byte) bool {
	const total = 10 + 20 + 15
	if len(code) != total {
		return false
	}
	return bytes.Equal(code[:10], minimalProxyPrefix) && bytes.Equal(code[30:], minimalProxySuffix)
}

// looksLikeProxy applies a weaker heuristic for transparent/UUPS-style
// proxies: presence of a DELEGATECALL opcode anywhere in a short bytecode
// body. This is intentionally coarse — the spec only asks for a heuristic,
// not bytecode disassembly.
func looksLikeProxy(code []byte) bool {
	if isMinimalProxy(code) {
		return true
	}
	if len(code) == 0 || len(code) > 4096 {
		return false
	}
	for _, b := range code {
		if b == delegatecallOpcode {
			return true
		}
	}
	return false
}

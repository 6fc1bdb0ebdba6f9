package snapshot

import (
	"encoding/binary"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/angu-team/ethernity-detector-mev/mevtypes"
)

// schemaV1 is the only payload codec version currently understood. Bumping
// this requires a migration path in decodePayload before it can be read.
const schemaV1 byte = 0x01

var errUnknownSchema = errors.New("snapshot: unknown payload schema version")

// encodePayload serializes a Snapshot's pool-kind-specific fields into the
// stable, schema-versioned byte layout persisted in the snapshots table.
// The (contract, block_number, block_hash) fields live in the row key and
// block_index, not in the payload itself.
func encodePayload(s mevtypes.Snapshot) []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, schemaV1)
	buf = append(buf, byte(s.Kind))
	buf = append(buf, s.Token0.Bytes()...)
	buf = append(buf, s.Token1.Bytes()...)
	buf = appendUint32(buf, s.FeeBps)

	switch s.Kind {
	case mevtypes.PoolV2:
		buf = appendBigInt(buf, s.Reserve0)
		buf = appendBigInt(buf, s.Reserve1)
	case mevtypes.PoolV3:
		buf = appendBigInt(buf, s.SqrtPriceX96)
		buf = appendInt32(buf, s.Tick)
		buf = appendBigInt(buf, s.Liquidity)
	}
	return buf
}

var errTruncatedPayload = errors.New("snapshot: truncated payload")

func decodePayload(pool ethcommon.Address, block uint64, blockHash ethcommon.Hash, data []byte) (mevtypes.Snapshot, error) {
	out := mevtypes.Snapshot{Pool: pool, BlockNumber: block, BlockHash: blockHash}
	if len(data) < 2 {
		return out, errors.Wrap(errUnknownSchema, "payload too short")
	}
	if data[0] != schemaV1 {
		return out, errUnknownSchema
	}
	out.Kind = mevtypes.PoolKind(data[1])
	rd := &reader{rest: data[2:]}

	out.Token0 = rd.address()
	out.Token1 = rd.address()
	out.FeeBps = rd.uint32()

	switch out.Kind {
	case mevtypes.PoolV2:
		out.Reserve0 = rd.bigInt()
		out.Reserve1 = rd.bigInt()
	case mevtypes.PoolV3:
		out.SqrtPriceX96 = rd.bigInt()
		out.Tick = rd.int32()
		out.Liquidity = rd.bigInt()
	}
	if rd.err != nil {
		return mevtypes.Snapshot{Pool: pool, BlockNumber: block, BlockHash: blockHash}, rd.err
	}
	return out, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendInt32(buf []byte, v int32) []byte {
	return appendUint32(buf, uint32(v))
}

func appendBigInt(buf []byte, v *big.Int) []byte {
	if v == nil {
		v = new(big.Int)
	}
	b := v.Bytes()
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// reader cursors through a payload, latching the first bounds error so a
// corrupt row surfaces as errTruncatedPayload instead of a panic.
type reader struct {
	rest []byte
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil || len(r.rest) < n {
		r.err = errTruncatedPayload
		return nil
	}
	out := r.rest[:n]
	r.rest = r.rest[n:]
	return out
}

func (r *reader) address() ethcommon.Address {
	var a ethcommon.Address
	copy(a[:], r.take(20))
	return a
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) int32() int32 {
	return int32(r.uint32())
}

func (r *reader) bigInt() *big.Int {
	n := r.uint32()
	return new(big.Int).SetBytes(r.take(int(n)))
}

// Package stateprovider implements StateProvider: a read-only facade over
// one or more Ethereum JSON-RPC endpoints exposing the narrow read surface
// needed for pricing, backed by a bounded per-method LRU cache.
package stateprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/angu-team/ethernity-detector-mev/mevtypes"
)

func marshalToJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Config configures a Provider.
type Config struct {
	Endpoints  []string
	MaxRetries int
	CallTimeout time.Duration
}

// Provider is the StateProvider implementation.
type Provider struct {
	pool        *pool
	log         zerolog.Logger
	callTimeout time.Duration

	reservesCache *methodCache
	slot0Cache    *methodCache
	codeCache     *methodCache
	headerCache   *methodCache

	kindMu sync.Mutex
	kind   map[ethcommon.Address]mevtypes.PoolKind

	tokensMu sync.Mutex
	tokens   map[ethcommon.Address][2]ethcommon.Address
}

// New dials every configured endpoint eagerly, matching the "pass a valid
// node" posture of the original CLI entrypoint.
func New(cfg Config, log zerolog.Logger) (*Provider, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Second
	}
	p, err := newPool(cfg.Endpoints, cfg.MaxRetries, log)
	if err != nil {
		return nil, err
	}
	return &Provider{
		pool:          p,
		log:           log.With().Str("component", "state_provider").Logger(),
		callTimeout:   cfg.CallTimeout,
		reservesCache: newMethodCache(),
		slot0Cache:    newMethodCache(),
		codeCache:     newMethodCache(),
		headerCache:   newMethodCache(),
		kind:          map[ethcommon.Address]mevtypes.PoolKind{},
		tokens:        map[ethcommon.Address][2]ethcommon.Address{},
	}, nil
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.callTimeout)
}

// SetMaxRetries retunes the per-call retry cap, driven by the Supervisor's
// per-state effects table.
func (p *Provider) SetMaxRetries(n int) {
	if n > 0 {
		p.pool.maxRetries.Store(int32(n))
	}
}

func (p *Provider) ethCall(ctx context.Context, to ethcommon.Address, data []byte, block uint64) ([]byte, error) {
	var out []byte
	err := p.pool.call(ctx, func(ctx context.Context, ep *endpoint) error {
		blockNumber := new(big.Int).SetUint64(block)
		res, err := ep.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, blockNumber)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// Reserves implements reserves(pool, block_number).
func (p *Provider) Reserves(ctx context.Context, pool ethcommon.Address, block uint64) (reserve0, reserve1 *big.Int, feeBps uint32, err error) {
	key := fmt.Sprintf("reserves:%s:%d", pool.Hex(), block)
	if v, ok := p.reservesCache.get(key); ok {
		r := v.(reservesResult)
		return r.r0, r.r1, r.fee, nil
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	raw, err := p.ethCall(ctx, pool, getReservesSelector, block)
	if err != nil {
		return nil, nil, 0, err
	}
	vals, err := reservesOut.Unpack(raw)
	if err != nil || len(vals) != 3 {
		return nil, nil, 0, nonRetryable(errors.Wrap(err, "decode getReserves"))
	}
	reserve0 = vals[0].(*big.Int)
	reserve1 = vals[1].(*big.Int)
	feeBps = 30 // Uniswap V2 canonical 0.3%; pools using forks with different fees are out of scope.

	p.reservesCache.put(key, block, reservesResult{r0: reserve0, r1: reserve1, fee: feeBps})
	return reserve0, reserve1, feeBps, nil
}

type reservesResult struct {
	r0, r1 *big.Int
	fee    uint32
}

// Slot0AndLiquidity implements slot0_and_liquidity(pool, block_number).
func (p *Provider) Slot0AndLiquidity(ctx context.Context, pool ethcommon.Address, block uint64) (sqrtPriceX96 *big.Int, tick int32, liquidity *big.Int, feeBps uint32, err error) {
	key := fmt.Sprintf("slot0:%s:%d", pool.Hex(), block)
	if v, ok := p.slot0Cache.get(key); ok {
		r := v.(slot0Result)
		return r.sqrtPriceX96, r.tick, r.liquidity, r.fee, nil
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	rawSlot0, err := p.ethCall(ctx, pool, slot0Selector, block)
	if err != nil {
		return nil, 0, nil, 0, err
	}
	slot0Vals, err := slot0Out.Unpack(rawSlot0)
	if err != nil || len(slot0Vals) != 7 {
		return nil, 0, nil, 0, nonRetryable(errors.Wrap(err, "decode slot0"))
	}

	rawLiq, err := p.ethCall(ctx, pool, liquiditySelector, block)
	if err != nil {
		return nil, 0, nil, 0, err
	}
	liqVals, err := uint128Out.Unpack(rawLiq)
	if err != nil || len(liqVals) != 1 {
		return nil, 0, nil, 0, nonRetryable(errors.Wrap(err, "decode liquidity"))
	}

	rawFee, err := p.ethCall(ctx, pool, feeSelector, block)
	var feeBpsVal uint32
	if err == nil {
		if feeVals, uerr := uint24Out.Unpack(rawFee); uerr == nil && len(feeVals) == 1 {
			// fee() is in hundredths of a basis point (3000 = 0.3%)
			feeBpsVal = uint32(feeVals[0].(*big.Int).Uint64() / 100)
		}
	}

	sqrtPriceX96 = slot0Vals[0].(*big.Int)
	tick = int32(slot0Vals[1].(*big.Int).Int64())
	liquidity = liqVals[0].(*big.Int)
	feeBps = feeBpsVal

	p.slot0Cache.put(key, block, slot0Result{sqrtPriceX96: sqrtPriceX96, tick: tick, liquidity: liquidity, fee: feeBps})
	return sqrtPriceX96, tick, liquidity, feeBps, nil
}

type slot0Result struct {
	sqrtPriceX96 *big.Int
	tick         int32
	liquidity    *big.Int
	fee          uint32
}

// PoolKind implements pool_kind(pool), memoized for the process lifetime.
func (p *Provider) PoolKind(ctx context.Context, pool ethcommon.Address, block uint64) mevtypes.PoolKind {
	p.kindMu.Lock()
	if k, ok := p.kind[pool]; ok {
		p.kindMu.Unlock()
		return k
	}
	p.kindMu.Unlock()

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	kind := mevtypes.PoolUnknown
	if _, err := p.ethCall(ctx, pool, slot0Selector, block); err == nil {
		kind = mevtypes.PoolV3
	} else if _, _, _, err := p.Reserves(ctx, pool, block); err == nil {
		kind = mevtypes.PoolV2
	}

	p.kindMu.Lock()
	p.kind[pool] = kind
	p.kindMu.Unlock()
	return kind
}

// Tokens returns the pool's token0/token1 pair. Both V2 and V3 pools expose
// the same two accessors, and the pair is immutable for a pool's lifetime, so
// the result is memoized per address like PoolKind.
func (p *Provider) Tokens(ctx context.Context, pool ethcommon.Address, block uint64) (token0, token1 ethcommon.Address, err error) {
	p.tokensMu.Lock()
	if pair, ok := p.tokens[pool]; ok {
		p.tokensMu.Unlock()
		return pair[0], pair[1], nil
	}
	p.tokensMu.Unlock()

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	raw0, err := p.ethCall(ctx, pool, token0Selector, block)
	if err != nil {
		return ethcommon.Address{}, ethcommon.Address{}, err
	}
	vals0, err := addressOut.Unpack(raw0)
	if err != nil || len(vals0) != 1 {
		return ethcommon.Address{}, ethcommon.Address{}, nonRetryable(errors.Wrap(err, "decode token0"))
	}
	raw1, err := p.ethCall(ctx, pool, token1Selector, block)
	if err != nil {
		return ethcommon.Address{}, ethcommon.Address{}, err
	}
	vals1, err := addressOut.Unpack(raw1)
	if err != nil || len(vals1) != 1 {
		return ethcommon.Address{}, ethcommon.Address{}, nonRetryable(errors.Wrap(err, "decode token1"))
	}

	token0 = vals0[0].(ethcommon.Address)
	token1 = vals1[0].(ethcommon.Address)
	p.tokensMu.Lock()
	p.tokens[pool] = [2]ethcommon.Address{token0, token1}
	p.tokensMu.Unlock()
	return token0, token1, nil
}

// Code implements code(address).
func (p *Provider) Code(ctx context.Context, addr ethcommon.Address, block uint64) ([]byte, error) {
	key := fmt.Sprintf("code:%s:%d", addr.Hex(), block)
	if v, ok := p.codeCache.get(key); ok {
		return v.([]byte), nil
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	var out []byte
	err := p.pool.call(ctx, func(ctx context.Context, ep *endpoint) error {
		code, err := ep.eth.CodeAt(ctx, addr, new(big.Int).SetUint64(block))
		if err != nil {
			return err
		}
		out = code
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.codeCache.put(key, block, out)
	return out, nil
}

// BlockHeader implements block_header(block_number), parsed out of the raw
// JSON-RPC response with gjson rather than a full struct unmarshal, since
// only three fields are needed.
func (p *Provider) BlockHeader(ctx context.Context, block uint64) (hash, parentHash ethcommon.Hash, timestamp uint64, err error) {
	key := fmt.Sprintf("header:%d", block)
	if v, ok := p.headerCache.get(key); ok {
		h := v.(headerResult)
		return h.hash, h.parentHash, h.timestamp, nil
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var raw string
	callErr := p.pool.call(ctx, func(ctx context.Context, ep *endpoint) error {
		var result map[string]any
		if err := ep.raw.CallContext(ctx, &result, "eth_getBlockByNumber", fmt.Sprintf("0x%x", block), false); err != nil {
			return err
		}
		encoded, err := marshalToJSON(result)
		if err != nil {
			return nonRetryable(err)
		}
		raw = encoded
		return nil
	})
	if callErr != nil {
		return ethcommon.Hash{}, ethcommon.Hash{}, 0, callErr
	}

	parsed := gjson.Parse(raw)
	if !parsed.Get("hash").Exists() {
		return ethcommon.Hash{}, ethcommon.Hash{}, 0, nonRetryable(errors.New("block_header: missing hash field"))
	}
	hash = ethcommon.HexToHash(parsed.Get("hash").String())
	parentHash = ethcommon.HexToHash(parsed.Get("parentHash").String())
	timestamp = parseHexUint(parsed.Get("timestamp").String())

	p.headerCache.put(key, block, headerResult{hash: hash, parentHash: parentHash, timestamp: timestamp})
	return hash, parentHash, timestamp, nil
}

type headerResult struct {
	hash, parentHash ethcommon.Hash
	timestamp        uint64
}

// EvictBlock drops every cached entry produced at or after block from every
// method cache, mirroring StateProvider's reorg-aware eviction contract.
func (p *Provider) EvictBlock(block uint64) {
	p.reservesCache.evictFrom(block)
	p.slot0Cache.evictFrom(block)
	p.codeCache.evictFrom(block)
	p.headerCache.evictFrom(block)
}

func parseHexUint(s string) uint64 {
	v := new(big.Int)
	if len(s) > 2 && s[:2] == "0x" {
		v.SetString(s[2:], 16)
	}
	return v.Uint64()
}

// Watch the mempool of a running Ethereum node and report candidate MEV
// opportunities (front-running, back-running, sandwich set-ups) as they
// form, without ever broadcasting or simulating a transaction.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/angu-team/ethernity-detector-mev/aggregator"
	"github.com/angu-team/ethernity-detector-mev/impact"
	"github.com/angu-team/ethernity-detector-mev/mevtypes"
	"github.com/angu-team/ethernity-detector-mev/nature"
	"github.com/angu-team/ethernity-detector-mev/snapshot"
	"github.com/angu-team/ethernity-detector-mev/stateprovider"
	"github.com/angu-team/ethernity-detector-mev/supervisor"
)

func main() {
	ethURI := flag.String("eth", os.Getenv("ETH_NODE"), "Ethereum node URI (ws:// endpoint for pending-tx subscription)")
	fallbackURIs := flag.String("fallback-eth", os.Getenv("ETH_NODE_FALLBACKS"), "comma-separated fallback RPC endpoints for state reads")
	snapshotPath := flag.String("snapshot-path", "ethernity-snapshots.db", "path to the sqlite snapshot store (':memory:' for ephemeral)")
	retainBlocks := flag.Uint64("retain-blocks", 64, "how many trailing blocks of snapshots to retain on compaction")
	blockTimeMs := flag.Int("block-time-ms", 12000, "expected block time, used to scale bucket TTL and supervisor effects")
	bucketTTLMs := flag.Int("bucket-ttl-ms", 0, "bucket TTL override (0 = auto-scale from block time)")
	minVictims := flag.Int("min-victims", 1, "minimum bucket size before emission")
	minAgeMs := flag.Int("min-age-ms", 100, "minimum bucket age before emission")
	maxMembers := flag.Int("max-members-per-bucket", 64, "cap on tracked members per bucket before overflow")
	burstThreshold := flag.Float64("burst-threshold", 500, "ingress tx/s rate above which the supervisor enters burst")
	emitCapacity := flag.Int("emit-capacity", 1024, "bound on queued GroupReady events before coalescing kicks in")
	weightA := flag.Float64("score-weight-a", 4, "opportunity score weight on aggregate size S/D")
	weightB := flag.Float64("score-weight-b", 6, "opportunity score weight on slippage above baseline")
	weightC := flag.Float64("score-weight-c", 2, "opportunity score weight on convexity")
	slippageBaseline := flag.Float64("slippage-baseline", 0.3, "initial tolerated-slippage baseline, percent")
	rpcTimeoutMs := flag.Int("rpc-timeout-ms", 2000, "per-call RPC timeout")
	rpcMaxRetries := flag.Int("rpc-max-retries", 3, "RPC retry cap across fallback endpoints")
	gasCostFloor := flag.String("gas-cost-floor", "0", "minimum expected_profit_backrun, in token_in base units, for viability")
	verbose := flag.Bool("verbose", false, "debug-level logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Str("component", "main").Logger()

	if *ethURI == "" {
		log.Fatal().Msg("pass a valid eth node with -eth argument or ETH_NODE env var")
	}

	gasFloor, ok := new(big.Int).SetString(*gasCostFloor, 10)
	if !ok {
		log.Fatal().Str("value", *gasCostFloor).Msg("invalid -gas-cost-floor")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rawClient, err := rpc.DialContext(ctx, *ethURI)
	if err != nil {
		log.Fatal().Err(err).Msg("dial eth node")
	}
	ethClient := ethclient.NewClient(rawClient)

	endpoints := []string{*ethURI}
	if *fallbackURIs != "" {
		endpoints = append(endpoints, strings.Split(*fallbackURIs, ",")...)
	}
	provider, err := stateprovider.New(stateprovider.Config{
		Endpoints:   endpoints,
		MaxRetries:  *rpcMaxRetries,
		CallTimeout: time.Duration(*rpcTimeoutMs) * time.Millisecond,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build state provider")
	}

	store, err := snapshot.Open(*snapshotPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open snapshot store")
	}
	defer store.Close()

	blockTime := time.Duration(*blockTimeMs) * time.Millisecond

	aggCfg := aggregator.DefaultConfig(blockTime)
	aggCfg.MinVictims = *minVictims
	aggCfg.MinAge = time.Duration(*minAgeMs) * time.Millisecond
	aggCfg.MaxMembersPerBucket = *maxMembers
	if *bucketTTLMs > 0 {
		aggCfg.TTL = time.Duration(*bucketTTLMs) * time.Millisecond
	}
	agg := aggregator.New(aggCfg)

	impactCfg := impact.DefaultConfig()
	impactCfg.GasCostFloor = gasFloor
	impactCfg.WeightA = *weightA
	impactCfg.WeightB = *weightB
	impactCfg.WeightC = *weightC
	impactCfg.SlippageBaseline = *slippageBaseline
	evaluator := impact.New(impactCfg, log)

	supCfg := supervisor.DefaultConfig(blockTime)
	supCfg.BurstThresholdTxPerSec = *burstThreshold
	sup := supervisor.New(supCfg, agg, log)

	d := &detector{
		log:           log,
		eth:           ethClient,
		raw:           rawClient,
		provider:      provider,
		store:         store,
		agg:           agg,
		evaluator:     evaluator,
		sup:           sup,
		retain:        *retainBlocks,
		newTx:         make(chan time.Time, 1),
		blockAdvanced: make(chan supervisor.BlockEvent, 1),
		tick:          make(chan time.Time, 1),
		shutdown:      make(chan struct{}),
		emit:          make(chan mevtypes.GroupReady, *emitCapacity),
	}

	headNumber, err := ethClient.BlockNumber(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("read chain head")
	}
	headHash, headParent, _, err := provider.BlockHeader(ctx, headNumber)
	if err != nil {
		log.Fatal().Err(err).Uint64("block", headNumber).Msg("read chain head header")
	}
	d.head.Store(&mevtypes.BlockRef{Number: headNumber, Hash: headHash})
	if err := store.ObserveBlock(ctx, headNumber, headHash, headParent); err != nil {
		log.Warn().Err(err).Msg("seed block index")
	}

	events := supervisor.Events{
		NewTx:         d.newTx,
		BlockAdvanced: d.blockAdvanced,
		Tick:          d.tick,
		Shutdown:      d.shutdown,
	}

	go d.emitLoop(ctx)
	go d.watchBlocks(ctx)
	go d.runTicker(ctx)
	go d.watchPendingTransactions(ctx)

	sup.Run(ctx, events)
	log.Info().Msg("shutting down")
}

type detector struct {
	log       zerolog.Logger
	eth       *ethclient.Client
	raw       *rpc.Client
	provider  *stateprovider.Provider
	store     *snapshot.Store
	agg       *aggregator.Aggregator
	evaluator *impact.Evaluator
	sup       *supervisor.Supervisor
	retain    uint64

	newTx         chan time.Time
	blockAdvanced chan supervisor.BlockEvent
	tick          chan time.Time
	shutdown      chan struct{}
	emit          chan mevtypes.GroupReady

	head atomic.Pointer[mevtypes.BlockRef]
}

func (d *detector) headRef() mevtypes.BlockRef {
	if ref := d.head.Load(); ref != nil {
		return *ref
	}
	return mevtypes.BlockRef{}
}

// watchPendingTransactions subscribes to the node's pending-transaction feed
// and tags and groups every swap-shaped transaction it sees, never
// broadcasting or simulating anything itself.
func (d *detector) watchPendingTransactions(ctx context.Context) {
	hashes := make(chan ethcommon.Hash, 1024)
	sub, err := d.raw.EthSubscribe(ctx, hashes, "newPendingTransactions")
	if err != nil {
		d.log.Error().Err(err).Msg("subscribe to pending transactions")
		return
	}
	defer sub.Unsubscribe()

	for {
		select {
		case err := <-sub.Err():
			d.log.Error().Err(err).Msg("pending transaction subscription error")
			return
		case hash := <-hashes:
			d.handlePendingHash(ctx, hash)
		case <-ctx.Done():
			return
		}
	}
}

func (d *detector) handlePendingHash(ctx context.Context, hash ethcommon.Hash) {
	now := time.Now()
	select {
	case d.newTx <- now:
	default:
	}

	tx, isPending, err := d.eth.TransactionByHash(ctx, hash)
	if err != nil || tx == nil {
		d.sup.RecordRPCOutcome(now, err == nil)
		return
	}
	d.sup.RecordRPCOutcome(now, true)
	if !isPending {
		return
	}

	to := ethcommon.Address{}
	if tx.To() != nil {
		to = *tx.To()
	}
	sender, err := senderOf(tx)
	if err != nil {
		return
	}

	head := d.headRef()
	code, err := d.provider.Code(ctx, to, head.Number)
	if err != nil {
		code = nil
	}

	pending := mevtypes.PendingTx{
		Hash:       hash,
		From:       sender,
		To:         to,
		Input:      tx.Data(),
		Value:      tx.Value(),
		Gas:        tx.Gas(),
		GasPrice:   tx.GasPrice(),
		GasTipCap:  tx.GasTipCap(),
		ObservedAt: now,
	}
	tagged := nature.Tag(pending, code)
	if tagged.HasTag(mevtypes.TagUnknown) && d.sup.Effects().DropUnknownEarly {
		// burst-only shedding; in Normal/Recovery the Aggregator drops
		// target-less transactions itself.
		return
	}

	if ready := d.agg.Ingest(tagged, now); ready != nil {
		// promotion means a snapshot request: warm the cache and the store
		// so the bucket's eventual Tick-driven evaluation reads hot state.
		go d.prefetch(ctx, ready.Bucket)
	}
}

// senderOf recovers the sender of a pending transaction using the signature
// embedded in it, without any RPC round-trip.
func senderOf(tx *types.Transaction) (ethcommon.Address, error) {
	signer := types.LatestSignerForChainID(tx.ChainId())
	return types.Sender(signer, tx)
}

func (d *detector) prefetch(ctx context.Context, b *aggregator.Bucket) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.sup.Effects().EvaluatorConcurrency)
	for _, pool := range b.Targets {
		pool := pool
		g.Go(func() error {
			if _, err := d.snapshotFor(gctx, pool); err != nil {
				d.log.Debug().Err(err).Str("pool", pool.Hex()).Msg("snapshot prefetch failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// evaluate fetches every target pool's snapshot concurrently, bounded by the
// Supervisor's current evaluator-concurrency effect, scores the bucket and
// queues the result for emission. The evaluation deadline runs from the
// moment the bucket is handed over, not from bucket creation.
func (d *detector) evaluate(ctx context.Context, b *aggregator.Bucket) {
	startedAt := time.Now()
	var (
		mu        sync.Mutex
		snapshots = map[ethcommon.Address]mevtypes.Snapshot{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.sup.Effects().EvaluatorConcurrency)
	for _, pool := range b.Targets {
		pool := pool
		g.Go(func() error {
			snap, err := d.snapshotFor(gctx, pool)
			if err != nil {
				d.log.Debug().Err(err).Str("pool", pool.Hex()).Msg("snapshot unavailable")
				return nil
			}
			mu.Lock()
			snapshots[pool] = snap
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(snapshots) == 0 && len(b.Targets) > 0 {
		d.log.Debug().Str("group", b.GroupKey.Hex()).Msg("no usable snapshots, dropping bucket")
		return
	}

	result := d.evaluator.Evaluate(impact.Input{
		GroupKey:  b.GroupKey,
		Tokens:    b.Tokens,
		Targets:   b.Targets,
		Members:   b.Members,
		Snapshots: snapshots,
		Block:     d.headRef(),
	}, startedAt)

	d.emitGroup(result)
}

// emitGroup queues a GroupReady on the bounded outbound channel. When the
// channel is full the oldest queued group is replaced rather than blocking
// the evaluation path.
func (d *detector) emitGroup(g mevtypes.GroupReady) {
	select {
	case d.emit <- g:
		return
	default:
	}
	select {
	case dropped := <-d.emit:
		d.log.Debug().Str("group", dropped.GroupID).Msg("emit channel full, coalescing")
	default:
	}
	select {
	case d.emit <- g:
	default:
	}
}

func (d *detector) emitLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case g := <-d.emit:
			payload, err := json.Marshal(g)
			if err != nil {
				d.log.Error().Err(err).Str("group", g.GroupID).Msg("encode group")
				continue
			}
			d.log.Info().RawJSON("group_ready", payload).Msg("mev_opportunity")
		}
	}
}

func (d *detector) snapshotFor(ctx context.Context, pool ethcommon.Address) (mevtypes.Snapshot, error) {
	head := d.headRef()
	if cached, err := d.store.Get(ctx, pool, head.Number); err == nil {
		return cached, nil
	}

	kind := d.provider.PoolKind(ctx, pool, head.Number)
	if kind == mevtypes.PoolUnknown {
		return mevtypes.Snapshot{}, fmt.Errorf("pool %s: unrecognized kind", pool.Hex())
	}

	token0, token1, err := d.provider.Tokens(ctx, pool, head.Number)
	if err != nil {
		return mevtypes.Snapshot{}, err
	}

	snap := mevtypes.Snapshot{
		Pool:        pool,
		BlockNumber: head.Number,
		BlockHash:   head.Hash,
		Kind:        kind,
		Token0:      token0,
		Token1:      token1,
	}
	switch kind {
	case mevtypes.PoolV2:
		reserve0, reserve1, fee, err := d.provider.Reserves(ctx, pool, head.Number)
		if err != nil {
			return mevtypes.Snapshot{}, err
		}
		snap.Reserve0, snap.Reserve1, snap.FeeBps = reserve0, reserve1, fee
	case mevtypes.PoolV3:
		sqrtPriceX96, tick, liquidity, fee, err := d.provider.Slot0AndLiquidity(ctx, pool, head.Number)
		if err != nil {
			return mevtypes.Snapshot{}, err
		}
		snap.SqrtPriceX96, snap.Tick, snap.Liquidity, snap.FeeBps = sqrtPriceX96, tick, liquidity, fee
	}
	d.persist(ctx, snap)
	return snap, nil
}

func (d *detector) persist(ctx context.Context, snap mevtypes.Snapshot) {
	if !d.sup.Effects().SnapshotWritesEnabled {
		return
	}
	err := d.store.Put(ctx, snap)
	switch {
	case err == nil:
		d.sup.RecordSnapshotRoundTrip(time.Now(), true)
	case err == snapshot.Stale:
		// canonical hash moved underneath us; not a storage failure
	default:
		d.sup.RecordSnapshotRoundTrip(time.Now(), false)
		d.sup.RecordStorageError(time.Now())
	}
}

// watchBlocks tracks the canonical chain head, feeding ObserveBlock's
// reorg-detection protocol and driving the Supervisor's BlockAdvanced signal.
func (d *detector) watchBlocks(ctx context.Context) {
	ticker := time.NewTicker(4 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			head := d.headRef()
			next := head.Number + 1
			hash, parent, timestamp, err := d.provider.BlockHeader(ctx, next)
			if err != nil {
				continue
			}
			if head.Hash != (ethcommon.Hash{}) && parent != head.Hash {
				// the chain forked underneath us: our last confirmed block is
				// no longer canonical, so its cached reads are stale too.
				d.provider.EvictBlock(head.Number)
			}
			if err := d.store.ObserveBlock(ctx, next, hash, parent); err != nil {
				d.sup.RecordStorageError(now)
				continue
			}
			d.head.Store(&mevtypes.BlockRef{Number: next, Hash: hash})
			_ = d.store.Compact(ctx, next, d.retain)

			event := supervisor.BlockEvent{Number: next, Timestamp: time.Unix(int64(timestamp), 0)}
			copy(event.Hash[:], hash.Bytes())
			copy(event.ParentHash[:], parent.Bytes())
			select {
			case d.blockAdvanced <- event:
			default:
			}
		}
	}
}

// runTicker drives the aggregator's periodic eviction/emission sweep and the
// Supervisor's TickTimer signal off the same clock.
func (d *detector) runTicker(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(d.shutdown)
			return
		case now := <-ticker.C:
			eff := d.sup.Effects()
			d.agg.SetTTL(eff.BucketTTL)
			d.provider.SetMaxRetries(eff.RPCRetryCap)

			ready, evicted := d.agg.Tick(now)
			if evicted > 0 {
				d.log.Debug().Int("evicted", evicted).Msg("buckets expired")
			}
			for i := range ready {
				d.evaluate(ctx, ready[i].Bucket)
			}
			select {
			case d.tick <- now:
			default:
			}
		}
	}
}

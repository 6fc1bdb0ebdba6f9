package aggregator

import (
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/angu-team/ethernity-detector-mev/mevtypes"
)

func testConfig() Config {
	return Config{
		MinVictims:          2,
		MinAge:              50 * time.Millisecond,
		TTL:                 200 * time.Millisecond,
		MaxMembersPerBucket: 4,
		ContaminationWindow: time.Second,
	}
}

func victim(hash byte, from ethcommon.Address, groupKey ethcommon.Hash, observedAt time.Time) *mevtypes.TaggedTx {
	return &mevtypes.TaggedTx{
		PendingTx: mevtypes.PendingTx{
			Hash:       ethcommon.HexToHash(string([]byte{hash})),
			From:       from,
			ObservedAt: observedAt,
		},
		Tags:     map[mevtypes.Tag]struct{}{mevtypes.TagSwapV2: {}},
		Targets:  map[ethcommon.Address]struct{}{ethcommon.HexToAddress("0xdex"): {}},
		GroupKey: groupKey,
		AmountIn: big.NewInt(1),
	}
}

func TestIngestDropsTargetlessTransactions(t *testing.T) {
	a := New(testConfig())
	base := time.Unix(1700000000, 0)
	tx := victim('1', ethcommon.HexToAddress("0x01"), ethcommon.HexToHash("0x99"), base)
	tx.Targets = nil

	require.Nil(t, a.Ingest(tx, base))
	require.Equal(t, 0, a.Len())
}

func TestSetTTLAppliesToNewBuckets(t *testing.T) {
	cfg := testConfig()
	cfg.MinVictims = 10
	cfg.MinAge = time.Hour
	a := New(cfg)
	base := time.Unix(1700000000, 0)

	a.SetTTL(time.Hour)
	a.Ingest(victim('1', ethcommon.HexToAddress("0x01"), ethcommon.HexToHash("0x21"), base), base)

	// well past the configured TTL but inside the retuned one
	_, evicted := a.Tick(base.Add(cfg.TTL + time.Second))
	require.Equal(t, 0, evicted)

	_, evicted = a.Tick(base.Add(time.Hour + time.Second))
	require.Equal(t, 1, evicted)
}

func TestIngestFIFOOrdering(t *testing.T) {
	a := New(testConfig())
	group := ethcommon.HexToHash("0xaa")
	base := time.Unix(1700000000, 0)
	sender := ethcommon.HexToAddress("0x01")

	// insert out of observed_at order, bucket must stay sorted by ObservedAt
	a.Ingest(victim('1', sender, group, base.Add(2*time.Millisecond)), base)
	a.Ingest(victim('2', ethcommon.HexToAddress("0x02"), group, base), base)

	sh := a.shardFor(group)
	sh.mu.Lock()
	b := sh.buckets[group]
	sh.mu.Unlock()
	require.Len(t, b.Members, 2)
	require.True(t, b.Members[0].ObservedAt.Before(b.Members[1].ObservedAt) || b.Members[0].ObservedAt.Equal(b.Members[1].ObservedAt))
}

func TestIngestOverflowBeyondMaxMembers(t *testing.T) {
	cfg := testConfig()
	a := New(cfg)
	group := ethcommon.HexToHash("0xbb")
	base := time.Unix(1700000000, 0)

	for i := 0; i < cfg.MaxMembersPerBucket+2; i++ {
		from := ethcommon.BigToAddress(big.NewInt(int64(i + 1)))
		a.Ingest(victim(byte('a'+i), from, group, base.Add(time.Duration(i)*time.Millisecond)), base)
	}

	sh := a.shardFor(group)
	sh.mu.Lock()
	b := sh.buckets[group]
	sh.mu.Unlock()
	require.Len(t, b.Members, cfg.MaxMembersPerBucket)
	require.Len(t, b.Overflow, 2)
}

func TestEmissionThresholdBySize(t *testing.T) {
	cfg := testConfig()
	a := New(cfg)
	group := ethcommon.HexToHash("0xcc")
	base := time.Unix(1700000000, 0)

	r1 := a.Ingest(victim('1', ethcommon.HexToAddress("0x01"), group, base), base)
	require.Nil(t, r1, "single victim below min_victims and below min_age must not emit")

	r2 := a.Ingest(victim('2', ethcommon.HexToAddress("0x02"), group, base), base)
	require.NotNil(t, r2, "second victim reaches min_victims=2 and should emit")
}

func TestEmissionThresholdByAge(t *testing.T) {
	cfg := testConfig()
	a := New(cfg)
	group := ethcommon.HexToHash("0xdd")
	base := time.Unix(1700000000, 0)

	a.Ingest(victim('1', ethcommon.HexToAddress("0x01"), group, base), base)
	ready, evicted := a.Tick(base.Add(cfg.MinAge + time.Millisecond))
	require.Equal(t, 0, evicted)
	require.Len(t, ready, 1, "bucket should emit once min_age elapses even with one member")
}

func TestTickEvictsExpiredUnripeBuckets(t *testing.T) {
	cfg := testConfig()
	cfg.MinVictims = 10
	cfg.MinAge = time.Hour
	a := New(cfg)
	group := ethcommon.HexToHash("0xee")
	base := time.Unix(1700000000, 0)

	a.Ingest(victim('1', ethcommon.HexToAddress("0x01"), group, base), base)
	ready, evicted := a.Tick(base.Add(cfg.TTL + time.Millisecond))
	require.Empty(t, ready)
	require.Equal(t, 1, evicted)
}

func TestContaminationSuppressesEmission(t *testing.T) {
	cfg := testConfig()
	cfg.MinVictims = 1
	cfg.MinAge = time.Hour
	a := New(cfg)
	group := ethcommon.HexToHash("0xff")
	base := time.Unix(1700000000, 0)
	sender := ethcommon.HexToAddress("0x01")

	a.Ingest(victim('1', sender, group, base), base)
	// same sender repeats a matched swap signature inside the contamination window
	r := a.Ingest(victim('2', sender, group, base.Add(time.Millisecond)), base.Add(time.Millisecond))
	require.Nil(t, r, "repeated sender signature must contaminate and suppress emission")

	counters := a.CountersSnapshot()
	require.Equal(t, uint64(1), counters.ContaminatedGroups)

	ready, _ := a.Tick(base.Add(cfg.TTL + time.Millisecond))
	require.Empty(t, ready, "contaminated bucket must never be emitted, even after TTL")
}

func TestMarkContaminatedExternally(t *testing.T) {
	cfg := testConfig()
	cfg.MinVictims = 1
	cfg.MinAge = 0
	a := New(cfg)
	group := ethcommon.HexToHash("0x11")
	base := time.Unix(1700000000, 0)

	a.Ingest(victim('1', ethcommon.HexToAddress("0x01"), group, base), base)
	a.MarkContaminated(group, "sandwich self-dealing suspected")

	ready, _ := a.Tick(base.Add(cfg.TTL + time.Millisecond))
	require.Empty(t, ready)
}

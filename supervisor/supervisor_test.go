package supervisor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fixedBuckets struct{ n int }

func (f fixedBuckets) Len() int { return f.n }

func testConfig() Config {
	cfg := DefaultConfig(12 * time.Second)
	cfg.CPUCores = 4
	return cfg
}

// TestBurstTransitionOnIngressRate exercises scenario S6: an otherwise idle
// feed (10 tx/s) receives 1,000 tx within 200ms, crossing burst_threshold,
// then settles back to Normal once settle_window elapses with rate back down.
func TestBurstTransitionOnIngressRate(t *testing.T) {
	cfg := testConfig()
	cfg.SettleWindow = 2 * time.Second
	sup := New(cfg, fixedBuckets{n: 0}, zerolog.Nop())
	require.Equal(t, Normal, sup.State())

	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 1000; i++ {
		sup.RecordTx(base.Add(time.Duration(i) * 200 * time.Microsecond))
	}
	state := sup.Evaluate(base.Add(200 * time.Millisecond))
	require.Equal(t, Burst, state)

	effects := sup.Effects()
	require.Equal(t, 4*cfg.CPUCores, effects.EvaluatorConcurrency)
	require.True(t, effects.DropUnknownEarly)

	// rate has dropped back to idle; still must wait out settle_window.
	afterBurst := base.Add(200*time.Millisecond + time.Second)
	require.Equal(t, Burst, sup.Evaluate(afterBurst))

	settled := base.Add(200*time.Millisecond + cfg.SettleWindow + 100*time.Millisecond)
	require.Equal(t, Normal, sup.Evaluate(settled))
}

// TestBucketSoftCapAlsoTriggersBurst verifies the OR condition: a bucket
// backlog above bucket_soft_cap enters Burst even at idle ingress rate.
func TestBucketSoftCapAlsoTriggersBurst(t *testing.T) {
	cfg := testConfig()
	sup := New(cfg, fixedBuckets{n: cfg.BucketSoftCap + 1}, zerolog.Nop())
	now := time.Now()
	require.Equal(t, Burst, sup.Evaluate(now))
}

// TestStorageErrorTriggersImmediateRecovery exercises the Normal -> Recovery
// transition driven by a StorageError, independent of rate/ratio counters.
func TestStorageErrorTriggersImmediateRecovery(t *testing.T) {
	cfg := testConfig()
	sup := New(cfg, fixedBuckets{n: 0}, zerolog.Nop())
	now := time.Now()

	sup.RecordStorageError(now)
	require.Equal(t, Recovery, sup.State())

	effects := sup.Effects()
	require.False(t, effects.SnapshotWritesEnabled)
	require.Equal(t, 5, effects.RPCRetryCap)
}

// TestRPCFailureRatioTriggersRecovery exercises the sustained-failure-rate
// condition: >25% failures over the 10s window flips Normal -> Recovery.
func TestRPCFailureRatioTriggersRecovery(t *testing.T) {
	cfg := testConfig()
	sup := New(cfg, fixedBuckets{n: 0}, zerolog.Nop())
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 10; i++ {
		success := i%2 == 0 // 50% failure ratio, above the 25% threshold
		sup.RecordRPCOutcome(now.Add(time.Duration(i)*time.Millisecond), success)
	}
	require.Equal(t, Recovery, sup.Evaluate(now.Add(20*time.Millisecond)))
}

// TestRecoveryReturnsToNormalAfterSustainedSuccess exercises the
// Recovery -> Normal transition gated on recovery_window of continuous
// successful snapshot round-trips.
func TestRecoveryReturnsToNormalAfterSustainedSuccess(t *testing.T) {
	cfg := testConfig()
	cfg.RecoveryWindow = 3 * time.Second
	sup := New(cfg, fixedBuckets{n: 0}, zerolog.Nop())
	now := time.Unix(1_700_000_000, 0)

	sup.RecordStorageError(now)
	require.Equal(t, Recovery, sup.State())

	sup.RecordSnapshotRoundTrip(now.Add(time.Second), true)
	require.Equal(t, Recovery, sup.Evaluate(now.Add(2*time.Second)))

	sup.RecordSnapshotRoundTrip(now.Add(4*time.Second), true)
	require.Equal(t, Normal, sup.Evaluate(now.Add(4*time.Second+cfg.RecoveryWindow+time.Millisecond)))
}

// TestOutOfOrderBlocksDroppedAndCounted verifies BlockAdvanced events are
// processed in strictly increasing block_number order, with stale or
// duplicate blocks dropped and counted.
func TestOutOfOrderBlocksDroppedAndCounted(t *testing.T) {
	sup := New(testConfig(), fixedBuckets{n: 0}, zerolog.Nop())

	require.True(t, sup.RecordBlock(BlockEvent{Number: 10}))
	require.False(t, sup.RecordBlock(BlockEvent{Number: 9}), "older block must be dropped")
	require.False(t, sup.RecordBlock(BlockEvent{Number: 10}), "duplicate block must be dropped")
	require.True(t, sup.RecordBlock(BlockEvent{Number: 11}))
	require.Equal(t, uint64(2), sup.DroppedBlocks())
}

// TestRecoverySuccessResetByFailure ensures a single failed round-trip
// resets the continuous-success clock instead of allowing partial credit.
func TestRecoverySuccessResetByFailure(t *testing.T) {
	cfg := testConfig()
	cfg.RecoveryWindow = 3 * time.Second
	sup := New(cfg, fixedBuckets{n: 0}, zerolog.Nop())
	now := time.Unix(1_700_000_000, 0)

	sup.RecordStorageError(now)
	sup.RecordSnapshotRoundTrip(now.Add(time.Second), true)
	sup.RecordSnapshotRoundTrip(now.Add(2*time.Second), false)
	require.Equal(t, Recovery, sup.Evaluate(now.Add(3*time.Second+cfg.RecoveryWindow)))
}

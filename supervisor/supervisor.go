// Package supervisor implements the Supervisor FSM: Normal/Burst/Recovery
// states that retune bucket TTL, evaluator concurrency, and RPC retry caps
// in response to observed ingress rate, bucket backlog, and RPC/storage
// failure signals.
package supervisor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the tunables named in the specification, all with their
// documented defaults.
type Config struct {
	BlockTime              time.Duration
	BurstThresholdTxPerSec float64
	BucketSoftCap          int
	SettleWindow           time.Duration
	RPCFailureWindow       time.Duration
	RPCFailureThreshold    float64
	RecoveryWindow         time.Duration
	CPUCores               int
}

// DefaultConfig matches the documented defaults, auto-detecting CPU cores.
func DefaultConfig(blockTime time.Duration) Config {
	return Config{
		BlockTime:              blockTime,
		BurstThresholdTxPerSec: 500,
		BucketSoftCap:          4096,
		SettleWindow:           5 * time.Second,
		RPCFailureWindow:       10 * time.Second,
		RPCFailureThreshold:    0.25,
		RecoveryWindow:         15 * time.Second,
		CPUCores:               runtime.NumCPU(),
	}
}

// BlockEvent describes one newly observed canonical block.
type BlockEvent struct {
	Number     uint64
	Hash       [32]byte
	ParentHash [32]byte
	Timestamp  time.Time
}

// BucketCounter reports the Aggregator's current live bucket count.
type BucketCounter interface {
	Len() int
}

// Supervisor owns the current FSM state and the signal counters that drive
// its transitions.
type Supervisor struct {
	cfg     Config
	buckets BucketCounter
	log     zerolog.Logger

	mu    sync.Mutex
	state State

	txRate      *rateCounter
	rpcFailures *ratioCounter

	lastBlockNumber uint64
	droppedBlocks   uint64

	belowHalfSince  *time.Time
	recoverySuccessSince *time.Time
}

// New builds a Supervisor in the initial Normal state.
func New(cfg Config, buckets BucketCounter, log zerolog.Logger) *Supervisor {
	if cfg.CPUCores <= 0 {
		cfg.CPUCores = 1
	}
	return &Supervisor{
		cfg:         cfg,
		buckets:     buckets,
		log:         log.With().Str("component", "supervisor").Logger(),
		state:       Normal,
		txRate:      newRateCounter(time.Second),
		rpcFailures: newRatioCounter(cfg.RPCFailureWindow),
	}
}

// State returns the current FSM state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Effects returns the tuning table entry for the current state.
func (s *Supervisor) Effects() Effects {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	return EffectsFor(state, s.cfg.BlockTime, s.cfg.CPUCores)
}

// RecordTx registers one ingested transaction for rate tracking.
func (s *Supervisor) RecordTx(now time.Time) {
	s.txRate.record(now)
}

// RecordBlock registers a BlockAdvanced event, enforcing the strictly
// increasing block_number ordering guarantee. An out-of-order block is
// dropped and counted; the caller must skip processing when false is
// returned.
func (s *Supervisor) RecordBlock(ev BlockEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastBlockNumber != 0 && ev.Number <= s.lastBlockNumber {
		s.droppedBlocks++
		s.log.Debug().Uint64("block", ev.Number).Uint64("last", s.lastBlockNumber).Msg("out-of-order block dropped")
		return false
	}
	s.lastBlockNumber = ev.Number
	return true
}

// DroppedBlocks returns how many out-of-order BlockAdvanced events have been
// dropped.
func (s *Supervisor) DroppedBlocks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedBlocks
}

// RecordRPCOutcome registers one RPC call's success/failure for the
// sustained-failure-rate transition condition.
func (s *Supervisor) RecordRPCOutcome(now time.Time, success bool) {
	s.rpcFailures.record(now, success)
}

// RecordStorageError drives an immediate Normal -> Recovery transition.
func (s *Supervisor) RecordStorageError(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Recovery {
		s.log.Warn().Msg("storage error observed, entering recovery")
		s.state = Recovery
		s.recoverySuccessSince = nil
	}
}

// RecordSnapshotRoundTrip registers the outcome of a full snapshot
// round-trip, used to gate the Recovery -> Normal transition.
func (s *Supervisor) RecordSnapshotRoundTrip(now time.Time, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !success {
		s.recoverySuccessSince = nil
		return
	}
	if s.recoverySuccessSince == nil {
		t := now
		s.recoverySuccessSince = &t
	}
}

// Evaluate re-checks every transition condition against now. It is the
// single place state actually changes; callers invoke it from TickTimer,
// NewTx and BlockAdvanced handlers alike.
func (s *Supervisor) Evaluate(now time.Time) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate := s.txRate.ratePerSecond(now)
	bucketCount := 0
	if s.buckets != nil {
		bucketCount = s.buckets.Len()
	}

	switch s.state {
	case Normal:
		if rate > s.cfg.BurstThresholdTxPerSec || bucketCount > s.cfg.BucketSoftCap {
			s.log.Info().Float64("rate", rate).Int("buckets", bucketCount).Msg("entering burst")
			s.state = Burst
			s.belowHalfSince = nil
			break
		}
		if s.rpcFailures.failureRatio(now) > s.cfg.RPCFailureThreshold {
			s.log.Warn().Msg("sustained rpc failure rate, entering recovery")
			s.state = Recovery
			s.recoverySuccessSince = nil
		}

	case Burst:
		half := 0.5 * s.cfg.BurstThresholdTxPerSec
		if rate < half {
			if s.belowHalfSince == nil {
				t := now
				s.belowHalfSince = &t
			} else if now.Sub(*s.belowHalfSince) >= s.cfg.SettleWindow {
				s.log.Info().Msg("settled, returning to normal")
				s.state = Normal
				s.belowHalfSince = nil
			}
		} else {
			s.belowHalfSince = nil
		}

	case Recovery:
		if s.recoverySuccessSince != nil && now.Sub(*s.recoverySuccessSince) >= s.cfg.RecoveryWindow {
			s.log.Info().Msg("recovery window elapsed, returning to normal")
			s.state = Normal
			s.recoverySuccessSince = nil
		}
	}

	return s.state
}

// Events bundles the four cooperative event sources the Supervisor's run
// loop selects over.
type Events struct {
	NewTx         <-chan time.Time
	BlockAdvanced <-chan BlockEvent
	Tick          <-chan time.Time
	Shutdown      <-chan struct{}
}

// Run drives the cooperative event loop until ctx is cancelled or a
// shutdown signal is received. It never blocks on any single source.
func (s *Supervisor) Run(ctx context.Context, ev Events) {
	for {
		select {
		case now := <-ev.NewTx:
			s.RecordTx(now)
			s.Evaluate(now)
		case block := <-ev.BlockAdvanced:
			if s.RecordBlock(block) {
				s.Evaluate(block.Timestamp)
			}
		case now := <-ev.Tick:
			s.Evaluate(now)
		case <-ev.Shutdown:
			s.log.Info().Msg("shutdown signal received")
			return
		case <-ctx.Done():
			s.log.Info().Err(ctx.Err()).Msg("context cancelled")
			return
		}
	}
}

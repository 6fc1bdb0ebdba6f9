// Package snapshot implements SnapshotStore: a durable key/value store
// mapping (contract, block_number) to pool Snapshot values, with
// block_hash-gated writes and reorg-aware invalidation.
package snapshot

import (
	"context"
	"database/sql"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/angu-team/ethernity-detector-mev/mevtypes"
)

// StorageError wraps any disk I/O failure surfaced by the store. Per the
// failure semantics, the caller falls back to in-memory-only operation for
// the affected entry rather than treating it as fatal.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "snapshot: " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// Miss is returned by Get when no valid snapshot exists for the requested key.
var Miss = errors.New("snapshot: miss")

// Stale is returned by Put when the caller's block_hash no longer matches
// the canonical hash known for that block.
var Stale = errors.New("snapshot: stale")

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	contract   BLOB NOT NULL,
	block      INTEGER NOT NULL,
	block_hash BLOB NOT NULL,
	payload    BLOB NOT NULL,
	stale      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (contract, block)
);
CREATE TABLE IF NOT EXISTS block_index (
	block         INTEGER PRIMARY KEY,
	canonical_hash BLOB NOT NULL,
	seen_at       INTEGER NOT NULL
);
`

// Store is the SnapshotStore. Put calls are serialized through a single
// background goroutine fed by a bounded channel; ObserveBlock, InvalidateFrom
// and Compact write directly. The database handle is limited to one open
// connection, so reads are not concurrent: every statement runs in turn.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	writes chan writeRequest
	done   chan struct{}
}

type writeRequest struct {
	snap   mevtypes.Snapshot
	result chan error
}

// Open opens (creating if absent) the sqlite-backed snapshot store at path.
// Use ":memory:" for an ephemeral, in-process-only store.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storageErr("open", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver: single writer, serialized access
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storageErr("migrate", err)
	}

	s := &Store{
		db:     db,
		log:    log.With().Str("component", "snapshot_store").Logger(),
		writes: make(chan writeRequest, 256),
		done:   make(chan struct{}),
	}
	go s.writerLoop()
	return s, nil
}

// Close stops the writer goroutine and closes the underlying database.
func (s *Store) Close() error {
	close(s.done)
	return s.db.Close()
}

func (s *Store) writerLoop() {
	for {
		select {
		case req := <-s.writes:
			req.result <- s.putSync(req.snap)
		case <-s.done:
			return
		}
	}
}

// Get returns the snapshot stored for (contract, block_number). It returns
// Miss if absent or if the row has been marked stale by a prior
// invalidate_from without a subsequent fresh Put — the caller must re-fetch
// from the chain rather than trusting the old value.
func (s *Store) Get(ctx context.Context, contract ethcommon.Address, block uint64) (mevtypes.Snapshot, error) {
	var (
		blockHashBytes []byte
		payload        []byte
		stale          int
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT block_hash, payload, stale FROM snapshots WHERE contract = ? AND block = ?`,
		contract.Bytes(), block)
	err := row.Scan(&blockHashBytes, &payload, &stale)
	if err == sql.ErrNoRows {
		return mevtypes.Snapshot{}, Miss
	}
	if err != nil {
		return mevtypes.Snapshot{}, storageErr("get", err)
	}
	if stale != 0 {
		return mevtypes.Snapshot{}, Miss
	}

	var blockHash ethcommon.Hash
	copy(blockHash[:], blockHashBytes)
	return decodePayload(contract, block, blockHash, payload)
}

// Put writes snap only if its block_hash matches the currently known
// canonical hash for that block (or no canonical hash is known yet, in
// which case the write establishes it). Returns Stale without writing on
// mismatch.
func (s *Store) Put(ctx context.Context, snap mevtypes.Snapshot) error {
	result := make(chan error, 1)
	select {
	case s.writes <- writeRequest{snap: snap, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) putSync(snap mevtypes.Snapshot) error {
	canonical, err := s.canonicalHash(snap.BlockNumber)
	if err != nil {
		return storageErr("put:lookup_canonical", err)
	}
	if canonical != (ethcommon.Hash{}) && canonical != snap.BlockHash {
		return Stale
	}

	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("put:begin", err)
	}
	defer tx.Rollback()

	payload := encodePayload(snap)
	if _, err := tx.Exec(
		`INSERT INTO snapshots (contract, block, block_hash, payload, stale)
		 VALUES (?, ?, ?, ?, 0)
		 ON CONFLICT(contract, block) DO UPDATE SET block_hash=excluded.block_hash, payload=excluded.payload, stale=0`,
		snap.Pool.Bytes(), snap.BlockNumber, snap.BlockHash.Bytes(), payload,
	); err != nil {
		return storageErr("put:insert", err)
	}

	if canonical == (ethcommon.Hash{}) {
		if _, err := tx.Exec(
			`INSERT INTO block_index (block, canonical_hash, seen_at) VALUES (?, ?, ?)
			 ON CONFLICT(block) DO UPDATE SET canonical_hash=excluded.canonical_hash, seen_at=excluded.seen_at`,
			snap.BlockNumber, snap.BlockHash.Bytes(), time.Now().Unix(),
		); err != nil {
			return storageErr("put:index", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("put:commit", err)
	}
	return nil
}

func (s *Store) canonicalHash(block uint64) (ethcommon.Hash, error) {
	var raw []byte
	row := s.db.QueryRow(`SELECT canonical_hash FROM block_index WHERE block = ?`, block)
	err := row.Scan(&raw)
	if err == sql.ErrNoRows {
		return ethcommon.Hash{}, nil
	}
	if err != nil {
		return ethcommon.Hash{}, err
	}
	var h ethcommon.Hash
	copy(h[:], raw)
	return h, nil
}

// ObserveBlock implements the reorg protocol: compares the incoming block's
// parent_hash against the stored canonical hash at newBlock-1. A mismatch
// triggers InvalidateFrom(newBlock-1).
func (s *Store) ObserveBlock(ctx context.Context, newBlock uint64, blockHash, parentHash ethcommon.Hash) error {
	if newBlock == 0 {
		return nil
	}
	prev := newBlock - 1
	known, err := s.canonicalHash(prev)
	if err != nil {
		return storageErr("observe_block:lookup", err)
	}
	if known != (ethcommon.Hash{}) && known != parentHash {
		s.log.Warn().Uint64("block", newBlock).Str("expected_parent", known.Hex()).Str("observed_parent", parentHash.Hex()).Msg("reorg detected")
		return s.InvalidateFrom(ctx, prev)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO block_index (block, canonical_hash, seen_at) VALUES (?, ?, ?)
		 ON CONFLICT(block) DO UPDATE SET canonical_hash=excluded.canonical_hash, seen_at=excluded.seen_at`,
		newBlock, blockHash.Bytes(), time.Now().Unix())
	if err != nil {
		return storageErr("observe_block:index", err)
	}
	return nil
}

// InvalidateFrom marks all snapshots at or after block as stale, forcing the
// next Get on any of them to return Miss. Re-fetching is left to the
// caller; this routine never blocks on RPC.
func (s *Store) InvalidateFrom(ctx context.Context, block uint64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE snapshots SET stale = 1 WHERE block >= ?`, block); err != nil {
		return storageErr("invalidate_from", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM block_index WHERE block >= ?`, block); err != nil {
		return storageErr("invalidate_from:index", err)
	}
	return nil
}

// Compact removes snapshots older than currentBlock-retainBlocks, bounding
// on-disk growth. retainBlocks defaults to 64 at the caller's discretion.
func (s *Store) Compact(ctx context.Context, currentBlock uint64, retainBlocks uint64) error {
	if currentBlock <= retainBlocks {
		return nil
	}
	horizon := currentBlock - retainBlocks
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE block < ?`, horizon); err != nil {
		return storageErr("compact", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM block_index WHERE block < ?`, horizon); err != nil {
		return storageErr("compact:index", err)
	}
	return nil
}

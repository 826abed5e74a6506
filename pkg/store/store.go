// Package store persists committed blocks and kernel snapshots in a SQL
// database. SQLite (modernc.org/sqlite) and PostgreSQL (lib/pq) share one
// implementation; only placeholder syntax and column types differ.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/kaizencycle/Mobius-Systems/pkg/chain"
	"github.com/kaizencycle/Mobius-Systems/pkg/kernel"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// SnapshotInfo describes a stored snapshot without its body.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	Height    uint64    `json:"height"`
	StateRoot string    `json:"state_root"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

type dialect struct {
	name     string
	blobType string
	rebind   func(string) string
}

var (
	sqliteDialect = dialect{name: "sqlite", blobType: "TEXT", rebind: func(q string) string { return q }}
	pgDialect     = dialect{name: "postgres", blobType: "JSONB", rebind: dollarParams}
)

// dollarParams rewrites ? placeholders as $1, $2, ...
func dollarParams(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore is a block and snapshot store over database/sql.
type SQLStore struct {
	db    *sql.DB
	d     dialect
	clock func() time.Time
}

// Open connects to driver ("sqlite" or "postgres") at dsn and migrates.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite":
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// One connection keeps in-memory databases shared and serialises writers.
		db.SetMaxOpenConns(1)
		return NewSQLite(ctx, db)
	case "postgres":
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return NewPostgres(ctx, db)
	default:
		return nil, kerr.ErrValidation.With("store.open", "unsupported driver %q", driver)
	}
}

// NewSQLite wraps a SQLite handle and creates the schema.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	return newStore(ctx, db, sqliteDialect)
}

// NewPostgres wraps a PostgreSQL handle and creates the schema.
func NewPostgres(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	return newStore(ctx, db, pgDialect)
}

func newStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d, clock: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("%s store migration failed: %w", d.name, err)
	}
	return s, nil
}

// WithClock sets the clock used for created_at columns.
func (s *SQLStore) WithClock(clock func() time.Time) *SQLStore {
	s.clock = clock
	return s
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blocks (
			height BIGINT PRIMARY KEY,
			hash TEXT NOT NULL UNIQUE,
			parent_hash TEXT NOT NULL,
			state_root TEXT NOT NULL,
			body ` + s.d.blobType + ` NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			snapshot_id TEXT PRIMARY KEY,
			height BIGINT NOT NULL,
			state_root TEXT NOT NULL,
			hash TEXT NOT NULL,
			body ` + s.d.blobType + ` NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS snapshots_height_idx ON snapshots (height)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) now() string {
	return s.clock().UTC().Format(time.RFC3339Nano)
}

// SaveBlock appends b. Saving the same block twice is a no-op; a different
// block at a stored height is a conflict, and a block whose parent is not
// the stored block below it breaks the chain.
func (s *SQLStore) SaveBlock(ctx context.Context, b chain.Block) error {
	const op = "store.save_block"
	body, err := json.Marshal(b)
	if err != nil {
		return kerr.Internal(op, err)
	}
	h := b.Header.Height

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := s.hashAt(ctx, tx, h)
	switch {
	case err == nil && existing == b.Hash:
		return nil
	case err == nil:
		return kerr.ErrConflict.With(op, "height %d already holds %s", h, existing)
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	if h > 0 {
		parent, err := s.hashAt(ctx, tx, h-1)
		if errors.Is(err, sql.ErrNoRows) {
			return kerr.ErrBrokenChain.With(op, "no stored block at height %d", h-1)
		}
		if err != nil {
			return err
		}
		if parent != b.Header.ParentHash {
			return kerr.ErrBrokenChain.With(op, "parent %s does not match stored %s", b.Header.ParentHash, parent)
		}
	}

	_, err = tx.ExecContext(ctx, s.d.rebind(
		`INSERT INTO blocks (height, hash, parent_hash, state_root, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		int64(h), b.Hash, b.Header.ParentHash, b.Header.StateRoot, string(body), s.now())
	if err != nil {
		return fmt.Errorf("failed to insert block: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit block: %w", err)
	}
	return nil
}

func (s *SQLStore) hashAt(ctx context.Context, tx *sql.Tx, height uint64) (string, error) {
	var hash string
	err := tx.QueryRowContext(ctx, s.d.rebind(`SELECT hash FROM blocks WHERE height = ?`), int64(height)).Scan(&hash)
	return hash, err
}

// Block loads the block at height.
func (s *SQLStore) Block(ctx context.Context, height uint64) (chain.Block, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT body FROM blocks WHERE height = ?`), int64(height)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return chain.Block{}, kerr.ErrUnknownBlock.With("store.block", "no block at height %d", height)
	}
	if err != nil {
		return chain.Block{}, err
	}
	return decodeBlock(body)
}

// Blocks loads up to limit blocks starting at from, in height order.
// A non-positive limit loads everything.
func (s *SQLStore) Blocks(ctx context.Context, from uint64, limit int) ([]chain.Block, error) {
	q := `SELECT body FROM blocks WHERE height >= ? ORDER BY height ASC`
	args := []any{int64(from)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []chain.Block
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		b, err := decodeBlock(body)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Height is the number of stored blocks, which is also the next height.
func (s *SQLStore) Height(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&n); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func decodeBlock(body string) (chain.Block, error) {
	var b chain.Block
	if err := json.Unmarshal([]byte(body), &b); err != nil {
		return chain.Block{}, kerr.Internal("store.decode_block", err)
	}
	return b, nil
}

// SaveSnapshot stores snap under a fresh id.
func (s *SQLStore) SaveSnapshot(ctx context.Context, snap kernel.Snapshot) (SnapshotInfo, error) {
	const op = "store.save_snapshot"
	hash, err := snap.Hash()
	if err != nil {
		return SnapshotInfo{}, kerr.Internal(op, err)
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return SnapshotInfo{}, kerr.Internal(op, err)
	}
	info := SnapshotInfo{
		ID:        uuid.NewString(),
		Height:    snap.Height,
		StateRoot: snap.StateRoot,
		Hash:      hash,
		CreatedAt: s.clock().UTC(),
	}
	_, err = s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO snapshots (snapshot_id, height, state_root, hash, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		info.ID, int64(info.Height), info.StateRoot, info.Hash, string(body), info.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return info, nil
}

// LatestSnapshot loads the snapshot with the greatest height. Its content
// hash is checked against the stored one.
func (s *SQLStore) LatestSnapshot(ctx context.Context) (kernel.Snapshot, SnapshotInfo, error) {
	const op = "store.latest_snapshot"
	var (
		info    SnapshotInfo
		height  int64
		body    string
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot_id, height, state_root, hash, body, created_at FROM snapshots ORDER BY height DESC, created_at DESC LIMIT 1`).
		Scan(&info.ID, &height, &info.StateRoot, &info.Hash, &body, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return kernel.Snapshot{}, SnapshotInfo{}, kerr.ErrNotFound.With(op, "no snapshots stored")
	}
	if err != nil {
		return kernel.Snapshot{}, SnapshotInfo{}, err
	}
	info.Height = uint64(height)
	info.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)

	var snap kernel.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return kernel.Snapshot{}, SnapshotInfo{}, kerr.Internal(op, err)
	}
	got, err := snap.Hash()
	if err != nil {
		return kernel.Snapshot{}, SnapshotInfo{}, kerr.Internal(op, err)
	}
	if got != info.Hash {
		return kernel.Snapshot{}, SnapshotInfo{}, kerr.ErrHashMismatch.With(op, "snapshot %s: stored hash %s, content %s", info.ID, info.Hash, got)
	}
	return snap, info, nil
}

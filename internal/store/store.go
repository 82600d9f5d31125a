// Package store keeps a SQLite history of first-boot run list snapshots.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"chefq/internal/chef"
	"chefq/internal/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrNoSnapshot is returned when a path has no recorded snapshots.
var ErrNoSnapshot = errors.New("no snapshot recorded")

// Snapshot describes one recorded observation of a first-boot file.
type Snapshot struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	ContentHash string    `json:"content_hash"`
	ObservedAt  time.Time `json:"observed_at"`
	RoleCount   int       `json:"role_count"`
	RecipeCount int       `json:"recipe_count"`
}

// Store manages the snapshot database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
	now    func() time.Time
}

// Open creates or opens the snapshot database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases coherent and serialises writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Get(logging.CategoryStore).Debug("snapshot store opened", zap.String("path", path))
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		observed_at INTEGER NOT NULL,
		role_count INTEGER NOT NULL,
		recipe_count INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_path ON snapshots(path, observed_at);

	CREATE TABLE IF NOT EXISTS snapshot_items (
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		seq_no INTEGER NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		PRIMARY KEY (snapshot_id, seq_no)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// HashContent returns the hex sha256 of content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Record stores a snapshot of rl unless the latest snapshot for path has the
// same content hash, in which case that snapshot is returned with created=false.
func (s *Store) Record(ctx context.Context, path string, content []byte, rl chef.RunList) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := HashContent(content)
	latest, err := s.latestLocked(ctx, path)
	switch {
	case err == nil && latest.ContentHash == hash:
		return latest, false, nil
	case err != nil && !errors.Is(err, ErrNoSnapshot):
		return Snapshot{}, false, err
	}

	snap := Snapshot{
		ID:          uuid.NewString(),
		Path:        path,
		ContentHash: hash,
		ObservedAt:  s.now().UTC().Truncate(time.Millisecond),
		RoleCount:   len(rl.Roles),
		RecipeCount: len(rl.Recipes),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, path, content_hash, observed_at, role_count, recipe_count) VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Path, snap.ContentHash, snap.ObservedAt.UnixMilli(), snap.RoleCount, snap.RecipeCount,
	); err != nil {
		return Snapshot{}, false, fmt.Errorf("insert snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshot_items (snapshot_id, seq_no, name, kind) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("prepare items: %w", err)
	}
	defer stmt.Close()

	insert := func(items []chef.RunListItem, kind chef.Kind) error {
		for _, item := range items {
			if _, err := stmt.ExecContext(ctx, snap.ID, int64(item.SeqNo), item.Name, string(kind)); err != nil {
				return fmt.Errorf("insert item %d: %w", item.SeqNo, err)
			}
		}
		return nil
	}
	if err := insert(rl.Roles, chef.KindRole); err != nil {
		return Snapshot{}, false, err
	}
	if err := insert(rl.Recipes, chef.KindRecipe); err != nil {
		return Snapshot{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return Snapshot{}, false, fmt.Errorf("commit snapshot: %w", err)
	}

	logging.Get(logging.CategoryStore).Info("recorded run list snapshot",
		zap.String("id", snap.ID),
		zap.String("path", path),
		zap.Int("roles", snap.RoleCount),
		zap.Int("recipes", snap.RecipeCount))
	return snap, true, nil
}

// Latest returns the most recent snapshot for path.
func (s *Store) Latest(ctx context.Context, path string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestLocked(ctx, path)
}

func (s *Store) latestLocked(ctx context.Context, path string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, content_hash, observed_at, role_count, recipe_count
		 FROM snapshots WHERE path = ? ORDER BY observed_at DESC, rowid DESC LIMIT 1`, path)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w for %s", ErrNoSnapshot, path)
	}
	return snap, err
}

// History returns up to limit snapshots for path, newest first. A limit of
// zero or less returns all of them.
func (s *Store) History(ctx context.Context, path string, limit int) ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, content_hash, observed_at, role_count, recipe_count
		 FROM snapshots WHERE path = ? ORDER BY observed_at DESC, rowid DESC LIMIT ?`, path, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Items rebuilds the run list recorded in a snapshot.
func (s *Store) Items(ctx context.Context, snapshotID string) (chef.RunList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq_no, name, kind FROM snapshot_items WHERE snapshot_id = ? ORDER BY seq_no`, snapshotID)
	if err != nil {
		return chef.RunList{}, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var rl chef.RunList
	for rows.Next() {
		var (
			seq  int64
			name string
			kind string
		)
		if err := rows.Scan(&seq, &name, &kind); err != nil {
			return chef.RunList{}, err
		}
		item := chef.RunListItem{Name: name, SeqNo: uint(seq)}
		if chef.Kind(kind) == chef.KindRole {
			rl.Roles = append(rl.Roles, item)
		} else {
			rl.Recipes = append(rl.Recipes, item)
		}
	}
	return rl, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(sc scanner) (Snapshot, error) {
	var (
		snap       Snapshot
		observedMs int64
	)
	if err := sc.Scan(&snap.ID, &snap.Path, &snap.ContentHash, &observedMs, &snap.RoleCount, &snap.RecipeCount); err != nil {
		return Snapshot{}, err
	}
	snap.ObservedAt = time.UnixMilli(observedMs).UTC()
	return snap, nil
}

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteProvider stores generations in a SQLite database.
type SQLiteProvider struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

var _ Provider = (*SQLiteProvider)(nil)

// NewSQLiteProvider opens (or creates) the database with the given filename.
// If the filename is empty, a new in-memory db is opened.
func NewSQLiteProvider(filename string) (*SQLiteProvider, error) {
	memory := filename == ""
	if memory {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	if memory {
		// every connection would otherwise see its own database
		db.SetMaxOpenConns(1)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS generations (
			name TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			generation TEXT NOT NULL,
			key TEXT NOT NULL,
			bytes BLOB,
			PRIMARY KEY (generation, key)
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return &SQLiteProvider{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteProvider) CreateGeneration(ctx context.Context, name string, createdAt time.Time) (GenerationInfo, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)",
		name, createdAt.UnixNano())
	if err != nil {
		return GenerationInfo{}, err
	}
	var created int64
	err = s.db.QueryRowContext(ctx, "SELECT created_at FROM generations WHERE name = ?", name).Scan(&created)
	if err != nil {
		return GenerationInfo{}, err
	}
	return GenerationInfo{Name: name, CreatedAt: time.Unix(0, created)}, nil
}

func (s *SQLiteProvider) Generations(ctx context.Context) ([]GenerationInfo, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, created_at FROM generations ORDER BY created_at ASC, rowid ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	infos := make([]GenerationInfo, 0)
	for rows.Next() {
		var info GenerationInfo
		var created int64
		if err := rows.Scan(&info.Name, &created); err != nil {
			return infos, err
		}
		info.CreatedAt = time.Unix(0, created)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLiteProvider) DeleteGeneration(ctx context.Context, name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE generation = ?", name); err != nil {
		return false, err
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM generations WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

func (s *SQLiteProvider) Get(ctx context.Context, generation, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT bytes FROM entries WHERE generation = ? AND key = ?", generation, key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s *SQLiteProvider) Put(ctx context.Context, generation, key string, value []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	result, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO entries (generation, key, bytes)
		SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM generations WHERE name = ?)`,
		generation, key, value, generation)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteProvider) Del(ctx context.Context, generation, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE generation = ? AND key = ?", generation, key)
	return err
}

func (s *SQLiteProvider) Keys(ctx context.Context, generation string) ([]string, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM generations WHERE name = ?", generation).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM entries WHERE generation = ? ORDER BY key ASC", generation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLiteProvider) Close() error {
	return s.db.Close()
}

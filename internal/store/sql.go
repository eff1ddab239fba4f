package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"econoclass/internal/config"
	"econoclass/internal/logging"
)

// Dialects supported by SQLStore.
const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// SQLStore implements Store over database/sql for both SQLite (local
// single-file deployments) and Postgres (remote). Writes from the same
// process serialize through a write mutex; reads are concurrent.
type SQLStore struct {
	db      *sql.DB
	dialect string

	writeMu sync.Mutex

	// Prepared-statement cache for hot paths.
	stmtMu sync.RWMutex
	stmts  map[string]*sql.Stmt
}

// Open initializes a store from the database configuration.
func Open(cfg config.DatabaseConfig) (*SQLStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	switch cfg.Type {
	case config.DatabaseLocal:
		return openLocal(cfg)
	case config.DatabaseRemote:
		return openRemote(cfg)
	default:
		return nil, fmt.Errorf("unknown database type %q", cfg.Type)
	}
}

// openLocal opens the SQLite database at cfg.Path, creating the parent
// directory as needed.
func openLocal(cfg config.DatabaseConfig) (*SQLStore, error) {
	logging.Store("Opening local store at %s", cfg.Path)

	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if cfg.WALMode {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
		// synchronous=NORMAL is safe under WAL and much faster than FULL.
		if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
		}
	}

	s := &SQLStore{db: db, dialect: dialectSQLite, stmts: make(map[string]*sql.Stmt)}
	if cfg.AutoMigrate {
		if err := s.initialize(); err != nil {
			db.Close()
			return nil, err
		}
	}
	logging.Store("Local store ready (wal=%v)", cfg.WALMode)
	return s, nil
}

// openRemote opens a Postgres database via the pgx stdlib driver.
func openRemote(cfg config.DatabaseConfig) (*SQLStore, error) {
	logging.Store("Opening remote store")

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s := &SQLStore{db: db, dialect: dialectPostgres, stmts: make(map[string]*sql.Stmt)}
	if cfg.AutoMigrate {
		if err := s.initialize(); err != nil {
			db.Close()
			return nil, err
		}
	}
	logging.Store("Remote store ready")
	return s, nil
}

// Close closes prepared statements and the database connection.
func (s *SQLStore) Close() error {
	s.stmtMu.Lock()
	for _, st := range s.stmts {
		st.Close()
	}
	s.stmts = make(map[string]*sql.Stmt)
	s.stmtMu.Unlock()

	logging.Store("Closing store")
	return s.db.Close()
}

// DB returns the underlying SQL database connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// rebind converts ?-style placeholders to the dialect's native form.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

// prepare returns a cached prepared statement for the query.
func (s *SQLStore) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	bound := s.rebind(query)

	s.stmtMu.RLock()
	if st, ok := s.stmts[bound]; ok {
		s.stmtMu.RUnlock()
		return st, nil
	}
	s.stmtMu.RUnlock()

	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()
	if st, ok := s.stmts[bound]; ok {
		return st, nil
	}
	st, err := s.db.PrepareContext(ctx, bound)
	if err != nil {
		return nil, classify(err)
	}
	s.stmts[bound] = st
	return st, nil
}

// withTx runs fn inside a transaction under the write mutex, retrying
// transient failures with a small backoff.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(i) * 100 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			lastErr = classify(err)
			if !isTransient(lastErr) {
				return lastErr
			}
			continue
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			lastErr = classify(err)
			if !isTransient(lastErr) {
				return lastErr
			}
			continue
		}
		if err := tx.Commit(); err != nil {
			lastErr = classify(err)
			if !isTransient(lastErr) {
				return lastErr
			}
			continue
		}
		return nil
	}
	return lastErr
}

// classify maps driver errors onto the storage error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"),
		strings.Contains(msg, "duplicate key"),
		strings.Contains(msg, "constraint failed"):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "busy"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "i/o timeout"):
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	default:
		return err
	}
}

func isTransient(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// Package sqlite implements the lorevault storage backend on SQLite.
//
// All state lives in one database file. Every mutating operation runs in a
// single transaction together with its audit entry; the connection pool is
// limited to one connection so transactions serialize.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mesh-intelligence/lorevault/pkg/types"
)

// File names inside the data directory.
const (
	DatabaseFile      = "lorevault.db"
	AuditFallbackFile = "audit-fallback.jsonl"
)

// dsnPragmas are applied to every connection the driver opens.
const dsnPragmas = "?_pragma=foreign_keys(1)" +
	"&_pragma=busy_timeout(15000)" +
	"&_pragma=journal_mode(WAL)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_txlock=immediate"

var _ types.Vault = (*Backend)(nil)

// Backend implements types.Vault on a SQLite database file.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	log      *zap.Logger

	fallbackMu   sync.Mutex
	fallbackPath string

	now func() time.Time

	// beforeCommit runs after an operation's statements succeed and before
	// COMMIT. Tests use it to simulate a crash mid-operation.
	beforeCommit func(op string) error
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(b *Backend) {
		if log != nil {
			b.log = log
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach opens the database in config.DataDir, creating the directory when
// needed, applies migrations, replays any audit entries written to the
// fallback file, and prunes expired trash when configured.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	if err := b.open(config); err != nil {
		return err
	}

	ctx := context.Background()
	if n, err := b.replayAuditFallback(ctx); err != nil {
		b.log.Warn("audit fallback replay failed", zap.String("path", b.fallbackPath), zap.Error(err))
	} else if n > 0 {
		b.log.Info("replayed audit fallback", zap.Int("entries", n))
	}

	if b.config.PruneOnAttach {
		n, err := b.PruneTrash(ctx, types.Days(b.config.RetentionDays))
		if err != nil {
			b.log.Warn("trash prune on attach failed", zap.Error(err))
		} else if n > 0 {
			b.log.Info("pruned expired trash", zap.Int("entries", n), zap.Int("retention_days", b.config.RetentionDays))
		}
	}
	return nil
}

func (b *Backend) open(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}
	config.Restore = config.Restore.WithDefaults(types.RestoreOptions{
		Position: types.PositionKeep,
		Name:     types.NameKeep,
	})
	if config.RetentionDays == 0 {
		config.RetentionDays = types.DefaultRetentionDays
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)
	db, err := sql.Open("sqlite", "file:"+dbPath+dsnPragmas)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return err
	}

	b.db = db
	b.config = config
	b.fallbackPath = filepath.Join(dataDir, AuditFallbackFile)
	b.attached = true
	b.log.Debug("attached", zap.String("db", dbPath))
	return nil
}

// Detach releases all resources held by the backend. After Detach, all
// operations return ErrDetached. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	b.attached = false
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return fmt.Errorf("closing database: %w", err)
		}
		b.db = nil
	}
	return nil
}

// acquire returns the open database under a read lock. The caller must call
// release when done.
func (b *Backend) acquire() (*sql.DB, func(), error) {
	b.mu.RLock()
	if !b.attached {
		b.mu.RUnlock()
		return nil, nil, types.ErrDetached
	}
	return b.db, b.mu.RUnlock, nil
}

// txScope is the state of one operation's transaction.
type txScope struct {
	tx          *sql.Tx
	afterCommit []func()
}

// onCommit queues fn to run only if the transaction commits.
func (s *txScope) onCommit(fn func()) {
	s.afterCommit = append(s.afterCommit, fn)
}

// inTx runs fn in one transaction. Any error from fn, the commit hook, or
// COMMIT itself rolls everything back.
func (b *Backend) inTx(ctx context.Context, op string, fn func(s *txScope) error) error {
	db, release, err := b.acquire()
	if err != nil {
		return err
	}
	defer release()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer tx.Rollback()

	s := &txScope{tx: tx}
	if err := fn(s); err != nil {
		return err
	}
	if b.beforeCommit != nil {
		if err := b.beforeCommit(op); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	for _, f := range s.afterCommit {
		f()
	}
	return nil
}

// read runs fn against the database outside a transaction.
func (b *Backend) read(fn func(db *sql.DB) error) error {
	db, release, err := b.acquire()
	if err != nil {
		return err
	}
	defer release()
	return fn(db)
}

// storeErr classifies a database failure as ErrStore. Errors that already
// carry a category pass through unchanged.
func storeErr(what string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		types.ErrNotFound, types.ErrConflict, types.ErrOrphanParent,
		types.ErrSerialization, types.ErrStore, types.ErrDetached,
		types.ErrInvalidKind, types.ErrInvalidID, types.ErrInvalidData,
		types.ErrInvalidPolicy, types.ErrSelfLink,
		context.Canceled, context.DeadlineExceeded,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %w", what, types.ErrConflict, err)
	}
	return fmt.Errorf("%s: %w: %w", what, types.ErrStore, err)
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// opErr wraps err with the operation and entity it belongs to.
func opErr(op string, ref types.Ref, err error) error {
	if err == nil {
		return nil
	}
	var oe *types.OpError
	if errors.As(err, &oe) {
		return err
	}
	return &types.OpError{Op: op, Ref: ref, Err: err}
}

// generateUUID generates a new UUID v7 for row IDs.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// timeLayout is fixed-width so TEXT comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func (b *Backend) timestamp() string {
	return formatTime(b.now())
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/lorevault/internal/codec"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

func (b *Backend) newAuditEntry(action string, ref types.Ref, details map[string]any) types.AuditEntry {
	return types.AuditEntry{
		ID:         generateUUID(),
		Timestamp:  b.now().UTC(),
		Action:     action,
		EntityType: string(ref.Kind),
		EntityID:   ref.ID,
		Details:    details,
	}
}

func insertAudit(ctx context.Context, q queryer, e types.AuditEntry, orIgnore bool) error {
	details, err := codec.EncodeDetails(e.Details)
	if err != nil {
		return err
	}
	verb := "INSERT"
	if orIgnore {
		verb = "INSERT OR IGNORE"
	}
	_, err = q.ExecContext(ctx,
		verb+" INTO audit_log (id, ts, action, entity_type, entity_id, details_json) VALUES (?, ?, ?, ?, ?, ?)",
		e.ID, formatTime(e.Timestamp), e.Action, e.EntityType, e.EntityID, details)
	if err != nil {
		return storeErr("inserting audit entry", err)
	}
	return nil
}

// audit records an entry inside the operation's transaction. The insert
// runs under a savepoint: if it fails, only the savepoint is rolled back,
// the operation goes ahead, and the entry is written to the fallback file
// once the transaction commits.
func (b *Backend) audit(ctx context.Context, s *txScope, action string, ref types.Ref, details map[string]any) {
	entry := b.newAuditEntry(action, ref, details)
	if err := insertAuditSavepoint(ctx, s.tx, entry); err != nil {
		b.log.Warn("audit entry not stored; using fallback",
			zap.String("action", action),
			zap.String("entity", ref.String()),
			zap.Error(err))
		s.onCommit(func() { b.writeFallback(entry) })
	}
}

func insertAuditSavepoint(ctx context.Context, tx *sql.Tx, e types.AuditEntry) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT audit_entry"); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, e, false); err != nil {
		_, _ = tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT audit_entry")
		_, _ = tx.ExecContext(ctx, "RELEASE SAVEPOINT audit_entry")
		return err
	}
	_, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT audit_entry")
	return err
}

// writeFallback appends entry to the fallback JSONL file. Attach replays
// the file into audit_log.
func (b *Backend) writeFallback(entry types.AuditEntry) {
	b.fallbackMu.Lock()
	defer b.fallbackMu.Unlock()

	rec, err := json.Marshal(entry)
	if err == nil {
		err = appendJSONL(b.fallbackPath, rec)
	}
	if err != nil {
		b.log.Error("audit entry lost",
			zap.String("action", entry.Action),
			zap.String("entity_type", entry.EntityType),
			zap.String("entity_id", entry.EntityID),
			zap.Error(err))
	}
}

// replayAuditFallback moves entries from the fallback file into audit_log
// and removes the file. Entries already present are skipped.
func (b *Backend) replayAuditFallback(ctx context.Context) (int, error) {
	b.fallbackMu.Lock()
	defer b.fallbackMu.Unlock()

	records, err := readJSONL(b.fallbackPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var entries []types.AuditEntry
	for _, rec := range records {
		var e types.AuditEntry
		if err := json.Unmarshal(rec, &e); err != nil || e.ID == "" {
			b.log.Warn("skipping malformed audit fallback record", zap.ByteString("record", rec))
			continue
		}
		entries = append(entries, e)
	}

	err = b.inTx(ctx, "audit_replay", func(s *txScope) error {
		for _, e := range entries {
			if err := insertAudit(ctx, s.tx, e, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := os.Remove(b.fallbackPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return len(entries), fmt.Errorf("removing %s: %w", b.fallbackPath, err)
	}
	return len(entries), nil
}

// Record appends a standalone audit entry. If the entry cannot be stored it
// is written to the fallback file and the store error is returned.
func (b *Backend) Record(ctx context.Context, action string, ref types.Ref, details map[string]any) error {
	if strings.TrimSpace(action) == "" {
		return fmt.Errorf("%w: audit action is empty", types.ErrInvalidData)
	}
	entry := b.newAuditEntry(action, ref, details)
	err := b.inTx(ctx, "audit_record", func(s *txScope) error {
		return insertAudit(ctx, s.tx, entry, false)
	})
	if err != nil && !errors.Is(err, types.ErrDetached) {
		b.writeFallback(entry)
	}
	return err
}

// AuditLog returns entries matching filter, newest first.
func (b *Backend) AuditLog(ctx context.Context, filter types.AuditFilter) ([]types.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, formatTime(filter.Since))
	}
	query := "SELECT id, ts, action, entity_type, entity_id, details_json FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var out []types.AuditEntry
	err := b.read(func(db *sql.DB) error {
		var err error
		out, err = queryAudit(ctx, db, query, args...)
		return err
	})
	return out, err
}

func queryAudit(ctx context.Context, q queryer, query string, args ...any) ([]types.AuditEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("querying audit log", err)
	}
	defer rows.Close()

	var out []types.AuditEntry
	for rows.Next() {
		var (
			e       types.AuditEntry
			ts      string
			details string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Action, &e.EntityType, &e.EntityID, &details); err != nil {
			return nil, storeErr("scanning audit entry", err)
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("%w: audit %s timestamp: %w", types.ErrSerialization, e.ID, err)
		}
		if e.Details, err = codec.DecodeDetails(details); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating audit log", err)
	}
	return out, nil
}

// ExportAudit writes the full audit log, oldest first, to path as JSONL.
// The file is replaced atomically. Returns the number of entries written.
func (b *Backend) ExportAudit(ctx context.Context, path string) (int, error) {
	var entries []types.AuditEntry
	err := b.read(func(db *sql.DB) error {
		var err error
		entries, err = queryAudit(ctx, db,
			"SELECT id, ts, action, entity_type, entity_id, details_json FROM audit_log ORDER BY ts, id")
		return err
	})
	if err != nil {
		return 0, err
	}

	records := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		rec, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("%w: encoding audit %s: %w", types.ErrSerialization, e.ID, err)
		}
		records = append(records, rec)
	}
	if err := writeJSONL(path, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

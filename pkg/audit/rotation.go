package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/openadcm/adcm/pkg/model"
)

// Expired selects the records older than cutoff, plus the deleted objects that
// no remaining operation references.
func (r *Recorder) Expired(ctx context.Context, cutoff time.Time) (*Batch, error) {
	b := &Batch{}
	var err error
	b.Operations, err = r.queryOperations(ctx, "SELECT "+operationColumns+
		" FROM audit_operation o LEFT JOIN audit_object a ON a.id = o.audit_object_id"+
		" WHERE o.operation_time < ? ORDER BY o.id", micros(cutoff))
	if err != nil {
		return nil, err
	}
	b.Logins, err = r.queryLogins(ctx,
		"SELECT id, user_id, login_result, login_time, login_details FROM audit_login WHERE login_time < ? ORDER BY id",
		micros(cutoff))
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT a.id, a.object_id, a.object_name, a.object_type FROM audit_object a
		WHERE a.is_deleted = 1 AND NOT EXISTS (
			SELECT 1 FROM audit_operation o WHERE o.audit_object_id = a.id AND o.operation_time >= ?
		) ORDER BY a.id`, micros(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to query audit objects: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		o := Object{IsDeleted: true}
		var typ string
		if err := rows.Scan(&o.ID, &o.ObjectID, &o.ObjectName, &typ); err != nil {
			return nil, fmt.Errorf("failed to scan audit object: %w", err)
		}
		o.ObjectType = model.ObjectType(typ)
		b.Objects = append(b.Objects, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit objects: %w", err)
	}
	return b, nil
}

// Purge deletes the records of a batch in one transaction.
func (r *Recorder) Purge(ctx context.Context, b *Batch) error {
	if b.Empty() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ops := make([]int64, len(b.Operations))
	for i, o := range b.Operations {
		ops[i] = o.ID
	}
	logins := make([]int64, len(b.Logins))
	for i, l := range b.Logins {
		logins[i] = l.ID
	}
	objects := make([]int64, len(b.Objects))
	for i, o := range b.Objects {
		objects[i] = o.ID
	}
	for _, del := range []struct {
		table string
		ids   []int64
	}{
		{"audit_operation", ops},
		{"audit_login", logins},
		{"audit_object", objects},
	} {
		if err := deleteIDs(ctx, tx, del.table, del.ids); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit purge: %w", err)
	}
	r.logger.Info().
		Int("operations", len(ops)).
		Int("logins", len(logins)).
		Int("objects", len(objects)).
		Msg("Audit records purged")
	return nil
}

const deleteChunk = 500

func deleteIDs(ctx context.Context, tx *sql.Tx, table string, ids []int64) error {
	for start := 0; start < len(ids); start += deleteChunk {
		end := min(start+deleteChunk, len(ids))
		chunk := ids[start:end]
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := "DELETE FROM " + table + " WHERE id IN (?" + strings.Repeat(",?", len(chunk)-1) + ")"
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	return nil
}

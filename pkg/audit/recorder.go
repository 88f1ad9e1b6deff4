package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Options configures a Recorder.
type Options struct {
	// CEF receives one line per operation. Nil disables the side channel.
	CEF     io.Writer
	Version string
	Metrics *telemetry.Metrics
	Users   UserResolver
}

// Recorder appends audit records to the database.
type Recorder struct {
	db     *sql.DB
	logger zerolog.Logger
	opts   Options
	now    func() time.Time
	mu     sync.Mutex
}

// NewRecorder creates a recorder over a migrated database.
func NewRecorder(db *sql.DB, logger zerolog.Logger, opts Options) *Recorder {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Recorder{
		db:     db,
		logger: logger.With().Str("component", "audit").Logger(),
		opts:   opts,
		now:    time.Now,
	}
}

// SetUserResolver sets the username lookup used by filters.
func (r *Recorder) SetUserResolver(u UserResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.Users = u
}

// Record appends an operation. Records are serialized so that ids, times and
// CEF lines follow commit order.
func (r *Recorder) Record(ctx context.Context, e Entry) (*Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changes := e.Changes
	if changes.Previous == nil {
		changes.Previous = map[string]interface{}{}
	}
	if changes.Current == nil {
		changes.Current = map[string]interface{}{}
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode object changes: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var obj *Object
	if !e.Object.IsZero() {
		obj, err = r.liveObject(ctx, tx, e.Object, e.ObjectName)
		if err != nil {
			return nil, err
		}
	}

	op := &Operation{
		Name:    e.Name,
		Type:    e.Type,
		Result:  e.Result,
		Time:    fromMicros(micros(r.now())),
		Changes: changes,
		UserID:  e.UserID,
		Object:  obj,
	}
	var objectID sql.NullInt64
	if obj != nil {
		objectID = sql.NullInt64{Int64: obj.ID, Valid: true}
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO audit_operation
		(operation_name, operation_type, operation_result, operation_time, object_changes, user_id, audit_object_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.Name, string(op.Type), string(op.Result), micros(op.Time), string(data), nullID(e.UserID), objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit operation: %w", err)
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read audit operation id: %w", err)
	}

	if obj != nil && op.Type == model.OperationDelete && op.Result == model.ResultSuccess {
		if _, err := tx.ExecContext(ctx, "UPDATE audit_object SET is_deleted = 1 WHERE id = ?", obj.ID); err != nil {
			return nil, fmt.Errorf("failed to mark audit object deleted: %w", err)
		}
		obj.IsDeleted = true
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit operation: %w", err)
	}
	r.opts.Metrics.RecordAudit("operation", string(op.Result))
	r.writeCEF(e, op)
	return op, nil
}

// liveObject returns the non-deleted audit object of ref, creating it or
// refreshing its name.
func (r *Recorder) liveObject(ctx context.Context, tx *sql.Tx, ref model.Ref, name string) (*Object, error) {
	obj := &Object{ObjectID: ref.ID, ObjectType: ref.Type}
	err := tx.QueryRowContext(ctx, `SELECT id, object_name FROM audit_object
		WHERE object_type = ? AND object_id = ? AND is_deleted = 0 ORDER BY id DESC LIMIT 1`,
		string(ref.Type), ref.ID).Scan(&obj.ID, &obj.ObjectName)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `INSERT INTO audit_object (object_id, object_name, object_type, is_deleted)
			VALUES (?, ?, ?, 0)`, ref.ID, name, string(ref.Type))
		if err != nil {
			return nil, fmt.Errorf("failed to insert audit object: %w", err)
		}
		if obj.ID, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("failed to read audit object id: %w", err)
		}
		obj.ObjectName = name
	case err != nil:
		return nil, fmt.Errorf("failed to look up audit object: %w", err)
	case name != "" && name != obj.ObjectName:
		if _, err := tx.ExecContext(ctx, "UPDATE audit_object SET object_name = ? WHERE id = ?", name, obj.ID); err != nil {
			return nil, fmt.Errorf("failed to rename audit object: %w", err)
		}
		obj.ObjectName = name
	}
	return obj, nil
}

func (r *Recorder) writeCEF(e Entry, op *Operation) {
	if r.opts.CEF == nil {
		return
	}
	signature := e.Signature
	if signature == "" {
		signature = string(e.Object.Type)
	}
	resource := e.ObjectName
	if op.Object != nil {
		resource = op.Object.ObjectName
	}
	line := FormatCEF(r.opts.Version, signature, op, e.Username, resource)
	if _, err := io.WriteString(r.opts.CEF, line+"\n"); err != nil {
		r.logger.Warn().Err(err).Int64("operation_id", op.ID).Msg("Failed to write CEF audit line")
	}
}

// Login appends a login record.
func (r *Recorder) Login(ctx context.Context, e LoginEntry) (*Login, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	details := e.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	if e.Username != "" {
		if _, ok := details["username"]; !ok {
			details["username"] = e.Username
		}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode login details: %w", err)
	}
	l := &Login{UserID: e.UserID, Result: e.Result, Time: fromMicros(micros(r.now())), Details: details}
	res, err := r.db.ExecContext(ctx, `INSERT INTO audit_login (user_id, login_result, login_time, login_details)
		VALUES (?, ?, ?, ?)`, nullID(e.UserID), string(e.Result), micros(l.Time), string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit login: %w", err)
	}
	if l.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read audit login id: %w", err)
	}
	r.opts.Metrics.RecordAudit("login", string(e.Result))
	return l, nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// resolveUser translates a username filter; ok is false when no user matches.
func (r *Recorder) resolveUser(username string) (int64, bool) {
	r.mu.Lock()
	users := r.opts.Users
	r.mu.Unlock()
	if users == nil {
		return 0, false
	}
	return users.UserID(username)
}

const operationColumns = `o.id, o.operation_name, o.operation_type, o.operation_result, o.operation_time,
	o.object_changes, o.user_id, a.id, a.object_id, a.object_name, a.object_type, a.is_deleted`

// Operations returns operations matching f, newest first.
func (r *Recorder) Operations(ctx context.Context, f OperationFilter) ([]Operation, error) {
	var where []string
	var args []interface{}
	if !f.From.IsZero() {
		where, args = append(where, "o.operation_time >= ?"), append(args, micros(f.From))
	}
	if !f.To.IsZero() {
		where, args = append(where, "o.operation_time <= ?"), append(args, micros(f.To))
	}
	if f.Type != "" {
		where, args = append(where, "o.operation_type = ?"), append(args, string(f.Type))
	}
	if f.Result != "" {
		where, args = append(where, "o.operation_result = ?"), append(args, string(f.Result))
	}
	if f.ObjectType != "" {
		where, args = append(where, "a.object_type = ?"), append(args, string(f.ObjectType))
	}
	if f.ObjectName != "" {
		where, args = append(where, "a.object_name LIKE ? ESCAPE '\\'"), append(args, "%"+likeEscape(f.ObjectName)+"%")
	}
	if f.Username != "" {
		id, ok := r.resolveUser(f.Username)
		if !ok {
			return []Operation{}, nil
		}
		where, args = append(where, "o.user_id = ?"), append(args, id)
	}
	query := "SELECT " + operationColumns + " FROM audit_operation o LEFT JOIN audit_object a ON a.id = o.audit_object_id"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY o.operation_time DESC, o.id DESC"
	query, args = page(query, args, f.Limit, f.Offset)
	return r.queryOperations(ctx, query, args...)
}

func (r *Recorder) queryOperations(ctx context.Context, query string, args ...interface{}) ([]Operation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit operations: %w", err)
	}
	defer rows.Close()

	out := []Operation{}
	for rows.Next() {
		var (
			op                Operation
			typ, result, data string
			at                int64
			userID            sql.NullInt64
			objID, objectID   sql.NullInt64
			objName, objType  sql.NullString
			deleted           sql.NullBool
		)
		if err := rows.Scan(&op.ID, &op.Name, &typ, &result, &at, &data, &userID,
			&objID, &objectID, &objName, &objType, &deleted); err != nil {
			return nil, fmt.Errorf("failed to scan audit operation: %w", err)
		}
		op.Type = model.OperationType(typ)
		op.Result = model.OperationResult(result)
		op.Time = fromMicros(at)
		op.UserID = userID.Int64
		if err := json.Unmarshal([]byte(data), &op.Changes); err != nil {
			return nil, fmt.Errorf("invalid object changes of audit operation %d: %w", op.ID, err)
		}
		if objID.Valid {
			op.Object = &Object{
				ID:         objID.Int64,
				ObjectID:   objectID.Int64,
				ObjectName: objName.String,
				ObjectType: model.ObjectType(objType.String),
				IsDeleted:  deleted.Bool,
			}
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit operations: %w", err)
	}
	return out, nil
}

// Logins returns logins matching f, newest first.
func (r *Recorder) Logins(ctx context.Context, f LoginFilter) ([]Login, error) {
	var where []string
	var args []interface{}
	if !f.From.IsZero() {
		where, args = append(where, "login_time >= ?"), append(args, micros(f.From))
	}
	if !f.To.IsZero() {
		where, args = append(where, "login_time <= ?"), append(args, micros(f.To))
	}
	if f.Result != "" {
		where, args = append(where, "login_result = ?"), append(args, string(f.Result))
	}
	if f.Username != "" {
		id, ok := r.resolveUser(f.Username)
		if !ok {
			return []Login{}, nil
		}
		where, args = append(where, "user_id = ?"), append(args, id)
	}
	query := "SELECT id, user_id, login_result, login_time, login_details FROM audit_login"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY login_time DESC, id DESC"
	query, args = page(query, args, f.Limit, f.Offset)
	return r.queryLogins(ctx, query, args...)
}

func (r *Recorder) queryLogins(ctx context.Context, query string, args ...interface{}) ([]Login, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logins: %w", err)
	}
	defer rows.Close()

	out := []Login{}
	for rows.Next() {
		var (
			l            Login
			userID       sql.NullInt64
			result, data string
			at           int64
		)
		if err := rows.Scan(&l.ID, &userID, &result, &at, &data); err != nil {
			return nil, fmt.Errorf("failed to scan audit login: %w", err)
		}
		l.UserID = userID.Int64
		l.Result = model.LoginResult(result)
		l.Time = fromMicros(at)
		if err := json.Unmarshal([]byte(data), &l.Details); err != nil {
			return nil, fmt.Errorf("invalid details of audit login %d: %w", l.ID, err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logins: %w", err)
	}
	return out, nil
}

func page(query string, args []interface{}, limit, offset int) (string, []interface{}) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	} else if offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}

func likeEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

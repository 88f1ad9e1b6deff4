package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// recordKinds lists every record table in load order.
var recordKinds = []Kind{
	KindBundle, KindPrototype, KindAction, KindADCM, KindCluster, KindService,
	KindComponent, KindProvider, KindHost, KindHostComponent, KindObjectConfig,
	KindConfigLog, KindGroupConfig, KindConcern, KindTask, KindJob, KindLog,
	KindBind, KindActionHostGroup, KindUser, KindGroup, KindRole, KindPolicy,
}

// SQLiteStore persists the graph and the audit trail in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config selects the database file and the pool size. A zero MaxOpenConns
// means 8; in-memory databases always use a single connection, since each
// connection to :memory: opens a private database.
type Config struct {
	Path         string
	MaxOpenConns int
}

// NewSQLiteStore checks cfg; Init opens the database.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	switch {
	case isMemory(cfg.Path):
		cfg.MaxOpenConns = 1
	case cfg.MaxOpenConns <= 0:
		cfg.MaxOpenConns = 8
	}
	return &SQLiteStore{cfg: cfg}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Init opens the database with foreign keys on and immediate write
// transactions; file databases run in WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	pragmas := []string{"foreign_keys(1)", "busy_timeout(5000)", "synchronous(NORMAL)"}
	if !isMemory(s.cfg.Path) {
		pragmas = append(pragmas, "journal_mode(WAL)")
	}
	dsn := s.cfg.Path + "?_txlock=immediate&_pragma=" + strings.Join(pragmas, "&_pragma=")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.cfg.Path, err)
	}
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxOpenConns)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to open %s: %w", s.cfg.Path, err)
	}
	s.db = db
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the connection pool to packages that own their own tables.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Load implements Backend.
func (s *SQLiteStore) Load(ctx context.Context) ([]Row, map[Kind]int64, error) {
	var out []Row
	for _, kind := range recordKinds {
		rows, err := s.db.QueryContext(ctx, "SELECT id, data FROM "+string(kind)+" ORDER BY id")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load %s: %w", kind, err)
		}
		for rows.Next() {
			row := Row{Kind: kind}
			var data string
			if err := rows.Scan(&row.ID, &data); err != nil {
				rows.Close()
				return nil, nil, fmt.Errorf("failed to scan %s: %w", kind, err)
			}
			row.Data = json.RawMessage(data)
			out = append(out, row)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("error iterating %s: %w", kind, err)
		}
		rows.Close()
	}

	seqs := make(map[Kind]int64)
	rows, err := s.db.QueryContext(ctx, "SELECT kind, value FROM id_sequence")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load sequences: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var value int64
		if err := rows.Scan(&kind, &value); err != nil {
			return nil, nil, fmt.Errorf("failed to scan sequence: %w", err)
		}
		seqs[Kind(kind)] = value
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating sequences: %w", err)
	}

	return out, seqs, nil
}

// Persist implements Backend.
func (s *SQLiteStore) Persist(ctx context.Context, changes []Change, sequences map[Kind]int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMicro()
	for _, c := range changes {
		switch c.Op {
		case OpCreate, OpUpdate:
			query := "INSERT INTO " + string(c.Kind) + ` (id, data, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
			if _, err := tx.ExecContext(ctx, query, c.ID, string(c.Data), now); err != nil {
				return fmt.Errorf("failed to write %s %d: %w", c.Kind, c.ID, err)
			}
		case OpDelete:
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+string(c.Kind)+" WHERE id = ?", c.ID); err != nil {
				return fmt.Errorf("failed to delete %s %d: %w", c.Kind, c.ID, err)
			}
		default:
			return fmt.Errorf("unknown change op %q", c.Op)
		}
	}

	for kind, value := range sequences {
		if value == 0 {
			continue
		}
		query := `INSERT INTO id_sequence (kind, value) VALUES (?, ?)
			ON CONFLICT(kind) DO UPDATE SET value = excluded.value`
		if _, err := tx.ExecContext(ctx, query, string(kind), value); err != nil {
			return fmt.Errorf("failed to write sequence %s: %w", kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit changes: %w", err)
	}
	return nil
}

// MessageTemplate is a stored concern message template.
type MessageTemplate struct {
	Name         string
	Message      string
	Placeholders []string
}

// MessageTemplates returns the concern message templates.
func (s *SQLiteStore) MessageTemplates(ctx context.Context) ([]MessageTemplate, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, message, placeholders FROM message_template ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list message templates: %w", err)
	}
	defer rows.Close()

	var out []MessageTemplate
	for rows.Next() {
		var mt MessageTemplate
		var placeholders string
		if err := rows.Scan(&mt.Name, &mt.Message, &placeholders); err != nil {
			return nil, fmt.Errorf("failed to scan message template: %w", err)
		}
		if err := json.Unmarshal([]byte(placeholders), &mt.Placeholders); err != nil {
			return nil, fmt.Errorf("invalid placeholders of template %s: %w", mt.Name, err)
		}
		out = append(out, mt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message templates: %w", err)
	}
	return out, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

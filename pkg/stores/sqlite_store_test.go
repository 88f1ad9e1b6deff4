package stores

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/openadcm/adcm/pkg/model"
	"github.com/rs/zerolog"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"id_sequence", "audit_object", "audit_operation", "audit_login", "message_template"}
	for _, k := range recordKinds {
		tables = append(tables, string(k))
	}
	for _, table := range tables {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// running again is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestStore_PersistAndLoad(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	data, _ := json.Marshal(&model.Cluster{Object: model.NewObject(3), Name: "c1"})
	changes := []Change{
		{Kind: KindCluster, ID: 1, Op: OpCreate, Data: data},
		{Kind: KindCluster, ID: 2, Op: OpCreate, Data: data},
	}
	if err := store.Persist(ctx, changes, map[Kind]int64{KindCluster: 2}); err != nil {
		t.Fatalf("persist failed: %v", err)
	}
	if err := store.Persist(ctx, []Change{{Kind: KindCluster, ID: 1, Op: OpDelete}}, map[Kind]int64{KindCluster: 2}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	rows, seqs, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != 2 || rows[0].Kind != KindCluster {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if seqs[KindCluster] != 2 {
		t.Errorf("expected cluster sequence 2, got %d", seqs[KindCluster])
	}
}

func TestStore_PersistUnknownOp(t *testing.T) {
	store := setupTestStore(t)
	err := store.Persist(context.Background(), []Change{{Kind: KindHost, ID: 1, Op: "bogus"}}, nil)
	if err == nil {
		t.Fatal("expected error for unknown op")
	}
}

func TestStore_MessageTemplates(t *testing.T) {
	store := setupTestStore(t)

	templates, err := store.MessageTemplates(context.Background())
	if err != nil {
		t.Fatalf("failed to list templates: %v", err)
	}
	byName := make(map[string]MessageTemplate)
	for _, mt := range templates {
		byName[mt.Name] = mt
	}
	for _, name := range []string{"LockedByAction", "ConfigIssue", "RequiredServiceIssue", "RequiredImportIssue", "HostComponentIssue"} {
		if _, ok := byName[name]; !ok {
			t.Errorf("template %s not seeded", name)
		}
	}
	if len(byName["LockedByAction"].Placeholders) == 0 {
		t.Error("expected LockedByAction placeholders")
	}
}

func TestGraph_SurvivesRestart(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	g := NewGraph(zerolog.Nop(), store)
	var hostID int64
	err := g.Update(ctx, func(tx *Tx) error {
		pid := tx.Providers.Insert(&model.Provider{Object: model.NewObject(1), Name: "p"})
		hostID = tx.Hosts.Insert(&model.Host{Object: model.NewObject(2), ProviderID: pid, FQDN: "h1"})
		tx.Hosts.Insert(&model.Host{Object: model.NewObject(2), ProviderID: pid, FQDN: "h2"})
		return nil
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	err = g.Update(ctx, func(tx *Tx) error {
		tx.Hosts.DeleteWhere(func(h *model.Host) bool { return h.FQDN == "h2" })
		return nil
	})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	restored := NewGraph(zerolog.Nop(), store)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	err = restored.Update(ctx, func(tx *Tx) error {
		h, err := tx.Host(hostID)
		if err != nil {
			return err
		}
		if h.FQDN != "h1" || h.State != model.DefaultState {
			t.Errorf("unexpected host after restart: %+v", h)
		}
		if n := tx.Hosts.Count(nil); n != 1 {
			t.Errorf("expected 1 host, got %d", n)
		}
		// deleted ids are never handed out again
		if id := tx.Hosts.Insert(&model.Host{FQDN: "h3"}); id != 3 {
			t.Errorf("expected id 3, got %d", id)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update after restart failed: %v", err)
	}
}

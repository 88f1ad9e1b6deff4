package retention

import (
	"archive/tar"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/openadcm/adcm/pkg/audit"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
	"github.com/rs/zerolog"
)

var now = time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time { return now.AddDate(0, 0, -n) }

type fakeTasks struct{ deleted []int64 }

func (f *fakeTasks) DeleteTask(tx *stores.Tx, id int64) error {
	f.deleted = append(f.deleted, id)
	tx.Tasks.Delete(id)
	return nil
}

type fakeArtifacts struct {
	ages   map[int64]time.Time
	purged []int64
	err    error
}

func (f *fakeArtifacts) Tasks(context.Context) (map[int64]time.Time, error) { return f.ages, nil }

func (f *fakeArtifacts) Purge(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.purged = append(f.purged, id)
	return nil
}

type fakeConfigs struct{ tree model.Tree }

func (f fakeConfigs) Current(*stores.Tx, model.Ref) (*model.ConfigLog, error) {
	return &model.ConfigLog{Config: f.tree}, nil
}

type fakeUploader struct{ paths []string }

func (f *fakeUploader) Upload(_ context.Context, p string) error {
	f.paths = append(f.paths, p)
	return nil
}

type taskIDs struct{ oldDone, oldRunning, fresh int64 }

func seedGraph(t *testing.T) (*stores.Graph, taskIDs, []int64) {
	t.Helper()
	g := stores.NewGraph(zerolog.Nop(), nil)
	var ids taskIDs
	var logs []int64
	err := g.Update(context.Background(), func(tx *stores.Tx) error {
		ids.oldDone = tx.Tasks.Insert(&model.TaskLog{Status: model.JobStatusSuccess, FinishDate: daysAgo(40)})
		ids.oldRunning = tx.Tasks.Insert(&model.TaskLog{Status: model.JobStatusRunning, StartDate: daysAgo(40)})
		ids.fresh = tx.Tasks.Insert(&model.TaskLog{Status: model.JobStatusFailed, FinishDate: daysAgo(1)})

		oc := &model.ObjectConfig{}
		tx.ObjectConfigs.Insert(oc)
		for _, age := range []int{90, 80, 70, 60, 1} {
			logs = append(logs, tx.ConfigLogs.Insert(&model.ConfigLog{ObjConfID: oc.ID, Date: daysAgo(age)}))
		}
		oc.PreviousID, oc.CurrentID = logs[1], logs[2]
		tx.ObjectConfigs.Put(oc)
		tx.ConfigLogs.Insert(&model.ConfigLog{ObjConfID: 999, Date: daysAgo(90)})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return g, ids, logs
}

func TestRotate_TasksConfigsArtifacts(t *testing.T) {
	g, ids, logs := seedGraph(t)
	tasks := &fakeTasks{}
	artifacts := &fakeArtifacts{ages: map[int64]time.Time{
		ids.oldDone: daysAgo(1), ids.oldRunning: daysAgo(40), ids.fresh: daysAgo(1),
		77: daysAgo(45), 78: daysAgo(10),
	}}
	r := NewRotator(zerolog.Nop(), g, Policy{JobsOnFS: 30, JobsInDB: 30, ConfigInDB: 30},
		Options{Tasks: tasks, Artifacts: artifacts})
	r.now = func() time.Time { return now }

	rep, err := r.Rotate(context.Background())
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	// 78 has no task row but is younger than the cutoff
	if !slices.Equal(artifacts.purged, []int64{ids.oldDone, 77}) {
		t.Errorf("purged artifacts = %v, want [%d 77]", artifacts.purged, ids.oldDone)
	}
	if !slices.Equal(tasks.deleted, []int64{ids.oldDone}) {
		t.Errorf("deleted tasks = %v, want [%d]", tasks.deleted, ids.oldDone)
	}
	// 90 and 60 day entries plus the orphan
	if rep.Configs != 3 {
		t.Errorf("Configs = %d, want 3", rep.Configs)
	}
	_ = g.View(context.Background(), func(tx *stores.Tx) error {
		for i, id := range logs {
			want := i == 1 || i == 2 || i == 4
			if got := tx.ConfigLogs.Has(id); got != want {
				t.Errorf("config log %d (#%d) present = %v, want %v", id, i, got, want)
			}
		}
		return nil
	})
}

func TestRotate_DisabledTargets(t *testing.T) {
	g, _, _ := seedGraph(t)
	tasks := &fakeTasks{}
	r := NewRotator(zerolog.Nop(), g, Policy{}, Options{Tasks: tasks, Artifacts: &fakeArtifacts{ages: map[int64]time.Time{1: daysAgo(400)}}})
	rep, err := r.Rotate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep != (Report{}) || len(tasks.deleted) != 0 {
		t.Errorf("Rotate() with zero policy = %+v", rep)
	}
}

func TestRotate_ArtifactsOutliveTaskRows(t *testing.T) {
	g := stores.NewGraph(zerolog.Nop(), nil)
	var id int64
	_ = g.Update(context.Background(), func(tx *stores.Tx) error {
		id = tx.Tasks.Insert(&model.TaskLog{Status: model.JobStatusSuccess, FinishDate: daysAgo(10)})
		return nil
	})
	tasks := &fakeTasks{}
	artifacts := &fakeArtifacts{ages: map[int64]time.Time{id: daysAgo(10)}}
	r := NewRotator(zerolog.Nop(), g, Policy{JobsOnFS: 30, JobsInDB: 5}, Options{Tasks: tasks, Artifacts: artifacts})
	clock := now
	r.now = func() time.Time { return clock }

	for tick := 1; tick <= 2; tick++ {
		if _, err := r.Rotate(context.Background()); err != nil {
			t.Fatalf("tick %d: Rotate() error = %v", tick, err)
		}
		if len(artifacts.purged) != 0 {
			t.Fatalf("tick %d: artifacts of a 10 day old task purged: %v", tick, artifacts.purged)
		}
	}
	if !slices.Equal(tasks.deleted, []int64{id}) {
		t.Errorf("deleted tasks = %v, want [%d]", tasks.deleted, id)
	}

	clock = now.AddDate(0, 0, 25)
	if _, err := r.Rotate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(artifacts.purged, []int64{id}) {
		t.Errorf("purged artifacts = %v, want [%d] once older than 30 days", artifacts.purged, id)
	}
}

func TestRotate_ErrorsDoNotStopOtherTargets(t *testing.T) {
	g, ids, _ := seedGraph(t)
	tasks := &fakeTasks{}
	r := NewRotator(zerolog.Nop(), g, Policy{JobsOnFS: 30, JobsInDB: 30},
		Options{Tasks: tasks, Artifacts: &fakeArtifacts{ages: map[int64]time.Time{ids.oldDone: daysAgo(40)}, err: errors.New("disk gone")}})
	r.now = func() time.Time { return now }
	_, err := r.Rotate(context.Background())
	if err == nil {
		t.Fatal("Rotate() error = nil")
	}
	if len(tasks.deleted) != 1 {
		t.Errorf("tasks deleted = %v, want one", tasks.deleted)
	}
}

func TestPolicy_Override(t *testing.T) {
	base := Policy{JobsOnFS: 1, JobsInDB: 2, ConfigInDB: 3, AuditDays: 4}
	got := base.Override(model.Tree{
		"job_log":              map[string]interface{}{"log_rotation_on_fs": float64(10)},
		"config_rotation":      map[string]interface{}{"config_rotation_in_db": 30},
		"audit_data_retention": map[string]interface{}{"retention_period": float64(180), "data_archiving": true},
	})
	want := Policy{JobsOnFS: 10, JobsInDB: 2, ConfigInDB: 30, AuditDays: 180, AuditArchive: true}
	if got != want {
		t.Errorf("Override() = %+v, want %+v", got, want)
	}
	if err := (Policy{JobsInDB: -1}).Validate(); err == nil {
		t.Error("Validate() accepted a negative period")
	}
}

func newRecorder(t *testing.T) *audit.Recorder {
	t.Helper()
	ctx := context.Background()
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return audit.NewRecorder(store.DB(), zerolog.Nop(), audit.Options{})
}

func readArchive(t *testing.T, path string) map[string][][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)
	out := map[string][][]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		rows, err := csv.NewReader(tr).ReadAll()
		if err != nil {
			t.Fatalf("%s: %v", hdr.Name, err)
		}
		out[hdr.Name] = rows
	}
	return out
}

func TestRotate_AuditArchive(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder(t)
	ref := model.NewRef(model.TypeCluster, 1)
	// records are stamped with the wall clock, well before the cutoff below
	for _, e := range []audit.Entry{
		{Object: ref, ObjectName: "c", Name: "Cluster created", Type: model.OperationCreate, Result: model.ResultSuccess, UserID: 1},
		{Object: ref, ObjectName: "c", Name: "Cluster deleted", Type: model.OperationDelete, Result: model.ResultSuccess, UserID: 1},
	} {
		if _, err := rec.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := rec.Login(ctx, audit.LoginEntry{UserID: 1, Result: model.LoginSuccess}); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	up := &fakeUploader{}
	g := stores.NewGraph(zerolog.Nop(), nil)
	if err := g.Update(ctx, func(tx *stores.Tx) error {
		tx.ADCM.Insert(&model.ADCM{Object: model.NewObject(1), Name: "ADCM"})
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	future := time.Now().AddDate(0, 0, 10)
	r := NewRotator(zerolog.Nop(), g, Policy{AuditDays: 1000}, Options{
		Audit:      rec,
		ArchiveDir: dir,
		Uploader:   up,
		Configs: fakeConfigs{tree: model.Tree{
			"audit_data_retention": map[string]interface{}{"retention_period": float64(5), "data_archiving": true},
		}},
	})
	r.now = func() time.Time { return future }

	rep, err := r.Rotate(ctx)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if rep.Operations != 2 || rep.Logins != 1 || rep.Objects != 1 {
		t.Errorf("report = %+v", rep)
	}
	wantPath := filepath.Join(dir, "audit_"+future.Format("2006-01-02")+".tar.gz")
	if rep.Archive != wantPath || !slices.Equal(up.paths, []string{wantPath}) {
		t.Errorf("archive = %q, uploaded %v, want %q", rep.Archive, up.paths, wantPath)
	}

	members := readArchive(t, wantPath)
	date := future.Format("2006-01-02")
	checks := []struct {
		name   string
		header []string
		rows   int
	}{
		{"audit_" + date + "_operations.csv", OperationHeader, 2},
		{"audit_" + date + "_logins.csv", LoginHeader, 1},
		{"audit_" + date + "_objects.csv", ObjectHeader, 1},
	}
	for _, c := range checks {
		rows, ok := members[c.name]
		if !ok {
			t.Errorf("archive lacks %s", c.name)
			continue
		}
		if !slices.Equal(rows[0], c.header) {
			t.Errorf("%s header = %v, want %v", c.name, rows[0], c.header)
		}
		if len(rows)-1 != c.rows {
			t.Errorf("%s rows = %d, want %d", c.name, len(rows)-1, c.rows)
		}
	}

	left, err := rec.Operations(ctx, audit.OperationFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("operations left = %d", len(left))
	}
}

func TestRotate_AuditWithoutArchiving(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder(t)
	if _, err := rec.Login(ctx, audit.LoginEntry{UserID: 1, Result: model.LoginSuccess}); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	r := NewRotator(zerolog.Nop(), stores.NewGraph(zerolog.Nop(), nil), Policy{AuditDays: 1},
		Options{Audit: rec, ArchiveDir: dir})
	r.now = func() time.Time { return time.Now().AddDate(0, 0, 2) }
	rep, err := r.Rotate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Logins != 1 || rep.Archive != "" {
		t.Errorf("report = %+v", rep)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("archive directory has %d entries, want none", len(entries))
	}
}

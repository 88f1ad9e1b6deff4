package runner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openadcm/adcm/pkg/actions"
	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

func newTestRunner() (*SpoolRunner, *FSSpool) {
	spool := NewFSSpool(afero.NewMemMapFs())
	return NewSpoolRunner(zerolog.Nop(), spool, 2), spool
}

func testSpec() actions.TaskSpec {
	return actions.TaskSpec{
		Task: &model.TaskLog{ID: 7, Object: model.NewRef(model.TypeCluster, 1), CorrelationID: "c-7",
			Config: model.Tree{"retries": 3}},
		Jobs: []*model.JobLog{
			{ID: 11, TaskID: 7, Order: 1, Name: "prepare", Script: "prepare.yaml"},
			{ID: 12, TaskID: 7, Order: 2, Name: "deploy", Script: "deploy.yaml"},
			{ID: 13, TaskID: 7, Order: 3, Name: "check", Script: "check.yaml"},
		},
		Action:    &definition.Action{ID: 3, Name: "install"},
		Bundle:    &definition.Bundle{ID: 1, Path: "/bundles/b1"},
		Inventory: []actions.InventoryHost{{ID: 1, FQDN: "h1", Components: []string{"zk.server"}}},
	}
}

func TestSpoolRunner_Start(t *testing.T) {
	r, spool := newTestRunner()
	ctx := context.Background()
	if err := r.Start(ctx, testSpec()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	names, err := spool.ReadDir(ctx, "7/jobs")
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if strings.Join(names, ",") != "11.json,12.json,13.json" {
		t.Errorf("unexpected job files %v", names)
	}

	data, err := spool.ReadFile(ctx, "7/jobs/12.json")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var desc JobDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		t.Fatalf("invalid descriptor: %v", err)
	}
	if desc.Job.Name != "deploy" || desc.BundlePath != "/bundles/b1" || desc.CorrelationID != "c-7" || len(desc.Inventory) != 1 {
		t.Errorf("unexpected descriptor %+v", desc)
	}

	if ok, _ := spool.Exists(ctx, "7/task.json"); !ok {
		t.Error("task spec not published")
	}
	if ok, _ := spool.Exists(ctx, "7/events"); !ok {
		t.Error("events directory not created")
	}
}

func TestSpoolRunner_TerminateAndPurge(t *testing.T) {
	r, spool := newTestRunner()
	ctx := context.Background()

	if err := r.Terminate(ctx, 7); err == nil {
		t.Error("expected error terminating an unpublished task")
	}
	if err := r.Start(ctx, testSpec()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Terminate(ctx, 7); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if ok, _ := spool.Exists(ctx, "7/terminate"); !ok {
		t.Error("termination marker missing")
	}

	before := time.Now().Add(-time.Minute)
	ids, err := r.Tasks(ctx)
	if err != nil || len(ids) != 1 || ids[7].Before(before) {
		t.Fatalf("Tasks() = %v, %v", ids, err)
	}
	if err := r.Purge(ctx, 7); err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if ids, _ := r.Tasks(ctx); len(ids) != 0 {
		t.Errorf("task directory survived purge: %v", ids)
	}
}

func TestClean(t *testing.T) {
	tests := map[string]string{
		"7/jobs":        "/7/jobs",
		"../../etc":     "/etc",
		"/7/../8/x":     "/8/x",
		"":              "/",
		"7/events/.":    "/7/events",
		"7/./task.json": "/7/task.json",
	}
	for in, want := range tests {
		if got := clean(in); got != want {
			t.Errorf("clean(%q) = %q, want %q", in, got, want)
		}
	}
}

type call struct {
	kind  string
	job   int64
	ref   model.Ref
	value string
}

type fakeSink struct {
	calls []call
	err   error
}

func (f *fakeSink) record(c call) error {
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeSink) Report(_ context.Context, cb actions.Callback) error {
	return f.record(call{kind: "report", job: cb.JobID, value: string(cb.Status)})
}

func (f *fakeSink) StoreLog(_ context.Context, jobID int64, name string, typ model.LogType, _, body string) error {
	return f.record(call{kind: "log", job: jobID, value: name + ":" + string(typ) + ":" + body})
}

func (f *fakeSink) SetState(_ context.Context, jobID int64, ref model.Ref, state string) error {
	return f.record(call{kind: "state", job: jobID, ref: ref, value: state})
}

func (f *fakeSink) SetMultiState(_ context.Context, jobID int64, ref model.Ref, flag string) error {
	return f.record(call{kind: "multi", job: jobID, ref: ref, value: flag})
}

func (f *fakeSink) UnsetMultiState(_ context.Context, jobID int64, ref model.Ref, flag string, missingOK bool) error {
	v := flag
	if missingOK {
		v += "?"
	}
	return f.record(call{kind: "unset", job: jobID, ref: ref, value: v})
}

func (f *fakeSink) UpdateConfig(_ context.Context, jobID int64, ref model.Ref, key string, _ interface{}) (*model.ConfigLog, error) {
	return nil, f.record(call{kind: "config", job: jobID, ref: ref, value: key})
}

func writeEvent(t *testing.T, spool Spool, name string, ev interface{}) {
	t.Helper()
	var data []byte
	switch v := ev.(type) {
	case string:
		data = []byte(v)
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			t.Fatal(err)
		}
	}
	if err := spool.WriteFile(context.Background(), "7/events/"+name, data); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestCollector_Collect(t *testing.T) {
	r, spool := newTestRunner()
	ctx := context.Background()
	if err := r.Start(ctx, testSpec()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	svc := model.NewRef(model.TypeService, 2)
	writeEvent(t, spool, "0001.json", Event{Kind: EventStatus, JobID: 11, Status: model.JobStatusRunning})
	writeEvent(t, spool, "0002.json", Event{Kind: EventLog, JobID: 11,
		Log: &LogRecord{Name: "ansible", Type: model.LogStdout, Body: "ok"}})
	writeEvent(t, spool, "0003.json", Event{Kind: EventMultiState, JobID: 11, Object: svc, State: "tuned"})
	writeEvent(t, spool, "0004.json", Event{Kind: EventUnsetMultiState, JobID: 11, State: "old", MissingOK: true})
	writeEvent(t, spool, "0005.json", Event{Kind: EventConfig, JobID: 11, Key: "main/port", Value: 2181})
	writeEvent(t, spool, "0006.json", "{not json")
	writeEvent(t, spool, "0007.json", Event{Kind: "reboot"})
	writeEvent(t, spool, "0008.json", Event{Kind: EventStatus, Status: model.JobStatusSuccess})
	writeEvent(t, spool, "notes.txt", "ignored")

	sink := &fakeSink{}
	n, err := NewCollector(zerolog.Nop(), r, sink).Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if n != 6 {
		t.Errorf("applied %d events, want 6", n)
	}

	want := []call{
		{kind: "report", job: 11, value: "running"},
		{kind: "log", job: 11, value: "ansible:stdout:ok"},
		{kind: "multi", job: 11, ref: svc, value: "tuned"},
		{kind: "unset", job: 11, value: "old?"},
		{kind: "config", job: 11, value: "main/port"},
		{kind: "report", value: "success"},
	}
	if len(sink.calls) != len(want) {
		t.Fatalf("got calls %+v", sink.calls)
	}
	for i := range want {
		if sink.calls[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, sink.calls[i], want[i])
		}
	}

	names, _ := spool.ReadDir(ctx, "7/events")
	if len(names) != 1 || names[0] != "notes.txt" {
		t.Errorf("unexpected leftovers %v", names)
	}
}

func TestCollector_RejectedEventsAreDiscarded(t *testing.T) {
	r, spool := newTestRunner()
	ctx := context.Background()
	if err := r.Start(ctx, testSpec()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	writeEvent(t, spool, "0001.json", Event{Kind: EventState, JobID: 11, State: "x"})

	sink := &fakeSink{err: errors.New("job 11 is not running")}
	n, err := NewCollector(zerolog.Nop(), r, sink).Collect(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Collect() = %d, %v", n, err)
	}
	if names, _ := spool.ReadDir(ctx, "7/events"); len(names) != 0 {
		t.Errorf("rejected event kept: %v", names)
	}
}

func TestSFTPConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*SFTPConfig)
		wantErr string
	}{
		{"valid", func(c *SFTPConfig) {}, ""},
		{"missing host", func(c *SFTPConfig) { c.Host = "" }, "host is required"},
		{"bad port", func(c *SFTPConfig) { c.Port = 70000 }, "invalid port"},
		{"relative root", func(c *SFTPConfig) { c.Root = "spool" }, "absolute path"},
		{"no password", func(c *SFTPConfig) { c.AuthMethod = AuthMethodPassword }, "password is required"},
		{"no key", func(c *SFTPConfig) { c.PrivateKeyPath = "" }, "private key path is required"},
		{"agent", func(c *SFTPConfig) { c.AuthMethod = "agent" }, "unsupported auth method"},
		{"timeout", func(c *SFTPConfig) { c.ConnectionTimeout = 0 }, "timeout must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSFTPConfig("runner.example.com", "adcm", "/var/spool/adcm")
			cfg.PrivateKeyPath = "/etc/adcm/id_ed25519"
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
	if addr := DefaultSFTPConfig("h", "u", "/r").Address(); addr != "h:22" {
		t.Errorf("Address() = %q", addr)
	}
}

package stores

import (
	"context"
	"encoding/json"
)

// Kind names a record table.
type Kind string

const (
	KindBundle          Kind = "bundle"
	KindPrototype       Kind = "prototype"
	KindAction          Kind = "action"
	KindADCM            Kind = "adcm"
	KindCluster         Kind = "cluster"
	KindService         Kind = "cluster_object"
	KindComponent       Kind = "service_component"
	KindProvider        Kind = "host_provider"
	KindHost            Kind = "host"
	KindHostComponent   Kind = "host_component"
	KindObjectConfig    Kind = "object_config"
	KindConfigLog       Kind = "config_log"
	KindGroupConfig     Kind = "group_config"
	KindConcern         Kind = "concern_item"
	KindTask            Kind = "task_log"
	KindJob             Kind = "job_log"
	KindLog             Kind = "log_storage"
	KindBind            Kind = "cluster_bind"
	KindActionHostGroup Kind = "action_host_group"
	KindUser            Kind = "rbac_user"
	KindGroup           Kind = "rbac_group"
	KindRole            Kind = "rbac_role"
	KindPolicy          Kind = "rbac_policy"
)

// Op is the kind of change applied to a record.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is one entry of the change stream. Data holds the JSON document for
// creates and updates.
type Change struct {
	Kind Kind            `json:"kind"`
	ID   int64           `json:"id"`
	Op   Op              `json:"op"`
	Data json.RawMessage `json:"-"`
}

// Row is a persisted record document.
type Row struct {
	Kind Kind
	ID   int64
	Data json.RawMessage
}

// Backend persists committed change sets and restores them at startup.
type Backend interface {
	// Load returns every persisted row and the last allocated ID per kind.
	Load(ctx context.Context) ([]Row, map[Kind]int64, error)

	// Persist writes a change set and the sequence positions atomically.
	Persist(ctx context.Context, changes []Change, sequences map[Kind]int64) error
}

// CommitHook runs inside a write transaction after the caller's function and before
// persistence. It receives the changes made so far and may add more.
type CommitHook func(ctx context.Context, tx *Tx, changes []Change) error

// Listener receives the change set of every committed transaction.
type Listener func(changes []Change)

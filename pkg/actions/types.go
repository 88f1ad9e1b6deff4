package actions

import (
	"context"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/mapping"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

// Payload is the body of an action launch.
type Payload struct {
	Config model.Tree `json:"config"`
	// Meta carries activation of action config groups keyed by group path,
	// e.g. {"/ssl": {"isActive": true}}.
	Meta             map[string]interface{} `json:"adcm_meta"`
	HostComponentMap []mapping.Entry        `json:"hostcomponentmap,omitempty"`
	Verbose          bool                   `json:"verbose"`
}

// Request identifies what to run and where.
type Request struct {
	ActionID int64
	// Target is the object the action is launched from. For a host action this
	// is the host.
	Target model.Ref
	// HostGroupID runs the action on an action host group of the target.
	HostGroupID int64
	UserID      int64
	Payload     Payload
}

// Callback is a status report from the runner. JobID 0 addresses the task itself.
type Callback struct {
	TaskID int64           `json:"task_id"`
	JobID  int64           `json:"job_id,omitempty"`
	Status model.JobStatus `json:"status"`
}

// InventoryHost is one host of the task inventory.
type InventoryHost struct {
	ID         int64    `json:"id"`
	FQDN       string   `json:"fqdn"`
	Components []string `json:"components"`
}

// TaskSpec is what the runner receives.
type TaskSpec struct {
	Task      *model.TaskLog     `json:"task"`
	Jobs      []*model.JobLog    `json:"jobs"`
	Action    *definition.Action `json:"action"`
	Bundle    *definition.Bundle `json:"bundle"`
	Inventory []InventoryHost    `json:"inventory"`
}

// Runner is the process supervisor port. Start publishes a task; Terminate asks the
// runner to stop it. Both return once the request is handed over; outcomes arrive as
// callbacks.
type Runner interface {
	Start(ctx context.Context, spec TaskSpec) error
	Terminate(ctx context.Context, taskID int64) error
}

// Upgrader switches an object to the bundle of a finished upgrade action.
type Upgrader interface {
	SwitchBundle(tx *stores.Tx, ref model.Ref, bundleID int64) error
}

// ScriptSource loads a script shipped in a bundle.
type ScriptSource func(bundle *definition.Bundle, path string) (string, error)

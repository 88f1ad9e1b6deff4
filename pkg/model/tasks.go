package model

import (
	"slices"
	"time"
)

// TaskLog is one execution of an action.
type TaskLog struct {
	ID                   int64     `json:"id"`
	ActionID             int64     `json:"action_id"`
	Object               Ref       `json:"object"`
	Status               JobStatus `json:"status"`
	StartDate            time.Time `json:"start_date"`
	FinishDate           time.Time `json:"finish_date"`
	Config               Tree      `json:"config,omitempty"`
	Attr                 Tree      `json:"attr,omitempty"`
	HostComponentMap     []HCEntry `json:"hostcomponentmap,omitempty"`
	PrevHostComponentMap []HCEntry `json:"prev_hostcomponentmap,omitempty"`
	LockID               int64     `json:"lock_id,omitempty"`
	Verbose              bool      `json:"verbose"`
	UserID               int64     `json:"user_id,omitempty"`
	CorrelationID        string    `json:"correlation_id"`
	// HostID is set when an action declared with host_action runs from a host.
	HostID int64 `json:"host_id,omitempty"`
	// ActionHostGroupID is set when the task targets an action host group.
	ActionHostGroupID int64 `json:"action_host_group_id,omitempty"`
}

func (t *TaskLog) GetID() int64   { return t.ID }
func (t *TaskLog) SetID(id int64) { t.ID = id }
func (t *TaskLog) Clone() *TaskLog {
	n := *t
	n.Config = CloneTree(t.Config)
	n.Attr = CloneTree(t.Attr)
	n.HostComponentMap = slices.Clone(t.HostComponentMap)
	n.PrevHostComponentMap = slices.Clone(t.PrevHostComponentMap)
	return &n
}

// JobLog is one ordered step of a task.
type JobLog struct {
	ID          int64     `json:"id"`
	TaskID      int64     `json:"task_id"`
	Order       int       `json:"order"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Script      string    `json:"script"`
	ScriptType  string    `json:"script_type"`
	Params      Tree      `json:"params,omitempty"`
	Status      JobStatus `json:"status"`
	StartDate   time.Time `json:"start_date"`
	FinishDate  time.Time `json:"finish_date"`
	StateOnFail string    `json:"state_on_fail,omitempty"`
}

func (j *JobLog) GetID() int64   { return j.ID }
func (j *JobLog) SetID(id int64) { j.ID = id }
func (j *JobLog) Clone() *JobLog {
	n := *j
	n.Params = CloneTree(j.Params)
	return &n
}

// LogType classifies a job log.
type LogType string

const (
	LogStdout LogType = "stdout"
	LogStderr LogType = "stderr"
	LogCheck  LogType = "check"
	LogCustom LogType = "custom"
)

// LogStorage is one log attached to a job.
type LogStorage struct {
	ID     int64   `json:"id"`
	JobID  int64   `json:"job_id"`
	Name   string  `json:"name"`
	Type   LogType `json:"type"`
	Format string  `json:"format"`
	Body   string  `json:"body"`
}

func (l *LogStorage) GetID() int64   { return l.ID }
func (l *LogStorage) SetID(id int64) { l.ID = id }
func (l *LogStorage) Clone() *LogStorage {
	n := *l
	return &n
}

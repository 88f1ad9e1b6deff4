package model

import (
	"fmt"
	"slices"
)

// ConcernType distinguishes locks, issues and flags.
type ConcernType string

const (
	ConcernLock  ConcernType = "lock"
	ConcernIssue ConcernType = "issue"
	ConcernFlag  ConcernType = "flag"
)

// Validate checks if the concern type is known.
func (t ConcernType) Validate() error {
	switch t {
	case ConcernLock, ConcernIssue, ConcernFlag:
		return nil
	default:
		return fmt.Errorf("invalid concern type: %s", t)
	}
}

// ConcernCause is the reason class of an automatic concern.
type ConcernCause string

const (
	CauseConfig          ConcernCause = "config"
	CauseRequiredService ConcernCause = "service"
	CauseRequiredImport  ConcernCause = "import"
	CauseHostComponent   ConcernCause = "host-component"
	CauseJob             ConcernCause = "job"
)

// Placeholder is a rendered template parameter: the entity name and the id chain
// used to address it.
type Placeholder struct {
	Type string           `json:"type"`
	Name string           `json:"name"`
	IDs  map[string]int64 `json:"ids"`
}

// Reason is a rendered message template.
type Reason struct {
	Message     string                 `json:"message"`
	Placeholder map[string]Placeholder `json:"placeholder"`
}

// ConcernItem is a lock, issue or flag attached to one or more entities.
type ConcernItem struct {
	ID       int64        `json:"id"`
	Type     ConcernType  `json:"type"`
	Name     string       `json:"name,omitempty"`
	Reason   Reason       `json:"reason"`
	Blocking bool         `json:"blocking"`
	Owner    Ref          `json:"owner"`
	Cause    ConcernCause `json:"cause,omitempty"`
	TaskID   int64        `json:"task_id,omitempty"`
	Related  []Ref        `json:"related"`
}

func (c *ConcernItem) GetID() int64   { return c.ID }
func (c *ConcernItem) SetID(id int64) { c.ID = id }
func (c *ConcernItem) Clone() *ConcernItem {
	n := *c
	n.Related = slices.Clone(c.Related)
	n.Reason.Placeholder = make(map[string]Placeholder, len(c.Reason.Placeholder))
	for k, p := range c.Reason.Placeholder {
		ids := make(map[string]int64, len(p.IDs))
		for ik, iv := range p.IDs {
			ids[ik] = iv
		}
		p.IDs = ids
		n.Reason.Placeholder[k] = p
	}
	return &n
}

// IsBlocking reports whether the concern masks actions and upgrades.
func (c *ConcernItem) IsBlocking() bool {
	return c.Blocking && c.Type != ConcernFlag
}

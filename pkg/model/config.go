package model

import (
	"slices"
	"time"
)

// Tree is a JSON-shaped config or attr document.
type Tree = map[string]interface{}

// ObjectConfig points at the current and previous entries of a config history.
type ObjectConfig struct {
	ID         int64 `json:"id"`
	CurrentID  int64 `json:"current_id"`
	PreviousID int64 `json:"previous_id"`
}

func (o *ObjectConfig) GetID() int64   { return o.ID }
func (o *ObjectConfig) SetID(id int64) { o.ID = id }
func (o *ObjectConfig) Clone() *ObjectConfig {
	n := *o
	return &n
}

// Pinned reports whether a history entry is referenced as current or previous.
func (o *ObjectConfig) Pinned(logID int64) bool {
	return logID != 0 && (o.CurrentID == logID || o.PreviousID == logID)
}

// ConfigLog is one immutable entry of a config history.
type ConfigLog struct {
	ID          int64     `json:"id"`
	ObjConfID   int64     `json:"obj_conf_id"`
	Config      Tree      `json:"config"`
	Attr        Tree      `json:"attr"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
}

func (c *ConfigLog) GetID() int64   { return c.ID }
func (c *ConfigLog) SetID(id int64) { c.ID = id }
func (c *ConfigLog) Clone() *ConfigLog {
	n := *c
	n.Config = CloneTree(c.Config)
	n.Attr = CloneTree(c.Attr)
	return &n
}

// Attr keys maintained for group configs.
const (
	AttrGroupKeys       = "group_keys"
	AttrCustomGroupKeys = "custom_group_keys"
)

// GroupConfig is a named subset of hosts under an owner that may shadow config leaves.
type GroupConfig struct {
	ID          int64   `json:"id"`
	Owner       Ref     `json:"owner"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	ConfigID    int64   `json:"config_id"`
	HostIDs     []int64 `json:"host_ids"`
}

func (g *GroupConfig) GetID() int64   { return g.ID }
func (g *GroupConfig) SetID(id int64) { g.ID = id }
func (g *GroupConfig) Clone() *GroupConfig {
	n := *g
	n.HostIDs = slices.Clone(g.HostIDs)
	return &n
}

// HasHost reports host membership.
func (g *GroupConfig) HasHost(hostID int64) bool {
	return slices.Contains(g.HostIDs, hostID)
}

// RemoveHost drops a member and reports whether it was present.
func (g *GroupConfig) RemoveHost(hostID int64) bool {
	idx := slices.Index(g.HostIDs, hostID)
	if idx < 0 {
		return false
	}
	g.HostIDs = slices.Delete(g.HostIDs, idx, idx+1)
	return true
}

// CloneTree deep-copies a JSON-shaped document.
func CloneTree(t Tree) Tree {
	if t == nil {
		return nil
	}
	out := make(Tree, len(t))
	for k, v := range t {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a JSON-shaped value.
func CloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CloneTree(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(val)
	default:
		return val
	}
}

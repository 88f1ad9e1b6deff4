package model

import (
	"slices"
)

// DefaultState is the state of every freshly created entity.
const DefaultState = "created"

// MaintenanceMode is the maintenance mode of a host, service or component.
type MaintenanceMode string

const (
	MaintenanceModeOn       MaintenanceMode = "on"
	MaintenanceModeOff      MaintenanceMode = "off"
	MaintenanceModeChanging MaintenanceMode = "changing"
)

// Object holds the fields shared by every entity kind.
type Object struct {
	ID          int64    `json:"id"`
	PrototypeID int64    `json:"prototype_id"`
	State       string   `json:"state"`
	MultiState  []string `json:"multi_state"`
	ConfigID    int64    `json:"config_id,omitempty"`
	Concerns    []int64  `json:"concerns"`
}

// NewObject returns an object in the default state.
func NewObject(prototypeID int64) Object {
	return Object{
		PrototypeID: prototypeID,
		State:       DefaultState,
		MultiState:  []string{},
		Concerns:    []int64{},
	}
}

func (o Object) clone() Object {
	o.MultiState = slices.Clone(o.MultiState)
	o.Concerns = slices.Clone(o.Concerns)
	return o
}

// Base returns the shared object part.
func (o *Object) Base() *Object { return o }

// HasMultiState reports whether the flag is set.
func (o *Object) HasMultiState(flag string) bool {
	return slices.Contains(o.MultiState, flag)
}

// SetMultiState adds a flag; adding an existing flag is a no-op.
func (o *Object) SetMultiState(flag string) {
	if !o.HasMultiState(flag) {
		o.MultiState = append(o.MultiState, flag)
	}
}

// UnsetMultiState removes a flag and reports whether it was present.
func (o *Object) UnsetMultiState(flag string) bool {
	idx := slices.Index(o.MultiState, flag)
	if idx < 0 {
		return false
	}
	o.MultiState = slices.Delete(o.MultiState, idx, idx+1)
	return true
}

// HasConcern reports whether the concern is attached.
func (o *Object) HasConcern(id int64) bool {
	return slices.Contains(o.Concerns, id)
}

// AttachConcern attaches a concern once.
func (o *Object) AttachConcern(id int64) {
	if !o.HasConcern(id) {
		o.Concerns = append(o.Concerns, id)
	}
}

// DetachConcern removes a concern and reports whether it was attached.
func (o *Object) DetachConcern(id int64) bool {
	idx := slices.Index(o.Concerns, id)
	if idx < 0 {
		return false
	}
	o.Concerns = slices.Delete(o.Concerns, idx, idx+1)
	return true
}

// Entity is implemented by every runtime instance of a prototype.
type Entity interface {
	Ref() Ref
	Base() *Object
	DisplayName() string
}

// ADCM is the singleton holding global settings.
type ADCM struct {
	Object
	Name string `json:"name"`
}

func (a *ADCM) GetID() int64        { return a.ID }
func (a *ADCM) SetID(id int64)      { a.ID = id }
func (a *ADCM) Ref() Ref            { return NewRef(TypeADCM, a.ID) }
func (a *ADCM) DisplayName() string { return a.Name }
func (a *ADCM) Clone() *ADCM {
	c := *a
	c.Object = a.Object.clone()
	return &c
}

// Cluster is a root of cluster space.
type Cluster struct {
	Object
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (c *Cluster) GetID() int64        { return c.ID }
func (c *Cluster) SetID(id int64)      { c.ID = id }
func (c *Cluster) Ref() Ref            { return NewRef(TypeCluster, c.ID) }
func (c *Cluster) DisplayName() string { return c.Name }
func (c *Cluster) Clone() *Cluster {
	n := *c
	n.Object = c.Object.clone()
	return &n
}

// Service is a service added to a cluster.
type Service struct {
	Object
	ClusterID       int64           `json:"cluster_id"`
	Name            string          `json:"name"`
	Title           string          `json:"display_name"`
	MaintenanceMode MaintenanceMode `json:"maintenance_mode"`
}

func (s *Service) GetID() int64        { return s.ID }
func (s *Service) SetID(id int64)      { s.ID = id }
func (s *Service) Ref() Ref            { return NewRef(TypeService, s.ID) }
func (s *Service) DisplayName() string { return s.Title }
func (s *Service) Clone() *Service {
	n := *s
	n.Object = s.Object.clone()
	return &n
}

// Component belongs to a service and resolves to the same cluster.
type Component struct {
	Object
	ClusterID       int64           `json:"cluster_id"`
	ServiceID       int64           `json:"service_id"`
	Name            string          `json:"name"`
	Title           string          `json:"display_name"`
	MaintenanceMode MaintenanceMode `json:"maintenance_mode"`
}

func (c *Component) GetID() int64        { return c.ID }
func (c *Component) SetID(id int64)      { c.ID = id }
func (c *Component) Ref() Ref            { return NewRef(TypeComponent, c.ID) }
func (c *Component) DisplayName() string { return c.Title }
func (c *Component) Clone() *Component {
	n := *c
	n.Object = c.Object.clone()
	return &n
}

// Provider is a root of provider space.
type Provider struct {
	Object
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (p *Provider) GetID() int64        { return p.ID }
func (p *Provider) SetID(id int64)      { p.ID = id }
func (p *Provider) Ref() Ref            { return NewRef(TypeProvider, p.ID) }
func (p *Provider) DisplayName() string { return p.Name }
func (p *Provider) Clone() *Provider {
	n := *p
	n.Object = p.Object.clone()
	return &n
}

// Host belongs to a provider and optionally to one cluster.
type Host struct {
	Object
	ProviderID      int64           `json:"provider_id"`
	ClusterID       int64           `json:"cluster_id,omitempty"`
	FQDN            string          `json:"fqdn"`
	Description     string          `json:"description"`
	MaintenanceMode MaintenanceMode `json:"maintenance_mode"`
}

func (h *Host) GetID() int64        { return h.ID }
func (h *Host) SetID(id int64)      { h.ID = id }
func (h *Host) Ref() Ref            { return NewRef(TypeHost, h.ID) }
func (h *Host) DisplayName() string { return h.FQDN }
func (h *Host) Clone() *Host {
	n := *h
	n.Object = h.Object.clone()
	return &n
}

// InMaintenance reports whether the host is switched to maintenance mode.
func (h *Host) InMaintenance() bool {
	return h.MaintenanceMode == MaintenanceModeOn
}

// HostComponent is one mapping entry of a cluster.
type HostComponent struct {
	ID          int64 `json:"id"`
	ClusterID   int64 `json:"cluster_id"`
	HostID      int64 `json:"host_id"`
	ServiceID   int64 `json:"service_id"`
	ComponentID int64 `json:"component_id"`
}

func (hc *HostComponent) GetID() int64   { return hc.ID }
func (hc *HostComponent) SetID(id int64) { hc.ID = id }
func (hc *HostComponent) Clone() *HostComponent {
	n := *hc
	return &n
}

// Entry strips the storage identity.
func (hc *HostComponent) Entry() HCEntry {
	return HCEntry{HostID: hc.HostID, ServiceID: hc.ServiceID, ComponentID: hc.ComponentID}
}

// HCEntry is a mapping entry without storage identity, as used in requests and snapshots.
type HCEntry struct {
	HostID      int64 `json:"host_id"`
	ServiceID   int64 `json:"service_id"`
	ComponentID int64 `json:"component_id"`
}

// Bind links an importing cluster (or one of its services) to an exporting one.
type Bind struct {
	ID              int64 `json:"id"`
	ClusterID       int64 `json:"cluster_id"`
	ServiceID       int64 `json:"service_id,omitempty"`
	SourceClusterID int64 `json:"source_cluster_id"`
	SourceServiceID int64 `json:"source_service_id,omitempty"`
}

func (b *Bind) GetID() int64   { return b.ID }
func (b *Bind) SetID(id int64) { b.ID = id }
func (b *Bind) Clone() *Bind {
	n := *b
	return &n
}

// Importer returns the importing object.
func (b *Bind) Importer() Ref {
	if b.ServiceID != 0 {
		return NewRef(TypeService, b.ServiceID)
	}
	return NewRef(TypeCluster, b.ClusterID)
}

// Source returns the exporting object.
func (b *Bind) Source() Ref {
	if b.SourceServiceID != 0 {
		return NewRef(TypeService, b.SourceServiceID)
	}
	return NewRef(TypeCluster, b.SourceClusterID)
}

// ActionHostGroup is a named subset of hosts under a cluster, service or component
// that actions may target.
type ActionHostGroup struct {
	ID          int64   `json:"id"`
	Owner       Ref     `json:"owner"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	HostIDs     []int64 `json:"host_ids"`
}

func (g *ActionHostGroup) GetID() int64   { return g.ID }
func (g *ActionHostGroup) SetID(id int64) { g.ID = id }
func (g *ActionHostGroup) Clone() *ActionHostGroup {
	n := *g
	n.HostIDs = slices.Clone(g.HostIDs)
	return &n
}

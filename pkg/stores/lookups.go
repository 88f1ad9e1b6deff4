package stores

import (
	"fmt"
	"slices"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
)

func notFound(code, what string, id int64) error {
	return model.NotFound(code, "%s %d does not exist", what, id)
}

// Bundle returns a bundle by ID.
func (tx *Tx) Bundle(id int64) (*definition.Bundle, error) {
	if b, ok := tx.Bundles.Get(id); ok {
		return b, nil
	}
	return nil, notFound(model.ErrCodeBundleNotFound, "bundle", id)
}

// Prototype returns a prototype by ID.
func (tx *Tx) Prototype(id int64) (*definition.Prototype, error) {
	if p, ok := tx.Prototypes.Get(id); ok {
		return p, nil
	}
	return nil, notFound(model.ErrCodePrototypeNotFound, "prototype", id)
}

// Action returns an action by ID.
func (tx *Tx) Action(id int64) (*definition.Action, error) {
	if a, ok := tx.Actions.Get(id); ok {
		return a, nil
	}
	return nil, notFound(model.ErrCodeActionNotFound, "action", id)
}

// ADCMObject returns the singleton ADCM object.
func (tx *Tx) ADCMObject() (*model.ADCM, error) {
	if a, ok := tx.ADCM.First(func(*model.ADCM) bool { return true }); ok {
		return a, nil
	}
	return nil, model.NotFound(model.ErrCodeADCMNotFound, "adcm object is not initialized")
}

// Cluster returns a cluster by ID.
func (tx *Tx) Cluster(id int64) (*model.Cluster, error) {
	if c, ok := tx.Clusters.Get(id); ok {
		return c, nil
	}
	return nil, notFound(model.ErrCodeClusterNotFound, "cluster", id)
}

// Service returns a service by ID.
func (tx *Tx) Service(id int64) (*model.Service, error) {
	if s, ok := tx.Services.Get(id); ok {
		return s, nil
	}
	return nil, notFound(model.ErrCodeServiceNotFound, "service", id)
}

// Component returns a component by ID.
func (tx *Tx) Component(id int64) (*model.Component, error) {
	if c, ok := tx.Components.Get(id); ok {
		return c, nil
	}
	return nil, notFound(model.ErrCodeComponentNotFound, "component", id)
}

// Provider returns a provider by ID.
func (tx *Tx) Provider(id int64) (*model.Provider, error) {
	if p, ok := tx.Providers.Get(id); ok {
		return p, nil
	}
	return nil, notFound(model.ErrCodeProviderNotFound, "provider", id)
}

// Host returns a host by ID.
func (tx *Tx) Host(id int64) (*model.Host, error) {
	if h, ok := tx.Hosts.Get(id); ok {
		return h, nil
	}
	return nil, notFound(model.ErrCodeHostNotFound, "host", id)
}

// Task returns a task by ID.
func (tx *Tx) Task(id int64) (*model.TaskLog, error) {
	if t, ok := tx.Tasks.Get(id); ok {
		return t, nil
	}
	return nil, notFound(model.ErrCodeTaskNotFound, "task", id)
}

// Job returns a job by ID.
func (tx *Tx) Job(id int64) (*model.JobLog, error) {
	if j, ok := tx.Jobs.Get(id); ok {
		return j, nil
	}
	return nil, notFound(model.ErrCodeJobNotFound, "job", id)
}

// GroupConfig returns a group config by ID.
func (tx *Tx) GroupConfig(id int64) (*model.GroupConfig, error) {
	if g, ok := tx.GroupConfigs.Get(id); ok {
		return g, nil
	}
	return nil, notFound(model.ErrCodeGroupConfigNotFound, "group config", id)
}

// ObjectConfig returns a config history head by ID.
func (tx *Tx) ObjectConfig(id int64) (*model.ObjectConfig, error) {
	if o, ok := tx.ObjectConfigs.Get(id); ok {
		return o, nil
	}
	return nil, notFound(model.ErrCodeConfigNotFound, "config", id)
}

// ConfigLog returns a config history entry by ID.
func (tx *Tx) ConfigLog(id int64) (*model.ConfigLog, error) {
	if c, ok := tx.ConfigLogs.Get(id); ok {
		return c, nil
	}
	return nil, notFound(model.ErrCodeConfigNotFound, "config log", id)
}

// Concern returns a concern by ID.
func (tx *Tx) Concern(id int64) (*model.ConcernItem, error) {
	if c, ok := tx.Concerns.Get(id); ok {
		return c, nil
	}
	return nil, notFound(model.ErrCodeConcernNotFound, "concern", id)
}

// Bind returns an import bind by ID.
func (tx *Tx) Bind(id int64) (*model.Bind, error) {
	if b, ok := tx.Binds.Get(id); ok {
		return b, nil
	}
	return nil, notFound(model.ErrCodeBindNotFound, "bind", id)
}

// ActionHostGroup returns an action host group by ID.
func (tx *Tx) ActionHostGroup(id int64) (*model.ActionHostGroup, error) {
	if g, ok := tx.ActionHostGroups.Get(id); ok {
		return g, nil
	}
	return nil, notFound(model.ErrCodeHostGroupNotFound, "action host group", id)
}

// User returns a user by ID.
func (tx *Tx) User(id int64) (*model.User, error) {
	if u, ok := tx.Users.Get(id); ok {
		return u, nil
	}
	return nil, notFound(model.ErrCodeUserNotFound, "user", id)
}

// Group returns an RBAC group by ID.
func (tx *Tx) Group(id int64) (*model.Group, error) {
	if g, ok := tx.Groups.Get(id); ok {
		return g, nil
	}
	return nil, notFound(model.ErrCodeGroupNotFound, "group", id)
}

// Role returns a role by ID.
func (tx *Tx) Role(id int64) (*model.Role, error) {
	if r, ok := tx.Roles.Get(id); ok {
		return r, nil
	}
	return nil, notFound(model.ErrCodeRoleNotFound, "role", id)
}

// Policy returns a policy by ID.
func (tx *Tx) Policy(id int64) (*model.Policy, error) {
	if p, ok := tx.Policies.Get(id); ok {
		return p, nil
	}
	return nil, notFound(model.ErrCodePolicyNotFound, "policy", id)
}

// ClusterByName finds a cluster by its unique name.
func (tx *Tx) ClusterByName(name string) (*model.Cluster, bool) {
	return tx.Clusters.First(func(c *model.Cluster) bool { return c.Name == name })
}

// ProviderByName finds a provider by its unique name.
func (tx *Tx) ProviderByName(name string) (*model.Provider, bool) {
	return tx.Providers.First(func(p *model.Provider) bool { return p.Name == name })
}

// HostByFQDN finds a host by its unique FQDN.
func (tx *Tx) HostByFQDN(fqdn string) (*model.Host, bool) {
	return tx.Hosts.First(func(h *model.Host) bool { return h.FQDN == fqdn })
}

// ServiceByName finds a service of a cluster by prototype name.
func (tx *Tx) ServiceByName(clusterID int64, name string) (*model.Service, bool) {
	return tx.Services.First(func(s *model.Service) bool {
		return s.ClusterID == clusterID && s.Name == name
	})
}

// ComponentByName finds a component of a service by prototype name.
func (tx *Tx) ComponentByName(serviceID int64, name string) (*model.Component, bool) {
	return tx.Components.First(func(c *model.Component) bool {
		return c.ServiceID == serviceID && c.Name == name
	})
}

// ServicesOf returns the services of a cluster.
func (tx *Tx) ServicesOf(clusterID int64) []*model.Service {
	return tx.Services.Find(func(s *model.Service) bool { return s.ClusterID == clusterID })
}

// ComponentsOf returns the components of a service.
func (tx *Tx) ComponentsOf(serviceID int64) []*model.Component {
	return tx.Components.Find(func(c *model.Component) bool { return c.ServiceID == serviceID })
}

// ClusterComponents returns every component of a cluster.
func (tx *Tx) ClusterComponents(clusterID int64) []*model.Component {
	return tx.Components.Find(func(c *model.Component) bool { return c.ClusterID == clusterID })
}

// ClusterHosts returns the hosts added to a cluster.
func (tx *Tx) ClusterHosts(clusterID int64) []*model.Host {
	return tx.Hosts.Find(func(h *model.Host) bool { return h.ClusterID == clusterID })
}

// ProviderHosts returns the hosts of a provider.
func (tx *Tx) ProviderHosts(providerID int64) []*model.Host {
	return tx.Hosts.Find(func(h *model.Host) bool { return h.ProviderID == providerID })
}

// Mapping returns the host-component entries of a cluster.
func (tx *Tx) Mapping(clusterID int64) []*model.HostComponent {
	return tx.HostComponents.Find(func(hc *model.HostComponent) bool { return hc.ClusterID == clusterID })
}

// HostsOfComponent returns the IDs of hosts mapped to a component.
func (tx *Tx) HostsOfComponent(componentID int64) []int64 {
	var ids []int64
	for _, hc := range tx.HostComponents.Find(func(hc *model.HostComponent) bool { return hc.ComponentID == componentID }) {
		ids = append(ids, hc.HostID)
	}
	return ids
}

// HostsOfService returns the IDs of hosts mapped to any component of a service.
func (tx *Tx) HostsOfService(serviceID int64) []int64 {
	var ids []int64
	for _, hc := range tx.HostComponents.Find(func(hc *model.HostComponent) bool { return hc.ServiceID == serviceID }) {
		if !slices.Contains(ids, hc.HostID) {
			ids = append(ids, hc.HostID)
		}
	}
	return ids
}

// MappingOfHost returns the entries of a host.
func (tx *Tx) MappingOfHost(hostID int64) []*model.HostComponent {
	return tx.HostComponents.Find(func(hc *model.HostComponent) bool { return hc.HostID == hostID })
}

// ActionsOf returns the actions of a prototype.
func (tx *Tx) ActionsOf(prototypeID int64) []*definition.Action {
	return tx.Actions.Find(func(a *definition.Action) bool { return a.PrototypeID == prototypeID })
}

// ActionByName finds an action of a prototype.
func (tx *Tx) ActionByName(prototypeID int64, name string) (*definition.Action, bool) {
	return tx.Actions.First(func(a *definition.Action) bool {
		return a.PrototypeID == prototypeID && a.Name == name
	})
}

// PrototypesOf returns the prototypes of a bundle.
func (tx *Tx) PrototypesOf(bundleID int64) []*definition.Prototype {
	return tx.Prototypes.Find(func(p *definition.Prototype) bool { return p.BundleID == bundleID })
}

// ChildPrototypes returns the component prototypes of a service prototype.
func (tx *Tx) ChildPrototypes(serviceProtoID int64) []*definition.Prototype {
	return tx.Prototypes.Find(func(p *definition.Prototype) bool { return p.ParentID == serviceProtoID })
}

// PrototypeByName finds a prototype of a bundle by type and name.
func (tx *Tx) PrototypeByName(bundleID int64, t model.ObjectType, name string) (*definition.Prototype, bool) {
	return tx.Prototypes.First(func(p *definition.Prototype) bool {
		return p.BundleID == bundleID && p.Type == t && p.Name == name
	})
}

// Entity resolves a reference to its record.
func (tx *Tx) Entity(ref model.Ref) (model.Entity, error) {
	switch ref.Type {
	case model.TypeADCM:
		if a, ok := tx.ADCM.Get(ref.ID); ok {
			return a, nil
		}
		return nil, notFound(model.ErrCodeADCMNotFound, "adcm", ref.ID)
	case model.TypeCluster:
		return entity(tx.Cluster(ref.ID))
	case model.TypeService:
		return entity(tx.Service(ref.ID))
	case model.TypeComponent:
		return entity(tx.Component(ref.ID))
	case model.TypeProvider:
		return entity(tx.Provider(ref.ID))
	case model.TypeHost:
		return entity(tx.Host(ref.ID))
	default:
		return nil, model.InvalidInput(model.ErrCodeInvalidObjType, "unknown object type %q", ref.Type)
	}
}

func entity[E model.Entity](e E, err error) (model.Entity, error) {
	if err != nil {
		return nil, err
	}
	return e, nil
}

// PutEntity writes an entity back to its table.
func (tx *Tx) PutEntity(e model.Entity) {
	switch v := e.(type) {
	case *model.ADCM:
		tx.ADCM.Put(v)
	case *model.Cluster:
		tx.Clusters.Put(v)
	case *model.Service:
		tx.Services.Put(v)
	case *model.Component:
		tx.Components.Put(v)
	case *model.Provider:
		tx.Providers.Put(v)
	case *model.Host:
		tx.Hosts.Put(v)
	default:
		panic(fmt.Sprintf("unsupported entity %T", e))
	}
}

// PrototypeOf returns the prototype of an entity.
func (tx *Tx) PrototypeOf(ref model.Ref) (*definition.Prototype, error) {
	e, err := tx.Entity(ref)
	if err != nil {
		return nil, err
	}
	return tx.Prototype(e.Base().PrototypeID)
}

// Parents returns the ancestors of an entity along parent edges, nearest first.
// A host's parents are its provider and, when set, its cluster.
func (tx *Tx) Parents(ref model.Ref) []model.Ref {
	switch ref.Type {
	case model.TypeService:
		if s, ok := tx.Services.Get(ref.ID); ok {
			return []model.Ref{model.NewRef(model.TypeCluster, s.ClusterID)}
		}
	case model.TypeComponent:
		if c, ok := tx.Components.Get(ref.ID); ok {
			return []model.Ref{
				model.NewRef(model.TypeService, c.ServiceID),
				model.NewRef(model.TypeCluster, c.ClusterID),
			}
		}
	case model.TypeHost:
		if h, ok := tx.Hosts.Get(ref.ID); ok {
			parents := []model.Ref{model.NewRef(model.TypeProvider, h.ProviderID)}
			if h.ClusterID != 0 {
				parents = append(parents, model.NewRef(model.TypeCluster, h.ClusterID))
			}
			return parents
		}
	}
	return nil
}

// Children returns the descendants of an entity: services, components and hosts of a
// cluster, components of a service, hosts of a provider.
func (tx *Tx) Children(ref model.Ref) []model.Ref {
	var out []model.Ref
	switch ref.Type {
	case model.TypeCluster:
		for _, s := range tx.ServicesOf(ref.ID) {
			out = append(out, s.Ref())
		}
		for _, c := range tx.ClusterComponents(ref.ID) {
			out = append(out, c.Ref())
		}
		for _, h := range tx.ClusterHosts(ref.ID) {
			out = append(out, h.Ref())
		}
	case model.TypeService:
		for _, c := range tx.ComponentsOf(ref.ID) {
			out = append(out, c.Ref())
		}
	case model.TypeProvider:
		for _, h := range tx.ProviderHosts(ref.ID) {
			out = append(out, h.Ref())
		}
	}
	return out
}

// RootOf returns the advisory lock root of an entity: the cluster for cluster
// space, the provider for hosts and providers, the ADCM object otherwise.
func (tx *Tx) RootOf(ref model.Ref) model.Ref {
	switch ref.Type {
	case model.TypeCluster, model.TypeProvider:
		return ref
	case model.TypeService, model.TypeComponent:
		for _, p := range tx.Parents(ref) {
			if p.Type == model.TypeCluster {
				return p
			}
		}
	case model.TypeHost:
		if h, ok := tx.Hosts.Get(ref.ID); ok {
			return model.NewRef(model.TypeProvider, h.ProviderID)
		}
	}
	return model.NewRef(model.TypeADCM, 0)
}

// ClusterOf returns the cluster an entity lives in, or 0.
func (tx *Tx) ClusterOf(ref model.Ref) int64 {
	switch ref.Type {
	case model.TypeCluster:
		return ref.ID
	case model.TypeService:
		if s, ok := tx.Services.Get(ref.ID); ok {
			return s.ClusterID
		}
	case model.TypeComponent:
		if c, ok := tx.Components.Get(ref.ID); ok {
			return c.ClusterID
		}
	case model.TypeHost:
		if h, ok := tx.Hosts.Get(ref.ID); ok {
			return h.ClusterID
		}
	}
	return 0
}

package manager

import (
	"context"
	"slices"
	"strings"

	"github.com/openadcm/adcm/pkg/actions"
	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/rbac"
	"github.com/openadcm/adcm/pkg/stores"
)

// ObjectInput creates a cluster or a provider.
type ObjectInput struct {
	PrototypeID int64
	Name        string
	Description string
}

// HostInput creates a host under a provider.
type HostInput struct {
	ProviderID  int64
	PrototypeID int64
	FQDN        string
	Description string
}

// ObjectUpdate changes the name (the FQDN of a host) or the description of an
// object. Nil fields are left unchanged.
type ObjectUpdate struct {
	Name        *string
	Description *string
}

// read runs fn in a read transaction and returns its result.
func read[T any](ctx context.Context, m *Manager, fn func(tx *stores.Tx) (T, error)) (T, error) {
	var out T
	err := m.graph.View(ctx, func(tx *stores.Tx) error {
		var err error
		out, err = fn(tx)
		return err
	})
	return out, err
}

// prototypeFor returns a prototype of type t that objects may be created from.
func prototypeFor(tx *stores.Tx, id int64, t model.ObjectType) (*definition.Prototype, error) {
	proto, err := tx.Prototype(id)
	if err != nil {
		return nil, err
	}
	if proto.Type != t {
		return nil, model.InvalidInput(model.ErrCodeInvalidObjType,
			"prototype %d is a %s prototype, not %s", id, proto.Type, t)
	}
	if err := checkLicense(proto); err != nil {
		return nil, err
	}
	return proto, nil
}

// changed records a field change in an audit diff.
func changed(c *model.ObjectChanges, field string, prev, cur interface{}) {
	if c.Previous == nil {
		c.Previous = map[string]interface{}{}
		c.Current = map[string]interface{}{}
	}
	c.Previous[field] = prev
	c.Current[field] = cur
}

// CreateCluster creates a cluster from a cluster prototype.
func (m *Manager) CreateCluster(ctx context.Context, p model.Principal, in ObjectInput) (*model.Cluster, error) {
	var out *model.Cluster
	c := &command{
		name:      "cluster.create",
		principal: p,
		verb:      rbac.VerbAdd,
		object:    model.NewRef(model.TypeCluster, 0),
		op:        auditEntry("Cluster created", model.OperationCreate, model.Ref{}, in.Name),
	}
	c.mutate = func(tx *stores.Tx) error {
		if err := m.names.Object("cluster", in.Name); err != nil {
			return err
		}
		proto, err := prototypeFor(tx, in.PrototypeID, model.TypeCluster)
		if err != nil {
			return err
		}
		if _, ok := tx.ClusterByName(in.Name); ok {
			return model.Errorf(model.KindAlreadyExists, model.ErrCodeClusterConflict,
				"cluster with name %q already exists", in.Name)
		}
		out = &model.Cluster{Object: model.NewObject(proto.ID), Name: in.Name, Description: in.Description}
		tx.Clusters.Insert(out)
		if err := m.configs.Init(tx, out); err != nil {
			return err
		}
		c.op.Object = out.Ref()
		return nil
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateCluster renames a cluster or changes its description. A cluster under a
// blocking concern keeps its name.
func (m *Manager) UpdateCluster(ctx context.Context, p model.Principal, id int64, up ObjectUpdate) (*model.Cluster, error) {
	ref := model.NewRef(model.TypeCluster, id)
	var out *model.Cluster
	c := &command{
		name:      "cluster.update",
		principal: p,
		verb:      rbac.VerbChange,
		object:    ref,
		op:        auditEntry("Cluster updated", model.OperationUpdate, ref, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		cl, err := tx.Cluster(id)
		if err != nil {
			return err
		}
		if up.Name != nil && *up.Name != cl.Name {
			if err := m.names.Object("cluster", *up.Name); err != nil {
				return err
			}
			if _, blocked := m.concerns.Blocking(tx, ref); blocked {
				return model.Conflict(model.ErrCodeClusterConflict,
					"Name change is available only if no locking concern exists")
			}
			if _, ok := tx.ClusterByName(*up.Name); ok {
				return model.Errorf(model.KindAlreadyExists, model.ErrCodeClusterConflict,
					"cluster with name %q already exists", *up.Name)
			}
			changed(&c.op.Changes, "name", cl.Name, *up.Name)
			cl.Name = *up.Name
			c.op.ObjectName = cl.Name
		}
		if up.Description != nil && *up.Description != cl.Description {
			changed(&c.op.Changes, "description", cl.Description, *up.Description)
			cl.Description = *up.Description
		}
		tx.Clusters.Put(cl)
		out = cl
		return nil
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteCluster deletes a cluster with its services and components. Its hosts
// return to their providers. Tasks running on the cluster objects are aborted.
func (m *Manager) DeleteCluster(ctx context.Context, p model.Principal, id int64) error {
	ref := model.NewRef(model.TypeCluster, id)
	var aborted []int64
	c := &command{
		name:      "cluster.delete",
		principal: p,
		verb:      rbac.VerbDelete,
		object:    ref,
		op:        auditEntry("Cluster deleted", model.OperationDelete, ref, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		cl, err := tx.Cluster(id)
		if err != nil {
			return err
		}
		refs := []model.Ref{ref}
		for _, s := range tx.ServicesOf(id) {
			refs = append(refs, s.Ref())
		}
		for _, comp := range tx.ClusterComponents(id) {
			refs = append(refs, comp.Ref())
		}
		for _, r := range refs {
			if err := checkExports(tx, r, id); err != nil {
				return err
			}
		}
		if aborted, err = m.runtime.AbortOwn(tx, refs...); err != nil {
			return err
		}

		m.mapping.Apply(tx, id, nil)
		tx.Binds.DeleteWhere(func(b *model.Bind) bool { return b.ClusterID == id })
		for _, comp := range tx.ClusterComponents(id) {
			m.purge(tx, comp)
			tx.Components.Delete(comp.ID)
		}
		for _, s := range tx.ServicesOf(id) {
			m.purge(tx, s)
			tx.Services.Delete(s.ID)
		}
		for _, h := range tx.ClusterHosts(id) {
			h.ClusterID = 0
			tx.Hosts.Put(h)
		}
		m.purge(tx, cl)
		tx.Clusters.Delete(id)
		m.configs.PruneHosts(tx)
		actions.PruneHostGroups(tx)
		return nil
	}
	c.after = append(c.after, func(ctx context.Context) { m.runtime.Signal(ctx, aborted) })
	return m.exec(ctx, c)
}

// checkExports refuses to delete an object other clusters import from.
func checkExports(tx *stores.Tx, ref model.Ref, clusterID int64) error {
	b, ok := tx.Binds.First(func(b *model.Bind) bool {
		return b.Source() == ref && b.ClusterID != clusterID
	})
	if !ok {
		return nil
	}
	name := objectName(tx, b.Importer())
	return model.Conflict(model.ErrCodeBindError, "%s is imported by %s %q", ref, b.Importer().Type, name)
}

// purge removes what an entity owns before the entity itself is deleted.
func (m *Manager) purge(tx *stores.Tx, ent model.Entity) {
	ref := ent.Ref()
	m.concerns.DeleteOwnedBy(tx, ref)
	m.configs.DeleteGroupsOf(tx, ref)
	m.configs.DeleteHistory(tx, ent)
	actions.DeleteHostGroupsOf(tx, ref)
	rbac.DropObject(tx, ref)
}

// AddService adds a service of the cluster bundle to a cluster. Its components
// are created with it.
func (m *Manager) AddService(ctx context.Context, p model.Principal, clusterID, prototypeID int64) (*model.Service, error) {
	clusterRef := model.NewRef(model.TypeCluster, clusterID)
	var out *model.Service
	c := &command{
		name:      "service.add",
		principal: p,
		verb:      rbac.VerbAdd,
		object:    clusterRef,
		child:     model.TypeService,
		op:        auditEntry("Service added", model.OperationUpdate, clusterRef, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		cl, err := tx.Cluster(clusterID)
		if err != nil {
			return err
		}
		proto, err := tx.Prototype(prototypeID)
		if err != nil {
			return err
		}
		c.op.Name = proto.Title() + " service added"
		if proto.Type != model.TypeService {
			return model.InvalidInput(model.ErrCodeInvalidObjType, "prototype %d is not a service prototype", prototypeID)
		}
		clusterProto, err := tx.Prototype(cl.PrototypeID)
		if err != nil {
			return err
		}
		if proto.BundleID != clusterProto.BundleID {
			return model.NotFound(model.ErrCodePrototypeNotFound,
				"service %q is not in the bundle of cluster %q", proto.Name, cl.Name)
		}
		if err := checkLicense(proto); err != nil {
			return err
		}
		if _, ok := tx.ServiceByName(clusterID, proto.Name); ok {
			return model.Conflict(model.ErrCodeServiceConflict,
				"service %q is already added to cluster %q", proto.Name, cl.Name)
		}

		out = &model.Service{
			Object:          model.NewObject(proto.ID),
			ClusterID:       clusterID,
			Name:            proto.Name,
			Title:           proto.Title(),
			MaintenanceMode: model.MaintenanceModeOff,
		}
		tx.Services.Insert(out)
		if err := m.configs.Init(tx, out); err != nil {
			return err
		}
		for _, cp := range tx.ChildPrototypes(proto.ID) {
			if err := m.addComponent(tx, out, cp); err != nil {
				return err
			}
		}
		return nil
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteService removes a service with its components, mapping entries, group
// configs and action host groups. Required services and services other services
// depend on stay.
func (m *Manager) DeleteService(ctx context.Context, p model.Principal, id int64) error {
	ref := model.NewRef(model.TypeService, id)
	var aborted []int64
	c := &command{
		name:      "service.delete",
		principal: p,
		verb:      rbac.VerbDelete,
		object:    ref,
		op:        auditEntry("Service removed", model.OperationUpdate, model.Ref{}, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		svc, err := tx.Service(id)
		if err != nil {
			return err
		}
		c.op.Name = svc.DisplayName() + " service removed"
		c.op.Object = model.NewRef(model.TypeCluster, svc.ClusterID)
		c.op.ObjectName = objectName(tx, c.op.Object)
		if aborted, err = m.removeService(tx, svc); err != nil {
			return err
		}
		return nil
	}
	c.after = append(c.after, func(ctx context.Context) { m.runtime.Signal(ctx, aborted) })
	return m.exec(ctx, c)
}

func (m *Manager) removeService(tx *stores.Tx, svc *model.Service) ([]int64, error) {
	proto, err := tx.Prototype(svc.PrototypeID)
	if err != nil {
		return nil, err
	}
	if proto.Required {
		return nil, model.Conflict(model.ErrCodeServiceDelete, "service %q is required", svc.DisplayName())
	}
	for _, other := range tx.ServicesOf(svc.ClusterID) {
		if other.ID == svc.ID {
			continue
		}
		op, err := tx.Prototype(other.PrototypeID)
		if err != nil {
			return nil, err
		}
		if slices.ContainsFunc(op.Requires, func(r definition.Require) bool { return r.Service == svc.Name }) {
			return nil, model.Conflict(model.ErrCodeServiceConflict,
				"service %q is required by service %q", svc.DisplayName(), other.DisplayName())
		}
	}

	comps := tx.ComponentsOf(svc.ID)
	refs := []model.Ref{svc.Ref()}
	for _, comp := range comps {
		refs = append(refs, comp.Ref())
	}
	for _, r := range refs {
		if err := checkExports(tx, r, 0); err != nil {
			return nil, err
		}
	}
	aborted, err := m.runtime.AbortOwn(tx, refs...)
	if err != nil {
		return nil, err
	}

	m.dropService(tx, svc)
	return aborted, nil
}

// dropService deletes a service with its components, their mapping entries and
// the binds the service imports through.
func (m *Manager) dropService(tx *stores.Tx, svc *model.Service) {
	var kept []model.HCEntry
	for _, e := range m.mapping.Mapping(tx, svc.ClusterID) {
		if e.ServiceID != svc.ID {
			kept = append(kept, e)
		}
	}
	m.mapping.Apply(tx, svc.ClusterID, kept)
	tx.Binds.DeleteWhere(func(b *model.Bind) bool { return b.ServiceID == svc.ID })
	for _, comp := range tx.ComponentsOf(svc.ID) {
		m.purge(tx, comp)
		tx.Components.Delete(comp.ID)
	}
	m.purge(tx, svc)
	tx.Services.Delete(svc.ID)
	m.logger.Info().Int64("service_id", svc.ID).Str("service", svc.Name).Msg("Service removed")
}

// dropComponent deletes a component and its mapping entries.
func (m *Manager) dropComponent(tx *stores.Tx, comp *model.Component) {
	var kept []model.HCEntry
	for _, e := range m.mapping.Mapping(tx, comp.ClusterID) {
		if e.ComponentID != comp.ID {
			kept = append(kept, e)
		}
	}
	m.mapping.Apply(tx, comp.ClusterID, kept)
	m.purge(tx, comp)
	tx.Components.Delete(comp.ID)
}

// addComponent creates a component of a service from a component prototype.
func (m *Manager) addComponent(tx *stores.Tx, svc *model.Service, cp *definition.Prototype) error {
	comp := &model.Component{
		Object:          model.NewObject(cp.ID),
		ClusterID:       svc.ClusterID,
		ServiceID:       svc.ID,
		Name:            cp.Name,
		Title:           cp.Title(),
		MaintenanceMode: model.MaintenanceModeOff,
	}
	tx.Components.Insert(comp)
	return m.configs.Init(tx, comp)
}

// CreateProvider creates a host provider.
func (m *Manager) CreateProvider(ctx context.Context, p model.Principal, in ObjectInput) (*model.Provider, error) {
	var out *model.Provider
	c := &command{
		name:      "provider.create",
		principal: p,
		verb:      rbac.VerbAdd,
		object:    model.NewRef(model.TypeProvider, 0),
		op:        auditEntry("Provider created", model.OperationCreate, model.Ref{}, in.Name),
	}
	c.mutate = func(tx *stores.Tx) error {
		if err := m.names.Object("provider", in.Name); err != nil {
			return err
		}
		proto, err := prototypeFor(tx, in.PrototypeID, model.TypeProvider)
		if err != nil {
			return err
		}
		if _, ok := tx.ProviderByName(in.Name); ok {
			return model.Errorf(model.KindAlreadyExists, model.ErrCodeProviderConflict,
				"provider with name %q already exists", in.Name)
		}
		out = &model.Provider{Object: model.NewObject(proto.ID), Name: in.Name, Description: in.Description}
		tx.Providers.Insert(out)
		if err := m.configs.Init(tx, out); err != nil {
			return err
		}
		c.op.Object = out.Ref()
		return nil
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateProvider renames a provider or changes its description.
func (m *Manager) UpdateProvider(ctx context.Context, p model.Principal, id int64, up ObjectUpdate) (*model.Provider, error) {
	ref := model.NewRef(model.TypeProvider, id)
	var out *model.Provider
	c := &command{
		name:      "provider.update",
		principal: p,
		verb:      rbac.VerbChange,
		object:    ref,
		op:        auditEntry("Provider updated", model.OperationUpdate, ref, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		pr, err := tx.Provider(id)
		if err != nil {
			return err
		}
		if up.Name != nil && *up.Name != pr.Name {
			if err := m.names.Object("provider", *up.Name); err != nil {
				return err
			}
			if _, ok := tx.ProviderByName(*up.Name); ok {
				return model.Errorf(model.KindAlreadyExists, model.ErrCodeProviderConflict,
					"provider with name %q already exists", *up.Name)
			}
			changed(&c.op.Changes, "name", pr.Name, *up.Name)
			pr.Name = *up.Name
			c.op.ObjectName = pr.Name
		}
		if up.Description != nil && *up.Description != pr.Description {
			changed(&c.op.Changes, "description", pr.Description, *up.Description)
			pr.Description = *up.Description
		}
		tx.Providers.Put(pr)
		out = pr
		return nil
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteProvider deletes a provider without hosts.
func (m *Manager) DeleteProvider(ctx context.Context, p model.Principal, id int64) error {
	ref := model.NewRef(model.TypeProvider, id)
	var aborted []int64
	c := &command{
		name:      "provider.delete",
		principal: p,
		verb:      rbac.VerbDelete,
		object:    ref,
		op:        auditEntry("Provider deleted", model.OperationDelete, ref, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		pr, err := tx.Provider(id)
		if err != nil {
			return err
		}
		if hosts := tx.ProviderHosts(id); len(hosts) > 0 {
			return model.Conflict(model.ErrCodeProviderConflict,
				"provider %q still has %d host(s)", pr.Name, len(hosts))
		}
		if aborted, err = m.runtime.AbortOwn(tx, ref); err != nil {
			return err
		}
		m.purge(tx, pr)
		tx.Providers.Delete(id)
		return nil
	}
	c.after = append(c.after, func(ctx context.Context) { m.runtime.Signal(ctx, aborted) })
	return m.exec(ctx, c)
}

// CreateHost creates a host of a provider from a host prototype of the provider
// bundle.
func (m *Manager) CreateHost(ctx context.Context, p model.Principal, in HostInput) (*model.Host, error) {
	providerRef := model.NewRef(model.TypeProvider, in.ProviderID)
	var out *model.Host
	c := &command{
		name:      "host.create",
		principal: p,
		verb:      rbac.VerbAdd,
		object:    providerRef,
		child:     model.TypeHost,
		op:        auditEntry("Host created", model.OperationCreate, model.Ref{}, in.FQDN),
	}
	c.mutate = func(tx *stores.Tx) error {
		if err := m.names.FQDN(in.FQDN); err != nil {
			return err
		}
		pr, err := tx.Provider(in.ProviderID)
		if err != nil {
			return err
		}
		proto, err := prototypeFor(tx, in.PrototypeID, model.TypeHost)
		if err != nil {
			return err
		}
		providerProto, err := tx.Prototype(pr.PrototypeID)
		if err != nil {
			return err
		}
		if proto.BundleID != providerProto.BundleID {
			return model.NotFound(model.ErrCodePrototypeNotFound,
				"host prototype %q is not in the bundle of provider %q", proto.Name, pr.Name)
		}
		if _, ok := tx.HostByFQDN(in.FQDN); ok {
			return model.Errorf(model.KindAlreadyExists, model.ErrCodeHostConflict,
				"host with fqdn %q already exists", in.FQDN)
		}
		out = &model.Host{
			Object:          model.NewObject(proto.ID),
			ProviderID:      pr.ID,
			FQDN:            in.FQDN,
			Description:     in.Description,
			MaintenanceMode: model.MaintenanceModeOff,
		}
		tx.Hosts.Insert(out)
		if err := m.configs.Init(tx, out); err != nil {
			return err
		}
		c.op.Object = out.Ref()
		return nil
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateHost changes the FQDN or the description of a host. The FQDN of a host
// under a blocking concern is kept.
func (m *Manager) UpdateHost(ctx context.Context, p model.Principal, id int64, up ObjectUpdate) (*model.Host, error) {
	ref := model.NewRef(model.TypeHost, id)
	var out *model.Host
	c := &command{
		name:      "host.update",
		principal: p,
		verb:      rbac.VerbChange,
		object:    ref,
		op:        auditEntry("Host updated", model.OperationUpdate, ref, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		h, err := tx.Host(id)
		if err != nil {
			return err
		}
		if up.Name != nil && *up.Name != h.FQDN {
			if err := m.names.FQDN(*up.Name); err != nil {
				return err
			}
			if _, blocked := m.concerns.Blocking(tx, ref); blocked {
				return model.Conflict(model.ErrCodeHostConflict,
					"FQDN change is available only if no locking concern exists")
			}
			if _, ok := tx.HostByFQDN(*up.Name); ok {
				return model.Errorf(model.KindAlreadyExists, model.ErrCodeHostConflict,
					"host with fqdn %q already exists", *up.Name)
			}
			changed(&c.op.Changes, "fqdn", h.FQDN, *up.Name)
			h.FQDN = *up.Name
			c.op.ObjectName = h.FQDN
		}
		if up.Description != nil && *up.Description != h.Description {
			changed(&c.op.Changes, "description", h.Description, *up.Description)
			h.Description = *up.Description
		}
		tx.Hosts.Put(h)
		out = h
		return nil
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteHost deletes a host that is not in a cluster.
func (m *Manager) DeleteHost(ctx context.Context, p model.Principal, id int64) error {
	ref := model.NewRef(model.TypeHost, id)
	var aborted []int64
	c := &command{
		name:      "host.delete",
		principal: p,
		verb:      rbac.VerbDelete,
		object:    ref,
		op:        auditEntry("Host deleted", model.OperationDelete, ref, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		h, err := tx.Host(id)
		if err != nil {
			return err
		}
		if h.ClusterID != 0 {
			return model.Conflict(model.ErrCodeHostConflict,
				"host %q belongs to cluster %q", h.FQDN, objectName(tx, model.NewRef(model.TypeCluster, h.ClusterID)))
		}
		if aborted, err = m.runtime.AbortOwn(tx, ref); err != nil {
			return err
		}
		m.purge(tx, h)
		tx.Hosts.Delete(id)
		return nil
	}
	c.after = append(c.after, func(ctx context.Context) { m.runtime.Signal(ctx, aborted) })
	return m.exec(ctx, c)
}

// AddHost puts a free host into a cluster.
func (m *Manager) AddHost(ctx context.Context, p model.Principal, clusterID, hostID int64) error {
	clusterRef := model.NewRef(model.TypeCluster, clusterID)
	c := &command{
		name:      "cluster.host.add",
		principal: p,
		verb:      rbac.VerbMapHosts,
		object:    clusterRef,
		roots:     []model.Ref{model.NewRef(model.TypeHost, hostID)},
		op:        auditEntry("Host added", model.OperationUpdate, clusterRef, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		cl, err := tx.Cluster(clusterID)
		if err != nil {
			return err
		}
		h, err := tx.Host(hostID)
		if err != nil {
			return err
		}
		c.op.Name = h.FQDN + " host added"
		switch h.ClusterID {
		case 0:
		case clusterID:
			return model.Conflict(model.ErrCodeHostConflict, "host %q is already in cluster %q", h.FQDN, cl.Name)
		default:
			return model.Conflict(model.ErrCodeForeignHost, "host %q belongs to another cluster", h.FQDN)
		}
		h.ClusterID = clusterID
		tx.Hosts.Put(h)
		return nil
	}
	return m.exec(ctx, c)
}

// RemoveHost takes a host out of its cluster with its mapping entries and group
// memberships.
func (m *Manager) RemoveHost(ctx context.Context, p model.Principal, clusterID, hostID int64) error {
	clusterRef := model.NewRef(model.TypeCluster, clusterID)
	hostRef := model.NewRef(model.TypeHost, hostID)
	c := &command{
		name:      "cluster.host.remove",
		principal: p,
		verb:      rbac.VerbMapHosts,
		object:    clusterRef,
		roots:     []model.Ref{hostRef},
		op:        auditEntry("Host removed", model.OperationUpdate, clusterRef, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		h, err := tx.Host(hostID)
		if err != nil {
			return err
		}
		c.op.Name = h.FQDN + " host removed"
		if h.ClusterID != clusterID {
			return model.Errorf(model.KindHostNotFound, model.ErrCodeHostNotFound,
				"host %q is not in cluster %d", h.FQDN, clusterID)
		}
		items, err := m.concerns.Of(tx, hostRef)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.Type == model.ConcernLock {
				return model.Errorf(model.KindLockError, model.ErrCodeLockError, "host %q is locked", h.FQDN)
			}
		}

		var kept []model.HCEntry
		for _, e := range m.mapping.Mapping(tx, clusterID) {
			if e.HostID != hostID {
				kept = append(kept, e)
			}
		}
		m.mapping.Apply(tx, clusterID, kept)
		h.ClusterID = 0
		tx.Hosts.Put(h)
		m.configs.PruneHosts(tx)
		actions.PruneHostGroups(tx)
		return nil
	}
	return m.exec(ctx, c)
}

// Clusters lists clusters, optionally filtered by a name substring.
func (m *Manager) Clusters(ctx context.Context, name string) ([]*model.Cluster, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.Cluster, error) {
		return tx.Clusters.Find(func(c *model.Cluster) bool { return strings.Contains(c.Name, name) }), nil
	})
}

// Cluster returns a cluster.
func (m *Manager) Cluster(ctx context.Context, id int64) (*model.Cluster, error) {
	return read(ctx, m, func(tx *stores.Tx) (*model.Cluster, error) { return tx.Cluster(id) })
}

// Services lists the services of a cluster.
func (m *Manager) Services(ctx context.Context, clusterID int64) ([]*model.Service, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.Service, error) {
		if _, err := tx.Cluster(clusterID); err != nil {
			return nil, err
		}
		return tx.ServicesOf(clusterID), nil
	})
}

// Components lists the components of a service.
func (m *Manager) Components(ctx context.Context, serviceID int64) ([]*model.Component, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.Component, error) {
		if _, err := tx.Service(serviceID); err != nil {
			return nil, err
		}
		return tx.ComponentsOf(serviceID), nil
	})
}

// Providers lists providers.
func (m *Manager) Providers(ctx context.Context) ([]*model.Provider, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.Provider, error) { return tx.Providers.All(), nil })
}

// HostFilter narrows a host listing. Zero fields do not filter.
type HostFilter struct {
	ProviderID int64
	ClusterID  int64
	FQDN       string
}

// Hosts lists hosts.
func (m *Manager) Hosts(ctx context.Context, f HostFilter) ([]*model.Host, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.Host, error) {
		return tx.Hosts.Find(func(h *model.Host) bool {
			return (f.ProviderID == 0 || h.ProviderID == f.ProviderID) &&
				(f.ClusterID == 0 || h.ClusterID == f.ClusterID) &&
				strings.Contains(h.FQDN, f.FQDN)
		}), nil
	})
}

// Concerns returns the concerns attached to an object.
func (m *Manager) Concerns(ctx context.Context, ref model.Ref) ([]*model.ConcernItem, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.ConcernItem, error) { return m.concerns.Of(tx, ref) })
}

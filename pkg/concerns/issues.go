package concerns

import (
	"slices"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

// issueKind is one automatic issue evaluated on some object types.
type issueKind struct {
	cause    model.ConcernCause
	template string
	types    []model.ObjectType
	// eval returns the template parameters when the issue is present, nil otherwise.
	eval func(e *Engine, tx *stores.Tx, ref model.Ref) (map[string]model.Placeholder, error)
}

var issueKinds = []issueKind{
	{
		cause:    model.CauseConfig,
		template: TemplateConfigIssue,
		types:    []model.ObjectType{model.TypeCluster, model.TypeService, model.TypeComponent, model.TypeProvider, model.TypeHost},
		eval:     (*Engine).configIssue,
	},
	{
		cause:    model.CauseRequiredService,
		template: TemplateRequiredServiceIssue,
		types:    []model.ObjectType{model.TypeCluster},
		eval:     (*Engine).requiredServiceIssue,
	},
	{
		cause:    model.CauseRequiredService,
		template: TemplateUnsatisfiedRequire,
		types:    []model.ObjectType{model.TypeService},
		eval:     (*Engine).unsatisfiedRequireIssue,
	},
	{
		cause:    model.CauseRequiredImport,
		template: TemplateRequiredImportIssue,
		types:    []model.ObjectType{model.TypeCluster, model.TypeService},
		eval:     (*Engine).requiredImportIssue,
	},
	{
		cause:    model.CauseHostComponent,
		template: TemplateHostComponentIssue,
		types:    []model.ObjectType{model.TypeCluster},
		eval:     (*Engine).hostComponentIssue,
	},
}

// RecomputeRoot re-evaluates automatic issues of a cluster or provider and every
// object under it.
func (e *Engine) RecomputeRoot(tx *stores.Tx, root model.Ref) error {
	refs := append([]model.Ref{root}, tx.Children(root)...)
	for _, ref := range refs {
		if err := e.Recompute(tx, ref); err != nil {
			return err
		}
	}
	return nil
}

// Recompute re-evaluates the automatic issues of one entity, creating, refreshing or
// removing them as needed.
func (e *Engine) Recompute(tx *stores.Tx, ref model.Ref) error {
	for _, kind := range issueKinds {
		if !slices.Contains(kind.types, ref.Type) {
			continue
		}
		params, err := kind.eval(e, tx, ref)
		if err != nil {
			return err
		}
		if err := e.syncIssue(tx, ref, kind, params); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) syncIssue(tx *stores.Tx, owner model.Ref, kind issueKind, params map[string]model.Placeholder) error {
	existing, found := tx.Concerns.First(func(c *model.ConcernItem) bool {
		return c.Type == model.ConcernIssue && c.Owner == owner && c.Cause == kind.cause
	})
	if params == nil {
		if found {
			e.Delete(tx, existing.ID)
			e.logger.Debug().Str("owner", owner.String()).Str("cause", string(kind.cause)).Msg("issue resolved")
		}
		return nil
	}

	reason, err := e.templates.Render(kind.template, params)
	if err != nil {
		return err
	}
	closure := IssueClosure(tx, owner)
	if !found {
		e.create(tx, &model.ConcernItem{
			Type:     model.ConcernIssue,
			Name:     IssueName(kind.cause, owner),
			Reason:   reason,
			Blocking: true,
			Owner:    owner,
			Cause:    kind.cause,
		}, closure)
		e.logger.Debug().Str("owner", owner.String()).Str("cause", string(kind.cause)).Msg("issue raised")
		return nil
	}

	var stale []model.Ref
	for _, ref := range existing.Related {
		if !slices.Contains(closure, ref) {
			stale = append(stale, ref)
		}
	}
	changed := len(stale) > 0 || !sameReason(existing.Reason, reason)
	for _, ref := range closure {
		if !slices.Contains(existing.Related, ref) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	detach(tx, existing, stale)
	existing.Reason = reason
	attach(tx, existing, closure)
	return nil
}

func sameReason(a, b model.Reason) bool {
	if a.Message != b.Message || len(a.Placeholder) != len(b.Placeholder) {
		return false
	}
	for k, p := range a.Placeholder {
		q, ok := b.Placeholder[k]
		if !ok || p.Type != q.Type || p.Name != q.Name || len(p.IDs) != len(q.IDs) {
			return false
		}
		for ik, iv := range p.IDs {
			if q.IDs[ik] != iv {
				return false
			}
		}
	}
	return true
}

func source(tx *stores.Tx, ref model.Ref) map[string]model.Placeholder {
	return map[string]model.Placeholder{"source": EntityPlaceholder(tx, ref)}
}

func (e *Engine) configIssue(tx *stores.Tx, ref model.Ref) (map[string]model.Placeholder, error) {
	if e.configs == nil {
		return nil, nil
	}
	has, err := e.configs.HasIssue(tx, ref)
	if err != nil || !has {
		return nil, err
	}
	return source(tx, ref), nil
}

func (e *Engine) requiredServiceIssue(tx *stores.Tx, ref model.Ref) (map[string]model.Placeholder, error) {
	cluster, err := tx.Cluster(ref.ID)
	if err != nil {
		return nil, err
	}
	proto, err := tx.Prototype(cluster.PrototypeID)
	if err != nil {
		return nil, err
	}
	for _, p := range tx.PrototypesOf(proto.BundleID) {
		if p.Type != model.TypeService || !p.Required {
			continue
		}
		if _, added := tx.ServiceByName(ref.ID, p.Name); !added {
			params := source(tx, ref)
			params["target"] = PrototypePlaceholder(p)
			return params, nil
		}
	}
	return nil, nil
}

func (e *Engine) unsatisfiedRequireIssue(tx *stores.Tx, ref model.Ref) (map[string]model.Placeholder, error) {
	service, err := tx.Service(ref.ID)
	if err != nil {
		return nil, err
	}
	proto, err := tx.Prototype(service.PrototypeID)
	if err != nil {
		return nil, err
	}
	for _, req := range proto.Requires {
		if _, ok := tx.ServiceByName(service.ClusterID, req.Service); ok {
			continue
		}
		params := source(tx, ref)
		target := model.Placeholder{Type: "prototype", Name: req.Service, IDs: map[string]int64{}}
		if p, ok := tx.PrototypeByName(proto.BundleID, model.TypeService, req.Service); ok {
			target = PrototypePlaceholder(p)
		}
		params["target"] = target
		return params, nil
	}
	return nil, nil
}

func (e *Engine) requiredImportIssue(tx *stores.Tx, ref model.Ref) (map[string]model.Placeholder, error) {
	proto, err := tx.PrototypeOf(ref)
	if err != nil {
		return nil, err
	}
	binds := tx.Binds.Find(func(b *model.Bind) bool { return b.Importer() == ref })
	for _, imp := range proto.Imports {
		if !imp.Required {
			continue
		}
		if !boundTo(tx, binds, imp) {
			return source(tx, ref), nil
		}
	}
	return nil, nil
}

func boundTo(tx *stores.Tx, binds []*model.Bind, imp definition.Import) bool {
	for _, b := range binds {
		if p, err := tx.PrototypeOf(b.Source()); err == nil && p.Name == imp.Name {
			return true
		}
	}
	return false
}

func (e *Engine) hostComponentIssue(tx *stores.Tx, ref model.Ref) (map[string]model.Placeholder, error) {
	if e.mapping == nil {
		return nil, nil
	}
	if err := e.mapping.CheckCurrent(tx, ref.ID); err != nil {
		if model.KindOf(err) == model.KindNotFound {
			return nil, err
		}
		return source(tx, ref), nil
	}
	return nil, nil
}

package manager

import (
	"context"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/rbac"
	"github.com/openadcm/adcm/pkg/stores"
)

// BindInput binds an importing cluster, or one of its services, to an exporting
// cluster or service.
type BindInput struct {
	ClusterID       int64
	ServiceID       int64
	SourceClusterID int64
	SourceServiceID int64
}

func (in BindInput) importer() model.Ref {
	return (&model.Bind{ClusterID: in.ClusterID, ServiceID: in.ServiceID}).Importer()
}

// ImportCandidate is one import of an object with the objects that can serve it.
type ImportCandidate struct {
	Import  definition.Import `json:"import"`
	Sources []model.Ref       `json:"sources"`
	Bound   []int64           `json:"binds"`
}

// Export is the exported part of the config of a bound object.
type Export struct {
	BindID int64      `json:"bind_id"`
	Source model.Ref  `json:"source"`
	Name   string     `json:"name"`
	Config model.Tree `json:"config"`
}

// Bind creates an import bind.
func (m *Manager) Bind(ctx context.Context, p model.Principal, in BindInput) (*model.Bind, error) {
	importer := in.importer()
	var out *model.Bind
	c := &command{
		name:      "bind.create",
		principal: p,
		verb:      rbac.VerbImports,
		object:    importer,
		op:        auditEntry("Bind created", model.OperationUpdate, importer, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		b := &model.Bind{
			ClusterID:       in.ClusterID,
			ServiceID:       in.ServiceID,
			SourceClusterID: in.SourceClusterID,
			SourceServiceID: in.SourceServiceID,
		}
		if err := m.checkBind(tx, b); err != nil {
			return err
		}
		c.op.Name = objectName(tx, b.Source()) + " bind created"
		tx.Binds.Insert(b)
		out = b
		return nil
	}
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) checkBind(tx *stores.Tx, b *model.Bind) error {
	if in := b.Importer(); in.Type == model.TypeService {
		svc, err := tx.Service(b.ServiceID)
		if err != nil {
			return err
		}
		if svc.ClusterID != b.ClusterID {
			return model.NotFound(model.ErrCodeServiceNotFound, "service %d is not in cluster %d", b.ServiceID, b.ClusterID)
		}
	} else if _, err := tx.Cluster(b.ClusterID); err != nil {
		return err
	}
	if b.SourceClusterID == b.ClusterID {
		return model.Conflict(model.ErrCodeBindError, "a cluster can not import from itself")
	}
	if b.SourceServiceID != 0 {
		src, err := tx.Service(b.SourceServiceID)
		if err != nil {
			return err
		}
		if src.ClusterID != b.SourceClusterID {
			return model.NotFound(model.ErrCodeServiceNotFound,
				"service %d is not in cluster %d", b.SourceServiceID, b.SourceClusterID)
		}
	} else if _, err := tx.Cluster(b.SourceClusterID); err != nil {
		return err
	}

	proto, err := tx.PrototypeOf(b.Importer())
	if err != nil {
		return err
	}
	srcProto, err := tx.PrototypeOf(b.Source())
	if err != nil {
		return err
	}
	imp, ok := proto.ImportFor(srcProto.Name)
	if !ok {
		return model.NotFound(model.ErrCodeImportNotFound,
			"%s %q does not import %q", proto.Type, proto.Name, srcProto.Name)
	}
	if len(srcProto.Exports) == 0 {
		return model.Conflict(model.ErrCodeBindError, "%s %q exports nothing", srcProto.Type, srcProto.Name)
	}
	if !imp.Versions.Contains(srcProto.Version) {
		return model.Conflict(model.ErrCodeBindError,
			"version %s of %q is out of the imported range", srcProto.Version, srcProto.Name)
	}

	existing := tx.Binds.Find(func(o *model.Bind) bool { return o.Importer() == b.Importer() })
	for _, o := range existing {
		if o.Source() == b.Source() {
			return model.Conflict(model.ErrCodeBindError, "%s is already bound to %s", b.Importer(), b.Source())
		}
		if imp.Multibind {
			continue
		}
		if op, err := tx.PrototypeOf(o.Source()); err == nil && op.Name == imp.Name {
			return model.Conflict(model.ErrCodeBindError, "import %q does not allow more than one bind", imp.Name)
		}
	}
	return nil
}

// Unbind deletes an import bind.
func (m *Manager) Unbind(ctx context.Context, p model.Principal, bindID int64) error {
	b, err := read(ctx, m, func(tx *stores.Tx) (*model.Bind, error) { return tx.Bind(bindID) })
	if err != nil {
		return err
	}
	importer := b.Importer()
	c := &command{
		name:      "bind.delete",
		principal: p,
		verb:      rbac.VerbImports,
		object:    importer,
		op:        auditEntry("Bind removed", model.OperationUpdate, importer, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		b, err := tx.Bind(bindID)
		if err != nil {
			return err
		}
		c.op.Name = objectName(tx, b.Source()) + " bind removed"
		tx.Binds.Delete(bindID)
		return nil
	}
	return m.exec(ctx, c)
}

// Binds lists the binds of an importing cluster or service.
func (m *Manager) Binds(ctx context.Context, importer model.Ref) ([]*model.Bind, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]*model.Bind, error) {
		if _, err := tx.Entity(importer); err != nil {
			return nil, err
		}
		return tx.Binds.Find(func(b *model.Bind) bool { return b.Importer() == importer }), nil
	})
}

// ImportCandidates lists the imports of a cluster or service with the clusters and
// services of other clusters that can serve each of them.
func (m *Manager) ImportCandidates(ctx context.Context, importer model.Ref) ([]ImportCandidate, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]ImportCandidate, error) {
		proto, err := tx.PrototypeOf(importer)
		if err != nil {
			return nil, err
		}
		own := tx.ClusterOf(importer)
		binds := tx.Binds.Find(func(b *model.Bind) bool { return b.Importer() == importer })

		var sources []model.Entity
		for _, cl := range tx.Clusters.All() {
			if cl.ID == own {
				continue
			}
			sources = append(sources, cl)
			for _, s := range tx.ServicesOf(cl.ID) {
				sources = append(sources, s)
			}
		}

		out := make([]ImportCandidate, 0, len(proto.Imports))
		for _, imp := range proto.Imports {
			cand := ImportCandidate{Import: imp, Sources: []model.Ref{}, Bound: []int64{}}
			for _, src := range sources {
				sp, err := tx.Prototype(src.Base().PrototypeID)
				if err != nil || sp.Name != imp.Name || len(sp.Exports) == 0 || !imp.Versions.Contains(sp.Version) {
					continue
				}
				cand.Sources = append(cand.Sources, src.Ref())
				for _, b := range binds {
					if b.Source() == src.Ref() {
						cand.Bound = append(cand.Bound, b.ID)
					}
				}
			}
			out = append(out, cand)
		}
		return out, nil
	})
}

// Exports returns the exported config groups of every object bound to importer,
// the import config an action on importer sees.
func (m *Manager) Exports(ctx context.Context, importer model.Ref) ([]Export, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]Export, error) {
		var out []Export
		for _, b := range tx.Binds.Find(func(b *model.Bind) bool { return b.Importer() == importer }) {
			src := b.Source()
			proto, err := tx.PrototypeOf(src)
			if err != nil {
				return nil, err
			}
			exp := Export{BindID: b.ID, Source: src, Name: objectName(tx, src), Config: model.Tree{}}
			if current, err := m.configs.Current(tx, src); err == nil {
				for _, group := range proto.Exports {
					if v, ok := current.Config[group]; ok {
						exp.Config[group] = model.CloneValue(v)
					}
				}
			}
			out = append(out, exp)
		}
		return out, nil
	})
}

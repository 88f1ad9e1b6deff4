package manager

import (
	"context"
	"slices"

	"github.com/openadcm/adcm/pkg/audit"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/rbac"
	"github.com/openadcm/adcm/pkg/stores"
)

// command is one audited mutation.
type command struct {
	// name labels the span and the command metrics.
	name      string
	principal model.Principal

	// verb is checked on object, or on a new object of type child under object
	// when child is set.
	verb   string
	object model.Ref
	child  model.ObjectType
	// roots adds lock roots to those of object.
	roots []model.Ref

	// op is the audit record. Name, Type and Object may be completed by mutate;
	// an empty Name records nothing.
	op audit.Entry

	mutate func(tx *stores.Tx) error
	// after runs once the transaction committed and the locks are released.
	after []func(ctx context.Context)
}

// exec runs a command: authorize, lock the roots, mutate inside one graph
// transaction, audit, then the after hooks.
func (m *Manager) exec(ctx context.Context, c *command) error {
	ic := m.tel.StartCommand(ctx, c.name, string(c.object.Type), c.object.ID)
	err := m.execute(ic.Ctx, c)
	var kind, code string
	if err != nil {
		if e, ok := model.AsError(err); ok {
			kind, code = string(e.Kind), e.Code
		}
		ic.Logger.WithError(err).Debug("Command failed")
	}
	ic.End(err, kind, code)
	return err
}

func (m *Manager) execute(ctx context.Context, c *command) error {
	refs := append([]model.Ref{c.object}, c.roots...)
	var roots []model.Ref
	var denied error
	err := m.graph.View(ctx, func(tx *stores.Tx) error {
		roots = lockRoots(tx, refs)
		if c.op.ObjectName == "" && !c.op.Object.IsZero() {
			c.op.ObjectName = objectName(tx, c.op.Object)
		}
		if c.verb == "" {
			return nil
		}
		if c.child != "" {
			denied = m.authz.CheckUnder(ctx, tx, c.principal, c.verb, c.child, c.object)
		} else {
			denied = m.authz.Check(ctx, tx, c.principal, c.verb, c.object)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if denied != nil {
		if model.IsKind(denied, model.KindPermissionDenied) {
			m.record(ctx, c, model.ResultDenied)
		}
		return denied
	}

	if err := m.lockAndMutate(ctx, c, refs, roots); err != nil {
		m.record(ctx, c, model.ResultFail)
		return err
	}
	m.record(ctx, c, model.ResultSuccess)
	for _, fn := range c.after {
		fn(ctx)
	}
	return nil
}

// maxLockAttempts bounds how often a command relocks after its roots moved.
const maxLockAttempts = 3

// lockAndMutate locks roots and runs the mutation. A host can change cluster
// between resolving its roots and acquiring them, so the roots are resolved again
// inside the transaction and the command relocks when they are no longer covered.
func (m *Manager) lockAndMutate(ctx context.Context, c *command, refs, roots []model.Ref) error {
	for attempt := 1; ; attempt++ {
		unlock, err := m.locks.Lock(ctx, roots...)
		if err != nil {
			return err
		}
		var moved []model.Ref
		err = m.graph.Update(ctx, func(tx *stores.Tx) error {
			if now := lockRoots(tx, refs); !coversRoots(roots, now) {
				moved = now
				return nil
			}
			return c.mutate(tx)
		})
		unlock()
		if err != nil || moved == nil {
			return err
		}
		if attempt == maxLockAttempts {
			return model.Conflict(model.ErrCodeHostConflict, "hosts of %s keep changing cluster", c.object)
		}
		m.logger.Debug().Str("command", c.name).Int("attempt", attempt).Msg("Lock roots moved, relocking")
		roots = moved
	}
}

// coversRoots reports whether every root in want is held.
func coversRoots(held, want []model.Ref) bool {
	for _, r := range want {
		if !slices.Contains(held, r) {
			return false
		}
	}
	return true
}

func (m *Manager) record(ctx context.Context, c *command, result model.OperationResult) {
	if c.op.Name == "" {
		return
	}
	c.op.Result = result
	c.op.UserID = c.principal.UserID
	c.op.Username = c.principal.Username
	if _, err := m.audit.Record(ctx, c.op); err != nil {
		m.logger.Error().Err(err).Str("operation", c.op.Name).Msg("Failed to record audit operation")
	}
}

// lockRoots maps objects to the advisory lock roots that serialize their
// subtrees. A host locks its provider and the cluster it belongs to.
func lockRoots(tx *stores.Tx, refs []model.Ref) []model.Ref {
	var set model.RefSet
	for _, ref := range refs {
		if ref.ID == 0 {
			continue
		}
		set.Add(tx.RootOf(ref))
		if ref.Type == model.TypeHost {
			if cid := tx.ClusterOf(ref); cid != 0 {
				set.Add(model.NewRef(model.TypeCluster, cid))
			}
		}
	}
	if set.Len() == 0 {
		set.Add(stores.GlobalRoot)
	}
	return set.Items()
}

// objectName renders the audit name of a live object.
func objectName(tx *stores.Tx, ref model.Ref) string {
	if ent, err := tx.Entity(ref); err == nil {
		return ent.DisplayName()
	}
	switch ref.Type {
	case rbac.ObjectBundle:
		if b, err := tx.Bundle(ref.ID); err == nil {
			return b.Name
		}
	case rbac.ObjectUser:
		if u, err := tx.User(ref.ID); err == nil {
			return u.Username
		}
	case rbac.ObjectGroup:
		if g, err := tx.Group(ref.ID); err == nil {
			return g.CanonicalName()
		}
	case rbac.ObjectRole:
		if r, err := tx.Role(ref.ID); err == nil {
			return r.DisplayName
		}
	case rbac.ObjectPolicy:
		if p, err := tx.Policy(ref.ID); err == nil {
			return p.Name
		}
	}
	return ""
}

func auditEntry(name string, t model.OperationType, obj model.Ref, objName string) audit.Entry {
	return audit.Entry{Name: name, Type: t, Object: obj, ObjectName: objName}
}

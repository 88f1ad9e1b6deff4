package manager

import (
	"context"
	"slices"

	"github.com/openadcm/adcm/pkg/actions"
	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/rbac"
	"github.com/openadcm/adcm/pkg/stores"
)

// UpgradeOption is an upgrade a cluster or provider can run right now.
type UpgradeOption struct {
	BundleID    int64              `json:"bundle_id"`
	PrototypeID int64              `json:"prototype_id"`
	Version     string             `json:"version"`
	Edition     string             `json:"edition"`
	Upgrade     definition.Upgrade `json:"upgrade"`
}

// Upgrades lists the upgrades available to a cluster or provider.
func (m *Manager) Upgrades(ctx context.Context, ref model.Ref) ([]UpgradeOption, error) {
	return read(ctx, m, func(tx *stores.Tx) ([]UpgradeOption, error) {
		return m.upgradesOf(tx, ref)
	})
}

func (m *Manager) upgradesOf(tx *stores.Tx, ref model.Ref) ([]UpgradeOption, error) {
	if ref.Type != model.TypeCluster && ref.Type != model.TypeProvider {
		return nil, model.InvalidInput(model.ErrCodeInvalidObjType, "%s objects can not be upgraded", ref.Type)
	}
	ent, err := tx.Entity(ref)
	if err != nil {
		return nil, err
	}
	proto, err := tx.Prototype(ent.Base().PrototypeID)
	if err != nil {
		return nil, err
	}
	bundle, err := tx.Bundle(proto.BundleID)
	if err != nil {
		return nil, err
	}
	if _, blocked := m.concerns.Blocking(tx, ref); blocked {
		return []UpgradeOption{}, nil
	}

	out := []UpgradeOption{}
	for _, b := range tx.Bundles.Find(func(b *definition.Bundle) bool { return b.Name == bundle.Name && b.ID != bundle.ID }) {
		target, ok := tx.PrototypeByName(b.ID, proto.Type, proto.Name)
		if !ok {
			continue
		}
		for _, up := range target.Upgrades {
			if !up.Versions.Contains(bundle.Version) ||
				!slices.Contains(up.FromEdition, bundle.Edition) ||
				!up.StateAvailable.Contains(ent.Base().State) {
				continue
			}
			out = append(out, UpgradeOption{
				BundleID:    b.ID,
				PrototypeID: target.ID,
				Version:     b.Version,
				Edition:     b.Edition,
				Upgrade:     up,
			})
		}
	}
	return out, nil
}

// Upgrade moves a cluster or provider to another bundle. A scripted upgrade
// launches its action and returns the task; the bundle is switched when the task
// succeeds. Otherwise the switch happens at once and no task is returned.
func (m *Manager) Upgrade(ctx context.Context, p model.Principal, ref model.Ref, bundleID int64, name string, payload actions.Payload) (*model.TaskLog, error) {
	var task *model.TaskLog
	c := &command{
		name:      "upgrade.run",
		principal: p,
		verb:      rbac.VerbUpgrade,
		object:    ref,
		op:        auditEntry("Upgrade", model.OperationUpdate, ref, ""),
	}
	c.mutate = func(tx *stores.Tx) error {
		options, err := m.upgradesOf(tx, ref)
		if err != nil {
			return err
		}
		idx := slices.IndexFunc(options, func(o UpgradeOption) bool {
			return o.BundleID == bundleID && o.Upgrade.Name == name
		})
		if idx < 0 {
			return model.NotFound(model.ErrCodeUpgradeNotFound, "upgrade %q to bundle %d is not available for %s", name, bundleID, ref)
		}
		opt := options[idx]
		c.op.Name = "Upgraded to " + opt.Version

		target, err := tx.Prototype(opt.PrototypeID)
		if err != nil {
			return err
		}
		if err := checkLicense(target); err != nil {
			return err
		}

		if opt.Upgrade.ActionName != "" {
			action, ok := tx.ActionByName(target.ID, opt.Upgrade.ActionName)
			if !ok {
				return model.NotFound(model.ErrCodeActionNotFound, "upgrade action %q is not registered", opt.Upgrade.ActionName)
			}
			task, err = m.runtime.Launch(ctx, tx, actions.Request{
				ActionID: action.ID,
				Target:   ref,
				UserID:   p.UserID,
				Payload:  payload,
			})
			return err
		}

		if err := m.SwitchBundle(tx, ref, bundleID); err != nil {
			return err
		}
		if opt.Upgrade.StateOnSuccess != "" {
			ent, err := tx.Entity(ref)
			if err != nil {
				return err
			}
			ent.Base().State = opt.Upgrade.StateOnSuccess
			tx.PutEntity(ent)
		}
		return nil
	}
	c.after = append(c.after, func(ctx context.Context) {
		if task == nil {
			return
		}
		if err := m.runtime.Start(ctx, task.ID); err != nil {
			m.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to start upgrade task")
		}
	})
	if err := m.exec(ctx, c); err != nil {
		return nil, err
	}
	return task, nil
}

// SwitchBundle moves a cluster or provider, and everything below it, to the
// prototypes of another bundle of the same name. Configs migrate; services and
// components the new bundle lacks are removed and new required components appear.
func (m *Manager) SwitchBundle(tx *stores.Tx, ref model.Ref, bundleID int64) error {
	if _, err := tx.Bundle(bundleID); err != nil {
		return err
	}
	old, err := m.switchPrototype(tx, ref, bundleID, true)
	if err != nil {
		return err
	}
	if old == nil {
		return nil
	}

	switch ref.Type {
	case model.TypeCluster:
		for _, svc := range tx.ServicesOf(ref.ID) {
			if err := m.switchService(tx, svc, bundleID); err != nil {
				return err
			}
		}
	case model.TypeProvider:
		for _, h := range tx.ProviderHosts(ref.ID) {
			if _, err := m.switchPrototype(tx, h.Ref(), bundleID, false); err != nil {
				return err
			}
		}
	}
	m.logger.Info().Str("object", ref.String()).Int64("bundle_id", bundleID).Msg("Bundle switched")
	return nil
}

func (m *Manager) switchService(tx *stores.Tx, svc *model.Service, bundleID int64) error {
	old, err := m.switchPrototype(tx, svc.Ref(), bundleID, false)
	if err != nil {
		return err
	}
	if old == nil {
		m.dropService(tx, svc)
		return nil
	}

	proto, _ := tx.PrototypeByName(bundleID, model.TypeService, svc.Name)
	children := tx.ChildPrototypes(proto.ID)
	present := map[string]bool{}
	for _, comp := range tx.ComponentsOf(svc.ID) {
		idx := slices.IndexFunc(children, func(cp *definition.Prototype) bool { return cp.Name == comp.Name })
		if idx < 0 {
			m.dropComponent(tx, comp)
			continue
		}
		present[comp.Name] = true
		if _, err := m.switchTo(tx, comp.Ref(), children[idx]); err != nil {
			return err
		}
	}
	current, err := tx.Service(svc.ID)
	if err != nil {
		return err
	}
	for _, cp := range children {
		if present[cp.Name] {
			continue
		}
		if err := m.addComponent(tx, current, cp); err != nil {
			return err
		}
	}
	return nil
}

// switchPrototype points an entity at the prototype of the same type and name
// in another bundle and returns its previous prototype. When the bundle has no
// such prototype the entity is left alone and nil is returned, or an error when
// strict is set.
func (m *Manager) switchPrototype(tx *stores.Tx, ref model.Ref, bundleID int64, strict bool) (*definition.Prototype, error) {
	current, err := tx.PrototypeOf(ref)
	if err != nil {
		return nil, err
	}
	target, ok := tx.PrototypeByName(bundleID, current.Type, current.Name)
	if !ok {
		if strict {
			return nil, model.NotFound(model.ErrCodePrototypeNotFound,
				"bundle %d has no %s %q", bundleID, current.Type, current.Name)
		}
		return nil, nil
	}
	return m.switchTo(tx, ref, target)
}

func (m *Manager) switchTo(tx *stores.Tx, ref model.Ref, target *definition.Prototype) (*definition.Prototype, error) {
	ent, err := tx.Entity(ref)
	if err != nil {
		return nil, err
	}
	old, err := tx.Prototype(ent.Base().PrototypeID)
	if err != nil {
		return nil, err
	}
	if old.ID == target.ID {
		return old, nil
	}
	ent.Base().PrototypeID = target.ID
	tx.PutEntity(ent)
	if err := m.configs.Migrate(tx, ref, old, "upgrade"); err != nil {
		return nil, err
	}
	return old, nil
}

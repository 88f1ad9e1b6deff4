package configs

import (
	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

// Migrate moves the config of an entity whose prototype was just switched from old to
// the one it now references. Values survive for leaves present in both schemas with
// the same type; other leaves take the new defaults. Group configs keep their
// overrides for surviving leaves.
func (e *Engine) Migrate(tx *stores.Tx, ref model.Ref, old *definition.Prototype, desc string) error {
	ent, err := tx.Entity(ref)
	if err != nil {
		return err
	}
	proto, err := tx.Prototype(ent.Base().PrototypeID)
	if err != nil {
		return err
	}
	oldSchema, newSchema := definition.Schema(old.Config), definition.Schema(proto.Config)

	if len(newSchema) == 0 {
		e.DeleteGroupsOf(tx, ref)
		e.DeleteHistory(tx, ent)
		ent.Base().ConfigID = 0
		tx.PutEntity(ent)
		return nil
	}
	if ent.Base().ConfigID == 0 {
		return e.Init(tx, ent)
	}

	oc, err := e.objectConfig(tx, ent)
	if err != nil {
		return err
	}
	current, err := tx.ConfigLog(oc.CurrentID)
	if err != nil {
		return err
	}
	cfg := migrateValues(oldSchema, newSchema, current.Config)
	attr := migrateActivation(oldSchema, newSchema, current.Attr)
	e.appendLog(tx, oc, cfg, attr, desc)

	for _, g := range e.GroupsOf(tx, ref) {
		goc, err := tx.ObjectConfig(g.ConfigID)
		if err != nil {
			return err
		}
		gl, err := tx.ConfigLog(goc.CurrentID)
		if err != nil {
			return err
		}
		base := gl.Clone()
		base.Config = migrateValues(oldSchema, newSchema, gl.Config)
		gattr := migrateActivation(oldSchema, newSchema, gl.Attr)
		gattr[model.AttrGroupKeys] = gl.Attr[model.AttrGroupKeys]
		base.Attr = gattr
		if _, err := e.syncGroup(tx, g, base, desc); err != nil {
			return err
		}
	}
	e.logger.Debug().Str("object", ref.String()).Str("from", old.Version).Str("to", proto.Version).Msg("config migrated")
	return nil
}

func migrateValues(oldSchema, newSchema definition.Schema, cfg model.Tree) model.Tree {
	out := Defaults(newSchema)
	for _, leaf := range newSchema.Leaves() {
		prev, ok := oldSchema.Lookup(leaf.Key())
		if !ok || prev.Type != leaf.Field.Type {
			continue
		}
		if leaf.Group != "" {
			if g, ok := oldSchema.Lookup(leaf.Group); !ok || !g.IsGroup() {
				continue
			}
		}
		setLeaf(out, leaf, model.CloneValue(leafValue(cfg, definition.Leaf{Group: leaf.Group, Field: prev})))
	}
	return out
}

func migrateActivation(oldSchema, newSchema definition.Schema, attr model.Tree) model.Tree {
	out := DefaultAttr(newSchema)
	for _, f := range newSchema.Activatable() {
		prev, ok := oldSchema.Lookup(f.Name)
		if !ok || !prev.Limits.Activatable {
			continue
		}
		if a, ok := asTree(attr[f.Name]); ok {
			if b, ok := a["active"].(bool); ok {
				out[f.Name] = map[string]interface{}{"active": b}
			}
		}
	}
	return out
}

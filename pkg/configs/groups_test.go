package configs

import (
	"context"
	"slices"
	"testing"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
)

func TestGroups_CreateUniqueName(t *testing.T) {
	f := newFixture(t)
	f.update(t, func(tx *stores.Tx) error {
		g, err := f.eng.CreateGroup(tx, f.clusterRef(), "g1", "")
		if err != nil {
			return err
		}
		current, _ := f.eng.GroupCurrent(tx, g.ID)
		keys, _ := current.Attr[model.AttrGroupKeys].(model.Tree)
		if keys["port"] != false {
			t.Errorf("expected new group to override nothing, got %#v", keys)
		}
		custom, _ := current.Attr[model.AttrCustomGroupKeys].(model.Tree)
		if custom["port"] != true || custom["name"] != false {
			t.Errorf("unexpected custom_group_keys %#v", custom)
		}
		_, err = f.eng.CreateGroup(tx, f.clusterRef(), "g1", "")
		if !model.HasCode(err, model.ErrCodeGroupConfigExists) {
			t.Errorf("expected GROUP_CONFIG_CONFLICT, got %v", err)
		}
		_, err = f.eng.CreateGroup(tx, model.NewRef(model.TypeHost, f.host1), "g2", "")
		if err == nil {
			t.Error("expected hosts to be rejected as group owners")
		}
		return nil
	})
}

func groupKeys(port bool) model.Tree {
	return model.Tree{
		model.AttrGroupKeys: map[string]interface{}{
			"port": port,
			"name": false,
			"tls":  map[string]interface{}{"value": nil, "fields": map[string]interface{}{"cert": false}},
		},
	}
}

func TestGroups_OverridesSurviveParentUpdate(t *testing.T) {
	f := newFixture(t)
	var groupID int64
	f.update(t, func(tx *stores.Tx) error {
		g, err := f.eng.CreateGroup(tx, f.clusterRef(), "g1", "")
		if err != nil {
			return err
		}
		groupID = g.ID
		_, err = f.eng.UpdateGroup(tx, g.ID, model.Tree{"port": 9090, "name": "ignored"}, groupKeys(true), "override")
		return err
	})
	f.update(t, func(tx *stores.Tx) error {
		_, err := f.eng.Update(tx, f.clusterRef(), model.Tree{"port": 1000, "name": "parent"}, nil, "parent change")
		return err
	})

	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		current, err := f.eng.GroupCurrent(tx, groupID)
		if err != nil {
			t.Fatalf("GroupCurrent() error = %v", err)
		}
		if current.Config["port"] != int64(9090) {
			t.Errorf("expected overridden port 9090, got %#v", current.Config["port"])
		}
		if current.Config["name"] != "parent" {
			t.Errorf("expected parent name, got %#v", current.Config["name"])
		}
		if current.Description != "parent change" {
			t.Errorf("expected sync to copy the parent description, got %q", current.Description)
		}
		history, _ := f.eng.GroupHistory(tx, groupID)
		if len(history) != 3 {
			t.Errorf("expected init, override and sync entries, got %d", len(history))
		}
		return nil
	})
}

func TestGroups_KeyRules(t *testing.T) {
	tests := []struct {
		name string
		attr model.Tree
	}{
		{
			name: "non customizable leaf",
			attr: model.Tree{model.AttrGroupKeys: map[string]interface{}{"name": true}},
		},
		{
			name: "custom group keys flipped",
			attr: model.Tree{
				model.AttrGroupKeys:       map[string]interface{}{"port": true},
				model.AttrCustomGroupKeys: map[string]interface{}{"port": false},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.g.Update(context.Background(), func(tx *stores.Tx) error {
				g, err := f.eng.CreateGroup(tx, f.clusterRef(), "g1", "")
				if err != nil {
					return err
				}
				_, err = f.eng.UpdateGroup(tx, g.ID, model.Tree{"port": 1}, tt.attr, "")
				return err
			})
			if !model.IsKind(err, model.KindInvalidConfig) {
				t.Errorf("expected InvalidConfig, got %v", err)
			}
		})
	}
}

func TestGroups_HostCandidates(t *testing.T) {
	f := newFixture(t)
	f.update(t, func(tx *stores.Tx) error {
		a, _ := f.eng.CreateGroup(tx, f.clusterRef(), "a", "")
		b, _ := f.eng.CreateGroup(tx, f.clusterRef(), "b", "")
		comp, _ := f.eng.CreateGroup(tx, model.NewRef(model.TypeComponent, f.comp), "c", "")
		prov, _ := f.eng.CreateGroup(tx, model.NewRef(model.TypeProvider, f.provider), "p", "")

		if err := f.eng.AddHost(tx, a.ID, f.host1); err != nil {
			t.Fatalf("AddHost() error = %v", err)
		}
		candidates, _ := f.eng.HostCandidates(tx, b.ID)
		if !slices.Equal(candidates, []int64{f.host2}) {
			t.Errorf("expected only host2 for group b, got %v", candidates)
		}
		if err := f.eng.AddHost(tx, b.ID, f.host1); !model.HasCode(err, model.ErrCodeGroupConfigHost) {
			t.Errorf("expected GROUP_CONFIG_HOST_ERROR for host in sibling group, got %v", err)
		}
		if err := f.eng.AddHost(tx, b.ID, f.host3); !model.HasCode(err, model.ErrCodeGroupConfigHost) {
			t.Errorf("expected GROUP_CONFIG_HOST_ERROR for host outside cluster, got %v", err)
		}

		candidates, _ = f.eng.HostCandidates(tx, comp.ID)
		if !slices.Equal(candidates, []int64{f.host1}) {
			t.Errorf("expected only mapped host1 for component group, got %v", candidates)
		}
		candidates, _ = f.eng.HostCandidates(tx, prov.ID)
		if len(candidates) != 3 {
			t.Errorf("expected all provider hosts, got %v", candidates)
		}
		return nil
	})
}

func TestGroups_PruneHosts(t *testing.T) {
	f := newFixture(t)
	var groupID int64
	f.update(t, func(tx *stores.Tx) error {
		g, _ := f.eng.CreateGroup(tx, model.NewRef(model.TypeComponent, f.comp), "c", "")
		groupID = g.ID
		return f.eng.AddHost(tx, g.ID, f.host1)
	})
	f.update(t, func(tx *stores.Tx) error {
		tx.HostComponents.DeleteWhere(func(hc *model.HostComponent) bool { return hc.HostID == f.host1 })
		if n := f.eng.PruneHosts(tx); n != 1 {
			t.Errorf("expected 1 membership removed, got %d", n)
		}
		g, _ := tx.GroupConfig(groupID)
		if g.HasHost(f.host1) {
			t.Error("expected unmapped host to leave the component group")
		}
		return nil
	})
}

func TestEngine_Migrate(t *testing.T) {
	f := newFixture(t)
	var groupID int64
	f.update(t, func(tx *stores.Tx) error {
		if _, err := f.eng.Update(tx, f.clusterRef(), model.Tree{"port": 7000, "name": "kept?"}, nil, ""); err != nil {
			return err
		}
		g, err := f.eng.CreateGroup(tx, f.clusterRef(), "g1", "")
		if err != nil {
			return err
		}
		groupID = g.ID
		_, err = f.eng.UpdateGroup(tx, g.ID, model.Tree{"port": 7001}, groupKeys(true), "")
		return err
	})

	f.update(t, func(tx *stores.Tx) error {
		old, _ := tx.Prototype(f.clusterProto)
		next := &definition.Prototype{
			BundleID: old.BundleID, Type: model.TypeCluster, Name: "c", Version: "2.0", ConfigGroupCustomization: true,
			Config: []*definition.Field{
				{Name: "port", Type: definition.FieldInteger, Default: 1},
				{Name: "name", Type: definition.FieldInteger, Default: 5},
				{Name: "extra", Type: definition.FieldString, Default: "x"},
			},
		}
		tx.Prototypes.Insert(next)
		c, _ := tx.Cluster(f.cluster)
		c.PrototypeID = next.ID
		tx.Clusters.Put(c)
		return f.eng.Migrate(tx, f.clusterRef(), old, "upgrade")
	})

	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		current, _ := f.eng.Current(tx, f.clusterRef())
		want := model.Tree{"port": int64(7000), "name": 5, "extra": "x"}
		for k, v := range want {
			if !equalValues(current.Config[k], v) {
				t.Errorf("config[%s] = %#v, want %#v", k, current.Config[k], v)
			}
		}
		if _, ok := current.Config["tls"]; ok {
			t.Error("expected removed group to disappear")
		}
		group, _ := f.eng.GroupCurrent(tx, groupID)
		if !equalValues(group.Config["port"], 7001) {
			t.Errorf("expected group override to survive, got %#v", group.Config["port"])
		}
		if !equalValues(group.Config["extra"], "x") {
			t.Errorf("expected new leaf from parent, got %#v", group.Config["extra"])
		}
		return nil
	})
}

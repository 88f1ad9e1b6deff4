package configs

import (
	"context"
	"testing"
	"time"

	"github.com/openadcm/adcm/pkg/definition"
	"github.com/openadcm/adcm/pkg/model"
	"github.com/openadcm/adcm/pkg/stores"
	"github.com/rs/zerolog"
)

func TestEngine_Init(t *testing.T) {
	f := newFixture(t)
	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		current, err := f.eng.Current(tx, f.clusterRef())
		if err != nil {
			t.Fatalf("Current() error = %v", err)
		}
		if current.Description != InitDescription {
			t.Errorf("expected description %q, got %q", InitDescription, current.Description)
		}
		if current.Config["port"] != int64(8080) {
			t.Errorf("expected default port, got %#v", current.Config["port"])
		}
		if a, _ := current.Attr["tls"].(map[string]interface{}); a["active"] != false {
			t.Errorf("expected inactive tls group, got %#v", current.Attr)
		}

		_, err = f.eng.Current(tx, model.NewRef(model.TypeHost, f.host1))
		if !model.HasCode(err, model.ErrCodeConfigNotFound) {
			t.Errorf("expected CONFIG_NOT_FOUND for host without config, got %v", err)
		}
		return nil
	})
}

func TestEngine_UpdateShiftsHistory(t *testing.T) {
	f := newFixture(t)
	var first, second *model.ConfigLog
	f.update(t, func(tx *stores.Tx) error {
		var err error
		first, err = f.eng.Current(tx, f.clusterRef())
		if err != nil {
			return err
		}
		second, err = f.eng.Update(tx, f.clusterRef(), model.Tree{
			"port": 9000, "name": "x", "tls": map[string]interface{}{"cert": "pem"},
		}, model.Tree{"tls": map[string]interface{}{"active": true}}, "second")
		return err
	})

	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		c, _ := tx.Cluster(f.cluster)
		oc, _ := tx.ObjectConfig(c.ConfigID)
		if oc.CurrentID != second.ID || oc.PreviousID != first.ID {
			t.Errorf("expected current=%d previous=%d, got %+v", second.ID, first.ID, oc)
		}
		history, _ := f.eng.History(tx, f.clusterRef())
		if len(history) != 2 {
			t.Errorf("expected 2 history entries, got %d", len(history))
		}
		if !second.Date.After(first.Date) {
			t.Error("expected strictly increasing dates")
		}
		return nil
	})
}

func TestEngine_UpdateRejects(t *testing.T) {
	tests := []struct {
		name     string
		cfg      model.Tree
		attr     model.Tree
		wantCode string
	}{
		{"group keys on entity", model.Tree{"port": 1}, model.Tree{model.AttrGroupKeys: map[string]interface{}{}}, model.ErrCodeAttributeError},
		{"bad value", model.Tree{"port": "eighty"}, nil, model.ErrCodeConfigValueError},
		{"required missing", model.Tree{"name": "x"}, nil, model.ErrCodeConfigValueError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.g.Update(context.Background(), func(tx *stores.Tx) error {
				_, err := f.eng.Update(tx, f.clusterRef(), tt.cfg, tt.attr, "")
				return err
			})
			if !model.HasCode(err, tt.wantCode) || !model.IsKind(err, model.KindInvalidConfig) {
				t.Fatalf("expected %s, got %v", tt.wantCode, err)
			}
			_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
				if h, _ := f.eng.History(tx, f.clusterRef()); len(h) != 1 {
					t.Errorf("rejected update must not be recorded, history has %d entries", len(h))
				}
				return nil
			})
		})
	}
}

func TestEngine_Restore(t *testing.T) {
	f := newFixture(t)
	var first *model.ConfigLog
	f.update(t, func(tx *stores.Tx) error {
		first, _ = f.eng.Current(tx, f.clusterRef())
		_, err := f.eng.Update(tx, f.clusterRef(), model.Tree{"port": 1}, nil, "")
		return err
	})
	f.update(t, func(tx *stores.Tx) error {
		if _, err := f.eng.Restore(tx, f.clusterRef(), first.ID); err != nil {
			return err
		}
		current, _ := f.eng.Current(tx, f.clusterRef())
		if current.ID != first.ID {
			t.Errorf("expected restored current %d, got %d", first.ID, current.ID)
		}
		_, err := f.eng.Restore(tx, f.clusterRef(), 9999)
		if !model.IsKind(err, model.KindNotFound) {
			t.Errorf("expected NotFound for unknown log, got %v", err)
		}
		return nil
	})
}

func TestEngine_StampIsMonotonic(t *testing.T) {
	eng := NewEngine(zerolog.Nop(), nil)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.now = func() time.Time { return fixed }
	a, b := eng.stamp(), eng.stamp()
	if !b.After(a) {
		t.Errorf("expected %v after %v", b, a)
	}
}

func TestEngine_HasIssue(t *testing.T) {
	f := newFixture(t)
	f.update(t, func(tx *stores.Tx) error {
		c, _ := tx.Cluster(f.cluster)
		oc, _ := tx.ObjectConfig(c.ConfigID)
		log, _ := tx.ConfigLog(oc.CurrentID)
		if issue, _ := f.eng.HasIssue(tx, f.clusterRef()); issue {
			t.Error("expected no issue for default config")
		}
		log.Config["port"] = nil
		tx.ConfigLogs.Put(log)
		if issue, _ := f.eng.HasIssue(tx, f.clusterRef()); !issue {
			t.Error("expected issue when a required value is missing")
		}
		return nil
	})
}

func TestEngine_ActionConfig(t *testing.T) {
	f := newFixture(t)
	action := &definition.Action{Name: "deploy", Config: []*definition.Field{
		{Name: "target", Type: definition.FieldVariant, Required: true, Limits: definition.Limits{
			Source: &definition.VariantSource{Type: definition.SourceBuiltin, Strict: true, Name: BuiltinHost,
				Args: map[string]interface{}{"predicate": "in_hc"}},
		}},
	}}
	_ = f.g.View(context.Background(), func(tx *stores.Tx) error {
		if _, err := f.eng.ActionConfig(tx, f.clusterRef(), action, model.Tree{"target": "h1"}, nil); err != nil {
			t.Errorf("expected mapped host to be accepted, got %v", err)
		}
		if _, err := f.eng.ActionConfig(tx, f.clusterRef(), action, model.Tree{"target": "h2"}, nil); !model.IsKind(err, model.KindInvalidConfig) {
			t.Errorf("expected unmapped host to be rejected, got %v", err)
		}
		noConfig := &definition.Action{Name: "check"}
		if _, err := f.eng.ActionConfig(tx, f.clusterRef(), noConfig, model.Tree{"x": 1}, nil); err == nil {
			t.Error("expected config on an action without schema to be rejected")
		}
		return nil
	})
}

package definition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openadcm/adcm/pkg/model"
)

const clusterBundle = `
- type: cluster
  name: hadoop
  version: "2.1"
  edition: enterprise
  config_group_customization: true
  config:
    - name: port
      type: integer
      default: 8080
      min: 1
      max: 65535
    - name: tuning
      type: group
      subs:
        - name: heap
          type: string
          required: false
          group_customization: false
  actions:
    install:
      type: job
      script: install.yaml
      script_type: ansible
      states:
        available: [created]
        on_success: installed
    check:
      type: task
      masking:
        multi_state:
          unavailable: [broken]
      on_fail:
        multi_state:
          set: [broken]
      scripts:
        - name: step1
          script: a.yaml
        - name: step2
          script: b.yaml
          on_fail:
            state: degraded
  upgrade:
    - name: to_21
      versions: {min: "1.0", max_strict: "2.1"}
      states:
        available: [installed]
        on_success: upgraded
      scripts:
        - name: migrate
          script: upgrade.yaml

- type: service
  name: hdfs
  version: "3.3"
  requires:
    - service: zookeeper
  components:
    namenode:
      constraint: [1, 2]
    datanode:
      constraint: [+]
      bound_to: {service: hdfs, component: namenode}

- type: service
  name: zookeeper
  version: "3.8"
  components:
    server:
      constraint: [odd]
`

func TestParse(t *testing.T) {
	def, err := Parse([]byte(clusterBundle), t.TempDir())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if def.Bundle.Name != "hadoop" || def.Bundle.Version != "2.1" || def.Bundle.Edition != "enterprise" {
		t.Errorf("unexpected bundle identity: %+v", def.Bundle)
	}
	if def.Bundle.License != model.LicenseAbsent {
		t.Errorf("expected absent license, got %s", def.Bundle.License)
	}
	if len(def.Prototypes) != 6 {
		t.Fatalf("expected 6 prototypes, got %d", len(def.Prototypes))
	}

	cluster, idx := def.Prototype(model.TypeCluster, "hadoop")
	if cluster == nil {
		t.Fatal("cluster prototype not found")
	}
	leaves := Schema(cluster.Config).Leaves()
	if len(leaves) != 2 || leaves[1].Key() != "tuning/heap" {
		t.Fatalf("unexpected leaves: %+v", leaves)
	}
	if leaves[1].GroupCustomizable(cluster.ConfigGroupCustomization) {
		t.Error("explicit group_customization: false must win over prototype default")
	}
	if !leaves[0].GroupCustomizable(cluster.ConfigGroupCustomization) {
		t.Error("leaf without flag must inherit prototype default")
	}
	if leaves[1].Field.Required {
		t.Error("heap declared required: false")
	}

	actions := def.Actions[idx]
	names := []string{}
	for _, a := range actions {
		names = append(names, a.Name)
	}
	if len(actions) != 3 || names[0] != "check" || names[1] != "install" || names[2] != UpgradeActionName("to_21") {
		t.Fatalf("unexpected actions: %v", names)
	}

	check := actions[0]
	if check.Type != ActionTask || len(check.Steps()) != 2 {
		t.Errorf("check must be a two step task, got %s with %d steps", check.Type, len(check.Steps()))
	}
	if !check.StateAvailable.Any || !check.MultiStateUnavailable.Contains("broken") {
		t.Errorf("unexpected masking: %+v / %+v", check.StateAvailable, check.MultiStateUnavailable)
	}
	if check.SubActions[1].StateOnFail != "degraded" {
		t.Errorf("expected sub-action on_fail state, got %q", check.SubActions[1].StateOnFail)
	}
	if len(check.MultiStateOnFail.Set) != 1 {
		t.Errorf("expected on_fail multi-state set, got %+v", check.MultiStateOnFail)
	}

	install := actions[1]
	if install.StateAvailable.Any || !install.StateAvailable.Contains("created") || install.StateOnSuccess != "installed" {
		t.Errorf("unexpected install states: %+v", install)
	}

	up := cluster.Upgrades[0]
	if !up.Versions.Contains("1.0") || up.Versions.Contains("2.1") || !up.Versions.Contains("2.0.5") {
		t.Errorf("unexpected upgrade range: %+v", up.Versions)
	}
	if up.FromEdition[0] != DefaultEdition {
		t.Errorf("expected default from_edition, got %v", up.FromEdition)
	}

	hdfs, hdfsIdx := def.Prototype(model.TypeService, "hdfs")
	if hdfs == nil || len(def.Components[hdfsIdx]) != 2 {
		t.Fatal("hdfs must have two components")
	}
	datanode := def.Prototypes[def.Components[hdfsIdx][0]]
	if datanode.Name != "datanode" || datanode.Version != "3.3" {
		t.Errorf("components must be sorted and inherit service version, got %s %s", datanode.Name, datanode.Version)
	}
	if datanode.Constraint.String() != "[+]" || datanode.BoundTo == nil {
		t.Errorf("unexpected datanode: %+v", datanode)
	}

	if err := NewValidator().Validate(def); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestParse_License(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "LICENSE.txt"), []byte("terms"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc := `
- type: provider
  name: ssh
  version: 1
  license: LICENSE.txt
- type: host
  name: ssh-host
  version: 1
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	def, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if def.Bundle.License != model.LicenseUnaccepted || def.Bundle.LicenseText != "terms" {
		t.Errorf("unexpected license: %s %q", def.Bundle.License, def.Bundle.LicenseText)
	}
	if def.Bundle.Path != dir || def.Bundle.Hash == "" {
		t.Errorf("bundle path and hash must be set: %+v", def.Bundle)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", `[]`},
		{"unknown type", "- {type: storage, name: x, version: 1}"},
		{"bad constraint", "- {type: cluster, name: c, version: 1}\n- type: service\n  name: s\n  version: 1\n  components:\n    c: {constraint: [even]}"},
		{"job without script", "- type: cluster\n  name: c\n  version: 1\n  actions:\n    a: {type: job}"},
		{"nested group", "- type: cluster\n  name: c\n  version: 1\n  config:\n    - name: g\n      type: group\n      subs:\n        - {name: h, type: group}"},
		{"states and masking", "- type: cluster\n  name: c\n  version: 1\n  actions:\n    a:\n      type: job\n      script: a.yaml\n      states: {available: any}\n      masking: {}"},
		{"no root", "- {type: service, name: s, version: 1}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc), t.TempDir()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidator_References(t *testing.T) {
	doc := `
- {type: cluster, name: c, version: 1}
- type: service
  name: s
  version: 1
  requires: [{service: missing}]
  components:
    a:
      bound_to: {service: s, component: nope}
`
	def, err := Parse([]byte(doc), t.TempDir())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	err = NewValidator().Validate(def)
	if !model.HasCode(err, model.ErrCodeDefinitionError) {
		t.Fatalf("expected definition error, got %v", err)
	}
}

package definition

import "testing"

func TestSchemaRegistry_ValidateDocument(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.ValidateDocument([]byte(clusterBundle)); err != nil {
		t.Fatalf("valid bundle rejected: %v", err)
	}

	bad := []string{
		"- {type: cluster, version: 1}",
		"- {type: cluster, name: 'bad name', version: 1}",
		"- {type: widget, name: c, version: 1}",
		"- {type: cluster, name: c, version: 1, monitoring: sometimes}",
		"- type: cluster\n  name: c\n  version: 1\n  config:\n    - {name: x, type: decimal}",
		"- type: cluster\n  name: c\n  version: 1\n  actions:\n    a: {type: job, script: a.yaml, script_type: bash}",
	}
	for _, doc := range bad {
		if err := sr.ValidateDocument([]byte(doc)); err == nil {
			t.Errorf("expected error for %q", doc)
		}
	}
}

func TestSchemaRegistry_ValidateCUE(t *testing.T) {
	sr := NewSchemaRegistry()
	src := `port: int & >0 & <65536
name: string`

	if err := sr.ValidateCUE(src, map[string]interface{}{"port": 80, "name": "web"}); err != nil {
		t.Errorf("valid structure rejected: %v", err)
	}
	if err := sr.ValidateCUE(src, map[string]interface{}{"port": 0, "name": "web"}); err == nil {
		t.Error("expected error for port 0")
	}
	if err := sr.ValidateCUE("port: int &", nil); err == nil {
		t.Error("expected compile error")
	}
}

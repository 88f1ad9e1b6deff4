package commands

import (
	"testing"

	"github.com/openadcm/adcm/pkg/mapping"
	"github.com/openadcm/adcm/pkg/model"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		in      string
		want    model.Ref
		wantErr bool
	}{
		{"cluster/3", model.NewRef(model.TypeCluster, 3), false},
		{"host/12", model.NewRef(model.TypeHost, 12), false},
		{"cluster", model.Ref{}, true},
		{"storage/1", model.Ref{}, true},
		{"service/0", model.Ref{}, true},
		{"service/x", model.Ref{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseRef(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseRef(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseRef(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if err != nil && model.ExitCodeOf(err) == model.ExitOK {
				t.Error("invalid input must not exit with success")
			}
		})
	}
}

func TestParseEntries(t *testing.T) {
	got, err := parseEntries([]string{"1:7", "2:7"})
	if err != nil {
		t.Fatalf("parseEntries() error = %v", err)
	}
	want := []mapping.Entry{{HostID: 1, ComponentID: 7}, {HostID: 2, ComponentID: 7}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("parseEntries() = %v, want %v", got, want)
	}

	if _, err := parseEntries([]string{"1-7"}); !model.HasCode(err, model.ErrCodeInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand("test", "none", "today")
	for _, path := range [][]string{
		{"bundle", "upload"},
		{"mapping", "set"},
		{"action", "host-group", "add-host"},
		{"upgrade", "apply"},
		{"audit", "operations"},
		{"watch", "rotate"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not registered: %v", path, err)
		}
	}
}

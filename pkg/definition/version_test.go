package definition

import "testing"

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "1.1", -1},
		{"1.10", "1.9", 1},
		{"2.1", "2.1.0", -1},
		{"3.3.6-1", "3.3.6-2", -1},
		{"1.0a", "1.0", 1},
		{"1.0", "1.0b", -1},
		{"1a", "1b", -1},
	}
	for _, tt := range tests {
		if got := CompareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestVersionRange_Contains(t *testing.T) {
	r := VersionRange{Min: "1.0", Max: "2.0", MaxStrict: true}
	if !r.Contains("1.0") || !r.Contains("1.9") || r.Contains("2.0") || r.Contains("0.9") {
		t.Errorf("unexpected range behaviour for %+v", r)
	}
	if !(VersionRange{}).Contains("42") {
		t.Error("empty range must contain everything")
	}
}

package definition

import (
	"encoding/json"
	"testing"
)

func TestConstraint_Check(t *testing.T) {
	tests := []struct {
		tokens []string
		count  int
		hosts  int
		want   bool
	}{
		{[]string{"2"}, 2, 5, true},
		{[]string{"2"}, 1, 5, false},
		{[]string{"0", "1"}, 0, 5, true},
		{[]string{"0", "1"}, 2, 5, false},
		{[]string{"1", "2"}, 0, 5, false},
		{[]string{"1", "2"}, 2, 5, true},
		{[]string{"1", "2"}, 3, 5, false},
		{[]string{"1", "odd"}, 3, 5, true},
		{[]string{"1", "odd"}, 2, 5, false},
		{[]string{"1", "odd"}, 0, 5, false},
		{[]string{"odd"}, 1, 5, true},
		{[]string{"odd"}, 0, 5, false},
		{[]string{"0", "odd"}, 0, 5, true},
		{[]string{"0", "odd"}, 4, 5, false},
		{[]string{"1", "+"}, 4, 5, true},
		{[]string{"1", "+"}, 0, 5, false},
		{[]string{"+"}, 5, 5, true},
		{[]string{"+"}, 4, 5, false},
		{[]string{"0", "+"}, 0, 5, true},
	}

	for _, tt := range tests {
		c, err := ParseConstraint(tt.tokens...)
		if err != nil {
			t.Fatalf("ParseConstraint(%v) failed: %v", tt.tokens, err)
		}
		if got := c.Check(tt.count, tt.hosts); got != tt.want {
			t.Errorf("%s.Check(%d, %d) = %v, want %v", c, tt.count, tt.hosts, got, tt.want)
		}
	}
}

func TestConstraint_Invalid(t *testing.T) {
	for _, tokens := range [][]string{{}, {"even"}, {"+", "1"}, {"-1"}, {"1", "2", "3"}, {"odd", "1"}} {
		if _, err := ParseConstraint(tokens...); err == nil {
			t.Errorf("expected error for %v", tokens)
		}
	}
}

func TestConstraint_String(t *testing.T) {
	c := Constraint{"1", "2"}
	if c.String() != "[1, 2]" {
		t.Errorf("unexpected rendering %q", c.String())
	}

	data, err := json.Marshal(Constraint{"1", "odd"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `[1,"odd"]` {
		t.Errorf("unexpected JSON %s", data)
	}
	var back Constraint
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.String() != "[1, odd]" {
		t.Errorf("unexpected decoded constraint %s", back)
	}
}

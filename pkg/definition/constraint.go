package definition

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Constraint tokens other than non-negative integers.
const (
	ConstraintOdd  = "odd"
	ConstraintPlus = "+"
)

// Constraint is the host count rule of a component, e.g. [1,2], [odd] or [+].
// It is kept as the literal tokens of the bundle so errors can show it back.
type Constraint []string

// DefaultConstraint allows any number of hosts, including none.
func DefaultConstraint() Constraint {
	return Constraint{"0", ConstraintPlus}
}

// ParseConstraint parses tokens and checks their shape.
func ParseConstraint(tokens ...string) (Constraint, error) {
	c := Constraint(tokens)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func isCount(tok string) bool {
	n, err := strconv.Atoi(tok)
	return err == nil && n >= 0
}

// Validate checks the constraint shape.
func (c Constraint) Validate() error {
	switch len(c) {
	case 1:
		if isCount(c[0]) || c[0] == ConstraintOdd || c[0] == ConstraintPlus {
			return nil
		}
	case 2:
		if isCount(c[0]) && (isCount(c[1]) || c[1] == ConstraintOdd || c[1] == ConstraintPlus) {
			return nil
		}
	}
	return fmt.Errorf("invalid constraint %s", c)
}

// String renders the constraint as it was written, e.g. "[1, 2]".
func (c Constraint) String() string {
	return "[" + strings.Join(c, ", ") + "]"
}

// Check verifies count mapped hosts against the constraint. clusterHosts is the number
// of hosts in the cluster, used by [+].
func (c Constraint) Check(count, clusterHosts int) bool {
	if len(c) == 0 {
		return true
	}
	if len(c) == 1 {
		switch c[0] {
		case ConstraintOdd:
			return count >= 1 && count%2 == 1
		case ConstraintPlus:
			return count == clusterHosts
		default:
			n, _ := strconv.Atoi(c[0])
			return count == n
		}
	}
	low, _ := strconv.Atoi(c[0])
	if count < low {
		return false
	}
	switch c[1] {
	case ConstraintOdd:
		return (low == 0 && count == 0) || count%2 == 1
	case ConstraintPlus:
		return true
	default:
		high, _ := strconv.Atoi(c[1])
		return count <= high
	}
}

// UnmarshalYAML accepts a sequence of integers, "odd" and "+".
func (c *Constraint) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: constraint must be a list", node.Line)
	}
	tokens := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		tokens = append(tokens, item.Value)
	}
	parsed, err := ParseConstraint(tokens...)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*c = parsed
	return nil
}

// MarshalJSON keeps integers as numbers.
func (c Constraint) MarshalJSON() ([]byte, error) {
	out := make([]interface{}, 0, len(c))
	for _, tok := range c {
		if n, err := strconv.Atoi(tok); err == nil {
			out = append(out, n)
			continue
		}
		out = append(out, tok)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts numbers and strings.
func (c *Constraint) UnmarshalJSON(data []byte) error {
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	tokens := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case float64:
			tokens = append(tokens, strconv.Itoa(int(val)))
		case string:
			tokens = append(tokens, val)
		default:
			return fmt.Errorf("invalid constraint token %v", v)
		}
	}
	*c = tokens
	return nil
}

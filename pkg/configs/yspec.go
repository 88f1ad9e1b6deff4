package configs

import (
	"fmt"
	"strings"
)

// YSpecError points at the part of a structure value that broke its rule.
type YSpecError struct {
	Path    []string
	Rule    string
	Message string
}

func (e *YSpecError) Error() string {
	path := "/"
	if len(e.Path) > 0 {
		path = "/" + strings.Join(e.Path, "/")
	}
	return fmt.Sprintf("%s at %s (rule %q)", e.Message, path, e.Rule)
}

// CheckYSpec validates a structure value against a yspec rule set. Rules are keyed by
// name; validation starts at "root". Each rule has a "match" of list, dict, string,
// int, float, bool, none, any, one_of or set.
func CheckYSpec(rules map[string]interface{}, value interface{}) error {
	if _, ok := rules["root"]; !ok {
		return fmt.Errorf("yspec has no root rule")
	}
	c := &yspecChecker{rules: rules}
	return c.check("root", value, nil)
}

type yspecChecker struct {
	rules map[string]interface{}
}

func (c *yspecChecker) rule(name string) (map[string]interface{}, error) {
	r, ok := asTree(c.rules[name])
	if !ok {
		return nil, fmt.Errorf("yspec rule %q is not defined", name)
	}
	return r, nil
}

func (c *yspecChecker) fail(path []string, rule, format string, args ...interface{}) error {
	return &YSpecError{Path: append([]string(nil), path...), Rule: rule, Message: fmt.Sprintf(format, args...)}
}

func (c *yspecChecker) check(name string, value interface{}, path []string) error {
	r, err := c.rule(name)
	if err != nil {
		return err
	}
	match, _ := r["match"].(string)
	switch match {
	case "any":
		return nil
	case "none":
		if value != nil {
			return c.fail(path, name, "value should be null")
		}
	case "string":
		if _, ok := value.(string); !ok {
			return c.fail(path, name, "value should be a string")
		}
	case "bool":
		if _, ok := value.(bool); !ok {
			return c.fail(path, name, "value should be a boolean")
		}
	case "int":
		if _, ok := toInt(value); !ok {
			return c.fail(path, name, "value should be an integer")
		}
	case "float":
		if _, ok := toFloat(value); !ok {
			return c.fail(path, name, "value should be a float")
		}
	case "list":
		list, ok := value.([]interface{})
		if !ok {
			return c.fail(path, name, "value should be a list")
		}
		item, _ := r["item"].(string)
		if item == "" {
			return fmt.Errorf("yspec rule %q has no item", name)
		}
		for i, v := range list {
			if err := c.check(item, v, append(path, fmt.Sprintf("%d", i))); err != nil {
				return err
			}
		}
	case "dict":
		return c.checkDict(name, r, value, path)
	case "one_of":
		variants, _ := r["variants"].([]interface{})
		for _, v := range variants {
			sub, _ := v.(string)
			if sub != "" && c.check(sub, value, path) == nil {
				return nil
			}
		}
		return c.fail(path, name, "value matches none of the variants")
	case "set":
		variants, _ := r["variants"].([]interface{})
		if !containsValue(variants, value) {
			return c.fail(path, name, "value %v is not in the set", value)
		}
	default:
		return fmt.Errorf("yspec rule %q has unknown match %q", name, match)
	}
	return nil
}

func (c *yspecChecker) checkDict(name string, r map[string]interface{}, value interface{}, path []string) error {
	m, ok := asTree(value)
	if !ok {
		return c.fail(path, name, "value should be a map")
	}
	items, _ := asTree(r["items"])
	defaultItem, _ := r["default_item"].(string)
	if required, ok := r["required_items"].([]interface{}); ok {
		for _, k := range required {
			key := fmt.Sprint(k)
			if _, ok := m[key]; !ok {
				return c.fail(path, name, "required key %q is missing", key)
			}
		}
	}
	for _, k := range sortedKeys(m) {
		sub, _ := items[k].(string)
		if sub == "" {
			sub = defaultItem
		}
		if sub == "" {
			return c.fail(path, name, "key %q is not allowed", k)
		}
		if err := c.check(sub, m[k], append(path, k)); err != nil {
			return err
		}
	}
	return nil
}

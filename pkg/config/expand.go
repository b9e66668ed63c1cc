package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrMissingVariable is returned when a required ${VAR} is unset.
var ErrMissingVariable = errors.New("missing environment variable")

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// Expand replaces ${VAR} and ${VAR:-default} references in text. ${VAR}
// must be set, ${VAR:-default} falls back to default when VAR is unset or
// empty.
func Expand(text string, lookup func(string) (string, bool)) (string, error) {
	var missing []string
	out := envRef.ReplaceAllStringFunc(text, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		name, hasDefault, def := m[1], m[2] != "", m[3]
		val, ok := lookup(name)
		if ok && val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		if ok {
			return val
		}
		missing = append(missing, name)
		return ref
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingVariable, strings.Join(missing, ", "))
	}
	return out, nil
}

// ExpandTree expands the string values of a decoded configuration tree.
// Keys are left alone. The error names the key holding the first
// unresolved reference.
func ExpandTree(node interface{}, lookup func(string) (string, bool)) (interface{}, error) {
	return expandNode("", node, lookup)
}

func expandNode(path string, node interface{}, lookup func(string) (string, bool)) (interface{}, error) {
	switch n := node.(type) {
	case string:
		s, err := Expand(n, lookup)
		if err != nil && path != "" {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return s, err
	case map[string]interface{}:
		out := make(map[string]interface{}, len(n))
		for _, k := range sortedKeys(n) {
			v, err := expandNode(joinPath(path, k), n[k], lookup)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(n))
		for k, v := range n {
			out[fmt.Sprint(k)] = v
		}
		return expandNode(path, out, lookup)
	case []interface{}:
		out := make([]interface{}, len(n))
		for i, v := range n {
			e, err := expandNode(fmt.Sprintf("%s[%d]", path, i), v, lookup)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	default:
		return node, nil
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

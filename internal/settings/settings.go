// Package settings holds the flat key/value settings bags supplied by the host:
// process-wide settings, the secure namespace, and per-repository metadata.
package settings

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Settings is a flat, read-only view of dotted keys to string values.
// An empty value is treated the same as an absent key.
type Settings map[string]string

// Empty is the settings bag with no keys.
var Empty = Settings{}

// Get returns the value for key, or "" when unset.
func (s Settings) Get(key string) string {
	return s[key]
}

// Has reports whether key carries a non-empty value.
func (s Settings) Has(key string) bool {
	return s[key] != ""
}

// GetBool parses key as a boolean, returning def when unset.
func (s Settings) GetBool(key string, def bool) (bool, error) {
	v := s[key]
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("setting [%s] must be a boolean, got [%s]", key, v)
	}
	return b, nil
}

// Names returns the sorted, de-duplicated group names directly below prefix.
// For prefix "cos.client." and key "cos.client.prod.region" the name is "prod".
func (s Settings) Names(prefix string) []string {
	seen := make(map[string]struct{})
	for key := range s {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		name, _, ok := strings.Cut(rest, ".")
		if !ok || name == "" {
			continue
		}
		seen[name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Canonical renders every pair in key order. Two bags with the same pairs render
// identically, which makes the result usable as a memoisation key.
func (s Settings) Canonical() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(strconv.Quote(k))
		b.WriteByte('=')
		b.WriteString(strconv.Quote(s[k]))
		b.WriteByte(';')
	}
	return b.String()
}

// Merge returns a new bag with other's non-empty values layered over s.
func (s Settings) Merge(other Settings) Settings {
	out := make(Settings, len(s)+len(other))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Flatten converts a nested map, as decoded from YAML, into dotted keys.
// Scalars are stringified; nil values become empty strings.
func Flatten(nested map[string]interface{}) Settings {
	out := make(Settings)
	flattenInto(out, "", nested)
	return out
}

func flattenInto(out Settings, prefix string, value interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		for k, child := range v {
			flattenInto(out, join(prefix, k), child)
		}
	case map[interface{}]interface{}:
		for k, child := range v {
			flattenInto(out, join(prefix, fmt.Sprint(k)), child)
		}
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(parts, ",")
	case nil:
		out[prefix] = ""
	case string:
		out[prefix] = v
	default:
		out[prefix] = fmt.Sprint(v)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// RepositoryMetadata is the host-supplied description of one repository.
type RepositoryMetadata struct {
	Name     string
	Settings Settings
}

package models

import (
	"strings"
)

// Context is the per-instance data plane: a flat mapping from string keys
// to JSON-shaped values. Tasks communicate only through it. Keys prefixed
// with "_" are engine-internal and are not propagated into child
// instances created by hooks.
type Context map[string]any

// InternalKeyPrefix marks engine-internal context keys
const InternalKeyPrefix = "_"

// InputKey returns the reserved key that holds external input delivered
// to a suspended task.
func InputKey(taskID string) string {
	return taskID + "_input"
}

// StateKey returns the conventional key operators use to round-trip
// per-attempt state (poll timestamps, remote run ids) across suspensions.
func StateKey(taskID string) string {
	return taskID + "_state"
}

// Get reads a value by dot-path: "a.b.c" descends through nested maps.
// A plain key without dots is a direct lookup.
func (c Context) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	if v, ok := c[key]; ok {
		return v, true
	}
	if !strings.Contains(key, ".") {
		return nil, false
	}

	parts := strings.Split(key, ".")
	var current any = map[string]any(c)
	for _, part := range parts {
		m, ok := asStringMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// GetString reads a string value by dot-path, returning "" on absence or
// type mismatch.
func (c Context) GetString(key string) string {
	v, ok := c.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// GetBool reads a boolean value by dot-path
func (c Context) GetBool(key string) bool {
	v, ok := c.Get(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// GetMap reads a nested map value by dot-path
func (c Context) GetMap(key string) (map[string]any, bool) {
	v, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	return asStringMap(v)
}

// Merge shallow-merges a task's output into the context. Later writes win
// on key collision; operator authors avoid collisions by namespacing
// outputs with their task id.
func (c Context) Merge(data map[string]any) {
	for k, v := range data {
		c[k] = v
	}
}

// Clone returns a deep copy of the context. Each instance owns its
// context; clones are handed to operators so a failed attempt cannot
// leave partial writes behind.
func (c Context) Clone() Context {
	if c == nil {
		return Context{}
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = deepCopyValue(v)
	}
	return out
}

// ChildContext returns a deep copy with engine-internal ("_"-prefixed)
// keys removed, suitable as the seed for hook-created child instances.
func (c Context) ChildContext() Context {
	out := make(Context)
	for k, v := range c {
		if strings.HasPrefix(k, InternalKeyPrefix) {
			continue
		}
		out[k] = deepCopyValue(v)
	}
	return out
}

func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Context:
		return map[string]any(m), true
	}
	return nil, false
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopyValue(item)
		}
		return out
	case Context:
		return map[string]any(val.Clone())
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

package normalize

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// SafeGet walks a dotted path through nested JSON objects. It returns def as
// soon as a segment is missing, the current value is not an object, or the
// value found is null.
func SafeGet(obj map[string]any, path string, def any) any {
	if obj == nil {
		return def
	}
	var current any = obj
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return def
		}
		v, ok := m[key]
		if !ok || v == nil {
			return def
		}
		current = v
	}
	return current
}

// object returns the object at path, or an empty one.
func object(obj map[string]any, path string) map[string]any {
	if m, ok := SafeGet(obj, path, nil).(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// scalarText formats JSON scalars as text. Objects and arrays are not scalars.
func scalarText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func stringPtr(obj map[string]any, path string) *string {
	s, ok := scalarText(SafeGet(obj, path, nil))
	if !ok {
		return nil
	}
	return &s
}

func text(obj map[string]any, path string) string {
	if s := stringPtr(obj, path); s != nil {
		return *s
	}
	return ""
}

func floatValue(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func floatPtr(obj map[string]any, path string) *float64 {
	f, ok := floatValue(SafeGet(obj, path, nil))
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func intValue(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		f, err := t.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return i, err == nil
	default:
		f, ok := floatValue(v)
		if !ok || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	}
}

func intPtr(obj map[string]any, path string) *int64 {
	i, ok := intValue(SafeGet(obj, path, nil))
	if !ok {
		return nil
	}
	return &i
}

func boolValue(obj map[string]any, path string, def bool) bool {
	if b, ok := SafeGet(obj, path, nil).(bool); ok {
		return b
	}
	return def
}

// truthy mirrors the usual dynamic-language notion of a non-empty value.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		f, ok := floatValue(v)
		return !ok || f != 0
	}
}

// stringSet materializes a multi-valued attribute: deduplicated, sorted and
// never nil. A lone scalar counts as a one-element set.
func stringSet(v any) []string {
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case nil:
	default:
		items = []any{t}
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := scalarText(item)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// intList keeps first-seen order and drops duplicates and non-integers.
func intList(v any) []int64 {
	items, _ := v.([]any)
	seen := make(map[int64]struct{}, len(items))
	out := make([]int64, 0, len(items))
	for _, item := range items {
		i, ok := intValue(item)
		if !ok {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	return out
}

func rawJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

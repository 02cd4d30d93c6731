package template

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Set is the value produced by set() and set comprehensions. Insertion
// order is preserved so stringification and iteration are deterministic.
type Set struct {
	items []any
}

// NewSet builds a set, dropping duplicates.
func NewSet(items ...any) *Set {
	s := &Set{}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add inserts an item unless an equal one is present.
func (s *Set) Add(item any) {
	for _, existing := range s.items {
		if valueEqual(existing, item) {
			return
		}
	}
	s.items = append(s.items, item)
}

// Contains reports membership.
func (s *Set) Contains(item any) bool {
	for _, existing := range s.items {
		if valueEqual(existing, item) {
			return true
		}
	}
	return false
}

// Len returns the number of elements.
func (s *Set) Len() int {
	return len(s.items)
}

// Items returns the elements in insertion order.
func (s *Set) Items() []any {
	return s.items
}

// Truthy reports whether a value counts as true in the expression
// language. Verify expressions use it on their evaluated results.
func Truthy(v any) bool {
	return truthy(v)
}

// truthy follows the conventions of the expression language: zero values,
// empty strings and empty collections are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case *Set:
		return t.Len() > 0
	default:
		return true
	}
}

// asNumber converts int64/float64 to float64 for comparison.
func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func bothInts(a, b any) (int64, int64, bool) {
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	return ai, bi, aok && bok
}

// valueEqual compares values with numeric coercion: 1 == 1.0.
func valueEqual(a, b any) bool {
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			return an == bn
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// Stringify renders a value for inline template substitution. Scalars use
// their JSON form; composites are JSON-encoded.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case *Set:
		return Stringify(t.Items())
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func valueTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	case *Set:
		return "set"
	default:
		return fmt.Sprintf("%T", v)
	}
}

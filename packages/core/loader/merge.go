package loader

import "fmt"

// deepMerge combines a resolved reference value with the sibling keys of the
// object that referenced it. Mappings merge recursively, lists replace
// entirely, scalars are taken from the overlay. Any other type pairing is a
// MergeError.
func deepMerge(base, overlay any, path string) (any, error) {
	switch b := base.(type) {
	case *Object:
		o, ok := overlay.(*Object)
		if !ok {
			return nil, &MergeError{Path: path, Reason: fmt.Sprintf("cannot merge %s into mapping", typeName(overlay))}
		}
		out := NewObject()
		for _, k := range b.Keys() {
			v, _ := b.Get(k)
			out.Set(k, v)
		}
		for _, k := range o.Keys() {
			ov, _ := o.Get(k)
			bv, exists := out.Get(k)
			if !exists {
				out.Set(k, ov)
				continue
			}
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			merged, err := deepMerge(bv, ov, childPath)
			if err != nil {
				return nil, err
			}
			out.Set(k, merged)
		}
		return out, nil
	case []any:
		if o, ok := overlay.([]any); ok {
			return o, nil
		}
		return nil, &MergeError{Path: path, Reason: fmt.Sprintf("cannot merge %s into list", typeName(overlay))}
	default:
		switch overlay.(type) {
		case *Object:
			return nil, &MergeError{Path: path, Reason: fmt.Sprintf("cannot merge mapping into %s", typeName(base))}
		case []any:
			return nil, &MergeError{Path: path, Reason: fmt.Sprintf("cannot merge list into %s", typeName(base))}
		}
		return overlay, nil
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *Object:
		return "mapping"
	case []any:
		return "list"
	case string:
		return "string"
	case bool:
		return "bool"
	case int64, float64:
		return "number"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

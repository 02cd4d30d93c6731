package loader

import (
	"strconv"
	"strings"
)

// evalPointer applies an RFC 6901 JSON pointer to a loader tree.
func evalPointer(data any, pointer, file string) (any, error) {
	if pointer == "" {
		return data, nil
	}

	current := data
	for _, part := range parsePointer(pointer) {
		switch node := current.(type) {
		case *Object:
			v, ok := node.Get(part)
			if !ok {
				return nil, &PointerError{Pointer: pointer, File: file, Missing: part}
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, &PointerError{Pointer: pointer, File: file, Missing: part}
			}
			current = node[idx]
		default:
			return nil, &PointerError{Pointer: pointer, File: file, Missing: part}
		}
	}
	return current, nil
}

func parsePointer(pointer string) []string {
	trimmed := strings.TrimPrefix(pointer, "/")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		p = strings.ReplaceAll(p, "~0", "~")
		parts[i] = p
	}
	return parts
}

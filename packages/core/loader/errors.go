package loader

import (
	"fmt"
	"strings"
)

// PathError reports a file reference escaping the allowed root or exceeding
// the parent traversal budget.
type PathError struct {
	Ref    string
	File   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: $ref %q: %s", e.File, e.Ref, e.Reason)
}

// PointerError reports a JSON pointer that does not resolve.
type PointerError struct {
	Pointer string
	File    string
	Missing string
}

func (e *PointerError) Error() string {
	return fmt.Sprintf("%s: pointer %q: no such element %q", e.File, e.Pointer, e.Missing)
}

// MergeError reports a type conflict while merging a reference with its
// sibling keys.
type MergeError struct {
	Path   string
	Reason string
}

func (e *MergeError) Error() string {
	at := e.Path
	if at == "" {
		at = "root"
	}
	return fmt.Sprintf("merge conflict at %s: %s", at, e.Reason)
}

// CycleError reports reference resolution re-entering an active frame.
type CycleError struct {
	Frames []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular $ref chain: %s", strings.Join(e.Frames, " -> "))
}

package model

import "fmt"

// ValidationError reports a malformed scenario document.
type ValidationError struct {
	File    string
	Pointer string
	Msg     string
}

func (e *ValidationError) Error() string {
	loc := e.Pointer
	if loc == "" {
		loc = "/"
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, loc, e.Msg)
	}
	return fmt.Sprintf("%s: %s", loc, e.Msg)
}

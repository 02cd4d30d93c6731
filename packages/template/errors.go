package template

import "fmt"

// TemplateError reports a fault while evaluating a template expression:
// undefined names, unknown functions, type errors, syntax errors, bad
// indexing and division by zero all surface through it.
type TemplateError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template {{ %s }}: %s (offset %d)", e.Expr, e.Msg, e.Pos)
}

// ComprehensionLimitError reports a comprehension (or range) producing more
// elements than the configured bound.
type ComprehensionLimitError struct {
	Expr  string
	Limit int
}

func (e *ComprehensionLimitError) Error() string {
	return fmt.Sprintf("template {{ %s }}: comprehension exceeds limit of %d elements", e.Expr, e.Limit)
}

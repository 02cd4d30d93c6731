package template

import "strings"

// Token is one {{ expr }} occurrence inside a string.
type Token struct {
	Start int // offset of the opening braces
	End   int // offset just past the closing braces
	Expr  string
}

// ExtractTokens scans a string for {{ expr }} tokens. A single closing
// brace inside an expression is allowed; the token ends at the first "}}",
// so a dict literal flush against the end needs a space: {{ {'k': v} }}.
func ExtractTokens(s string) []Token {
	var tokens []Token
	i := 0
	for {
		open := strings.Index(s[i:], "{{")
		if open < 0 {
			return tokens
		}
		open += i
		close := strings.Index(s[open+2:], "}}")
		if close < 0 {
			return tokens
		}
		close += open + 2

		expr := strings.TrimSpace(s[open+2 : close])
		if expr != "" {
			tokens = append(tokens, Token{Start: open, End: close + 2, Expr: expr})
		}
		i = close + 2
	}
}

// IsComplete reports whether the string is exactly one template token,
// optionally surrounded by whitespace. Complete templates preserve the type
// of their result.
func IsComplete(s string) bool {
	_, ok := ExtractExpression(s)
	return ok
}

// ExtractExpression returns the expression of a complete template.
func ExtractExpression(s string) (string, bool) {
	tokens := ExtractTokens(s)
	if len(tokens) != 1 {
		return "", false
	}
	tok := tokens[0]
	if strings.TrimSpace(s[:tok.Start]) != "" || strings.TrimSpace(s[tok.End:]) != "" {
		return "", false
	}
	return tok.Expr, true
}

// HasTemplate reports whether a value tree contains any template token.
func HasTemplate(v any) bool {
	switch t := v.(type) {
	case string:
		return len(ExtractTokens(t)) > 0
	case map[string]any:
		for _, item := range t {
			if HasTemplate(item) {
				return true
			}
		}
	case []any:
		for _, item := range t {
			if HasTemplate(item) {
				return true
			}
		}
	}
	return false
}

// Walk recursively substitutes templates in a value tree. Strings that are
// a complete template evaluate to the raw result, preserving its type;
// strings with inline tokens substitute each token's stringified result.
// Mapping keys are never substituted.
func Walk(v any, ev *Evaluator) (any, error) {
	switch t := v.(type) {
	case string:
		return walkString(t, ev)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			walked, err := Walk(item, ev)
			if err != nil {
				return nil, err
			}
			out[k] = walked
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			walked, err := Walk(item, ev)
			if err != nil {
				return nil, err
			}
			out[i] = walked
		}
		return out, nil
	default:
		return v, nil
	}
}

func walkString(s string, ev *Evaluator) (any, error) {
	tokens := ExtractTokens(s)
	if len(tokens) == 0 {
		return s, nil
	}

	if expr, ok := ExtractExpression(s); ok {
		return ev.Eval(expr)
	}

	var builder strings.Builder
	last := 0
	for _, tok := range tokens {
		builder.WriteString(s[last:tok.Start])
		result, err := ev.Eval(tok.Expr)
		if err != nil {
			return nil, err
		}
		builder.WriteString(Stringify(result))
		last = tok.End
	}
	builder.WriteString(s[last:])
	return builder.String(), nil
}

// Package template implements the embedded expression language used for
// value substitution in scenarios.
//
// Expressions appear inside {{ ... }} tokens. A string consisting of a
// single token evaluates to the raw result and preserves its type; any
// other occurrence substitutes the stringified result inline. The language
// is a small, safe subset: arithmetic, comparisons, conditionals, bounded
// comprehensions and a fixed set of builtins. Bare names resolve through a
// Context, normally the layered scenario scope.
package template

// Package output renders scenario results: a colored console view, a
// machine-readable JSON document, and JUnit XML for CI systems.
package output

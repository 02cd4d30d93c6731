package template

import (
	"fmt"
	"math"
	"strings"
)

// DefaultMaxComprehensionLength bounds how many elements a comprehension or
// range may produce.
const DefaultMaxComprehensionLength = 50000

// Context resolves bare names in expressions. scope.Stack satisfies it.
type Context interface {
	Get(name string) (any, bool)
}

// MapContext adapts a plain map for evaluation.
type MapContext map[string]any

// Get implements Context.
func (m MapContext) Get(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Evaluator evaluates template expressions against a context.
type Evaluator struct {
	ctx              Context
	maxComprehension int

	expr string
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMaxComprehensionLength overrides the comprehension element bound.
func WithMaxComprehensionLength(n int) Option {
	return func(e *Evaluator) {
		e.maxComprehension = n
	}
}

// NewEvaluator creates an evaluator over ctx.
func NewEvaluator(ctx Context, opts ...Option) *Evaluator {
	e := &Evaluator{
		ctx:              ctx,
		maxComprehension: DefaultMaxComprehensionLength,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// evalError is an internal fault carrying the expression offset; Eval
// converts it to a TemplateError.
type evalError struct {
	pos int
	msg string
}

func (e *evalError) Error() string {
	return e.msg
}

// localEnv holds comprehension loop bindings layered over the context.
type localEnv struct {
	vars   map[string]any
	parent *localEnv
}

func (env *localEnv) get(name string) (any, bool) {
	for e := env; e != nil; e = e.parent {
		if v, ok := e.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Eval parses and evaluates a single expression.
func (e *Evaluator) Eval(expr string) (any, error) {
	prev := e.expr
	e.expr = expr
	defer func() { e.expr = prev }()

	root, err := parseExpression(expr)
	if err != nil {
		if perr, ok := err.(*parseError); ok {
			return nil, &TemplateError{Expr: expr, Pos: perr.pos, Msg: perr.msg}
		}
		return nil, &TemplateError{Expr: expr, Msg: err.Error()}
	}

	v, err := e.eval(root, nil)
	if err != nil {
		switch t := err.(type) {
		case *evalError:
			return nil, &TemplateError{Expr: expr, Pos: t.pos, Msg: t.msg}
		case *ComprehensionLimitError, *TemplateError:
			return nil, err
		default:
			return nil, &TemplateError{Expr: expr, Msg: err.Error()}
		}
	}
	return v, nil
}

func (e *Evaluator) eval(n node, env *localEnv) (any, error) {
	switch t := n.(type) {
	case *literalNode:
		return t.value, nil
	case *nameNode:
		return e.evalName(t, env)
	case *listNode:
		items := make([]any, len(t.items))
		for i, item := range t.items {
			v, err := e.eval(item, env)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	case *mapNode:
		out := make(map[string]any, len(t.keys))
		for i := range t.keys {
			k, err := e.eval(t.keys[i], env)
			if err != nil {
				return nil, err
			}
			key, err := mapKey(k, t.keys[i].position())
			if err != nil {
				return nil, err
			}
			v, err := e.eval(t.values[i], env)
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil
	case *setNode:
		set := NewSet()
		for _, item := range t.items {
			v, err := e.eval(item, env)
			if err != nil {
				return nil, err
			}
			set.Add(v)
		}
		return set, nil
	case *indexNode:
		return e.evalIndex(t, env)
	case *attrNode:
		return e.evalAttr(t, env)
	case *callNode:
		return e.evalCall(t, env)
	case *unaryNode:
		return e.evalUnary(t, env)
	case *binaryNode:
		return e.evalBinary(t, env)
	case *condNode:
		test, err := e.eval(t.test, env)
		if err != nil {
			return nil, err
		}
		if truthy(test) {
			return e.eval(t.then, env)
		}
		return e.eval(t.els, env)
	case *comprehensionNode:
		return e.evalComprehension(t, env)
	default:
		return nil, &evalError{pos: n.position(), msg: "unsupported expression"}
	}
}

func (e *Evaluator) evalName(n *nameNode, env *localEnv) (any, error) {
	if strings.HasPrefix(n.ident, "__") {
		return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("name %q is not allowed", n.ident)}
	}
	if v, ok := env.get(n.ident); ok {
		return v, nil
	}
	if e.ctx != nil {
		if v, ok := e.ctx.Get(n.ident); ok {
			return v, nil
		}
	}
	return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("undefined name %q", n.ident)}
}

func (e *Evaluator) evalIndex(n *indexNode, env *localEnv) (any, error) {
	target, err := e.eval(n.target, env)
	if err != nil {
		return nil, err
	}
	key, err := e.eval(n.key, env)
	if err != nil {
		return nil, err
	}

	switch t := target.(type) {
	case []any:
		idx, ok := key.(int64)
		if !ok {
			return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("list index must be int, got %s", valueTypeName(key))}
		}
		i := int(idx)
		if i < 0 {
			i += len(t)
		}
		if i < 0 || i >= len(t) {
			return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("list index %d out of range", idx)}
		}
		return t[i], nil
	case string:
		idx, ok := key.(int64)
		if !ok {
			return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("string index must be int, got %s", valueTypeName(key))}
		}
		runes := []rune(t)
		i := int(idx)
		if i < 0 {
			i += len(runes)
		}
		if i < 0 || i >= len(runes) {
			return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("string index %d out of range", idx)}
		}
		return string(runes[i]), nil
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("dict key must be string, got %s", valueTypeName(key))}
		}
		v, ok := t[k]
		if !ok {
			return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("key %q not found", k)}
		}
		return v, nil
	default:
		return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("%s is not indexable", valueTypeName(target))}
	}
}

func (e *Evaluator) evalAttr(n *attrNode, env *localEnv) (any, error) {
	if strings.HasPrefix(n.name, "__") {
		return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("attribute %q is not allowed", n.name)}
	}
	target, err := e.eval(n.target, env)
	if err != nil {
		return nil, err
	}
	m, ok := target.(map[string]any)
	if !ok {
		return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("%s has no attribute %q", valueTypeName(target), n.name)}
	}
	v, ok := m[n.name]
	if !ok {
		return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("key %q not found", n.name)}
	}
	return v, nil
}

func (e *Evaluator) evalUnary(n *unaryNode, env *localEnv) (any, error) {
	operand, err := e.eval(n.operand, env)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "not":
		return !truthy(operand), nil
	case "-":
		switch t := operand.(type) {
		case int64:
			return -t, nil
		case float64:
			return -t, nil
		default:
			return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("cannot negate %s", valueTypeName(operand))}
		}
	}
	return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("unknown operator %q", n.op)}
}

func (e *Evaluator) evalBinary(n *binaryNode, env *localEnv) (any, error) {
	// and/or short-circuit and yield the deciding operand.
	if n.op == "and" || n.op == "or" {
		left, err := e.eval(n.left, env)
		if err != nil {
			return nil, err
		}
		if n.op == "and" {
			if !truthy(left) {
				return left, nil
			}
		} else if truthy(left) {
			return left, nil
		}
		return e.eval(n.right, env)
	}

	left, err := e.eval(n.left, env)
	if err != nil {
		return nil, err
	}
	right, err := e.eval(n.right, env)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return valueEqual(left, right), nil
	case "!=":
		return !valueEqual(left, right), nil
	case "<", "<=", ">", ">=":
		return e.compare(n, left, right)
	case "in":
		return e.membership(n, left, right)
	case "not in":
		v, err := e.membership(n, left, right)
		if err != nil {
			return nil, err
		}
		return !v.(bool), nil
	case "+":
		return e.add(n, left, right)
	case "-", "*":
		return e.arith(n, left, right)
	case "/":
		ln, lok := asNumber(left)
		rn, rok := asNumber(right)
		if !lok || !rok {
			return nil, e.typeError(n, left, right)
		}
		if rn == 0 {
			return nil, &evalError{pos: n.pos, msg: "division by zero"}
		}
		return ln / rn, nil
	case "%":
		if li, ri, ok := bothInts(left, right); ok {
			if ri == 0 {
				return nil, &evalError{pos: n.pos, msg: "division by zero"}
			}
			return li % ri, nil
		}
		ln, lok := asNumber(left)
		rn, rok := asNumber(right)
		if !lok || !rok {
			return nil, e.typeError(n, left, right)
		}
		if rn == 0 {
			return nil, &evalError{pos: n.pos, msg: "division by zero"}
		}
		return math.Mod(ln, rn), nil
	}
	return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("unknown operator %q", n.op)}
}

func (e *Evaluator) add(n *binaryNode, left, right any) (any, error) {
	if li, ri, ok := bothInts(left, right); ok {
		return li + ri, nil
	}
	if ln, ok := asNumber(left); ok {
		if rn, ok := asNumber(right); ok {
			return ln + rn, nil
		}
	}
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return ls + rs, nil
		}
	}
	if ll, ok := left.([]any); ok {
		if rl, ok := right.([]any); ok {
			out := make([]any, 0, len(ll)+len(rl))
			out = append(out, ll...)
			out = append(out, rl...)
			return out, nil
		}
	}
	return nil, e.typeError(n, left, right)
}

func (e *Evaluator) arith(n *binaryNode, left, right any) (any, error) {
	if li, ri, ok := bothInts(left, right); ok {
		if n.op == "-" {
			return li - ri, nil
		}
		return li * ri, nil
	}
	ln, lok := asNumber(left)
	rn, rok := asNumber(right)
	if !lok || !rok {
		return nil, e.typeError(n, left, right)
	}
	if n.op == "-" {
		return ln - rn, nil
	}
	return ln * rn, nil
}

func (e *Evaluator) compare(n *binaryNode, left, right any) (any, error) {
	if ln, ok := asNumber(left); ok {
		if rn, ok := asNumber(right); ok {
			switch n.op {
			case "<":
				return ln < rn, nil
			case "<=":
				return ln <= rn, nil
			case ">":
				return ln > rn, nil
			case ">=":
				return ln >= rn, nil
			}
		}
	}
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			switch n.op {
			case "<":
				return ls < rs, nil
			case "<=":
				return ls <= rs, nil
			case ">":
				return ls > rs, nil
			case ">=":
				return ls >= rs, nil
			}
		}
	}
	return nil, e.typeError(n, left, right)
}

func (e *Evaluator) membership(n *binaryNode, left, right any) (any, error) {
	switch t := right.(type) {
	case string:
		s, ok := left.(string)
		if !ok {
			return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("cannot search %s in string", valueTypeName(left))}
		}
		return strings.Contains(t, s), nil
	case []any:
		for _, item := range t {
			if valueEqual(item, left) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		k, ok := left.(string)
		if !ok {
			return false, nil
		}
		_, present := t[k]
		return present, nil
	case *Set:
		return t.Contains(left), nil
	default:
		return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("%s is not a container", valueTypeName(right))}
	}
}

func (e *Evaluator) evalComprehension(n *comprehensionNode, env *localEnv) (any, error) {
	iterable, err := e.eval(n.iter, env)
	if err != nil {
		return nil, err
	}
	elements, err := iterate(iterable, n.iter.position())
	if err != nil {
		return nil, err
	}

	var listOut []any
	var setOut *Set
	var dictOut map[string]any
	switch n.kind {
	case listComprehension:
		listOut = make([]any, 0)
	case setComprehension:
		setOut = NewSet()
	case dictComprehension:
		dictOut = make(map[string]any)
	}

	produced := 0
	for _, element := range elements {
		vars := make(map[string]any, len(n.names))
		if len(n.names) == 1 {
			vars[n.names[0]] = element
		} else {
			pair, ok := element.([]any)
			if !ok || len(pair) != len(n.names) {
				return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("cannot unpack %s into %d names", valueTypeName(element), len(n.names))}
			}
			for i, name := range n.names {
				vars[name] = pair[i]
			}
		}
		child := &localEnv{vars: vars, parent: env}

		if n.filter != nil {
			keep, err := e.eval(n.filter, child)
			if err != nil {
				return nil, err
			}
			if !truthy(keep) {
				continue
			}
		}

		produced++
		if produced > e.maxComprehension {
			return nil, &ComprehensionLimitError{Expr: e.expr, Limit: e.maxComprehension}
		}

		value, err := e.eval(n.expr, child)
		if err != nil {
			return nil, err
		}

		switch n.kind {
		case listComprehension:
			listOut = append(listOut, value)
		case setComprehension:
			setOut.Add(value)
		case dictComprehension:
			k, err := e.eval(n.keyExpr, child)
			if err != nil {
				return nil, err
			}
			key, err := mapKey(k, n.keyExpr.position())
			if err != nil {
				return nil, err
			}
			dictOut[key] = value
		}
	}

	switch n.kind {
	case setComprehension:
		return setOut, nil
	case dictComprehension:
		return dictOut, nil
	default:
		return listOut, nil
	}
}

// iterate expands an iterable value into its elements.
func iterate(v any, pos int) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case string:
		runes := []rune(t)
		out := make([]any, len(runes))
		for i, r := range runes {
			out[i] = string(r)
		}
		return out, nil
	case map[string]any:
		keys := sortedKeys(t)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, nil
	case *Set:
		return t.Items(), nil
	default:
		return nil, &evalError{pos: pos, msg: fmt.Sprintf("%s is not iterable", valueTypeName(v))}
	}
}

func mapKey(v any, pos int) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case int64, float64, bool:
		return Stringify(t), nil
	default:
		return "", &evalError{pos: pos, msg: fmt.Sprintf("%s is not a valid dict key", valueTypeName(v))}
	}
}

func (e *Evaluator) typeError(n *binaryNode, left, right any) error {
	return &evalError{
		pos: n.pos,
		msg: fmt.Sprintf("unsupported operand types for %s: %s and %s", n.op, valueTypeName(left), valueTypeName(right)),
	}
}

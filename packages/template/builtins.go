package template

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

func (e *Evaluator) evalCall(n *callNode, env *localEnv) (any, error) {
	args := make([]any, len(n.args))
	for i, arg := range n.args {
		v, err := e.eval(arg, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	fail := func(format string, a ...any) (any, error) {
		return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("%s(): %s", n.fn, fmt.Sprintf(format, a...))}
	}

	switch n.fn {
	case "len":
		if len(args) != 1 {
			return fail("expected 1 argument, got %d", len(args))
		}
		switch t := args[0].(type) {
		case string:
			return int64(len([]rune(t))), nil
		case []any:
			return int64(len(t)), nil
		case map[string]any:
			return int64(len(t)), nil
		case *Set:
			return int64(t.Len()), nil
		default:
			return fail("%s has no length", valueTypeName(args[0]))
		}

	case "range":
		return e.builtinRange(n, args)

	case "min", "max":
		return e.builtinMinMax(n, args)

	case "sum":
		if len(args) != 1 {
			return fail("expected 1 argument, got %d", len(args))
		}
		items, err := iterate(args[0], n.pos)
		if err != nil {
			return nil, err
		}
		allInts := true
		total := 0.0
		var intTotal int64
		for _, item := range items {
			if i, ok := item.(int64); ok {
				intTotal += i
				total += float64(i)
				continue
			}
			f, ok := asNumber(item)
			if !ok {
				return fail("cannot sum %s", valueTypeName(item))
			}
			allInts = false
			total += f
		}
		if allInts {
			return intTotal, nil
		}
		return total, nil

	case "abs":
		if len(args) != 1 {
			return fail("expected 1 argument, got %d", len(args))
		}
		switch t := args[0].(type) {
		case int64:
			if t < 0 {
				return -t, nil
			}
			return t, nil
		case float64:
			return math.Abs(t), nil
		default:
			return fail("expected a number, got %s", valueTypeName(args[0]))
		}

	case "round":
		if len(args) < 1 || len(args) > 2 {
			return fail("expected 1 or 2 arguments, got %d", len(args))
		}
		f, ok := asNumber(args[0])
		if !ok {
			return fail("expected a number, got %s", valueTypeName(args[0]))
		}
		if len(args) == 1 {
			return int64(math.Round(f)), nil
		}
		digits, ok := args[1].(int64)
		if !ok {
			return fail("digits must be int, got %s", valueTypeName(args[1]))
		}
		scale := math.Pow(10, float64(digits))
		return math.Round(f*scale) / scale, nil

	case "sorted":
		if len(args) != 1 {
			return fail("expected 1 argument, got %d", len(args))
		}
		items, err := iterate(args[0], n.pos)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		copy(out, items)
		var sortErr error
		sort.SliceStable(out, func(i, j int) bool {
			less, err := lessValues(out[i], out[j])
			if err != nil && sortErr == nil {
				sortErr = err
			}
			return less
		})
		if sortErr != nil {
			return fail("%s", sortErr)
		}
		return out, nil

	case "reversed":
		if len(args) != 1 {
			return fail("expected 1 argument, got %d", len(args))
		}
		items, err := iterate(args[0], n.pos)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[len(items)-1-i] = item
		}
		return out, nil

	case "enumerate":
		if len(args) < 1 || len(args) > 2 {
			return fail("expected 1 or 2 arguments, got %d", len(args))
		}
		start := int64(0)
		if len(args) == 2 {
			s, ok := args[1].(int64)
			if !ok {
				return fail("start must be int, got %s", valueTypeName(args[1]))
			}
			start = s
		}
		items, err := iterate(args[0], n.pos)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = []any{start + int64(i), item}
		}
		return out, nil

	case "zip":
		if len(args) < 2 {
			return fail("expected at least 2 arguments, got %d", len(args))
		}
		lists := make([][]any, len(args))
		shortest := -1
		for i, arg := range args {
			items, err := iterate(arg, n.pos)
			if err != nil {
				return nil, err
			}
			lists[i] = items
			if shortest < 0 || len(items) < shortest {
				shortest = len(items)
			}
		}
		out := make([]any, shortest)
		for i := 0; i < shortest; i++ {
			row := make([]any, len(lists))
			for j, list := range lists {
				row[j] = list[i]
			}
			out[i] = row
		}
		return out, nil

	case "any", "all":
		if len(args) != 1 {
			return fail("expected 1 argument, got %d", len(args))
		}
		items, err := iterate(args[0], n.pos)
		if err != nil {
			return nil, err
		}
		if n.fn == "any" {
			for _, item := range items {
				if truthy(item) {
					return true, nil
				}
			}
			return false, nil
		}
		for _, item := range items {
			if !truthy(item) {
				return false, nil
			}
		}
		return true, nil

	case "str":
		if len(args) != 1 {
			return fail("expected 1 argument, got %d", len(args))
		}
		return Stringify(args[0]), nil

	case "int":
		if len(args) != 1 {
			return fail("expected 1 argument, got %d", len(args))
		}
		switch t := args[0].(type) {
		case int64:
			return t, nil
		case float64:
			return int64(t), nil
		case bool:
			if t {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				return fail("invalid integer literal %q", t)
			}
			return i, nil
		default:
			return fail("cannot convert %s", valueTypeName(args[0]))
		}

	case "float":
		if len(args) != 1 {
			return fail("expected 1 argument, got %d", len(args))
		}
		switch t := args[0].(type) {
		case int64:
			return float64(t), nil
		case float64:
			return t, nil
		case bool:
			if t {
				return 1.0, nil
			}
			return 0.0, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return fail("invalid float literal %q", t)
			}
			return f, nil
		default:
			return fail("cannot convert %s", valueTypeName(args[0]))
		}

	case "bool":
		if len(args) != 1 {
			return fail("expected 1 argument, got %d", len(args))
		}
		return truthy(args[0]), nil

	case "list", "tuple":
		if len(args) == 0 {
			return []any{}, nil
		}
		if len(args) != 1 {
			return fail("expected at most 1 argument, got %d", len(args))
		}
		items, err := iterate(args[0], n.pos)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		copy(out, items)
		return out, nil

	case "set":
		if len(args) == 0 {
			return NewSet(), nil
		}
		if len(args) != 1 {
			return fail("expected at most 1 argument, got %d", len(args))
		}
		items, err := iterate(args[0], n.pos)
		if err != nil {
			return nil, err
		}
		return NewSet(items...), nil

	case "dict":
		if len(args) == 0 {
			return map[string]any{}, nil
		}
		if len(args) != 1 {
			return fail("expected at most 1 argument, got %d", len(args))
		}
		switch t := args[0].(type) {
		case map[string]any:
			out := make(map[string]any, len(t))
			for k, v := range t {
				out[k] = v
			}
			return out, nil
		case []any:
			out := make(map[string]any, len(t))
			for _, item := range t {
				pair, ok := item.([]any)
				if !ok || len(pair) != 2 {
					return fail("expected a list of key/value pairs")
				}
				key, err := mapKey(pair[0], n.pos)
				if err != nil {
					return nil, err
				}
				out[key] = pair[1]
			}
			return out, nil
		default:
			return fail("cannot convert %s", valueTypeName(args[0]))
		}

	case "get":
		if len(args) < 1 || len(args) > 2 {
			return fail("expected 1 or 2 arguments, got %d", len(args))
		}
		name, ok := args[0].(string)
		if !ok {
			return fail("name must be string, got %s", valueTypeName(args[0]))
		}
		if e.ctx != nil {
			if v, found := e.ctx.Get(name); found {
				return v, nil
			}
		}
		if len(args) == 2 {
			return args[1], nil
		}
		return nil, nil

	case "exists":
		if len(args) != 1 {
			return fail("expected 1 argument, got %d", len(args))
		}
		name, ok := args[0].(string)
		if !ok {
			return fail("name must be string, got %s", valueTypeName(args[0]))
		}
		if e.ctx == nil {
			return false, nil
		}
		_, found := e.ctx.Get(name)
		return found, nil

	case "env":
		if len(args) < 1 || len(args) > 2 {
			return fail("expected 1 or 2 arguments, got %d", len(args))
		}
		name, ok := args[0].(string)
		if !ok {
			return fail("name must be string, got %s", valueTypeName(args[0]))
		}
		if v, found := os.LookupEnv(name); found {
			return v, nil
		}
		if len(args) == 2 {
			return args[1], nil
		}
		return "", nil

	case "uuid4":
		if len(args) != 0 {
			return fail("expected no arguments, got %d", len(args))
		}
		return uuid.NewString(), nil

	default:
		return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("unknown function %q", n.fn)}
	}
}

func (e *Evaluator) builtinRange(n *callNode, args []any) (any, error) {
	ints := make([]int64, len(args))
	for i, arg := range args {
		v, ok := arg.(int64)
		if !ok {
			return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("range(): arguments must be int, got %s", valueTypeName(arg))}
		}
		ints[i] = v
	}

	var start, stop, step int64
	switch len(ints) {
	case 1:
		start, stop, step = 0, ints[0], 1
	case 2:
		start, stop, step = ints[0], ints[1], 1
	case 3:
		start, stop, step = ints[0], ints[1], ints[2]
		if step == 0 {
			return nil, &evalError{pos: n.pos, msg: "range(): step must not be zero"}
		}
	default:
		return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("range(): expected 1 to 3 arguments, got %d", len(ints))}
	}

	out := make([]any, 0)
	if step > 0 {
		for v := start; v < stop; v += step {
			// range shares the comprehension bound: a huge range is the
			// same runaway allocation by another spelling.
			if len(out) >= e.maxComprehension {
				return nil, &ComprehensionLimitError{Expr: e.expr, Limit: e.maxComprehension}
			}
			out = append(out, v)
		}
	} else {
		for v := start; v > stop; v += step {
			if len(out) >= e.maxComprehension {
				return nil, &ComprehensionLimitError{Expr: e.expr, Limit: e.maxComprehension}
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (e *Evaluator) builtinMinMax(n *callNode, args []any) (any, error) {
	var items []any
	if len(args) == 1 {
		var err error
		items, err = iterate(args[0], n.pos)
		if err != nil {
			return nil, err
		}
	} else {
		items = args
	}
	if len(items) == 0 {
		return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("%s(): empty sequence", n.fn)}
	}

	best := items[0]
	for _, item := range items[1:] {
		less, err := lessValues(item, best)
		if err != nil {
			return nil, &evalError{pos: n.pos, msg: fmt.Sprintf("%s(): %s", n.fn, err)}
		}
		if (n.fn == "min") == less {
			best = item
		}
	}
	return best, nil
}

func lessValues(a, b any) (bool, error) {
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			return an < bn, nil
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as < bs, nil
		}
	}
	return false, fmt.Errorf("cannot order %s and %s", valueTypeName(a), valueTypeName(b))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

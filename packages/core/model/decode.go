package model

import (
	"fmt"
	"strings"

	"github.com/abdul-hamid-achik/chainspec/packages/core/loader"
	"github.com/abdul-hamid-achik/chainspec/packages/template"
)

// bodyVariants are the discriminator keys of the request body union.
var bodyVariants = []string{"json", "form", "xml", "text", "base64", "binary", "files", "graphql"}

// DecodeScenario validates a resolved document tree into a Scenario.
// Template strings are tolerated in request and response subtrees; those
// are revalidated strictly after substitution.
func DecodeScenario(tree any, file string) (*Scenario, error) {
	d := newDecoder(file)

	obj, ok := asObject(tree)
	if !ok {
		return nil, d.errf("scenario document must be a mapping")
	}

	s := &Scenario{File: file}
	s.Description = d.optString(obj, "description")
	s.Marks = d.stringList(obj, "marks")
	s.Fixtures = d.stringList(obj, "fixtures")
	if d.failed() {
		return nil, d.firstErr()
	}

	if names := duplicate(s.Fixtures); names != "" {
		return nil, d.at("fixtures").errf("duplicate fixture %q", names)
	}

	if v, ok := obj.get("auth"); ok {
		s.Auth = d.at("auth").userFunctionRef(v)
	}
	if v, ok := obj.get("ssl"); ok {
		s.SSL = d.at("ssl").sslConfig(v)
	} else {
		s.SSL = SSLConfig{Verify: true}
	}
	if v, ok := obj.get("substitutions"); ok {
		s.Substitutions = d.at("substitutions").substitutions(v)
	}
	if d.failed() {
		return nil, d.firstErr()
	}

	if v, ok := obj.get("stages"); ok {
		s.Stages = d.at("stages").stages(v)
	}
	if d.failed() {
		return nil, d.firstErr()
	}

	seen := make(map[string]bool)
	for _, stage := range s.Stages {
		if stage.Name == "" {
			return nil, d.at("stages").errf("stage name must not be empty")
		}
		if seen[stage.Name] {
			return nil, d.at("stages").errf("duplicate stage name %q", stage.Name)
		}
		seen[stage.Name] = true
	}

	// Fixtures are host-provided and immutable: no substitution may
	// define a name that a fixture occupies.
	if err := checkFixtureCollisions(s, file); err != nil {
		return nil, err
	}

	return s, nil
}

func checkFixtureCollisions(s *Scenario, file string) error {
	fixtures := make(map[string]bool, len(s.Fixtures))
	for _, f := range s.Fixtures {
		fixtures[f] = true
	}
	for _, sub := range s.Substitutions {
		for _, b := range sub.Vars {
			if fixtures[b.Name] {
				return &ValidationError{File: file, Pointer: "/substitutions", Msg: fmt.Sprintf("name %q collides with a fixture", b.Name)}
			}
		}
		for _, b := range sub.Functions {
			if fixtures[b.Name] {
				return &ValidationError{File: file, Pointer: "/substitutions", Msg: fmt.Sprintf("name %q collides with a fixture", b.Name)}
			}
		}
	}
	return nil
}

// decoder walks the tree accumulating a location path for error messages.
// The error slot is shared by every derived decoder; the first error wins
// and later decode calls become no-ops.
type decoder struct {
	file string
	path string
	err  *error
}

func newDecoder(file string) *decoder {
	var err error
	return &decoder{file: file, err: &err}
}

func (d *decoder) at(seg string) *decoder {
	return &decoder{file: d.file, path: d.path + "/" + seg, err: d.err}
}

func (d *decoder) failed() bool {
	return *d.err != nil
}

func (d *decoder) firstErr() error {
	return *d.err
}

func (d *decoder) errf(format string, a ...any) error {
	if *d.err == nil {
		*d.err = &ValidationError{File: d.file, Pointer: d.path, Msg: fmt.Sprintf(format, a...)}
	}
	return *d.err
}

// object wraps either an order-preserving loader.Object or a plain map.
type object struct {
	ordered *loader.Object
	plain   map[string]any
}

func asObject(v any) (object, bool) {
	switch t := v.(type) {
	case *loader.Object:
		return object{ordered: t}, true
	case map[string]any:
		return object{plain: t}, true
	default:
		return object{}, false
	}
}

func (o object) get(key string) (any, bool) {
	if o.ordered != nil {
		return o.ordered.Get(key)
	}
	v, ok := o.plain[key]
	return v, ok
}

func (o object) keys() []string {
	if o.ordered != nil {
		return o.ordered.Keys()
	}
	keys := make([]string, 0, len(o.plain))
	for k := range o.plain {
		keys = append(keys, k)
	}
	// Plain maps only occur post-walk; sort for determinism.
	sortStrings(keys)
	return keys
}

func (o object) plainMap() map[string]any {
	if o.ordered != nil {
		return o.ordered.ToMap()
	}
	return loader.Plain(o.plain).(map[string]any)
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func duplicate(names []string) string {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return n
		}
		seen[n] = true
	}
	return ""
}

func (d *decoder) optString(o object, key string) string {
	v, ok := o.get(key)
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.at(key).errf("expected string, got %s", describe(v))
		return ""
	}
	return s
}

func (d *decoder) stringList(o object, key string) []string {
	v, ok := o.get(key)
	if !ok || v == nil {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		d.at(key).errf("expected list, got %s", describe(v))
		return nil
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			d.at(key).errf("element %d: expected string, got %s", i, describe(item))
			return nil
		}
		out = append(out, s)
	}
	return out
}

func (d *decoder) userFunctionRef(v any) *UserFunctionRef {
	switch t := v.(type) {
	case string:
		if t == "" {
			d.errf("function name must not be empty")
			return nil
		}
		return &UserFunctionRef{Name: t}
	default:
		obj, ok := asObject(v)
		if !ok {
			d.errf("expected function name or mapping, got %s", describe(v))
			return nil
		}
		nameVal, ok := obj.get("function")
		if !ok {
			d.errf("function reference is missing the function key")
			return nil
		}
		name, ok := nameVal.(string)
		if !ok || name == "" {
			d.at("function").errf("expected non-empty string")
			return nil
		}
		ref := &UserFunctionRef{Name: name}
		if kv, ok := obj.get("kwargs"); ok {
			kwObj, ok := asObject(kv)
			if !ok {
				d.at("kwargs").errf("expected mapping, got %s", describe(kv))
				return nil
			}
			ref.Kwargs = kwObj.plainMap()
		}
		return ref
	}
}

func (d *decoder) sslConfig(v any) SSLConfig {
	cfg := SSLConfig{Verify: true}
	obj, ok := asObject(v)
	if !ok {
		d.errf("expected mapping, got %s", describe(v))
		return cfg
	}

	if verify, ok := obj.get("verify"); ok {
		switch t := verify.(type) {
		case bool:
			cfg.Verify = t
		case string:
			cfg.Verify = true
			cfg.VerifyCA = t
		default:
			d.at("verify").errf("expected bool or path, got %s", describe(verify))
		}
	}

	if cert, ok := obj.get("cert"); ok && cert != nil {
		switch t := cert.(type) {
		case string:
			cfg.Cert = t
		case []any:
			if len(t) != 2 {
				d.at("cert").errf("expected [cert, key] pair, got %d elements", len(t))
				return cfg
			}
			c, cok := t[0].(string)
			k, kok := t[1].(string)
			if !cok || !kok {
				d.at("cert").errf("cert and key must be paths")
				return cfg
			}
			cfg.Cert, cfg.Key = c, k
		default:
			d.at("cert").errf("expected path or [cert, key] pair, got %s", describe(cert))
		}
	}
	return cfg
}

func (d *decoder) substitutions(v any) []Substitution {
	list, ok := v.([]any)
	if !ok {
		d.errf("expected list, got %s", describe(v))
		return nil
	}
	out := make([]Substitution, 0, len(list))
	for i, item := range list {
		sub := d.at(fmt.Sprintf("%d", i)).substitution(item)
		if d.failed() {
			return nil
		}
		out = append(out, sub)
	}
	return out
}

func (d *decoder) substitution(v any) Substitution {
	obj, ok := asObject(v)
	if !ok {
		d.errf("expected mapping, got %s", describe(v))
		return Substitution{}
	}

	_, hasVars := obj.get("vars")
	_, hasFuncs := obj.get("functions")
	if hasVars == hasFuncs {
		d.errf("substitution must have exactly one of vars or functions")
		return Substitution{}
	}

	if hasVars {
		varsVal, _ := obj.get("vars")
		varsObj, ok := asObject(varsVal)
		if !ok {
			d.at("vars").errf("expected mapping, got %s", describe(varsVal))
			return Substitution{}
		}
		sub := Substitution{Kind: SubstVars}
		for _, name := range varsObj.keys() {
			value, _ := varsObj.get(name)
			sub.Vars = append(sub.Vars, VarBinding{Name: name, Value: loader.Plain(value)})
		}
		return sub
	}

	funcsVal, _ := obj.get("functions")
	funcsObj, ok := asObject(funcsVal)
	if !ok {
		d.at("functions").errf("expected mapping, got %s", describe(funcsVal))
		return Substitution{}
	}
	sub := Substitution{Kind: SubstFunctions}
	for _, name := range funcsObj.keys() {
		refVal, _ := funcsObj.get(name)
		ref := d.at("functions").at(name).userFunctionRef(refVal)
		if d.failed() {
			return Substitution{}
		}
		sub.Functions = append(sub.Functions, FunctionBinding{Name: name, Ref: ref})
	}
	return sub
}

// stages accepts both the list form and the keyed-mapping form; mapping
// keys name the stages and their order follows the document.
func (d *decoder) stages(v any) []*Stage {
	switch t := v.(type) {
	case []any:
		out := make([]*Stage, 0, len(t))
		for i, item := range t {
			stage := d.at(fmt.Sprintf("%d", i)).stage(item, "")
			if d.failed() {
				return nil
			}
			out = append(out, stage)
		}
		return out
	default:
		obj, ok := asObject(v)
		if !ok {
			d.errf("expected list or mapping, got %s", describe(v))
			return nil
		}
		out := make([]*Stage, 0, len(obj.keys()))
		for _, name := range obj.keys() {
			item, _ := obj.get(name)
			stage := d.at(name).stage(item, name)
			if d.failed() {
				return nil
			}
			out = append(out, stage)
		}
		return out
	}
}

func (d *decoder) stage(v any, impliedName string) *Stage {
	obj, ok := asObject(v)
	if !ok {
		d.errf("expected mapping, got %s", describe(v))
		return nil
	}

	stage := &Stage{Name: impliedName}
	if name := d.optString(obj, "name"); name != "" {
		stage.Name = name
	}
	stage.Description = d.optString(obj, "description")
	stage.Marks = d.stringList(obj, "marks")
	stage.Fixtures = d.stringList(obj, "fixtures")
	if d.failed() {
		return nil
	}
	if dup := duplicate(stage.Fixtures); dup != "" {
		d.at("fixtures").errf("duplicate fixture %q", dup)
		return nil
	}

	if sv, ok := obj.get("substitutions"); ok {
		stage.Substitutions = d.at("substitutions").substitutions(sv)
	}
	if d.failed() {
		return nil
	}

	// Fixtures are immutable: stage substitutions must not redefine them.
	fixtures := keySet(stage.Fixtures)
	for _, sub := range stage.Substitutions {
		for _, b := range sub.Vars {
			if fixtures[b.Name] {
				d.at("substitutions").errf("name %q collides with a fixture", b.Name)
				return nil
			}
		}
		for _, b := range sub.Functions {
			if fixtures[b.Name] {
				d.at("substitutions").errf("name %q collides with a fixture", b.Name)
				return nil
			}
		}
	}

	if av, ok := obj.get("always_run"); ok {
		b, isBool := av.(bool)
		if !isBool {
			d.at("always_run").errf("expected bool, got %s", describe(av))
			return nil
		}
		stage.AlwaysRun = b
	}

	if pv, ok := obj.get("parametrize"); ok {
		stage.Parametrize = d.at("parametrize").parameters(pv)
	}
	if pv, ok := obj.get("parallel"); ok {
		stage.Parallel = d.at("parallel").parallelConfig(pv)
	}
	if d.failed() {
		return nil
	}

	reqVal, ok := obj.get("request")
	if !ok {
		d.errf("stage is missing request")
		return nil
	}
	reqObj, ok := asObject(reqVal)
	if !ok {
		d.at("request").errf("expected mapping, got %s", describe(reqVal))
		return nil
	}
	stage.RequestRaw = reqObj.plainMap()
	d.at("request").checkRequestShape(reqObj)
	if d.failed() {
		return nil
	}

	if rv, ok := obj.get("response"); ok {
		stage.Response = d.at("response").responseSteps(rv)
	}
	if d.failed() {
		return nil
	}
	return stage
}

// checkRequestShape validates what is statically checkable before template
// substitution: presence of url, variant exclusivity of the body, literal
// scalars in valid ranges. Template strings pass through and are enforced
// by DecodeRequest after the walk.
func (d *decoder) checkRequestShape(obj object) {
	urlVal, ok := obj.get("url")
	if !ok {
		d.errf("request is missing url")
		return
	}
	if _, ok := urlVal.(string); !ok {
		d.at("url").errf("expected string, got %s", describe(urlVal))
		return
	}

	if mv, ok := obj.get("method"); ok {
		m, isString := mv.(string)
		if !isString {
			d.at("method").errf("expected string, got %s", describe(mv))
			return
		}
		if !template.HasTemplate(m) && !validMethod(m) {
			d.at("method").errf("invalid HTTP method %q", m)
			return
		}
	}

	if tv, ok := obj.get("timeout"); ok {
		if f, isNum := numeric(tv); isNum && f <= 0 {
			d.at("timeout").errf("timeout must be positive, got %v", tv)
			return
		}
	}

	if bv, ok := obj.get("body"); ok {
		bodyObj, isObj := asObject(bv)
		if !isObj {
			d.at("body").errf("expected mapping, got %s", describe(bv))
			return
		}
		var found []string
		for _, variant := range bodyVariants {
			if _, ok := bodyObj.get(variant); ok {
				found = append(found, variant)
			}
		}
		if len(found) != 1 {
			d.at("body").errf("body must have exactly one of %s", strings.Join(bodyVariants, ", "))
			return
		}
		for _, key := range bodyObj.keys() {
			if key != found[0] {
				d.at("body").errf("unexpected key %q next to %s body", key, found[0])
				return
			}
		}
	}

	if av, ok := obj.get("auth"); ok {
		d.at("auth").userFunctionRef(av)
	}
}

func (d *decoder) responseSteps(v any) []ResponseStep {
	switch t := v.(type) {
	case []any:
		out := make([]ResponseStep, 0, len(t))
		for i, item := range t {
			step := d.at(fmt.Sprintf("%d", i)).responseStep(item, "")
			if d.failed() {
				return nil
			}
			out = append(out, step)
		}
		return out
	default:
		obj, ok := asObject(v)
		if !ok {
			d.errf("expected list or mapping, got %s", describe(v))
			return nil
		}
		out := make([]ResponseStep, 0, len(obj.keys()))
		for _, key := range obj.keys() {
			item, _ := obj.get(key)
			step := d.at(key).responseStep(item, key)
			if d.failed() {
				return nil
			}
			out = append(out, step)
		}
		return out
	}
}

func (d *decoder) responseStep(v any, key string) ResponseStep {
	obj, ok := asObject(v)
	if !ok {
		d.errf("expected mapping, got %s", describe(v))
		return ResponseStep{}
	}

	verifyVal, hasVerify := obj.get("verify")
	saveVal, hasSave := obj.get("save")
	if hasVerify == hasSave {
		d.errf("response step must have exactly one of verify or save")
		return ResponseStep{}
	}
	for _, k := range obj.keys() {
		if k != "verify" && k != "save" {
			d.errf("unexpected key %q in response step", k)
			return ResponseStep{}
		}
	}

	if hasVerify {
		payload, ok := asObject(verifyVal)
		if !ok {
			d.at("verify").errf("expected mapping, got %s", describe(verifyVal))
			return ResponseStep{}
		}
		d.at("verify").checkVerifyShape(payload)
		if d.failed() {
			return ResponseStep{}
		}
		return ResponseStep{Key: key, Kind: StepVerify, Raw: payload.plainMap()}
	}

	payload, ok := asObject(saveVal)
	if !ok {
		d.at("save").errf("expected mapping, got %s", describe(saveVal))
		return ResponseStep{}
	}
	return ResponseStep{Key: key, Kind: StepSave, Raw: payload.plainMap()}
}

func (d *decoder) checkVerifyShape(obj object) {
	if sv, ok := obj.get("status"); ok {
		d.at("status").checkStatus(sv)
	}
}

func (d *decoder) checkStatus(v any) {
	switch t := v.(type) {
	case int64:
		if !validStatus(int(t)) {
			d.errf("invalid HTTP status %d", t)
		}
	case []any:
		for i, item := range t {
			code, ok := item.(int64)
			if !ok {
				if s, isString := item.(string); isString && template.HasTemplate(s) {
					continue
				}
				d.errf("element %d: expected status code, got %s", i, describe(item))
				return
			}
			if !validStatus(int(code)) {
				d.errf("invalid HTTP status %d", code)
				return
			}
		}
	case string:
		if !template.HasTemplate(t) {
			d.errf("expected status code, got %q", t)
		}
	default:
		d.errf("expected status code or list, got %s", describe(v))
	}
}

func (d *decoder) parameters(v any) []Parameter {
	list, ok := v.([]any)
	if !ok {
		d.errf("expected list, got %s", describe(v))
		return nil
	}
	out := make([]Parameter, 0, len(list))
	for i, item := range list {
		p := d.at(fmt.Sprintf("%d", i)).parameter(item)
		if d.failed() {
			return nil
		}
		out = append(out, p)
	}
	return out
}

func (d *decoder) parameter(v any) Parameter {
	obj, ok := asObject(v)
	if !ok {
		d.errf("expected mapping, got %s", describe(v))
		return Parameter{}
	}

	indVal, hasInd := obj.get("individual")
	combVal, hasComb := obj.get("combinations")
	if hasInd == hasComb {
		d.errf("parameter block must have exactly one of individual or combinations")
		return Parameter{}
	}

	p := Parameter{}
	p.IDs = d.stringList(obj, "ids")
	if d.failed() {
		return Parameter{}
	}

	if hasInd {
		p.Kind = ParamIndividual
		indObj, ok := asObject(indVal)
		if !ok {
			d.at("individual").errf("expected mapping, got %s", describe(indVal))
			return Parameter{}
		}
		keys := indObj.keys()
		if len(keys) != 1 {
			d.at("individual").errf("expected exactly one parameter, got %d", len(keys))
			return Parameter{}
		}
		p.Key = keys[0]
		valuesVal, _ := indObj.get(keys[0])
		values, ok := valuesVal.([]any)
		if !ok || len(values) == 0 {
			d.at("individual").at(p.Key).errf("expected a non-empty list of values")
			return Parameter{}
		}
		p.Values = loader.Plain(values).([]any)
		if p.IDs != nil && len(p.IDs) != len(p.Values) {
			d.errf("ids count %d does not match value count %d", len(p.IDs), len(p.Values))
			return Parameter{}
		}
		return p
	}

	p.Kind = ParamCombinations
	rows, ok := combVal.([]any)
	if !ok || len(rows) == 0 {
		d.at("combinations").errf("expected a non-empty list of mappings")
		return Parameter{}
	}
	for i, rowVal := range rows {
		rowObj, ok := asObject(rowVal)
		if !ok || len(rowObj.keys()) == 0 {
			d.at("combinations").errf("row %d: expected a non-empty mapping", i)
			return Parameter{}
		}
		row := Row{Keys: rowObj.keys(), Values: rowObj.plainMap()}
		p.Rows = append(p.Rows, row)
	}
	first := keySet(p.Rows[0].Keys)
	for i, row := range p.Rows[1:] {
		if !sameKeys(first, row.Keys) {
			d.at("combinations").errf("row %d has different parameters than row 0", i+1)
			return Parameter{}
		}
	}
	if p.IDs != nil && len(p.IDs) != len(p.Rows) {
		d.errf("ids count %d does not match row count %d", len(p.IDs), len(p.Rows))
		return Parameter{}
	}
	return p
}

func (d *decoder) parallelConfig(v any) *ParallelConfig {
	obj, ok := asObject(v)
	if !ok {
		d.errf("expected mapping, got %s", describe(v))
		return nil
	}

	repeatVal, hasRepeat := obj.get("repeat")
	foreachVal, hasForeach := obj.get("foreach")
	if hasRepeat == hasForeach {
		d.errf("parallel must have exactly one of repeat or foreach")
		return nil
	}

	cfg := &ParallelConfig{}
	var payload object
	if hasRepeat {
		cfg.Kind = ParallelRepeat
		payload, ok = asObject(repeatVal)
		if !ok {
			d.at("repeat").errf("expected mapping, got %s", describe(repeatVal))
			return nil
		}
		nVal, hasN := payload.get("n")
		n, isInt := nVal.(int64)
		if !hasN || !isInt || n < 1 {
			d.at("repeat").at("n").errf("expected integer >= 1")
			return nil
		}
		cfg.N = int(n)
	} else {
		cfg.Kind = ParallelForeach
		payload, ok = asObject(foreachVal)
		if !ok {
			d.at("foreach").errf("expected mapping, got %s", describe(foreachVal))
			return nil
		}
		paramsVal, hasParams := payload.get("parameters")
		if !hasParams {
			d.at("foreach").errf("foreach is missing parameters")
			return nil
		}
		cfg.Parameters = d.at("foreach").at("parameters").parameters(paramsVal)
		if d.failed() {
			return nil
		}
	}

	mcVal, hasMC := payload.get("max_concurrency")
	mc, isInt := mcVal.(int64)
	if !hasMC || !isInt || mc < 1 {
		d.at("max_concurrency").errf("expected integer >= 1")
		return nil
	}
	cfg.MaxConcurrency = int(mc)

	if cpsVal, ok := payload.get("calls_per_sec"); ok {
		cps, isNum := numeric(cpsVal)
		if !isNum || cps <= 0 {
			d.at("calls_per_sec").errf("expected number > 0")
			return nil
		}
		cfg.CallsPerSec = cps
	}
	return cfg
}

func keySet(keys []string) map[string]bool {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}

func sameKeys(set map[string]bool, keys []string) bool {
	if len(set) != len(keys) {
		return false
	}
	for _, k := range keys {
		if !set[k] {
			return false
		}
	}
	return true
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func validStatus(code int) bool {
	return code >= 100 && code <= 599
}

func validMethod(m string) bool {
	switch strings.ToUpper(m) {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS", "TRACE", "CONNECT":
		return true
	}
	return false
}

func describe(v any) string {
	switch v.(type) {
	case *loader.Object, map[string]any:
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

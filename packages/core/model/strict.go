package model

import (
	"strings"

	"github.com/abdul-hamid-achik/chainspec/packages/template"
)

// DefaultTimeout is the request timeout in seconds when a stage does not
// set one.
const DefaultTimeout = 30.0

// DecodeRequest validates a request subtree after template substitution.
// Every field is now concrete; templates left behind are authoring errors
// caught here as type mismatches.
func DecodeRequest(m map[string]any, file string) (*Request, error) {
	d := newDecoder(file)
	d.path = "/request"
	obj, _ := asObject(m)

	req := &Request{
		Method:         "GET",
		Timeout:        DefaultTimeout,
		AllowRedirects: true,
		Params:         make(map[string]any),
		Headers:        make(map[string]string),
	}

	urlVal, ok := obj.get("url")
	if !ok {
		return nil, d.errf("request is missing url")
	}
	url, ok := urlVal.(string)
	if !ok || url == "" {
		return nil, d.at("url").errf("expected non-empty string, got %s", describe(urlVal))
	}
	req.URL = url

	if mv, ok := obj.get("method"); ok {
		m, isString := mv.(string)
		if !isString || !validMethod(m) {
			return nil, d.at("method").errf("invalid HTTP method %v", mv)
		}
		req.Method = strings.ToUpper(m)
	}

	if pv, ok := obj.get("params"); ok {
		paramsObj, isObj := asObject(pv)
		if !isObj {
			return nil, d.at("params").errf("expected mapping, got %s", describe(pv))
		}
		req.Params = paramsObj.plainMap()
	}

	if hv, ok := obj.get("headers"); ok {
		headersObj, isObj := asObject(hv)
		if !isObj {
			return nil, d.at("headers").errf("expected mapping, got %s", describe(hv))
		}
		for _, name := range headersObj.keys() {
			v, _ := headersObj.get(name)
			switch v.(type) {
			case string, int64, float64, bool:
				req.Headers[name] = template.Stringify(v)
			default:
				return nil, d.at("headers").at(name).errf("expected scalar, got %s", describe(v))
			}
		}
	}

	if bv, ok := obj.get("body"); ok {
		bodyObj, isObj := asObject(bv)
		if !isObj {
			return nil, d.at("body").errf("expected mapping, got %s", describe(bv))
		}
		body := d.at("body").body(bodyObj)
		if d.failed() {
			return nil, d.firstErr()
		}
		req.Body = body
	}

	if av, ok := obj.get("auth"); ok {
		req.Auth = d.at("auth").userFunctionRef(av)
		if d.failed() {
			return nil, d.firstErr()
		}
	}

	if tv, ok := obj.get("timeout"); ok {
		f, isNum := numeric(tv)
		if !isNum || f <= 0 {
			return nil, d.at("timeout").errf("expected number > 0, got %v", tv)
		}
		req.Timeout = f
	}

	if rv, ok := obj.get("allow_redirects"); ok {
		b, isBool := rv.(bool)
		if !isBool {
			return nil, d.at("allow_redirects").errf("expected bool, got %s", describe(rv))
		}
		req.AllowRedirects = b
	}

	return req, nil
}

func (d *decoder) body(obj object) *Body {
	var variant string
	for _, v := range bodyVariants {
		if _, ok := obj.get(v); ok {
			if variant != "" {
				d.errf("body must have exactly one of %s", strings.Join(bodyVariants, ", "))
				return nil
			}
			variant = v
		}
	}
	if variant == "" {
		d.errf("body must have exactly one of %s", strings.Join(bodyVariants, ", "))
		return nil
	}
	for _, key := range obj.keys() {
		if key != variant {
			d.errf("unexpected key %q next to %s body", key, variant)
			return nil
		}
	}

	value, _ := obj.get(variant)
	body := &Body{}
	switch variant {
	case "json":
		body.Kind = BodyJSON
		if inner, ok := asObject(value); ok {
			body.JSON = inner.plainMap()
		} else {
			body.JSON = value
		}
	case "form":
		body.Kind = BodyForm
		inner, ok := asObject(value)
		if !ok {
			d.at("form").errf("expected mapping, got %s", describe(value))
			return nil
		}
		body.Form = inner.plainMap()
	case "xml":
		body.Kind = BodyXML
		s, ok := value.(string)
		if !ok {
			d.at("xml").errf("expected string, got %s", describe(value))
			return nil
		}
		body.XML = s
	case "text":
		body.Kind = BodyText
		s, ok := value.(string)
		if !ok {
			d.at("text").errf("expected string, got %s", describe(value))
			return nil
		}
		body.Text = s
	case "base64":
		body.Kind = BodyBase64
		s, ok := value.(string)
		if !ok {
			d.at("base64").errf("expected string, got %s", describe(value))
			return nil
		}
		body.Base64 = s
	case "binary":
		body.Kind = BodyBinary
		s, ok := value.(string)
		if !ok || s == "" {
			d.at("binary").errf("expected file path, got %s", describe(value))
			return nil
		}
		body.Binary = s
	case "files":
		body.Kind = BodyFiles
		inner, ok := asObject(value)
		if !ok {
			d.at("files").errf("expected mapping, got %s", describe(value))
			return nil
		}
		body.Files = make(map[string]string, len(inner.keys()))
		for _, field := range inner.keys() {
			pv, _ := inner.get(field)
			path, ok := pv.(string)
			if !ok || path == "" {
				d.at("files").at(field).errf("expected file path, got %s", describe(pv))
				return nil
			}
			body.Files[field] = path
		}
	case "graphql":
		body.Kind = BodyGraphQL
		inner, ok := asObject(value)
		if !ok {
			d.at("graphql").errf("expected mapping, got %s", describe(value))
			return nil
		}
		queryVal, hasQuery := inner.get("query")
		query, isString := queryVal.(string)
		if !hasQuery || !isString || query == "" {
			d.at("graphql").at("query").errf("expected non-empty string")
			return nil
		}
		gql := &GraphQLBody{Query: query}
		if vv, ok := inner.get("variables"); ok {
			varsObj, isObj := asObject(vv)
			if !isObj {
				d.at("graphql").at("variables").errf("expected mapping, got %s", describe(vv))
				return nil
			}
			gql.Variables = varsObj.plainMap()
		}
		body.GraphQL = gql
	}
	return body
}

// DecodeVerify validates a verify step payload after template substitution.
func DecodeVerify(m map[string]any, file string) (*Verify, error) {
	d := newDecoder(file)
	d.path = "/verify"
	obj, _ := asObject(m)

	v := &Verify{Headers: make(map[string]string)}

	if sv, ok := obj.get("status"); ok && sv != nil {
		switch t := sv.(type) {
		case int64:
			if !validStatus(int(t)) {
				return nil, d.at("status").errf("invalid HTTP status %d", t)
			}
			v.Status = []int{int(t)}
		case []any:
			for i, item := range t {
				code, ok := item.(int64)
				if !ok || !validStatus(int(code)) {
					return nil, d.at("status").errf("element %d: invalid HTTP status %v", i, item)
				}
				v.Status = append(v.Status, int(code))
			}
		default:
			return nil, d.at("status").errf("expected status code or list, got %s", describe(sv))
		}
	}

	if hv, ok := obj.get("headers"); ok {
		headersObj, isObj := asObject(hv)
		if !isObj {
			return nil, d.at("headers").errf("expected mapping, got %s", describe(hv))
		}
		for _, name := range headersObj.keys() {
			hval, _ := headersObj.get(name)
			switch hval.(type) {
			case string, int64, float64, bool:
				v.Headers[name] = template.Stringify(hval)
			default:
				return nil, d.at("headers").at(name).errf("expected scalar, got %s", describe(hval))
			}
		}
	}

	if vv, ok := obj.get("vars"); ok {
		varsObj, isObj := asObject(vv)
		if !isObj {
			return nil, d.at("vars").errf("expected mapping, got %s", describe(vv))
		}
		for _, name := range varsObj.keys() {
			val, _ := varsObj.get(name)
			v.Vars = append(v.Vars, VarBinding{Name: name, Value: val})
		}
	}

	if ev, ok := obj.get("expressions"); ok {
		list, isList := ev.([]any)
		if !isList {
			return nil, d.at("expressions").errf("expected list, got %s", describe(ev))
		}
		v.Expressions = list
	}

	if bv, ok := obj.get("body"); ok {
		bodyObj, isObj := asObject(bv)
		if !isObj {
			return nil, d.at("body").errf("expected mapping, got %s", describe(bv))
		}
		vb := &VerifyBody{}
		if sv, ok := bodyObj.get("schema"); ok && sv != nil {
			switch t := sv.(type) {
			case string:
				vb.Schema = t
			default:
				inner, isObj := asObject(sv)
				if !isObj {
					return nil, d.at("body").at("schema").errf("expected schema document or path, got %s", describe(sv))
				}
				vb.Schema = inner.plainMap()
			}
		}
		bd := d.at("body")
		vb.Contains = bd.stringList(bodyObj, "contains")
		vb.NotContains = bd.stringList(bodyObj, "not_contains")
		vb.Matches = bd.stringList(bodyObj, "matches")
		vb.NotMatches = bd.stringList(bodyObj, "not_matches")
		if d.failed() {
			return nil, d.firstErr()
		}
		v.Body = vb
	}

	if fv, ok := obj.get("user_functions"); ok {
		refs := d.at("user_functions").functionList(fv)
		if d.failed() {
			return nil, d.firstErr()
		}
		v.UserFunctions = refs
	}

	return v, nil
}

// DecodeSave validates a save step payload after template substitution.
func DecodeSave(m map[string]any, file string) (*Save, error) {
	d := newDecoder(file)
	d.path = "/save"
	obj, _ := asObject(m)

	s := &Save{}

	if jv, ok := obj.get("jmespath"); ok {
		jmesObj, isObj := asObject(jv)
		if !isObj {
			return nil, d.at("jmespath").errf("expected mapping, got %s", describe(jv))
		}
		for _, name := range jmesObj.keys() {
			ev, _ := jmesObj.get(name)
			expr, ok := ev.(string)
			if !ok || expr == "" {
				return nil, d.at("jmespath").at(name).errf("expected JMESPath expression, got %s", describe(ev))
			}
			s.JMESPath = append(s.JMESPath, VarBinding{Name: name, Value: expr})
		}
	}

	if sv, ok := obj.get("substitutions"); ok {
		s.Substitutions = d.at("substitutions").substitutions(sv)
		if d.failed() {
			return nil, d.firstErr()
		}
	}

	if fv, ok := obj.get("user_functions"); ok {
		refs := d.at("user_functions").functionList(fv)
		if d.failed() {
			return nil, d.firstErr()
		}
		s.UserFunctions = refs
	}

	return s, nil
}

func (d *decoder) functionList(v any) []*UserFunctionRef {
	list, ok := v.([]any)
	if !ok {
		d.errf("expected list, got %s", describe(v))
		return nil
	}
	out := make([]*UserFunctionRef, 0, len(list))
	for i, item := range list {
		ref := d.at(itoa(i)).userFunctionRef(item)
		if d.failed() {
			return nil
		}
		out = append(out, ref)
	}
	return out
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := ""
	for i > 0 {
		digits = string(rune('0'+i%10)) + digits
		i /= 10
	}
	return digits
}

package mcp

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Validator accepts or rejects a candidate tool input. A nil error means
// the value is acceptable. Rejections are *ValidationError.
type Validator func(v any) error

// ValidationError describes why a value was rejected. Path locates the
// offending value inside the input, e.g. "items[2].id"; it is empty for
// the root value.
type ValidationError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input at %s: %s", e.Path, e.Reason)
}

func acceptAny(any) error { return nil }

// Compile turns a JSON-Schema-shaped value into a Validator. Only the
// subset MCP servers use in practice is enforced: enum, string,
// integer/number, boolean, array (items) and object (properties,
// required). Every other keyword is ignored. A node Compile does not
// understand accepts any value without loosening its siblings or its
// parent, so one oddly described property never switches off the
// required check of the object around it. Compile never fails.
func Compile(schema any) Validator {
	s, ok := schemaObject(schema)
	if !ok {
		return acceptAny
	}
	return compile(s)
}

// schemaObject normalizes raw into a plain JSON object so nested
// keywords can be read one node at a time.
func schemaObject(raw any) (map[string]any, bool) {
	switch s := raw.(type) {
	case nil:
		return nil, false
	case *jsonschema.Schema:
		if s == nil {
			return nil, false
		}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		if m, ok := raw.(map[string]any); ok {
			return m, true
		}
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

func compile(s map[string]any) Validator {
	if s == nil {
		return acceptAny
	}

	typ, nullable := schemaType(s["type"])

	var v Validator
	switch {
	case len(enumValues(s["enum"])) > 0:
		v = enumValidator(enumValues(s["enum"]))
	case typ == "string":
		v = kindValidator("string", isString)
	case typ == "integer" || typ == "number":
		v = kindValidator("number", isNumber)
	case typ == "boolean":
		v = kindValidator("boolean", isBool)
	case typ == "array":
		v = arrayValidator(subschema(s["items"]))
	case typ == "object":
		v = objectValidator(s["properties"], s["required"])
	default:
		return acceptAny
	}

	if nullable {
		inner := v
		v = func(x any) error {
			if x == nil {
				return nil
			}
			return inner(x)
		}
	}
	return v
}

// subschema compiles a nested schema node. Anything that is not a single
// schema object (a missing node, a tuple-form items list) accepts any value.
func subschema(raw any) Validator {
	m, ok := raw.(map[string]any)
	if !ok {
		return acceptAny
	}
	return compile(m)
}

// schemaType returns the effective type of a "type" keyword and whether
// null is also allowed. For a type list the first non-null entry wins.
// A value of any other shape yields no type.
func schemaType(raw any) (string, bool) {
	switch t := raw.(type) {
	case string:
		return t, false
	case []any:
		var typ string
		nullable := false
		for _, e := range t {
			name, ok := e.(string)
			if !ok {
				continue
			}
			if name == "null" {
				nullable = true
				continue
			}
			if typ == "" {
				typ = name
			}
		}
		return typ, nullable
	}
	return "", false
}

func enumValues(raw any) []any {
	values, _ := raw.([]any)
	return values
}

func stringList(raw any) []string {
	items, _ := raw.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func enumValidator(values []any) Validator {
	allowed := make(map[string]bool, len(values))
	names := make([]string, 0, len(values))
	for _, e := range values {
		k := enumKey(e)
		if !allowed[k] {
			names = append(names, k)
		}
		allowed[k] = true
	}
	reason := "must be one of: " + strings.Join(names, ", ")
	return func(v any) error {
		if allowed[enumKey(v)] {
			return nil
		}
		return &ValidationError{Reason: reason}
	}
}

// enumKey compares enum members by their string form.
func enumKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func kindValidator(kind string, ok func(any) bool) Validator {
	return func(v any) error {
		if ok(v) {
			return nil
		}
		return &ValidationError{Reason: fmt.Sprintf("expected %s, got %s", kind, describe(v))}
	}
}

func arrayValidator(item Validator) Validator {
	return func(v any) error {
		rv := reflect.ValueOf(v)
		if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return &ValidationError{Reason: "expected array, got " + describe(v)}
		}
		for i := 0; i < rv.Len(); i++ {
			if err := item(rv.Index(i).Interface()); err != nil {
				return within(fmt.Sprintf("[%d]", i), err)
			}
		}
		return nil
	}
}

func objectValidator(rawProps, rawRequired any) Validator {
	props, _ := rawProps.(map[string]any)
	fields := make(map[string]Validator, len(props))
	keys := make([]string, 0, len(props))
	for k, p := range props {
		fields[k] = subschema(p)
		keys = append(keys, k)
	}
	sort.Strings(keys)
	req := stringList(rawRequired)

	return func(v any) error {
		obj, ok := asObject(v)
		if !ok {
			return &ValidationError{Reason: "expected object, got " + describe(v)}
		}
		for _, k := range req {
			if _, present := obj[k]; !present {
				return &ValidationError{Path: k, Reason: "required property is missing"}
			}
		}
		for _, k := range keys {
			val, present := obj[k]
			if !present {
				continue
			}
			if err := fields[k](val); err != nil {
				return within(k, err)
			}
		}
		return nil
	}
}

// within prefixes the path of a nested validation error.
func within(segment string, err error) error {
	ve, ok := err.(*ValidationError)
	if !ok {
		return err
	}
	path := segment
	switch {
	case ve.Path == "":
	case strings.HasPrefix(ve.Path, "["):
		path += ve.Path
	default:
		path += "." + ve.Path
	}
	return &ValidationError{Path: path, Reason: ve.Reason}
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	m := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		m[iter.Key().String()] = iter.Value().Interface()
	}
	return m, true
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return true
	}
	return false
}

// describe names the JSON type of v for error messages.
func describe(v any) string {
	switch {
	case v == nil:
		return "null"
	case isString(v):
		return "string"
	case isNumber(v):
		return "number"
	case isBool(v):
		return "boolean"
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

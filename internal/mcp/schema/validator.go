// Package schema implements a recursive-descent validator for the subset
// of JSON Schema used to describe MCP tool inputSchemas. It deliberately
// does not use a general-purpose JSON-Schema library: the validator walks a
// dynamic value tree directly (no reflection), matching the design note in
// the runtime's architecture docs that calls for exactly this shape, and
// its output ({valid, errors, warnings} with field-path-qualified messages)
// doesn't map cleanly onto what a general validator library returns.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// Result is the outcome of validating a value against a schema.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ok reports a passing result with no errors/warnings attached yet.
func ok() *Result { return &Result{Valid: true} }

func (r *Result) addError(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) merge(other *Result) {
	if !other.Valid {
		r.Valid = false
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// supportedKeywords is used only to decide whether to warn about an unknown
// keyword; unknown keywords are otherwise ignored, per spec.
var supportedKeywords = map[string]bool{
	"type": true, "required": true, "properties": true,
	"additionalProperties": true, "enum": true,
	"minLength": true, "maxLength": true, "pattern": true,
	"minimum": true, "maximum": true,
	"exclusiveMinimum": true, "exclusiveMaximum": true,
	"minItems": true, "maxItems": true, "items": true,
	"description": true, "title": true, "default": true,
}

// Validate checks value (already json.Unmarshal'd into `any`) against
// schema (likewise). path is the field path prefix for error messages
// ("" at the root).
func Validate(schemaRaw json.RawMessage, valueRaw json.RawMessage) *Result {
	var schemaVal any
	if err := json.Unmarshal(schemaRaw, &schemaVal); err != nil {
		return &Result{Valid: false, Errors: []string{"invalid schema JSON: " + err.Error()}}
	}
	var value any
	if len(valueRaw) == 0 {
		value = map[string]any{}
	} else if err := json.Unmarshal(valueRaw, &value); err != nil {
		return &Result{Valid: false, Errors: []string{"invalid arguments JSON: " + err.Error()}}
	}
	return validateValue(schemaVal, value, "$")
}

func validateValue(schemaAny any, value any, path string) *Result {
	res := ok()

	schema, isObj := schemaAny.(map[string]any)
	if !isObj {
		return res // empty/non-object schema accepts anything
	}

	for keyword := range schema {
		if !supportedKeywords[keyword] {
			res.addWarning("%s: unknown schema keyword %q ignored", path, keyword)
		}
	}

	if t, ok := schema["type"]; ok {
		if !validateType(t, value) {
			res.addError("%s: expected type %v, got %s", path, t, jsonTypeName(value))
		}
	}

	if enumRaw, ok := schema["enum"]; ok {
		if enumList, ok := enumRaw.([]any); ok {
			if !containsValue(enumList, value) {
				res.addError("%s: value %v is not one of the allowed enum values", path, value)
			}
		}
	}

	switch v := value.(type) {
	case string:
		validateString(schema, v, path, res)
	case float64:
		validateNumber(schema, v, path, res)
	case []any:
		validateArray(schema, v, path, res)
	case map[string]any:
		validateObject(schema, v, path, res)
	}

	return res
}

func validateString(schema map[string]any, v string, path string, res *Result) {
	if minLen, ok := asInt(schema["minLength"]); ok && len(v) < minLen {
		res.addError("%s: length %d is less than minLength %d", path, len(v), minLen)
	}
	if maxLen, ok := asInt(schema["maxLength"]); ok && len(v) > maxLen {
		res.addError("%s: length %d exceeds maxLength %d", path, len(v), maxLen)
	}
	if patternRaw, ok := schema["pattern"].(string); ok {
		re, err := regexp.Compile(patternRaw)
		if err != nil {
			res.addWarning("%s: invalid pattern %q ignored", path, patternRaw)
		} else if !re.MatchString(v) {
			res.addError("%s: value %q does not match pattern %q", path, v, patternRaw)
		}
	}
}

func validateNumber(schema map[string]any, v float64, path string, res *Result) {
	if min, ok := asFloat(schema["minimum"]); ok && v < min {
		res.addError("%s: value %v is less than minimum %v", path, v, min)
	}
	if max, ok := asFloat(schema["maximum"]); ok && v > max {
		res.addError("%s: value %v exceeds maximum %v", path, v, max)
	}
	if min, ok := asFloat(schema["exclusiveMinimum"]); ok && v <= min {
		res.addError("%s: value %v must exceed exclusiveMinimum %v", path, v, min)
	}
	if max, ok := asFloat(schema["exclusiveMaximum"]); ok && v >= max {
		res.addError("%s: value %v must be below exclusiveMaximum %v", path, v, max)
	}
}

func validateArray(schema map[string]any, v []any, path string, res *Result) {
	if minItems, ok := asInt(schema["minItems"]); ok && len(v) < minItems {
		res.addError("%s: array has %d items, fewer than minItems %d", path, len(v), minItems)
	}
	if maxItems, ok := asInt(schema["maxItems"]); ok && len(v) > maxItems {
		res.addError("%s: array has %d items, more than maxItems %d", path, len(v), maxItems)
	}
	if itemSchema, ok := schema["items"]; ok {
		for i, item := range v {
			res.merge(validateValue(itemSchema, item, fmt.Sprintf("%s[%d]", path, i)))
		}
	}
}

func validateObject(schema map[string]any, v map[string]any, path string, res *Result) {
	if requiredRaw, ok := schema["required"].([]any); ok {
		for _, reqAny := range requiredRaw {
			req, _ := reqAny.(string)
			if req == "" {
				continue
			}
			if _, present := v[req]; !present {
				res.addError("%s: missing required field %q", path, req)
			}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for key, propSchema := range properties {
		if propValue, present := v[key]; present {
			res.merge(validateValue(propSchema, propValue, path+"."+key))
		}
	}

	if addlRaw, ok := schema["additionalProperties"]; ok {
		if allowed, isBool := addlRaw.(bool); isBool && !allowed {
			keys := make([]string, 0, len(v))
			for key := range v {
				if _, known := properties[key]; !known {
					keys = append(keys, key)
				}
			}
			sort.Strings(keys)
			for _, key := range keys {
				res.addError("%s: additional property %q is not allowed", path, key)
			}
		}
	}
}

func containsValue(list []any, value any) bool {
	for _, item := range list {
		if fmt.Sprint(item) == fmt.Sprint(value) {
			return true
		}
	}
	return false
}

func validateType(typeSpec any, value any) bool {
	switch t := typeSpec.(type) {
	case string:
		return matchesType(t, value)
	case []any:
		for _, alt := range t {
			if name, ok := alt.(string); ok && matchesType(name, value) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func matchesType(typeName string, value any) bool {
	switch typeName {
	case "null":
		return value == nil
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

func jsonTypeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

func asInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

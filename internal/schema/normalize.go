// Package schema rewrites MCP tool catalogs so that consumers with
// stricter JSON Schema type rules (no "integer", no union "type" arrays)
// can ingest them, without mutating the child's original payload.
package schema

import (
	"encoding/json"
	"reflect"
)

// Normalize deep-copies tools and rewrites each one's inputSchema and
// outputSchema in place on the copy. The original slice and its maps are
// left untouched.
func Normalize(tools []map[string]any) []map[string]any {
	out := make([]map[string]any, len(tools))

	for i, tool := range tools {
		out[i] = normalizeTool(shallowCopy(tool))
	}

	return out
}

// shallowCopy copies only the top-level tool fields; the schema subtrees
// reached through inputSchema/outputSchema/parameters are deep-copied (with
// cycle protection) by walk itself, so the child's original nested schema
// objects are never mutated even though this copy is shallow.
func shallowCopy(tool map[string]any) map[string]any {
	out := make(map[string]any, len(tool))
	for k, v := range tool {
		out[k] = v
	}

	return out
}

func normalizeTool(tool map[string]any) map[string]any {
	aliasSchemaField(tool, "input_schema", "inputSchema")
	aliasSchemaField(tool, "output_schema", "outputSchema")
	migrateParameters(tool)

	seen := make(map[uintptr]any)

	if s, ok := tool["inputSchema"]; ok {
		tool["inputSchema"] = walk(s, seen)
	}

	if s, ok := tool["outputSchema"]; ok {
		tool["outputSchema"] = walk(s, seen)
	}

	return tool
}

func aliasSchemaField(tool map[string]any, from, to string) {
	if _, hasTo := tool[to]; hasTo {
		return
	}

	if v, hasFrom := tool[from]; hasFrom {
		tool[to] = v
	}
}

func migrateParameters(tool map[string]any) {
	params, ok := tool["parameters"]
	if !ok {
		return
	}

	_, hasInput := tool["inputSchema"]
	_, hasInputSnake := tool["input_schema"]

	if !hasInput && !hasInputSnake {
		tool["inputSchema"] = params
	}

	delete(tool, "parameters")
}

// walk deep-copies node (expected to be a JSON-shaped value: map[string]any,
// []any, or a scalar) and, for object nodes, applies the type-rewriting,
// type-inference, and required-sanitization rules before recursing into
// every schema-shaped container field.
//
// seen tracks node identity (map/slice pointer, not structural equality) so
// a cyclic input graph — the same Go map value nested inside itself, as an
// in-process schema builder might construct — terminates instead of
// recursing forever: the first visit allocates the copy and records it in
// seen *before* recursing, so a self-reference reached during that
// recursion is resolved to the same (still-being-filled) copy instead of
// triggering another walk.
func walk(node any, seen map[uintptr]any) any {
	switch v := node.(type) {
	case map[string]any:
		return walkObject(v, seen)
	case []any:
		return walkArray(v, seen)
	default:
		return node
	}
}

func walkObject(obj map[string]any, seen map[uintptr]any) map[string]any {
	if ptr := identity(obj); ptr != 0 {
		if existing, ok := seen[ptr]; ok {
			return existing.(map[string]any)
		}
	}

	out := make(map[string]any, len(obj))
	if ptr := identity(obj); ptr != 0 {
		seen[ptr] = out
	}

	for k, v := range obj {
		out[k] = v
	}

	rewriteType(out)
	inferType(out)
	sanitizeRequired(out)

	for _, key := range []string{"properties", "patternProperties", "dependentSchemas", "$defs", "definitions"} {
		if m, ok := out[key].(map[string]any); ok {
			copied := make(map[string]any, len(m))
			for k, v := range m {
				copied[k] = walk(v, seen)
			}

			out[key] = copied
		}
	}

	if ap, ok := out["additionalProperties"]; ok {
		if _, isObj := ap.(map[string]any); isObj {
			out["additionalProperties"] = walk(ap, seen)
		}
	}

	if pn, ok := out["propertyNames"]; ok {
		out["propertyNames"] = walk(pn, seen)
	}

	if items, ok := out["items"]; ok {
		out["items"] = walk(items, seen)
	}

	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if list, ok := out[key].([]any); ok {
			out[key] = walkArray(list, seen)
		}
	}

	return out
}

func walkArray(list []any, seen map[uintptr]any) []any {
	if ptr := sliceIdentity(list); ptr != 0 {
		if existing, ok := seen[ptr]; ok {
			return existing.([]any)
		}
	}

	out := make([]any, len(list))
	if ptr := sliceIdentity(list); ptr != 0 {
		seen[ptr] = out
	}

	for i, item := range list {
		out[i] = walk(item, seen)
	}

	return out
}

// identity returns a stable pointer-derived key for a map value so the
// cycle guard is keyed on node identity, not structural equality. Returns 0
// (never a valid heap pointer) if the reflection fails for any reason.
func identity(m map[string]any) uintptr {
	v := reflect.ValueOf(m)
	if v.Kind() != reflect.Map {
		return 0
	}

	return v.Pointer()
}

func sliceIdentity(s []any) uintptr {
	v := reflect.ValueOf(s)
	if v.Kind() != reflect.Slice || v.Len() == 0 {
		return 0
	}

	return v.Pointer()
}

var typePriority = []string{"object", "array", "string", "number", "boolean"}

func rewriteType(obj map[string]any) {
	switch t := obj["type"].(type) {
	case string:
		if t == "integer" {
			obj["type"] = "number"
		}
	case []any:
		obj["type"] = collapseUnion(obj, t)
	}
}

func collapseUnion(obj map[string]any, candidates []any) string {
	filtered := make([]string, 0, len(candidates))
	seenVal := make(map[string]bool)

	for _, c := range candidates {
		s, ok := c.(string)
		if !ok || s == "null" || s == "undefined" || s == "" {
			continue
		}

		if s == "integer" {
			s = "number"
		}

		if !seenVal[s] {
			seenVal[s] = true
			filtered = append(filtered, s)
		}
	}

	if len(filtered) == 0 {
		return "string"
	}

	if len(filtered) == 1 {
		return filtered[0]
	}

	if pick, ok := preferByStructure(obj, filtered); ok {
		return pick
	}

	return preferByPriority(filtered)
}

func preferByStructure(obj map[string]any, candidates []string) (string, bool) {
	has := func(name string) bool {
		for _, c := range candidates {
			if c == name {
				return true
			}
		}

		return false
	}

	if _, ok := obj["properties"].(map[string]any); ok && has("object") {
		return "object", true
	}

	if _, ok := obj["items"]; ok && has("array") {
		return "array", true
	}

	if enumVals, ok := obj["enum"].([]any); ok && len(enumVals) > 0 {
		want := nativeTypeName(enumVals[0])
		if has(want) {
			return want, true
		}
	}

	return "", false
}

func preferByPriority(candidates []string) string {
	for _, p := range typePriority {
		for _, c := range candidates {
			if c == p {
				return p
			}
		}
	}

	return candidates[0]
}

func inferType(obj map[string]any) {
	if _, hasType := obj["type"]; hasType {
		return
	}

	if _, hasRef := obj["$ref"]; hasRef {
		return
	}

	if enumVals, ok := obj["enum"].([]any); ok && len(enumVals) > 0 {
		obj["type"] = nativeTypeName(enumVals[0])
		return
	}

	if _, ok := obj["properties"]; ok {
		obj["type"] = "object"
		return
	}

	if _, ok := obj["items"]; ok {
		obj["type"] = "array"
		return
	}

	obj["type"] = "string"
}

func nativeTypeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "string"
	}
}

func sanitizeRequired(obj map[string]any) {
	req, ok := obj["required"]
	if !ok {
		return
	}

	list, ok := req.([]any)
	if !ok {
		delete(obj, "required")
		return
	}

	filtered := make([]any, 0, len(list))

	for _, v := range list {
		if s, ok := v.(string); ok {
			filtered = append(filtered, s)
		}
	}

	obj["required"] = filtered
}


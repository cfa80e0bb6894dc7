// Package schema builds the structured-output schemas handed to the agent.
// Result shapes are declared as Go structs, reflected to JSON Schema and
// then closed so that no object accepts keys it does not declare.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/invopop/jsonschema"
)

var cache sync.Map // reflect.Type -> map[string]any

// For returns the strict output schema for the result type of v.
// The returned map is shared; callers must not mutate it.
func For(v any) (map[string]any, error) {
	t := reflect.TypeOf(v)
	if cached, ok := cache.Load(t); ok {
		return cached.(map[string]any), nil
	}

	doc, err := reflectDocument(v)
	if err != nil {
		return nil, err
	}
	doc = Strict(doc)

	actual, _ := cache.LoadOrStore(t, doc)
	return actual.(map[string]any), nil
}

func reflectDocument(v any) (map[string]any, error) {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}

	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema for %T: %w", v, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode schema for %T: %w", v, err)
	}

	// The agent rejects meta keywords at the document root
	delete(doc, "$schema")
	delete(doc, "$id")

	return doc, nil
}

// Strict returns a copy of doc in which every node that is an object type,
// or that declares properties, sets additionalProperties to false. Nodes
// with properties list every property as required; properties that were
// optional become nullable instead. The transformation recurses through
// properties, items and allOf/anyOf/oneOf.
func Strict(doc map[string]any) map[string]any {
	out, _ := enforce(doc).(map[string]any)
	return out
}

func enforce(node any) any {
	switch v := node.(type) {
	case []any:
		next := make([]any, len(v))
		for i, item := range v {
			next[i] = enforce(item)
		}
		return next

	case map[string]any:
		next := make(map[string]any, len(v)+1)
		for k, val := range v {
			next[k] = val
		}

		props, hasProps := v["properties"].(map[string]any)
		if isObjectType(v["type"]) || hasProps {
			next["additionalProperties"] = false
		}

		if hasProps {
			wasRequired := map[string]bool{}
			if list, ok := v["required"].([]any); ok {
				for _, name := range list {
					if s, ok := name.(string); ok {
						wasRequired[s] = true
					}
				}
			}

			nextProps := make(map[string]any, len(props))
			required := make([]string, 0, len(props))
			for k, val := range props {
				prop := enforce(val)
				if !wasRequired[k] {
					prop = nullable(prop)
				}
				nextProps[k] = prop
				required = append(required, k)
			}
			slices.Sort(required)

			next["properties"] = nextProps
			requiredAny := make([]any, len(required))
			for i, k := range required {
				requiredAny[i] = k
			}
			next["required"] = requiredAny
		}

		if items, ok := v["items"]; ok && items != nil {
			next["items"] = enforce(items)
		}

		for _, key := range []string{"allOf", "anyOf", "oneOf"} {
			if branch, ok := v[key]; ok && branch != nil {
				next[key] = enforce(branch)
			}
		}
		return next

	default:
		return node
	}
}

// nullable lets a node also accept null. It expects a node already copied
// by enforce.
func nullable(node any) any {
	v, ok := node.(map[string]any)
	if !ok {
		return node
	}
	if enum, ok := v["enum"].([]any); ok && !slices.Contains(enum, nil) {
		v["enum"] = append(slices.Clone(enum), nil)
	}

	switch t := v["type"].(type) {
	case string:
		if t != "null" {
			v["type"] = []any{t, "null"}
		}
		return v
	case []any:
		if !slices.Contains(t, any("null")) {
			v["type"] = append(slices.Clone(t), "null")
		}
		return v
	}

	if branches, ok := v["anyOf"].([]any); ok {
		v["anyOf"] = append(slices.Clone(branches), map[string]any{"type": "null"})
		return v
	}
	return map[string]any{"anyOf": []any{v, map[string]any{"type": "null"}}}
}

func isObjectType(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "object"
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == "object" {
				return true
			}
		}
	}
	return false
}

package tools

import "encoding/json"

// FlattenSchema collapses a top-level anyOf/oneOf discriminated union into a
// single object schema. Properties from all variants are merged; the
// required list is the intersection of the variants' required lists, so the
// flattened schema accepts any member of the union. Schemas without a
// top-level union pass through unchanged.
func FlattenSchema(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}

	var schema map[string]json.RawMessage
	if err := json.Unmarshal(raw, &schema); err != nil {
		return raw
	}

	variantsRaw, ok := schema["anyOf"]
	if !ok {
		variantsRaw, ok = schema["oneOf"]
	}
	if !ok {
		return raw
	}

	var variants []map[string]json.RawMessage
	if err := json.Unmarshal(variantsRaw, &variants); err != nil || len(variants) == 0 {
		return raw
	}

	mergedProps := make(map[string]json.RawMessage)
	var required []string
	for i, variant := range variants {
		var props map[string]json.RawMessage
		if propsRaw, ok := variant["properties"]; ok {
			if err := json.Unmarshal(propsRaw, &props); err != nil {
				return raw
			}
		}
		for name, prop := range props {
			if _, exists := mergedProps[name]; !exists {
				mergedProps[name] = prop
			}
		}

		var variantRequired []string
		if reqRaw, ok := variant["required"]; ok {
			if err := json.Unmarshal(reqRaw, &variantRequired); err != nil {
				return raw
			}
		}
		if i == 0 {
			required = variantRequired
		} else {
			required = intersect(required, variantRequired)
		}
	}

	flat := map[string]any{
		"type":       "object",
		"properties": mergedProps,
	}
	if len(required) > 0 {
		flat["required"] = required
	}

	out, err := json.Marshal(flat)
	if err != nil {
		return raw
	}
	return out
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

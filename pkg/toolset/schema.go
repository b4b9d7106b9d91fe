package toolset

import (
	"encoding/json"
	"fmt"
)

// ToolSchema is the normalized form of a tool's input schema. Servers send
// arbitrary, sometimes malformed JSON-schema-like payloads; normalization
// runs once at aggregation so call sites never re-interpret raw schemas.
// The two variants are ObjectSchema and OpaqueSchema.
type ToolSchema interface {
	// Document returns the canonical JSON document used for argument
	// validation.
	Document() (json.RawMessage, error)
}

// ObjectSchema is an object-typed input schema. A missing top-level type is
// treated as object, and a missing additionalProperties defaults to false:
// several strict downstream consumers reject permissive schemas.
type ObjectSchema struct {
	Properties           map[string]json.RawMessage
	Required             []string
	AdditionalProperties bool
}

// Document renders the normalized object schema.
func (s *ObjectSchema) Document() (json.RawMessage, error) {
	doc := map[string]any{
		"type":                 "object",
		"additionalProperties": s.AdditionalProperties,
	}
	if len(s.Properties) > 0 {
		doc["properties"] = s.Properties
	}
	if len(s.Required) > 0 {
		doc["required"] = s.Required
	}
	return json.Marshal(doc)
}

// OpaqueSchema preserves a schema the normalizer does not understand
// (non-object type, or a payload that is not a JSON object). It is passed
// through verbatim and never used for argument validation.
type OpaqueSchema struct {
	Raw json.RawMessage
}

// Document returns the raw schema unchanged.
func (s *OpaqueSchema) Document() (json.RawMessage, error) {
	return s.Raw, nil
}

// AsObject narrows a ToolSchema to *ObjectSchema.
func AsObject(s ToolSchema) (*ObjectSchema, bool) {
	o, ok := s.(*ObjectSchema)
	return o, ok
}

// AsOpaque narrows a ToolSchema to *OpaqueSchema.
func AsOpaque(s ToolSchema) (*OpaqueSchema, bool) {
	o, ok := s.(*OpaqueSchema)
	return o, ok
}

// NormalizeSchema converts a raw input schema (any JSON-marshalable value,
// typically the SDK's jsonschema.Schema) into its normalized variant. A nil
// schema normalizes to an empty strict object schema.
func NormalizeSchema(raw any) (ToolSchema, error) {
	if raw == nil {
		return &ObjectSchema{AdditionalProperties: false}, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("toolset: encode input schema: %w", err)
	}
	return normalizeJSON(encoded)
}

func normalizeJSON(encoded []byte) (ToolSchema, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &doc); err != nil {
		// Not a JSON object (boolean schema, array, ...): keep verbatim.
		return &OpaqueSchema{Raw: append(json.RawMessage(nil), encoded...)}, nil
	}

	schemaType := ""
	if rawType, ok := doc["type"]; ok {
		if err := json.Unmarshal(rawType, &schemaType); err != nil {
			return &OpaqueSchema{Raw: append(json.RawMessage(nil), encoded...)}, nil
		}
	}
	// Missing type is treated as an object schema.
	if schemaType != "" && schemaType != "object" {
		return &OpaqueSchema{Raw: append(json.RawMessage(nil), encoded...)}, nil
	}

	out := &ObjectSchema{AdditionalProperties: false}
	if rawProps, ok := doc["properties"]; ok {
		if err := json.Unmarshal(rawProps, &out.Properties); err != nil {
			return nil, fmt.Errorf("toolset: decode schema properties: %w", err)
		}
	}
	if rawRequired, ok := doc["required"]; ok {
		if err := json.Unmarshal(rawRequired, &out.Required); err != nil {
			return nil, fmt.Errorf("toolset: decode schema required list: %w", err)
		}
	}
	if rawAdditional, ok := doc["additionalProperties"]; ok {
		var allowed bool
		if err := json.Unmarshal(rawAdditional, &allowed); err == nil {
			out.AdditionalProperties = allowed
		} else {
			// additionalProperties can itself be a schema; any schema value
			// permits extra keys.
			out.AdditionalProperties = true
		}
	}
	return out, nil
}

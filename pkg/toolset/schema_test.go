package toolset

import (
	"encoding/json"
	"testing"
)

func normalizeRaw(t *testing.T, raw string) ToolSchema {
	t.Helper()
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("fixture decode: %v", err)
	}
	schema, err := NormalizeSchema(decoded)
	if err != nil {
		t.Fatalf("NormalizeSchema: %v", err)
	}
	return schema
}

func TestNormalizeSchemaMissingTypeIsObject(t *testing.T) {
	t.Parallel()

	schema := normalizeRaw(t, `{"properties":{"q":{"type":"string"}},"required":["q"]}`)
	object, ok := AsObject(schema)
	if !ok {
		t.Fatalf("expected object schema, got %T", schema)
	}
	if len(object.Properties) != 1 || len(object.Required) != 1 || object.Required[0] != "q" {
		t.Fatalf("object schema fields not preserved: %+v", object)
	}
	if object.AdditionalProperties {
		t.Fatalf("additionalProperties must default to false")
	}
}

func TestNormalizeSchemaKeepsExplicitAdditionalProperties(t *testing.T) {
	t.Parallel()

	schema := normalizeRaw(t, `{"type":"object","additionalProperties":true}`)
	object, ok := AsObject(schema)
	if !ok {
		t.Fatalf("expected object schema, got %T", schema)
	}
	if !object.AdditionalProperties {
		t.Fatalf("explicit additionalProperties=true must be preserved")
	}

	// additionalProperties given as a schema value also permits extra keys.
	schema = normalizeRaw(t, `{"type":"object","additionalProperties":{"type":"string"}}`)
	object, ok = AsObject(schema)
	if !ok {
		t.Fatalf("expected object schema, got %T", schema)
	}
	if !object.AdditionalProperties {
		t.Fatalf("schema-valued additionalProperties must permit extra keys")
	}
}

func TestNormalizeSchemaNonObjectIsOpaque(t *testing.T) {
	t.Parallel()

	schema := normalizeRaw(t, `{"type":"string"}`)
	opaque, ok := AsOpaque(schema)
	if !ok {
		t.Fatalf("expected opaque schema for non-object type, got %T", schema)
	}
	if len(opaque.Raw) == 0 {
		t.Fatalf("opaque schema must preserve the raw payload")
	}

	schema = normalizeRaw(t, `true`)
	if _, ok := AsOpaque(schema); !ok {
		t.Fatalf("boolean schema must normalize to opaque, got %T", schema)
	}
}

func TestNormalizeSchemaNil(t *testing.T) {
	t.Parallel()

	schema, err := NormalizeSchema(nil)
	if err != nil {
		t.Fatalf("NormalizeSchema(nil): %v", err)
	}
	object, ok := AsObject(schema)
	if !ok {
		t.Fatalf("nil schema must normalize to an object schema, got %T", schema)
	}
	if object.AdditionalProperties {
		t.Fatalf("nil schema must be strict")
	}
}

func TestObjectSchemaDocument(t *testing.T) {
	t.Parallel()

	schema := normalizeRaw(t, `{"properties":{"a":{"type":"integer"}},"required":["a"]}`)
	object, _ := AsObject(schema)
	doc, err := object.Document()
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(doc, &decoded); err != nil {
		t.Fatalf("document is not valid JSON: %v", err)
	}
	if decoded["type"] != "object" {
		t.Fatalf("document type = %v, expected object", decoded["type"])
	}
	if decoded["additionalProperties"] != false {
		t.Fatalf("document additionalProperties = %v, expected false", decoded["additionalProperties"])
	}
}

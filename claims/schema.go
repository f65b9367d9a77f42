package claims

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaValidated wraps an Extractor with JSON schema validation of the payload.
// The inner extractor's own validation runs first.
type SchemaValidated struct {
	Extractor
	schema *jsonschema.Schema
}

// NewSchemaValidated compiles schemaJSON and wraps inner with it
func NewSchemaValidated(inner Extractor, schemaJSON []byte) (*SchemaValidated, error) {
	schema, err := compileSchema(schemaJSON)
	if err != nil {
		return nil, err
	}
	return &SchemaValidated{Extractor: inner, schema: schema}, nil
}

// LoadSchemaValidated reads a schema file and wraps inner with it
func LoadSchemaValidated(inner Extractor, path string) (*SchemaValidated, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload schema: %w", err)
	}
	return NewSchemaValidated(inner, data)
}

// ValidatePayload validates the inner extractor's rules, then the schema
func (s *SchemaValidated) ValidatePayload(claims jwt.MapClaims) error {
	if err := Validate(s.Extractor, claims); err != nil {
		return err
	}

	// Round-trip through the schema library's decoder so numbers are json.Number
	data, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	if err := s.schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return nil
}

func compileSchema(schemaJSON []byte) (*jsonschema.Schema, error) {
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse schema JSON: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft7)

	schemaURL := "payload.json"
	if err := compiler.AddResource(schemaURL, parsed); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

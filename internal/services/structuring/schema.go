package structuring

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/AyanbekDos/smeta-2/internal/schemas"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidator checks model output against the embedded specification schema
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles the embedded specification schema
func NewSchemaValidator() (*SchemaValidator, error) {
	data, err := schemas.GetSchema(schemas.Specification)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemas.Specification, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(schemas.Specification)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &SchemaValidator{schema: schema}, nil
}

// Validate checks raw JSON against the schema
func (v *SchemaValidator) Validate(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

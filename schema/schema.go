// Package schema describes module configuration sub-trees. Every module
// declares a Schema for its slice of the configuration; the engine uses it
// to compute defaults for partial boot, to re-validate persisted values,
// and to locate secret-typed properties for extraction.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/bknd-io/bknd/errors"
)

// Schema describes the shape of a module's configuration sub-tree.
type Schema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single configuration property.
// Type is one of "string", "int", "float", "bool", "object", "array".
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *int     `json:"minimum,omitempty"`
	Maximum     *int     `json:"maximum,omitempty"`

	// Secret marks a string property whose value must never appear in the
	// persisted configuration tree. Secret values are extracted into a
	// separate flat map before save and reinjected on load.
	Secret bool `json:"secret,omitempty"`

	// Properties describes nested fields when Type is "object".
	Properties map[string]Property `json:"properties,omitempty"`

	// Items describes the element schema when Type is "array".
	Items *Property `json:"items,omitempty"`
}

// Defaults computes the default configuration tree for the schema. Nested
// object properties contribute their own defaults even when the object
// itself declares none.
func (s Schema) Defaults() map[string]any {
	out := make(map[string]any)
	for name, prop := range s.Properties {
		if v, ok := prop.defaultValue(); ok {
			out[name] = v
		}
	}
	return out
}

func (p Property) defaultValue() (any, bool) {
	if p.Default != nil {
		return p.Default, true
	}
	if p.Type == "object" && len(p.Properties) > 0 {
		nested := Schema{Properties: p.Properties}.Defaults()
		if len(nested) > 0 {
			return nested, true
		}
	}
	return nil, false
}

// JSONSchema renders the schema as a draft-07 JSON Schema document.
// Unknown fields are allowed: configuration trees evolve faster than
// schemas and lenient validation keeps old stores loadable.
func (s Schema) JSONSchema() map[string]any {
	doc := map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"additionalProperties": true,
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = prop.jsonSchema()
		}
		doc["properties"] = props
	}
	if len(s.Required) > 0 {
		doc["required"] = s.Required
	}
	return doc
}

func (p Property) jsonSchema() map[string]any {
	doc := map[string]any{
		"type": jsonSchemaType(p.Type),
	}
	if p.Description != "" {
		doc["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		doc["enum"] = p.Enum
	}
	if p.Minimum != nil {
		doc["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		doc["maximum"] = *p.Maximum
	}
	if p.Type == "object" && len(p.Properties) > 0 {
		nested := make(map[string]any, len(p.Properties))
		for name, child := range p.Properties {
			nested[name] = child.jsonSchema()
		}
		doc["properties"] = nested
		doc["additionalProperties"] = true
	}
	if p.Type == "array" && p.Items != nil {
		doc["items"] = p.Items.jsonSchema()
	}
	return doc
}

// jsonSchemaType maps internal property types to JSON Schema type names.
func jsonSchemaType(t string) string {
	switch t {
	case "int":
		return "integer"
	case "float":
		return "number"
	case "bool":
		return "boolean"
	default:
		// "string", "object", "array" map directly
		return t
	}
}

// Validate checks a configuration tree against the schema. A failure wraps
// errors.ErrSchemaRejected with every violation found, so callers can both
// classify the error and surface the field-level messages.
func (s Schema) Validate(tree any) error {
	schemaDoc, err := json.Marshal(s.JSONSchema())
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	treeDoc, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaDoc),
		gojsonschema.NewBytesLoader(treeDoc),
	)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, re.String())
	}
	return fmt.Errorf("%w: %s", errors.ErrSchemaRejected, strings.Join(msgs, "; "))
}

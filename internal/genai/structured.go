package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
)

// GenerateSchema reflects a strict JSON schema for T that satisfies the
// Responses API structured output rules.
func GenerateSchema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	schemaObj, err := schemaToMap(schema)
	if err != nil {
		panic(err)
	}
	delete(schemaObj, "$schema")
	delete(schemaObj, "$id")
	ensureStrictObjects(schemaObj)
	return schemaObj
}

func schemaToMap(schema *jsonschema.Schema) (map[string]interface{}, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

const (
	propertiesKey           = "properties"
	additionalPropertiesKey = "additionalProperties"
	typeKey                 = "type"
	requiredKey             = "required"
	itemsKey                = "items"
)

// ensureStrictObjects forbids extra properties and marks every property
// required on every object in the schema.
func ensureStrictObjects(schema map[string]interface{}) {
	if schemaType, ok := schema[typeKey].(string); ok && schemaType == "object" {
		schema[additionalPropertiesKey] = false

		if properties, ok := schema[propertiesKey].(map[string]interface{}); ok {
			var requiredFields []string
			for propName := range properties {
				requiredFields = append(requiredFields, propName)
			}
			if len(requiredFields) > 0 {
				sort.Strings(requiredFields)
				schema[requiredKey] = requiredFields
			}
		}
	}

	if properties, ok := schema[propertiesKey].(map[string]interface{}); ok {
		for _, prop := range properties {
			if propMap, ok := prop.(map[string]interface{}); ok {
				ensureStrictObjects(propMap)
			}
		}
	}

	if items, ok := schema[itemsKey].(map[string]interface{}); ok {
		ensureStrictObjects(items)
	}
}

// DecodeModelJSON unmarshals model output into v. When the output carries
// prose around the JSON, the outermost object is extracted.
func DecodeModelJSON(outputText string, v interface{}) error {
	s := strings.TrimSpace(outputText)
	if s == "" {
		return io.ErrUnexpectedEOF
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end <= start {
		return fmt.Errorf("no JSON object found in model output (len=%d): %w", len(s), io.ErrUnexpectedEOF)
	}
	sub := s[start : end+1]
	if err := json.Unmarshal([]byte(sub), v); err != nil {
		return fmt.Errorf("failed to unmarshal extracted JSON (len=%d): %w", len(sub), err)
	}
	return nil
}

// isTruncatedJSON reports whether a decode error looks like a cut-off answer.
func isTruncatedJSON(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return strings.Contains(syntaxErr.Error(), "unexpected end")
	}
	return strings.Contains(err.Error(), "unexpected end of JSON input")
}

// GenerateStructured asks the model for a value of type T using a schema
// reflected from T. A truncated answer is retried once with a larger budget.
func GenerateStructured[T any](ctx context.Context, c ClientInterface, name, description, instructions, input string) (T, error) {
	var out T
	req := StructuredRequest{
		Name:         name,
		Description:  description,
		Schema:       GenerateSchema[T](),
		Instructions: instructions,
		Input:        input,
	}
	for attempt := 0; attempt < 2; attempt++ {
		if attempt == 1 {
			req.MaxTokens = structuredRetryMaxTokens
			req.Instructions = instructions + "\n\nIMPORTANT: Ensure the JSON is complete and valid. Shorten lists if needed."
		}
		text, err := c.GenerateStructuredJSON(ctx, req)
		if err != nil {
			return out, err
		}
		if strings.TrimSpace(text) == "" {
			if attempt == 0 {
				continue
			}
			return out, ErrEmptyOutput
		}
		var zero T
		out = zero
		if err := DecodeModelJSON(text, &out); err != nil {
			if attempt == 0 && isTruncatedJSON(err) {
				slog.Warn("genai.GenerateStructured: truncated output, retrying", "schema", name, "error", err)
				continue
			}
			return out, fmt.Errorf("decode %s: %w", name, err)
		}
		return out, nil
	}
	return out, ErrEmptyOutput
}

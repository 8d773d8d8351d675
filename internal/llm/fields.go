// Package llm extracts structured invoice fields from recognized text
// through an OpenAI-compatible chat-completions API.
package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Fields is the data shape the extraction model must return. Amounts are
// JSON numbers here; they are converted to fixed-point strings when merged
// into an invoice record.
type Fields struct {
	InvoiceNumber    *string  `json:"invoice_number"`
	InvoiceDate      *string  `json:"invoice_date"`
	DueDate          *string  `json:"due_date"`
	CounterpartyName *string  `json:"counterparty_name"`
	TotalAmount      *float64 `json:"total_amount"`
	Currency         *string  `json:"currency"`
	TaxAmount        *float64 `json:"tax_amount"`
	NetAmount        *float64 `json:"net_amount"`
	ExtractionNotes  string   `json:"extraction_notes"`
	ConfidenceScore  *float64 `json:"confidence_score"`
}

// NotesMissing replaces an empty extraction_notes value.
const NotesMissing = "notes missing"

// BuildInvoiceJSONSchema returns the JSON schema every model response is
// validated against.
func BuildInvoiceJSONSchema() map[string]any {
	nullable := func(t string) map[string]any {
		return map[string]any{"type": []string{t, "null"}}
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"total_amount", "currency", "invoice_date", "extraction_notes"},
		"properties": map[string]any{
			"invoice_number":    nullable("string"),
			"invoice_date":      nullable("string"),
			"due_date":          nullable("string"),
			"counterparty_name": nullable("string"),
			"total_amount":      nullable("number"),
			"currency":          nullable("string"),
			"tax_amount":        nullable("number"),
			"net_amount":        nullable("number"),
			"extraction_notes":  map[string]any{"type": "string"},
			"confidence_score":  map[string]any{"type": []string{"number", "null"}, "minimum": 0, "maximum": 1},
		},
	}
}

// CompileSchema compiles a schema map for repeated validation.
func CompileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateJSON parses data and validates it against schema.
func ValidateJSON(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

package mcpserver

import (
	"encoding/json"

	"github.com/oliverjessner/Billy/internal/llm"
)

// ExtractionSchemaURI is the resource URI of the extraction schema.
const ExtractionSchemaURI = "billy://extraction-schema"

// ExtractionContract returns the JSON schema every structured extraction
// must satisfy, indented for reading.
func ExtractionContract() string {
	out, _ := json.MarshalIndent(llm.BuildInvoiceJSONSchema(), "", "  ")
	return string(out)
}

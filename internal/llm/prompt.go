package llm

const systemPrompt = `You are an invoice extraction system. Return JSON only and match the schema exactly.
Fields:
- invoice_number (string|null)
- invoice_date (YYYY-MM-DD|null)
- due_date (YYYY-MM-DD|null)
- counterparty_name (string|null)
- total_amount (number|null)
- currency (ISO 4217 code|null)
- tax_amount (number|null)
- net_amount (number|null)
- extraction_notes (string, short)
- confidence_score (number between 0 and 1|null)
`

func userPrompt(text string) string {
	return "Invoice text:\n" + text
}

func fixPrompt(raw string) string {
	return "Fix this JSON so that it matches the schema exactly. Output JSON only. JSON:\n" + raw
}

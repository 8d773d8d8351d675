package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/oliverjessner/Billy/internal/apperr"
)

const validPayload = `{"invoice_number":"RE-1","invoice_date":"01.03.2024","due_date":null,` +
	`"counterparty_name":"ACME GmbH","total_amount":119,"currency":"EUR","tax_amount":19,` +
	`"net_amount":100,"extraction_notes":"ok","confidence_score":0.9}`

// fakeOpenAI replays contents for successive chat completions and records
// the user prompts it received.
type fakeOpenAI struct {
	mu       sync.Mutex
	contents []string
	prompts  []string
	auth     []string
	status   int
}

func (f *fakeOpenAI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model          string            `json:"model"`
			ResponseFormat map[string]string `json:"response_format"`
			Messages       []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat["type"] != "json_object" {
			t.Errorf("response_format = %v", req.ResponseFormat)
		}

		f.mu.Lock()
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		f.prompts = append(f.prompts, req.Messages[len(req.Messages)-1].Content)
		i := len(f.prompts) - 1
		status := f.status
		f.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			return
		}
		content := f.contents[len(f.contents)-1]
		if i < len(f.contents) {
			content = f.contents[i]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		})
	})
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeOpenAI) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	c, err := NewClient(Config{BaseURL: srv.URL}, logger)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestExtractFieldsValidFirstTry(t *testing.T) {
	f := &fakeOpenAI{contents: []string{validPayload}}
	c := newTestClient(t, f)

	fields, raw, err := c.ExtractFields(context.Background(), "sk-1", "Rechnung RE-1")
	if err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}
	if len(f.prompts) != 1 {
		t.Errorf("calls = %d, want 1", len(f.prompts))
	}
	if f.auth[0] != "Bearer sk-1" {
		t.Errorf("authorization = %q", f.auth[0])
	}
	if !strings.HasPrefix(f.prompts[0], "Invoice text:\n") {
		t.Errorf("prompt = %q", f.prompts[0])
	}
	if *fields.InvoiceNumber != "RE-1" || *fields.TotalAmount != 119 || fields.DueDate != nil {
		t.Errorf("fields = %+v", fields)
	}
	if string(raw) != validPayload {
		t.Errorf("raw = %s", raw)
	}
}

func TestExtractFieldsCorrectiveRetry(t *testing.T) {
	f := &fakeOpenAI{contents: []string{`{"total_amount":"119"}`, validPayload}}
	c := newTestClient(t, f)

	fields, _, err := c.ExtractFields(context.Background(), "sk-1", "text")
	if err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}
	if len(f.prompts) != 2 {
		t.Fatalf("calls = %d, want 2", len(f.prompts))
	}
	if !strings.Contains(f.prompts[1], `{"total_amount":"119"}`) {
		t.Errorf("retry prompt should carry the rejected JSON: %q", f.prompts[1])
	}
	if *fields.CounterpartyName != "ACME GmbH" {
		t.Errorf("fields = %+v", fields)
	}
}

func TestExtractFieldsFailsAfterOneRetry(t *testing.T) {
	f := &fakeOpenAI{contents: []string{`not json`, `{"unexpected":true}`}}
	c := newTestClient(t, f)

	_, _, err := c.ExtractFields(context.Background(), "sk-1", "text")
	if !errors.Is(err, apperr.ErrExtraction) {
		t.Fatalf("err = %v, want ErrExtraction", err)
	}
	if len(f.prompts) != 2 {
		t.Errorf("calls = %d, want exactly 2", len(f.prompts))
	}
}

func TestExtractFieldsHTTPError(t *testing.T) {
	f := &fakeOpenAI{status: http.StatusTooManyRequests}
	c := newTestClient(t, f)

	_, _, err := c.ExtractFields(context.Background(), "sk-1", "text")
	if !errors.Is(err, apperr.ErrExtraction) {
		t.Errorf("err = %v, want ErrExtraction", err)
	}
}

func TestExtractFieldsDefaultsNotes(t *testing.T) {
	payload := `{"total_amount":null,"currency":null,"invoice_date":null,"extraction_notes":"  "}`
	c := newTestClient(t, &fakeOpenAI{contents: []string{payload}})

	fields, _, err := c.ExtractFields(context.Background(), "sk-1", "text")
	if err != nil {
		t.Fatal(err)
	}
	if fields.ExtractionNotes != NotesMissing {
		t.Errorf("notes = %q", fields.ExtractionNotes)
	}
	if fields.ConfidenceScore != nil || fields.Currency != nil {
		t.Errorf("absent fields should stay nil: %+v", fields)
	}
}

func TestSchemaRejectsOutOfRangeConfidence(t *testing.T) {
	schema, err := CompileSchema(BuildInvoiceJSONSchema())
	if err != nil {
		t.Fatal(err)
	}
	bad := `{"total_amount":1,"currency":"EUR","invoice_date":null,"extraction_notes":"x","confidence_score":3}`
	if err := ValidateJSON(schema, []byte(bad)); err == nil {
		t.Error("confidence above 1 should be rejected")
	}
	if err := ValidateJSON(schema, []byte(validPayload)); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}
}

func TestTestKey(t *testing.T) {
	c := newTestClient(t, &fakeOpenAI{})
	if err := c.TestKey(context.Background(), "good"); err != nil {
		t.Errorf("good key: %v", err)
	}
	if err := c.TestKey(context.Background(), "bad"); !errors.Is(err, apperr.ErrCredential) {
		t.Errorf("bad key err = %v", err)
	}
}

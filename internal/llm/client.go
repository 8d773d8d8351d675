package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/oliverjessner/Billy/internal/apperr"
)

// Config configures the chat-completions client.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Client implements structured field extraction over HTTP.
type Client struct {
	cfg    Config
	http   *resty.Client
	schema *jsonschema.Schema
	log    *slog.Logger
}

// NewClient returns a Client with defaults applied and the response schema compiled.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	schema, err := CompileSchema(BuildInvoiceJSONSchema())
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	return &Client{
		cfg:    cfg,
		http:   resty.New().SetTimeout(cfg.Timeout).SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")),
		schema: schema,
		log:    logger,
	}, nil
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ExtractFields asks the model for the invoice fields in text. A response
// that is not valid JSON or does not match the schema gets one corrective
// retry. It returns the parsed fields and the raw JSON the model produced.
// Every failure wraps apperr.ErrExtraction.
func (c *Client) ExtractFields(ctx context.Context, credential, text string) (Fields, []byte, error) {
	rid := uuid.NewString()
	start := time.Now()
	c.log.Info("llm: extract start",
		slog.String("req_id", rid),
		slog.String("model", c.cfg.Model),
		slog.Int("text_len", len(text)))

	raw, err := c.complete(ctx, credential, userPrompt(text))
	if err != nil {
		return Fields{}, nil, fmt.Errorf("%w: %w", apperr.ErrExtraction, err)
	}

	if vErr := ValidateJSON(c.schema, raw); vErr != nil {
		c.log.Warn("llm: response rejected, retrying",
			slog.String("req_id", rid), slog.String("error", vErr.Error()))

		raw, err = c.complete(ctx, credential, fixPrompt(string(raw)))
		if err != nil {
			return Fields{}, nil, fmt.Errorf("%w: %w", apperr.ErrExtraction, err)
		}
		if vErr := ValidateJSON(c.schema, raw); vErr != nil {
			c.log.Error("llm: schema validation failed",
				slog.String("req_id", rid), slog.String("error", vErr.Error()))
			return Fields{}, raw, fmt.Errorf("%w: %w", apperr.ErrExtraction, vErr)
		}
	}

	var out Fields
	if err := json.Unmarshal(raw, &out); err != nil {
		return Fields{}, raw, fmt.Errorf("%w: unmarshal fields: %w", apperr.ErrExtraction, err)
	}
	if strings.TrimSpace(out.ExtractionNotes) == "" {
		out.ExtractionNotes = NotesMissing
	}

	c.log.Info("llm: extract ok",
		slog.String("req_id", rid),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return out, raw, nil
}

// TestKey checks that credential is accepted by the API.
func (c *Client) TestKey(ctx context.Context, credential string) error {
	r, err := c.http.R().SetContext(ctx).SetAuthToken(credential).Get("/models")
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrCredential, err)
	}
	if r.IsError() {
		return fmt.Errorf("%w: api key rejected: %s", apperr.ErrCredential, r.Status())
	}
	return nil
}

func (c *Client) complete(ctx context.Context, credential, user string) ([]byte, error) {
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]string{"type": "json_object"},
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": user},
		},
	}

	var resp chatResponse
	r, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(credential).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&resp).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if r.IsError() {
		return nil, fmt.Errorf("chat completion: %s: %s", r.Status(), truncate(r.String(), 512))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: empty response")
	}
	return []byte(strings.TrimSpace(resp.Choices[0].Message.Content)), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

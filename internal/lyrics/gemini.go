// Package lyrics generates song lyrics with the Gemini generateContent API.
package lyrics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"livehub/internal/config"
	"livehub/internal/domain"
)

const defaultTimeout = 60 * time.Second

// Client calls models/{model}:generateContent and decodes the JSON song it returns.
type Client struct {
	Endpoint        string
	Model           string
	APIKey          string
	APIKeyEnv       string
	Temperature     float64
	MaxOutputTokens int
	Prompt          *template.Template
	HTTPClient      *http.Client
}

// New builds a client from the generator section of livehub.yml. The API key
// is read from the configured environment variable.
func New(cfg config.GeneratorConfig) (*Client, error) {
	prompt := cfg.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = config.Default().Generator.Prompt
	}
	tmpl, err := config.ParsePrompt(prompt)
	if err != nil {
		return nil, fmt.Errorf("parse prompt: %w", err)
	}
	timeout := cfg.TimeoutDuration()
	if timeout == 0 {
		timeout = defaultTimeout
	}
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "GEMINI_API_KEY"
	}
	return &Client{
		Endpoint:        cfg.Endpoint,
		Model:           cfg.Model,
		APIKey:          cfg.APIKey(),
		APIKeyEnv:       keyEnv,
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
		Prompt:          tmpl,
		HTTPClient:      &http.Client{Timeout: timeout},
	}, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content *content `json:"content"`
	} `json:"candidates"`
}

// RenderPrompt fills the prompt template with the request fields.
func (c *Client) RenderPrompt(req domain.Request) (string, error) {
	var buf bytes.Buffer
	if err := c.Prompt.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

func (c *Client) Generate(ctx context.Context, req domain.Request) (domain.Composition, error) {
	if c.APIKey == "" {
		return domain.Composition{}, fmt.Errorf("%s not configured", c.APIKeyEnv)
	}
	prompt, err := c.RenderPrompt(req)
	if err != nil {
		return domain.Composition{}, err
	}
	body := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:      c.Temperature,
			MaxOutputTokens:  c.MaxOutputTokens,
			ResponseMimeType: "application/json",
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return domain.Composition{}, err
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(c.Endpoint, "/"), c.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return domain.Composition{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.APIKey)

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	res, err := client.Do(httpReq)
	if err != nil {
		return domain.Composition{}, fmt.Errorf("gemini request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return domain.Composition{}, fmt.Errorf("gemini api error: %d - %s", res.StatusCode, strings.TrimSpace(string(b)))
	}
	var out generateResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return domain.Composition{}, fmt.Errorf("decode gemini response: %w", err)
	}
	text, err := firstText(out)
	if err != nil {
		return domain.Composition{}, err
	}
	return ParseComposition(text)
}

func firstText(out generateResponse) (string, error) {
	if len(out.Candidates) == 0 || out.Candidates[0].Content == nil || len(out.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("invalid Gemini API response structure")
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

// ParseComposition decodes the model's JSON answer. A surrounding markdown
// code fence is tolerated.
func ParseComposition(text string) (domain.Composition, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	var comp domain.Composition
	if err := json.Unmarshal([]byte(text), &comp); err != nil {
		return domain.Composition{}, fmt.Errorf("failed to parse Gemini response as JSON: %w", err)
	}
	return comp, nil
}

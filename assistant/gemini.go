package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aveoearth/marketplace/config"
)

// Content is one turn of a model conversation on the generateContent
// wire format.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part carries exactly one of text, a tool call from the model or a
// tool result sent back to it.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

type FunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

type FunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

// Schema is the subset of the OpenAPI schema the tool declarations use.
type Schema struct {
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Enum        []string          `json:"enum,omitempty"`
	Properties  map[string]Schema `json:"properties,omitempty"`
	Required    []string          `json:"required,omitempty"`
}

type FunctionDeclaration struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

// Gemini is a minimal REST client for the generateContent endpoint.
type Gemini struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

func NewGemini(cfg config.Gemini) *Gemini {
	return &Gemini{
		url:    cfg.URL,
		model:  cfg.Model,
		apiKey: cfg.APIKey,
		client: http.DefaultClient,
	}
}

// Generate runs one model turn and returns the candidate content, which
// may hold text, tool calls or both.
func (g *Gemini) Generate(ctx context.Context, contents []Content, tools []Tool) (Content, error) {
	body := struct {
		Contents []Content `json:"contents"`
		Tools    []Tool    `json:"tools,omitempty"`
	}{
		Contents: contents,
		Tools:    tools,
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return Content{}, fmt.Errorf("encoding generate request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.url, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return Content{}, fmt.Errorf("building generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return Content{}, fmt.Errorf("calling model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return Content{}, fmt.Errorf("model returned %s: %s", resp.Status, apiErr.Error.Message)
		}
		return Content{}, fmt.Errorf("model returned %s", resp.Status)
	}

	var out struct {
		Candidates []struct {
			Content Content `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Content{}, fmt.Errorf("decoding generate response: %w", err)
	}

	if len(out.Candidates) == 0 {
		return Content{}, errors.New("model returned no candidates")
	}
	return out.Candidates[0].Content, nil
}

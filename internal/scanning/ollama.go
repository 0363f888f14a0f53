package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Ollama implements Scanner using a local Ollama server
type Ollama struct {
	baseURL     string
	model       string
	visionModel string
	client      *http.Client
}

// NewOllama creates a new Ollama Scanner instance.
// visionModel is used for OCR and must accept images (e.g. llava, qwen2-vl);
// model is used for parsing and chat. An empty visionModel reuses model.
func NewOllama(baseURL, model, visionModel string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llava"
	}
	if visionModel == "" {
		visionModel = model
	}

	return &Ollama{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       model,
		visionModel: visionModel,
		// No client timeout; each call is bounded by its context deadline
		client: &http.Client{},
	}, nil
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// ExtractText transcribes every page of a receipt
func (o *Ollama) ExtractText(ctx context.Context, data []byte, contentType string) (string, error) {
	pages, err := preparePages(data, contentType)
	if err != nil {
		return "", err
	}

	texts := make([]string, 0, len(pages))
	for i, page := range pages {
		text, err := o.chat(ctx, ollamaChatRequest{
			Model: o.visionModel,
			Messages: []ollamaMessage{
				{
					Role:    "system",
					Content: "You are an expert at reading receipts and invoices. You must carefully read all text in images.",
				},
				{
					Role:    "user",
					Content: ocrPrompt,
					Images:  []string{base64.StdEncoding.EncodeToString(page)},
				},
			},
		})
		if err != nil {
			return "", fmt.Errorf("transcribing page %d: %w", i+1, err)
		}
		texts = append(texts, strings.TrimSpace(text))
	}
	return strings.Join(texts, "\n\n"), nil
}

// ParseReceipt extracts structured fields from receipt text
func (o *Ollama) ParseReceipt(ctx context.Context, text string) (*ReceiptData, error) {
	out, err := o.chat(ctx, ollamaChatRequest{
		Model:  o.model,
		Format: "json",
		Options: map[string]any{
			"temperature": 0.1,
		},
		Messages: []ollamaMessage{
			{Role: "system", Content: parseSystemPrompt},
			{Role: "user", Content: parseUserPrompt(text)},
		},
	})
	if err != nil {
		return nil, err
	}
	data, err := parseReceiptJSON(out)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt data: %w", err)
	}
	return data, nil
}

// Answer replies to a question about the receipts in req.Context
func (o *Ollama) Answer(ctx context.Context, req ChatRequest) (string, error) {
	messages := []ollamaMessage{
		{Role: "system", Content: chatSystemPrompt(req.KnownUsers)},
		{Role: "system", Content: chatContextPrompt(req.Context)},
	}
	for _, m := range conversation(req) {
		messages = append(messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	answer, err := o.chat(ctx, ollamaChatRequest{Model: o.model, Messages: messages})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// chat performs one non-streaming call to /api/chat and returns the reply text
func (o *Ollama) chat(ctx context.Context, reqBody ollamaChatRequest) (string, error) {
	reqBody.Stream = false
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return chatResp.Message.Content, nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}

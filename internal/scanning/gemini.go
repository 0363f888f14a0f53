package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements Scanner using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Scanner instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.1)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// ExtractText transcribes every page of a receipt
func (g *Gemini) ExtractText(ctx context.Context, data []byte, contentType string) (string, error) {
	pages, err := preparePages(data, contentType)
	if err != nil {
		return "", err
	}

	texts := make([]string, 0, len(pages))
	for i, page := range pages {
		// genai.ImageData expects just the format suffix, and every page is PNG by now
		resp, err := g.model.GenerateContent(ctx, genai.ImageData("png", page), genai.Text(ocrPrompt))
		if err != nil {
			return "", fmt.Errorf("transcribing page %d: %w", i+1, err)
		}
		text, err := responseText(resp)
		if err != nil {
			return "", err
		}
		texts = append(texts, strings.TrimSpace(text))
	}
	return strings.Join(texts, "\n\n"), nil
}

// ParseReceipt extracts structured fields from receipt text
func (g *Gemini) ParseReceipt(ctx context.Context, text string) (*ReceiptData, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(parseSystemPrompt), genai.Text(parseUserPrompt(text)))
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	out, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	data, err := parseReceiptJSON(out)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt data: %w", err)
	}
	return data, nil
}

// Answer replies to a question using a chat session seeded with the receipt
// context. Gemini has no system role in chat history, so the instructions
// are sent as an opening user turn the model acknowledges.
func (g *Gemini) Answer(ctx context.Context, req ChatRequest) (string, error) {
	turns := conversation(req)
	question := turns[len(turns)-1]

	cs := g.model.StartChat()
	cs.History = []*genai.Content{
		{
			Role:  "user",
			Parts: []genai.Part{genai.Text(chatSystemPrompt(req.KnownUsers) + "\n\n" + chatContextPrompt(req.Context))},
		},
		{
			Role:  "model",
			Parts: []genai.Part{genai.Text("Understood. Ask me about these receipts.")},
		},
	}
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	resp, err := cs.SendMessage(ctx, genai.Text(question.Content))
	if err != nil {
		return "", fmt.Errorf("sending chat message: %w", err)
	}
	answer, err := responseText(resp)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// responseText concatenates the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

package scanning

import (
	"fmt"
	"strings"
)

// maxHistory is how many previous turns are forwarded to the model.
const maxHistory = 10

// ocrPrompt asks a vision model for a plain transcription of one page
const ocrPrompt = `Transcribe all text visible in this receipt or invoice image exactly as printed.
Keep the original line breaks and reading order. Do not summarize, translate, or add commentary.
Return only the transcribed text.`

// parseSystemPrompt is the instruction shared by all providers for turning
// receipt text into structured JSON
var parseSystemPrompt = `You are an assistant that extracts structured data from receipt text.
Return ONLY valid JSON with exactly these keys and no additional text or commentary:

{
  "store_name": "",
  "phone": "",
  "website": "",
  "address": "",
  "date": "YYYY-MM-DD",
  "time": "HH:MM",
  "line_items": [],
  "total_payment": "$0.00",
  "payment_method": "",
  "expense_category": ""
}

Notes on formatting:
- Phone numbers should contain only numbers, spaces, and -() characters
- Website URLs must start with http:// or https://
- Dates must be in YYYY-MM-DD format
- Times must be in 24-hour HH:MM format
- Total payment must be in $XX.XX format
- Expense category must be one of: ` + strings.Join(ExpenseCategories[:len(ExpenseCategories)-1], ", ") + `
  * Choose the most appropriate category based on the store name and purchased items
  * If none of these categories clearly apply, use an empty string ""
- Use empty string "" for any fields not found in the receipt
- Do not use markdown code blocks`

// parseUserPrompt wraps the OCR text
func parseUserPrompt(text string) string {
	return fmt.Sprintf(`Extract the receipt data into JSON format following the schema exactly.
If any field is missing or unclear, use an empty string "".
For line items, include all purchased items as an array of strings.

Receipt text:
%s`, text)
}

// chatSystemPrompt describes the assistant's job and the people it knows about
func chatSystemPrompt(knownUsers []string) string {
	users := "none"
	if len(knownUsers) > 0 {
		users = strings.Join(knownUsers, ", ")
	}
	return "You are a helpful assistant that answers questions about receipt data. " +
		"Keep your responses concise but friendly. Avoid unnecessary details. " +
		"If asked about a person who doesn't exist in the data, respond 'I don't know who that is' and list the users you do have information about. " +
		"The known users in the system are: " + users + ". " +
		"Help analyze expenses, spending patterns, and provide insights when asked. " +
		"You can reference previous parts of the conversation if relevant."
}

func chatContextPrompt(contextJSON string) string {
	return "Receipt data context (JSON):\n" + contextJSON
}

// conversation returns the turns to send after the system prompts: the most
// recent history followed by the question. A history that already ends with
// the question is not repeated. The first user turn is framed as a question
// about the receipts.
func conversation(req ChatRequest) []Message {
	history := req.History
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	turns := make([]Message, 0, len(history)+1)
	for _, m := range history {
		role := m.Role
		if role != "user" {
			role = "assistant"
		}
		turns = append(turns, Message{Role: role, Content: m.Content})
	}
	last := len(turns) - 1
	if last < 0 || turns[last].Role != "user" || turns[last].Content != req.Question {
		turns = append(turns, Message{Role: "user", Content: req.Question})
	}
	for i := range turns {
		if turns[i].Role == "user" {
			turns[i].Content = "My question about my receipts is: " + turns[i].Content
			break
		}
	}
	return turns
}

// trimFences strips markdown code fences some models wrap output in
func trimFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

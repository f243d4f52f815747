package chatgpt

import (
	"encoding/json"
)

// DoneSentinel is the data payload that ends a completion stream.
const DoneSentinel = "[DONE]"

// Completion is one decoded event of a conversation stream.
type Completion struct {
	Message *struct {
		ID      string `json:"id"`
		Content struct {
			Parts []json.RawMessage `json:"parts"`
		} `json:"content"`
	} `json:"message"`
	ConversationID string `json:"conversation_id"`
}

// ParseCompletion decodes an event payload.
func ParseCompletion(data string) (Completion, error) {
	var c Completion
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return Completion{}, err
	}
	return c, nil
}

// Text returns the first content part when it is a string, or "".
func (c Completion) Text() string {
	if c.Message == nil || len(c.Message.Content.Parts) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(c.Message.Content.Parts[0], &s); err != nil {
		return ""
	}
	return s
}

// MessageID returns the provider's id for the message being streamed.
func (c Completion) MessageID() string {
	if c.Message == nil {
		return ""
	}
	return c.Message.ID
}

// Package domain contains the core types exchanged between the page context
// and the relay server.
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Key tags the payload carried by an Envelope.
type Key string

const (
	KeyScrapedQuestion Key = "SCRAPED_QUESTION"
	KeyFeedback        Key = "FEEDBACK"
	KeyCheckAccess     Key = "CHECK_ACCESS"
	KeyChatGPTOutput   Key = "CHATGPT_OUTPUT"
	KeyError           Key = "ERROR"
	KeyAccessConfirmed Key = "ACCESS_CONFIRMED"
)

// Direction is the flow of an envelope relative to the relay server.
type Direction int

const (
	// Inbound envelopes travel page -> server.
	Inbound Direction = iota
	// Outbound envelopes travel server -> page.
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

var keyDirections = map[Key]Direction{
	KeyScrapedQuestion: Inbound,
	KeyFeedback:        Inbound,
	KeyCheckAccess:     Inbound,
	KeyChatGPTOutput:   Outbound,
	KeyError:           Outbound,
	KeyAccessConfirmed: Outbound,
}

// Direction reports which way envelopes with this key flow.
func (k Key) Direction() (Direction, bool) {
	d, ok := keyDirections[k]
	return d, ok
}

var (
	ErrUnknownKey     = errors.New("unknown envelope key")
	ErrWrongDirection = errors.New("envelope key not allowed in this direction")
	ErrInvalidValue   = errors.New("invalid envelope value")
)

// Payload is implemented by exactly one type per Key.
type Payload interface {
	Key() Key
	isPayload()
}

// ScrapedQuestion is the question text taken from the page.
type ScrapedQuestion struct {
	Text       string
	QuestionID string
}

// CheckAccess asks whether a usable credential can be obtained.
type CheckAccess struct{}

// Output is one increment of the answer. Text is the whole answer so far,
// not a delta, so the page overwrites rather than appends.
type Output struct {
	Text           string `json:"text"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// ErrorMessage is a display-ready error string.
type ErrorMessage struct {
	Message string
}

// AccessConfirmed answers a successful CheckAccess.
type AccessConfirmed struct{}

func (ScrapedQuestion) Key() Key { return KeyScrapedQuestion }
func (Feedback) Key() Key        { return KeyFeedback }
func (CheckAccess) Key() Key     { return KeyCheckAccess }
func (Output) Key() Key          { return KeyChatGPTOutput }
func (ErrorMessage) Key() Key    { return KeyError }
func (AccessConfirmed) Key() Key { return KeyAccessConfirmed }

func (ScrapedQuestion) isPayload() {}
func (Feedback) isPayload()        {}
func (CheckAccess) isPayload()     {}
func (Output) isPayload()          {}
func (ErrorMessage) isPayload()    {}
func (AccessConfirmed) isPayload() {}

// Envelope is a single channel message.
type Envelope struct {
	Payload Payload
}

// Wrap builds an envelope around p.
func Wrap(p Payload) Envelope {
	return Envelope{Payload: p}
}

// Key returns the envelope tag, or "" for an empty envelope.
func (e Envelope) Key() Key {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Key()
}

type wireEnvelope struct {
	Key   Key             `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the envelope as {"key": ..., "value": ...}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("%w: empty envelope", ErrInvalidValue)
	}

	var value any
	switch p := e.Payload.(type) {
	case ScrapedQuestion:
		if p.QuestionID != "" {
			value = scrapedQuestionObject{QuestionText: p.Text, QuestionID: p.QuestionID}
		} else {
			value = p.Text
		}
	case ErrorMessage:
		value = p.Message
	case AccessConfirmed:
		value = true
	case CheckAccess:
		value = nil
	default:
		value = p
	}

	w := wireEnvelope{Key: e.Payload.Key()}
	if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s value: %w", w.Key, err)
		}
		w.Value = raw
	}
	return json.Marshal(w)
}

type scrapedQuestionObject struct {
	QuestionText string `json:"questionText"`
	QuestionID   string `json:"questionId,omitempty"`
}

// DecodeEnvelope parses raw and checks that its key is known, flows in
// direction want, and carries a value of the right shape.
func DecodeEnvelope(raw []byte, want Direction) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}

	dir, ok := w.Key.Direction()
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKey, w.Key)
	}
	if dir != want {
		return Envelope{}, fmt.Errorf("%w: %s is %s", ErrWrongDirection, w.Key, dir)
	}

	p, err := decodePayload(w.Key, w.Value)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %s: %v", ErrInvalidValue, w.Key, err)
	}
	return Envelope{Payload: p}, nil
}

// UnmarshalJSON decodes an envelope in either direction.
func (e *Envelope) UnmarshalJSON(raw []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	dir, ok := w.Key.Direction()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, w.Key)
	}
	decoded, err := DecodeEnvelope(raw, dir)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

func decodePayload(key Key, value json.RawMessage) (Payload, error) {
	switch key {
	case KeyScrapedQuestion:
		return decodeScrapedQuestion(value)
	case KeyFeedback:
		var f Feedback
		if err := json.Unmarshal(value, &f); err != nil {
			return nil, err
		}
		if err := f.Validate(); err != nil {
			return nil, err
		}
		return f, nil
	case KeyCheckAccess:
		return CheckAccess{}, nil
	case KeyChatGPTOutput:
		var o Output
		if err := json.Unmarshal(value, &o); err != nil {
			return nil, err
		}
		return o, nil
	case KeyError:
		var msg string
		if err := json.Unmarshal(value, &msg); err != nil {
			return nil, err
		}
		return ErrorMessage{Message: msg}, nil
	case KeyAccessConfirmed:
		return AccessConfirmed{}, nil
	}
	return nil, ErrUnknownKey
}

// decodeScrapedQuestion accepts either a bare string or the
// {"questionText", "questionId"} object sent by the content script.
func decodeScrapedQuestion(value json.RawMessage) (Payload, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return nil, errors.New("missing question")
	}

	var q ScrapedQuestion
	if value[0] == '"' {
		if err := json.Unmarshal(value, &q.Text); err != nil {
			return nil, err
		}
	} else {
		var obj scrapedQuestionObject
		if err := json.Unmarshal(value, &obj); err != nil {
			return nil, err
		}
		q.Text = obj.QuestionText
		q.QuestionID = obj.QuestionID
	}

	if q.Text == "" {
		return nil, errors.New("empty question")
	}
	return q, nil
}

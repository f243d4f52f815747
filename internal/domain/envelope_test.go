package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope_ScrapedQuestionString(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"key":"SCRAPED_QUESTION","value":"How do I exit vim?"}`), Inbound)
	require.NoError(t, err)

	q, ok := env.Payload.(ScrapedQuestion)
	require.True(t, ok, "expected ScrapedQuestion, got %T", env.Payload)
	assert.Equal(t, "How do I exit vim?", q.Text)
	assert.Empty(t, q.QuestionID)
}

func TestDecodeEnvelope_ScrapedQuestionObject(t *testing.T) {
	raw := `{"key":"SCRAPED_QUESTION","value":{"questionText":"What is a goroutine?","questionId":"11462"}}`
	env, err := DecodeEnvelope([]byte(raw), Inbound)
	require.NoError(t, err)

	q := env.Payload.(ScrapedQuestion)
	assert.Equal(t, "What is a goroutine?", q.Text)
	assert.Equal(t, "11462", q.QuestionID)
}

func TestDecodeEnvelope_RejectsEmptyQuestion(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"key":"SCRAPED_QUESTION","value":""}`), Inbound)
	require.ErrorIs(t, err, ErrInvalidValue)

	_, err = DecodeEnvelope([]byte(`{"key":"SCRAPED_QUESTION"}`), Inbound)
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestDecodeEnvelope_Feedback(t *testing.T) {
	raw := `{"key":"FEEDBACK","value":{"messageId":"m1","conversationId":"c1","questionId":"q1","rating":"thumbsDown"}}`
	env, err := DecodeEnvelope([]byte(raw), Inbound)
	require.NoError(t, err)

	f := env.Payload.(Feedback)
	assert.Equal(t, Feedback{MessageID: "m1", ConversationID: "c1", QuestionID: "q1", Rating: RatingThumbsDown}, f)
}

func TestDecodeEnvelope_FeedbackBadRating(t *testing.T) {
	raw := `{"key":"FEEDBACK","value":{"messageId":"m1","conversationId":"c1","rating":"meh"}}`
	_, err := DecodeEnvelope([]byte(raw), Inbound)
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestDecodeEnvelope_Direction(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"key":"CHATGPT_OUTPUT","value":{"text":"hi"}}`), Inbound)
	require.ErrorIs(t, err, ErrWrongDirection)

	_, err = DecodeEnvelope([]byte(`{"key":"CHECK_ACCESS"}`), Outbound)
	require.ErrorIs(t, err, ErrWrongDirection)
}

func TestDecodeEnvelope_UnknownKey(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"key":"HELLO","value":1}`), Inbound)
	require.ErrorIs(t, err, ErrUnknownKey)

	_, err = DecodeEnvelope([]byte(`not json`), Inbound)
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestEnvelope_MarshalOutbound(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want string
	}{
		{
			name: "output",
			env:  Wrap(Output{Text: "Hello", MessageID: "m1", ConversationID: "c1"}),
			want: `{"key":"CHATGPT_OUTPUT","value":{"text":"Hello","messageId":"m1","conversationId":"c1"}}`,
		},
		{
			name: "error",
			env:  Wrap(ErrorMessage{Message: "<p>nope</p>"}),
			want: `{"key":"ERROR","value":"<p>nope</p>"}`,
		},
		{
			name: "access confirmed",
			env:  Wrap(AccessConfirmed{}),
			want: `{"key":"ACCESS_CONFIRMED","value":true}`,
		},
		{
			name: "check access",
			env:  Wrap(CheckAccess{}),
			want: `{"key":"CHECK_ACCESS"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.env)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestEnvelope_UnmarshalEitherDirection(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"key":"ERROR","value":"boom"}`), &env))
	assert.Equal(t, KeyError, env.Key())
	assert.Equal(t, "boom", env.Payload.(ErrorMessage).Message)

	require.NoError(t, json.Unmarshal([]byte(`{"key":"SCRAPED_QUESTION","value":"q"}`), &env))
	assert.Equal(t, KeyScrapedQuestion, env.Key())
}

func TestEnvelope_MarshalEmpty(t *testing.T) {
	_, err := json.Marshal(Envelope{})
	require.Error(t, err)
}

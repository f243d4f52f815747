package domain

import (
	"fmt"
	"time"
)

// Rating is a thumbs-up/down verdict on an answer.
type Rating string

const (
	RatingThumbsUp   Rating = "thumbsUp"
	RatingThumbsDown Rating = "thumbsDown"
)

// Valid reports whether r is one of the known ratings.
func (r Rating) Valid() bool {
	return r == RatingThumbsUp || r == RatingThumbsDown
}

// Feedback is the user's rating of a streamed answer.
type Feedback struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	QuestionID     string    `json:"questionId,omitempty"`
	Rating         Rating    `json:"rating"`
	ClientID       string    `json:"-"`
	SubmittedAt    time.Time `json:"-"`
}

// Validate checks the fields the feedback endpoint requires.
func (f Feedback) Validate() error {
	if f.MessageID == "" {
		return fmt.Errorf("feedback missing messageId")
	}
	if f.ConversationID == "" {
		return fmt.Errorf("feedback missing conversationId")
	}
	if !f.Rating.Valid() {
		return fmt.Errorf("feedback rating %q is not thumbsUp or thumbsDown", f.Rating)
	}
	return nil
}

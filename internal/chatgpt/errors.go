package chatgpt

import (
	"errors"
	"fmt"
	"html"

	"github.com/ashureev/overflowgpt/internal/sse"
)

const (
	loginURL = "https://chat.openai.com"

	unauthorizedMessage = `<p>Please login and pass Cloudflare check at <a href="` + loginURL + `" target="_blank">chat.openai.com</a></p>`
	challengeMessage    = `<p>Please pass the Cloudflare check at <a href="` + loginURL + `" target="_blank">chat.openai.com</a></p>`
)

// DisplayMessage renders err as the rich-text string the page shows as is.
func DisplayMessage(err error) string {
	if err == nil {
		return ""
	}

	var upstream *sse.UpstreamError
	switch {
	case errors.Is(err, ErrChallengeRequired):
		return challengeMessage
	case errors.Is(err, ErrUnauthorized):
		return unauthorizedMessage
	case errors.As(err, &upstream):
		return redParagraph(upstream.Message)
	default:
		return redParagraph(err.Error())
	}
}

func redParagraph(text string) string {
	return fmt.Sprintf(`<p style="color: red">%s</p>`, html.EscapeString(text))
}

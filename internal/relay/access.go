package relay

import (
	"context"

	"github.com/ashureev/overflowgpt/internal/chatgpt"
	"github.com/ashureev/overflowgpt/internal/domain"
)

// Credentials is the credential half of the remote API client.
type Credentials interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate()
}

// CheckAccess answers a CHECK_ACCESS probe with ACCESS_CONFIRMED, or with an
// ERROR after invalidating the cached credential.
func CheckAccess(ctx context.Context, creds Credentials) domain.Envelope {
	if _, err := creds.AccessToken(ctx); err != nil {
		creds.Invalidate()
		reportedErrorsTotal.Inc()
		return domain.Wrap(domain.ErrorMessage{Message: chatgpt.DisplayMessage(err)})
	}
	return domain.Wrap(domain.AccessConfirmed{})
}

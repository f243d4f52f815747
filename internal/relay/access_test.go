package relay

import (
	"context"
	"testing"

	"github.com/ashureev/overflowgpt/internal/chatgpt"
	"github.com/ashureev/overflowgpt/internal/domain"
	"github.com/stretchr/testify/assert"
)

type fakeCredentials struct {
	err         error
	invalidated int
}

func (f *fakeCredentials) AccessToken(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "abc", nil
}

func (f *fakeCredentials) Invalidate() { f.invalidated++ }

func TestCheckAccess(t *testing.T) {
	ok := &fakeCredentials{}
	assert.Equal(t, domain.Wrap(domain.AccessConfirmed{}), CheckAccess(context.Background(), ok))
	assert.Zero(t, ok.invalidated)

	denied := &fakeCredentials{err: chatgpt.ErrUnauthorized}
	env := CheckAccess(context.Background(), denied)
	assert.Equal(t, domain.KeyError, env.Key())
	assert.Contains(t, env.Payload.(domain.ErrorMessage).Message, "Please login")
	assert.Equal(t, 1, denied.invalidated)
}

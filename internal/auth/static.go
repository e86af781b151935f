package auth

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidToken = errors.New("invalid access token")
	ErrUnsupported  = errors.New("account operations unavailable")
)

// StaticVerifier resolves a fixed token table. It backs local play and
// tests when no Supabase project is configured.
type StaticVerifier struct {
	tokens map[string]string
}

func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	cp := make(map[string]string, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &StaticVerifier{tokens: cp}
}

func (v *StaticVerifier) Authenticate(_ context.Context, accessToken string) (Principal, error) {
	userID, ok := v.tokens[accessToken]
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	return Principal{UserID: userID}, nil
}

func (v *StaticVerifier) SignUp(context.Context, string, string) (Session, error) {
	return Session{}, fmt.Errorf("%w: static tokens only", ErrUnsupported)
}

func (v *StaticVerifier) Login(context.Context, string, string) (Session, error) {
	return Session{}, fmt.Errorf("%w: static tokens only", ErrUnsupported)
}

package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

type contextKey int

const (
	sessionKey contextKey = iota
	signerKey
	senderKey
)

// WithSession marks the context as authenticated as a local account.
func WithSession(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, sessionKey, username)
}

// SessionUsername is the authenticated local account, if there is one.
func SessionUsername(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(sessionKey).(string)
	return name, ok && name != ""
}

// withSigner picks the local account whose key signs outgoing fetches.
// It isn't an authentication, only a choice of key.
func withSigner(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, signerKey, username)
}

func signerUsername(ctx context.Context) (string, bool) {
	if name, ok := ctx.Value(signerKey).(string); ok && name != "" {
		return name, true
	}
	return SessionUsername(ctx)
}

// withVerifiedSender records who signed the request an activity came in on
func withVerifiedSender(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, senderKey, actorID)
}

func verifiedSender(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(senderKey).(string)
	return id, ok && id != ""
}

// bearerToken pulls the token out of an Authorization: Bearer header
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}

// authenticate checks the request's bearer token against a local account's token
// and returns a context carrying that account's session.
func (f *Federation) authenticate(r *http.Request, username string) (context.Context, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, fmt.Errorf("%w: no bearer token", ErrAuthentication)
	}
	account, err := f.accounts.FindAccount(r.Context(), username)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Token == "" ||
		subtle.ConstantTimeCompare([]byte(account.Token), []byte(token)) != 1 {
		return nil, fmt.Errorf("%w: bad token for %s", ErrAuthentication, username)
	}
	return WithSession(r.Context(), username), nil
}

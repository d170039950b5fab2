// Package auth fetches the bearer credentials the ConnectionManager attaches
// to each connection attempt (spec.md §1 "Authentication token acquisition",
// an out-of-scope collaborator whose interface the core depends on).
package auth

import (
	"context"
	"fmt"

	"github.com/sttcore/session/pkg/transport"
)

// Authenticator resolves credentials for a connection id. FetchOnExpiry is
// called when the service has rejected a connection attempt with 403 and
// must produce a fresh token (§4.1 step 6, single re-auth attempt).
type Authenticator interface {
	Fetch(ctx context.Context, connectionID string) (transport.AuthInfo, error)
	FetchOnExpiry(ctx context.Context, connectionID string) (transport.AuthInfo, error)
}

// StaticAuthenticator always returns the same token, mirroring the
// teacher's os.Getenv-sourced API keys (internal/audio/stt/stt.go,
// internal/audio/tts/tts.go) but without the panic-on-missing-key style —
// missing credentials are reported as an error, not a crash, since auth
// failure is a routine, recoverable condition in this protocol (§4.1).
type StaticAuthenticator struct {
	Token string
}

// NewStaticAuthenticator returns an Authenticator backed by a fixed token,
// typically loaded from the environment by cmd/sessiondemo via godotenv.
func NewStaticAuthenticator(token string) (*StaticAuthenticator, error) {
	if token == "" {
		return nil, fmt.Errorf("auth: token must not be empty")
	}
	return &StaticAuthenticator{Token: token}, nil
}

func (a *StaticAuthenticator) Fetch(ctx context.Context, connectionID string) (transport.AuthInfo, error) {
	return transport.AuthInfo{Token: a.Token}, nil
}

// FetchOnExpiry re-resolves the token after a 403. A static authenticator
// has nothing to refresh; callers that need real rotation (e.g. an STS
// call) supply their own Authenticator implementation.
func (a *StaticAuthenticator) FetchOnExpiry(ctx context.Context, connectionID string) (transport.AuthInfo, error) {
	return a.Fetch(ctx, connectionID)
}

package admin

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/llmrelay/llm-relay/internal/store"
)

// ErrUnauthorized is returned for missing or mismatched credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator validates the Authorization header of admin requests.
type Authenticator interface {
	Authenticate(ctx context.Context, authorizationHeader string) error
}

// BearerAuth checks "Authorization: Bearer <token>" against the admin
// credential. A credential stored through the admin API takes
// precedence over the static one from the environment. Either form may
// be a bcrypt hash of the token, so operators can keep the plaintext
// out of their configuration.
type BearerAuth struct {
	store  store.Store
	static string
}

// NewBearerAuth builds an authenticator around the store and the
// static fallback credential.
func NewBearerAuth(s store.Store, static string) *BearerAuth {
	return &BearerAuth{store: s, static: static}
}

func (a *BearerAuth) Authenticate(ctx context.Context, authorizationHeader string) error {
	token, ok := strings.CutPrefix(authorizationHeader, "Bearer ")
	if !ok || token == "" {
		return ErrUnauthorized
	}

	credential := a.static
	// A store read failure falls back to the static credential rather
	// than locking operators out.
	if record, err := a.store.GetConfig(ctx); err == nil {
		if stored, ok := record.Credential(); ok {
			credential = stored
		}
	}
	if credential == "" {
		return ErrUnauthorized
	}

	if isBcryptHash(credential) {
		if bcrypt.CompareHashAndPassword([]byte(credential), []byte(token)) != nil {
			return ErrUnauthorized
		}
		return nil
	}

	// Hash both sides so the comparison is constant time regardless of
	// token length.
	want := sha256.Sum256([]byte(credential))
	got := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// AllowAll accepts every request. Intended for local development only;
// config refuses to combine it with a production environment.
type AllowAll struct{}

func (AllowAll) Authenticate(context.Context, string) error { return nil }

// Package identity tracks the signed-in user. The identity provider hands the
// client an opaque JWT-style credential; only its payload segment is decoded
// here, signature verification having already happened out-of-band during the
// provider's sign-in flow.
package identity

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrMalformedCredential reports a credential that could not be decoded into
// an identity. A sign-in attempt that hits it simply fails; nothing is retried.
var ErrMalformedCredential = errors.New("identity: malformed credential")

// Identity is the authenticated user, held in memory only while signed in.
// It is replaced wholesale on sign-in and dropped on sign-out, never mutated.
type Identity struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// DecodeCredential extracts an Identity from the payload segment of a
// header.payload.signature credential.
func DecodeCredential(credential string) (Identity, error) {
	parts := strings.Split(strings.TrimSpace(credential), ".")
	if len(parts) != 3 {
		return Identity{}, errors.Wrap(ErrMalformedCredential, "expected three dot-separated segments")
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return Identity{}, errors.Wrapf(ErrMalformedCredential, "payload segment: %v", err)
	}
	var ident Identity
	if err := json.Unmarshal(payload, &ident); err != nil {
		return Identity{}, errors.Wrapf(ErrMalformedCredential, "payload claims: %v", err)
	}
	if ident.Email == "" {
		return Identity{}, errors.Wrap(ErrMalformedCredential, "claims carry no email")
	}
	return ident, nil
}

// Binding holds the current identity and the signed-in flag. It gates every
// other component: sign-in and sign-out transitions are driven through it.
type Binding struct {
	mu    sync.RWMutex
	ident *Identity
}

func NewBinding() *Binding {
	return &Binding{}
}

// SignIn decodes the credential and flips the binding to signed-in. On decode
// failure the binding is left untouched.
func (b *Binding) SignIn(credential string) (Identity, error) {
	ident, err := DecodeCredential(credential)
	if err != nil {
		return Identity{}, err
	}
	b.mu.Lock()
	b.ident = &ident
	b.mu.Unlock()
	log.Info().Str("component", "identity").Str("email", ident.Email).Msg("signed in")
	return ident, nil
}

// SignOut clears the identity unconditionally; it needs no network call and
// cannot fail.
func (b *Binding) SignOut() {
	b.mu.Lock()
	had := b.ident != nil
	b.ident = nil
	b.mu.Unlock()
	if had {
		log.Info().Str("component", "identity").Msg("signed out")
	}
}

// Current returns the identity and whether anyone is signed in.
func (b *Binding) Current() (Identity, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.ident == nil {
		return Identity{}, false
	}
	return *b.ident, true
}

// SignedIn reports the signed-in flag.
func (b *Binding) SignedIn() bool {
	_, ok := b.Current()
	return ok
}

package auth

import (
	"net/http"
	"strings"
)

// CredentialKind identifies which of the three admissible credential
// kinds satisfied the gate.
type CredentialKind string

const (
	CredentialNone   CredentialKind = ""
	CredentialBasic  CredentialKind = "basic"
	CredentialBearer CredentialKind = "bearer"
	CredentialAPIKey CredentialKind = "api-key"
)

// Outcome carries the result of a gate check for the caller to log or
// feed into the admin rate limiter.
type Outcome struct {
	Allowed bool
	Kind    CredentialKind
	Subject string
}

// Gate is the unified admin/audit-plane credential check: any one of a
// shared-secret basic-auth header, a bearer session token, or an opaque
// API key is sufficient. All three are checked before failing so a
// caller presenting the wrong header name for their credential kind
// isn't rejected outright.
type Gate struct {
	Secret SharedSecret
	Tokens *TokenIssuer
	Keys   *KeyStore
}

// NewGate wires the three credential checkers into a single gate.
func NewGate(secret SharedSecret, tokens *TokenIssuer, keys *KeyStore) *Gate {
	return &Gate{Secret: secret, Tokens: tokens, Keys: keys}
}

// Check inspects r's Authorization and X-Api-Key headers and returns whether any
// admissible credential kind was satisfied. It never returns a
// descriptive error to the caller: every failure path collapses to
// Outcome{Allowed: false}, so the HTTP layer can respond with a
// generic 401 regardless of which credential kind was attempted.
func (g *Gate) Check(r *http.Request) Outcome {
	header := r.Header.Get("Authorization")

	if user, pass, ok := r.BasicAuth(); ok {
		if g.Secret.Verify(user, pass) {
			return Outcome{Allowed: true, Kind: CredentialBasic, Subject: user}
		}
	}

	if token, ok := bearerToken(header); ok {
		if g.Tokens != nil {
			if claims, err := g.Tokens.Verify(token, TokenAccess); err == nil {
				return Outcome{Allowed: true, Kind: CredentialBearer, Subject: claims.Subject}
			}
		}
		// A bearer-shaped header that fails token verification is also
		// tried as an opaque API key, since both ride the same header.
		if g.Keys != nil {
			if rec, ok := g.Keys.Validate(token); ok {
				return Outcome{Allowed: true, Kind: CredentialAPIKey, Subject: rec.KeyID}
			}
		}
	}

	if apiKey := r.Header.Get("X-Api-Key"); apiKey != "" && g.Keys != nil {
		if rec, ok := g.Keys.Validate(apiKey); ok {
			return Outcome{Allowed: true, Kind: CredentialAPIKey, Subject: rec.KeyID}
		}
	}

	return Outcome{Allowed: false}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

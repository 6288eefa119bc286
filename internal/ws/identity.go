package ws

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrTokensDisabled  = errors.New("tokens_disabled")
)

// Identity resolves the participant behind a websocket handshake. With a
// secret configured it requires an HS256 token whose subject is the
// participant id. Without one it trusts the participant_id query parameter,
// which is only suitable for local development.
type Identity struct {
	secret []byte
	now    func() time.Time
}

func NewIdentity(secret string) *Identity {
	return &Identity{secret: []byte(secret), now: time.Now}
}

// Required reports whether handshakes must carry a token.
func (i *Identity) Required() bool {
	return i != nil && len(i.secret) > 0
}

func (i *Identity) Authenticate(r *http.Request) (string, error) {
	if !i.Required() {
		pid := strings.TrimSpace(r.URL.Query().Get("participant_id"))
		if pid == "" {
			return "", ErrUnauthenticated
		}
		return pid, nil
	}
	raw := bearerToken(r)
	if raw == "" {
		return "", ErrUnauthenticated
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return "", ErrUnauthenticated
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrUnauthenticated
	}
	return claims.Subject, nil
}

// Mint issues a token for participantID.
func (i *Identity) Mint(participantID string, ttl time.Duration) (string, error) {
	if !i.Required() {
		return "", ErrTokensDisabled
	}
	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:   participantID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

package push

import (
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// Authenticator resolves the user behind an Authorization header value.
type Authenticator interface {
	UserIDFromAuthHeader(header string) (string, error)
}

// Auth validates bearer JWTs issued by the identity provider.
type Auth struct {
	keys     jwt.Keyfunc
	methods  []string
	audience string
	issuer   string
	now      func() time.Time
}

// NewAuth validates RS256 tokens against the provider's JWKS.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{keys: jwks.Keyfunc, methods: []string{"RS256"}, audience: audience, issuer: issuer, now: time.Now}
}

// NewTestAuth validates HS256 tokens signed with secret. Audience and issuer
// are checked only when set.
func NewTestAuth(secret []byte, audience, issuer string) *Auth {
	keys := func(*jwt.Token) (interface{}, error) { return secret, nil }
	return &Auth{keys: keys, methods: []string{"HS256"}, audience: audience, issuer: issuer, now: time.Now}
}

func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errors.New("missing authorization header")
	}
	scheme, tokenStr, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.Count(tokenStr, ".") != 2 {
		return "", errors.New("bad auth header")
	}

	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods(a.methods))
	if _, err := parser.ParseWithClaims(tokenStr, claims, a.keys); err != nil {
		return "", err
	}
	if !claims.VerifyExpiresAt(a.now(), true) {
		return "", errors.New("token expired")
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, true) {
		return "", errors.New("invalid audience")
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return "", errors.New("invalid issuer")
	}
	if claims.Subject == "" {
		return "", errors.New("missing sub")
	}
	return claims.Subject, nil
}

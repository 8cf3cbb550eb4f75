package gateway

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
)

// AuthProvider supplies the Authorization header value. The gateway treats it as opaque.
type AuthProvider interface {
	EndpointAuthentication() (string, error)
}

// StaticAuth sends a fixed credential.
type StaticAuth string

func (a StaticAuth) EndpointAuthentication() (string, error) {
	return string(a), nil
}

// AuthFunc adapts a function to AuthProvider.
type AuthFunc func() (string, error)

func (f AuthFunc) EndpointAuthentication() (string, error) {
	return f()
}

// DefaultTokenTTL is the lifetime of tokens minted by JWTAuth.
const DefaultTokenTTL = 2 * time.Minute

// JWTAuth mints a short-lived HS256 bearer token for every request.
type JWTAuth struct {
	ClientID string
	Secret   []byte
	Audience string
	TTL      time.Duration

	now func() time.Time
}

// NewJWTAuth returns a JWTAuth for the given client credentials.
func NewJWTAuth(clientID string, secret []byte, audience string) (*JWTAuth, error) {
	if clientID == "" || len(secret) == 0 {
		return nil, apperr.New(apperr.KindConfiguration, "gateway.missing_client_credentials")
	}
	return &JWTAuth{ClientID: clientID, Secret: secret, Audience: audience, TTL: DefaultTokenTTL}, nil
}

func (a *JWTAuth) EndpointAuthentication() (string, error) {
	now := time.Now()
	if a.now != nil {
		now = a.now()
	}
	ttl := a.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	claims := jwt.RegisteredClaims{
		Issuer:    a.ClientID,
		Subject:   a.ClientID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	if a.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindInternal, "gateway.sign_token")
	}
	return "Bearer " + signed, nil
}

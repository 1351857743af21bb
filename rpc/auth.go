package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"deedescrow/crypto"
)

const defaultClockSkew = 2 * time.Minute

// AuthConfig configures bearer-token verification. Tokens are HS256 JWTs whose
// subject is the caller's bech32 address.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

// Authenticator resolves the caller identity of a request.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	skew     time.Duration
}

func NewAuthenticator(cfg AuthConfig) *Authenticator {
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = defaultClockSkew
	}
	return &Authenticator{
		secret:   []byte(strings.TrimSpace(cfg.HMACSecret)),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		skew:     skew,
	}
}

// Identity returns the address named by the request's bearer token.
func (a *Authenticator) Identity(r *http.Request) (crypto.Address, *RPCError) {
	if a == nil || len(a.secret) == 0 {
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "RPC authentication not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	subject, err := a.verify(token)
	if err != nil {
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "invalid bearer token", Data: err.Error()}
	}
	addr, err := crypto.DecodeAddress(subject)
	if err != nil {
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "token subject is not an address", Data: err.Error()}
	}
	return addr, nil
}

func (a *Authenticator) verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.skew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token invalid")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", errors.New("subject claim required")
	}
	return subject, nil
}

// IssueToken signs a bearer token for subject valid for ttl.
func IssueToken(secret string, subject crypto.Address, issuer, audience string, ttl time.Duration) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", errors.New("rpc: signing secret required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("rpc: token ttl must be positive")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if issuer = strings.TrimSpace(issuer); issuer != "" {
		claims.Issuer = issuer
	}
	if audience = strings.TrimSpace(audience); audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

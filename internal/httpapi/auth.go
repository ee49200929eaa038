package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token settings for stream subscribers
const (
	TokenIssuer     = "flowworker"
	ScopeEventsRead = "events:read"
)

var errMissingToken = errors.New("missing bearer token")

// StreamClaims are the claims of a stream access token
type StreamClaims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// TokenVerifier checks HS256 tokens issued for the event stream
type TokenVerifier struct {
	signingKey []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{signingKey: []byte(secret)}
}

// Issue signs a stream token for subject, valid for ttl
func (v *TokenVerifier) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := StreamClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    TokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: []string{ScopeEventsRead},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.signingKey)
}

// Verify parses the token and checks issuer and scope
func (v *TokenVerifier) Verify(tokenString string) (*StreamClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &StreamClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.signingKey, nil
	}, jwt.WithIssuer(TokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*StreamClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if !slices.Contains(claims.Scopes, ScopeEventsRead) {
		return nil, fmt.Errorf("token lacks scope %s", ScopeEventsRead)
	}
	return claims, nil
}

// bearer reads the token from the Authorization header or, for browser
// EventSource and WebSocket clients, the token query parameter.
func bearer(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok && t != "" {
			return t, nil
		}
		return "", errMissingToken
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, nil
	}
	return "", errMissingToken
}

// Require rejects requests without a valid stream token
func (v *TokenVerifier) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := bearer(r)
		if err == nil {
			_, err = v.Verify(token)
		}
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="flowworker"`)
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

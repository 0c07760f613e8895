// Package auth validates and issues the HS256 bearer tokens clients present.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classroomhub/pkg/interfaces"
	"classroomhub/pkg/types"
)

// tokenClaims is the JWT payload: the identity fields at the top level
// alongside the registered claims.
type tokenClaims struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator implements interfaces.TokenValidator for HS256 tokens.
type JWTValidator struct {
	secret []byte
	parser *jwt.Parser
}

var _ interfaces.TokenValidator = (*JWTValidator)(nil)

// NewValidator creates a validator. When issuer is non-empty the iss claim must match.
func NewValidator(secret, issuer string) (*JWTValidator, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTValidator{secret: []byte(secret), parser: jwt.NewParser(opts...)}, nil
}

// Validate parses token. Any signature, expiry or format problem reports
// valid=false with a nil error.
func (v *JWTValidator) Validate(ctx context.Context, token string) (*types.Claims, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if token == "" {
		return nil, false, nil
	}

	var claims tokenClaims
	parsed, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, false, nil
	}
	if claims.ID == "" || !types.IsValidUserID(claims.ID) {
		return nil, false, nil
	}

	return &types.Claims{
		ID:        claims.ID,
		Email:     claims.Email,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
	}, true, nil
}

// Issuer signs tokens with the shared secret.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer whose tokens expire after ttl.
func NewIssuer(secret, issuer string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for claims.
func (i *Issuer) Issue(claims types.Claims) (string, error) {
	if claims.ID == "" {
		return "", ErrMissingUserID
	}
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		ID:        claims.ID,
		Email:     claims.Email,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   claims.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest extracts the token from the Authorization bearer header,
// falling back to the "token" query parameter used by browser WebSocket clients.
func TokenFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

// Authenticate resolves the request's claims through validator.
// It returns ErrMissingToken, or types.ErrInternal wrapped around a collaborator failure.
func Authenticate(r *http.Request, validator interfaces.TokenValidator) (*types.Claims, bool, error) {
	token, err := TokenFromRequest(r)
	if err != nil {
		return nil, false, err
	}
	claims, ok, err := validator.Validate(r.Context(), token)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: token validation: %w", types.ErrInternal, err)
	}
	return claims, ok, nil
}

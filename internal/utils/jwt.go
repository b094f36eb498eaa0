package utils // package utils provides helper functions for token creation and hashing

import (
	"errors"  // sentinel error for every verification failure
	"strconv" // numeric subject claim
	"strings" // trimming raw token strings
	"time"    // expirations and the injectable clock

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
	"github.com/google/uuid"       // unique token identifiers (jti)

	"github.com/iliyamo/facility-membership/internal/model"
)

// TokenKind distinguishes access tokens from refresh tokens.  The kind is
// embedded in every token under the "typ" claim.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

const (
	// DefaultAccessTTL is the lifetime of access tokens.
	DefaultAccessTTL = 15 * time.Minute
	// DefaultRefreshTTL is the lifetime of refresh tokens.
	DefaultRefreshTTL = 7 * 24 * time.Hour

	tokenIssuer = "facility-membership"
)

// ErrInvalidToken is the only error Verify ever returns.  Malformed,
// expired, tampered and wrong-kind tokens are indistinguishable to callers.
var ErrInvalidToken = errors.New("invalid token")

// Subject is the identity a token is minted for.
type Subject struct {
	UserID uint64
	Email  string
	Role   model.Role
}

// Claims is the JWT payload.  UserID mirrors the registered "sub" claim in
// numeric form so handlers never parse strings.
type Claims struct {
	UserID uint64     `json:"uid"`
	Email  string     `json:"email"`
	Role   model.Role `json:"role"`
	Kind   TokenKind  `json:"typ,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the subject the claims were minted for.
func (c *Claims) Identity() Subject {
	return Subject{UserID: c.UserID, Email: c.Email, Role: c.Role}
}

// TokenPair holds a freshly minted access/refresh pair and their expiries.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// TokenIssuer signs and verifies HS256 tokens with a process-wide secret.
// It keeps no state about issued tokens: validity is a function of the
// signature, the expiry and the declared kind only.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer builds an issuer.  Non-positive TTLs fall back to the
// 15 minute / 7 day defaults.
func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// WithClock replaces the issuer's time source.  Intended for tests that
// need to move past an expiry without sleeping.
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	t.now = now
	return t
}

// TTL returns the configured lifetime for kind.
func (t *TokenIssuer) TTL(kind TokenKind) time.Duration {
	if kind == KindRefresh {
		return t.refreshTTL
	}
	return t.accessTTL
}

// Issue signs a token of the given kind for s and returns it together
// with its expiry.
func (t *TokenIssuer) Issue(s Subject, kind TokenKind) (string, time.Time, error) {
	if kind != KindAccess && kind != KindRefresh {
		return "", time.Time{}, errors.New("unknown token kind")
	}
	if s.UserID == 0 || !s.Role.Valid() {
		return "", time.Time{}, errors.New("token subject requires a user id and a valid role")
	}
	now := t.now().UTC()
	exp := now.Add(t.TTL(kind))
	claims := Claims{
		UserID: s.UserID,
		Email:  s.Email,
		Role:   s.Role,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatUint(s.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssuePair mints an access token and a refresh token for s.
func (t *TokenIssuer) IssuePair(s Subject) (TokenPair, error) {
	access, accessExp, err := t.Issue(s, KindAccess)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := t.Issue(s, KindRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify checks the signature, algorithm, issuer and expiry of raw.  A
// token that declares a kind other than expected is rejected as well.
func (t *TokenIssuer) Verify(raw string, expected TokenKind) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(tk *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if claims.Kind != "" && claims.Kind != expected {
		return nil, ErrInvalidToken
	}
	if claims.UserID == 0 || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

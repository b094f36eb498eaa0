// Package session carries the access/refresh token pair in cookies and
// rotates the access token from a valid refresh token when it lapses.
// Nothing is stored server side.
package session

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/facility-membership/internal/obs"
	"github.com/iliyamo/facility-membership/internal/utils"
)

const (
	AccessCookie  = "__access"
	RefreshCookie = "__refresh"

	// LoginPath is where unauthenticated requests are sent.
	LoginPath = "/login"
	// HomePath is where authenticated but unauthorised requests are sent.
	HomePath = "/"

	contextKey = "session.claims"
)

// Session is the identity recovered from a request.
type Session struct {
	Claims *utils.Claims
	// RotatedAccess is set when the access cookie was missing or invalid
	// and a new access token was minted from the refresh cookie.
	RotatedAccess string
	RotatedExpiry time.Time
}

// Rotated reports whether a new access token must be sent back.
func (s *Session) Rotated() bool { return s.RotatedAccess != "" }

// Manager issues and reads session cookies.
type Manager struct {
	tokens *utils.TokenIssuer
	secure bool
}

// NewManager returns a Manager.  secure marks cookies Secure and should be
// true in production.
func NewManager(tokens *utils.TokenIssuer, secure bool) *Manager {
	return &Manager{tokens: tokens, secure: secure}
}

// Tokens exposes the issuer used for signing.
func (m *Manager) Tokens() *utils.TokenIssuer { return m.tokens }

func (m *Manager) cookie(name, value string, maxAge int, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// SetAccessCookie writes the access cookie.
func (m *Manager) SetAccessCookie(c echo.Context, token string, expires time.Time) {
	c.SetCookie(m.cookie(AccessCookie, token, int(m.tokens.TTL(utils.KindAccess).Seconds()), expires))
}

func (m *Manager) setRefreshCookie(c echo.Context, token string, expires time.Time) {
	c.SetCookie(m.cookie(RefreshCookie, token, int(m.tokens.TTL(utils.KindRefresh).Seconds()), expires))
}

// Establish sets both cookies and redirects to target with 303.
func (m *Manager) Establish(c echo.Context, pair utils.TokenPair, target string) error {
	if target == "" {
		target = HomePath
	}
	m.SetAccessCookie(c, pair.AccessToken, pair.AccessExpiresAt)
	m.setRefreshCookie(c, pair.RefreshToken, pair.RefreshExpiresAt)
	return c.Redirect(http.StatusSeeOther, target)
}

// Read recovers the session from r.  A valid access cookie wins; failing
// that a valid refresh cookie yields its claims plus a fresh access token.
// The refresh token itself is never re-issued.
func (m *Manager) Read(r *http.Request) (*Session, bool) {
	if ck, err := r.Cookie(AccessCookie); err == nil {
		if claims, err := m.tokens.Verify(ck.Value, utils.KindAccess); err == nil {
			return &Session{Claims: claims}, true
		}
	}
	ck, err := r.Cookie(RefreshCookie)
	if err != nil {
		return nil, false
	}
	claims, err := m.tokens.Verify(ck.Value, utils.KindRefresh)
	if err != nil {
		return nil, false
	}
	access, exp, err := m.tokens.Issue(claims.Identity(), utils.KindAccess)
	if err != nil {
		return nil, false
	}
	obs.SessionRotations.Inc()
	return &Session{Claims: claims, RotatedAccess: access, RotatedExpiry: exp}, true
}

// Identify returns the claims of a valid access cookie, or else of a valid
// refresh cookie, without minting anything.
func (m *Manager) Identify(r *http.Request) (*utils.Claims, bool) {
	for _, c := range []struct {
		name string
		kind utils.TokenKind
	}{{AccessCookie, utils.KindAccess}, {RefreshCookie, utils.KindRefresh}} {
		ck, err := r.Cookie(c.name)
		if err != nil {
			continue
		}
		if claims, err := m.tokens.Verify(ck.Value, c.kind); err == nil {
			return claims, true
		}
	}
	return nil, false
}

// Terminate clears both cookies and redirects to the login page.
func (m *Manager) Terminate(c echo.Context) error {
	m.Clear(c)
	return c.Redirect(http.StatusSeeOther, LoginPath)
}

// Clear expires both cookies without redirecting.
func (m *Manager) Clear(c echo.Context) {
	c.SetCookie(m.cookie(AccessCookie, "", -1, time.Unix(0, 0)))
	c.SetCookie(m.cookie(RefreshCookie, "", -1, time.Unix(0, 0)))
}

// Store attaches claims to the request context.
func Store(c echo.Context, claims *utils.Claims) { c.Set(contextKey, claims) }

// FromContext returns the claims stored by the authentication middleware.
func FromContext(c echo.Context) (*utils.Claims, bool) {
	claims, ok := c.Get(contextKey).(*utils.Claims)
	return claims, ok && claims != nil
}

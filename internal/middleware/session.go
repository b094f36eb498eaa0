package middleware

import (
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/facility-membership/internal/session"
)

// RequireAuthenticated resolves the session from cookies.  Requests without
// a session are redirected to the login page.  When the access token was
// rotated from the refresh token the new access cookie is written before
// the handler runs.
func RequireAuthenticated(m *session.Manager) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            s, ok := m.Read(c.Request())
            if !ok {
                return c.Redirect(http.StatusSeeOther, session.LoginPath)
            }
            if s.Rotated() {
                m.SetAccessCookie(c, s.RotatedAccess, s.RotatedExpiry)
            }
            session.Store(c, s.Claims)
            return next(c)
        }
    }
}

package middleware // middleware provides shared request processing for handlers

import (
    "net/http" // status codes for redirects

    "github.com/labstack/echo/v4" // echo provides middleware chaining and context

    "github.com/iliyamo/facility-membership/internal/model"
    "github.com/iliyamo/facility-membership/internal/session"
)

// RequireRole returns a middleware that lets through only identities whose
// role satisfies required.  It must run after RequireAuthenticated; an
// identity with another role is sent back to the application root rather
// than shown an error.
func RequireRole(required model.Role) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            claims, ok := session.FromContext(c)
            if !ok {
                // no identity: the route was mounted without RequireAuthenticated
                return c.Redirect(http.StatusSeeOther, session.LoginPath)
            }
            if !claims.Role.Satisfies(required) {
                return c.Redirect(http.StatusSeeOther, session.HomePath)
            }
            return next(c)
        }
    }
}

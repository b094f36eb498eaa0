package middleware

// identity.go derives the client identifier used to key per-client login
// limits.  X-Forwarded-For is honoured only when the direct peer is one of
// the configured trusted proxies; otherwise the socket address is used.

import (
    "net"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/facility-membership/internal/session"
)

// UnknownClient is used when no address can be determined.
const UnknownClient = "unknown"

// NewIPExtractor returns the extractor to install as echo.Echo.IPExtractor.
// With no trusted proxies every request is identified by its peer address.
func NewIPExtractor(trusted []*net.IPNet) echo.IPExtractor {
    if len(trusted) == 0 {
        return echo.ExtractIPDirect()
    }
    opts := []echo.TrustOption{
        echo.TrustLoopback(false),
        echo.TrustLinkLocal(false),
        echo.TrustPrivateNet(false),
    }
    for _, n := range trusted {
        opts = append(opts, echo.TrustIPRange(n))
    }
    return echo.ExtractIPFromXFFHeader(opts...)
}

// ClientIdentifier returns the client address or UnknownClient.
func ClientIdentifier(c echo.Context) string {
    if ip := strings.TrimSpace(c.RealIP()); ip != "" {
        return ip
    }
    return UnknownClient
}

// userID returns the authenticated user id as a string, or "guest".
func userID(c echo.Context) string {
    if claims, ok := session.FromContext(c); ok {
        return claims.Subject
    }
    return "guest"
}

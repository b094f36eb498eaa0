package middleware

import (
    "net"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "go.uber.org/zap/zaptest/observer"

    "github.com/iliyamo/facility-membership/internal/config"
    "github.com/iliyamo/facility-membership/internal/model"
    "github.com/iliyamo/facility-membership/internal/session"
    "github.com/iliyamo/facility-membership/internal/utils"
)

func newManager() *session.Manager {
    return session.NewManager(utils.NewTokenIssuer("mw-secret", 0, 0), false)
}

func protectedServer(m *session.Manager, mws ...echo.MiddlewareFunc) *echo.Echo {
    e := echo.New()
    chain := append([]echo.MiddlewareFunc{RequireAuthenticated(m)}, mws...)
    e.GET("/private", func(c echo.Context) error {
        claims, ok := session.FromContext(c)
        if !ok {
            return c.String(http.StatusInternalServerError, "no claims")
        }
        return c.String(http.StatusOK, claims.Email)
    }, chain...)
    return e
}

func TestRequireAuthenticatedRedirectsAnonymous(t *testing.T) {
    e := protectedServer(newManager())
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/private", nil))

    assert.Equal(t, http.StatusSeeOther, rec.Code)
    assert.Equal(t, "/login", rec.Header().Get(echo.HeaderLocation))
}

func TestRequireAuthenticatedWithAccessCookie(t *testing.T) {
    m := newManager()
    pair, err := m.Tokens().IssuePair(utils.Subject{UserID: 3, Email: "a@pool.test", Role: model.RoleAdmin})
    require.NoError(t, err)

    req := httptest.NewRequest(http.MethodGet, "/private", nil)
    req.AddCookie(&http.Cookie{Name: session.AccessCookie, Value: pair.AccessToken})
    req.AddCookie(&http.Cookie{Name: session.RefreshCookie, Value: pair.RefreshToken})
    rec := httptest.NewRecorder()
    protectedServer(m).ServeHTTP(rec, req)

    assert.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, "a@pool.test", rec.Body.String())
    assert.Empty(t, rec.Header().Values("Set-Cookie"))
}

func TestRequireAuthenticatedPersistsRotation(t *testing.T) {
    m := newManager()
    pair, err := m.Tokens().IssuePair(utils.Subject{UserID: 3, Email: "a@pool.test", Role: model.RoleAdmin})
    require.NoError(t, err)

    req := httptest.NewRequest(http.MethodGet, "/private", nil)
    req.AddCookie(&http.Cookie{Name: session.RefreshCookie, Value: pair.RefreshToken})
    rec := httptest.NewRecorder()
    protectedServer(m).ServeHTTP(rec, req)

    require.Equal(t, http.StatusOK, rec.Code)
    cookies := rec.Result().Cookies()
    require.Len(t, cookies, 1)
    assert.Equal(t, session.AccessCookie, cookies[0].Name)
    assert.Equal(t, 900, cookies[0].MaxAge)
    _, err = m.Tokens().Verify(cookies[0].Value, utils.KindAccess)
    assert.NoError(t, err)
}

func TestRequireRole(t *testing.T) {
    m := newManager()
    e := protectedServer(m, RequireRole(model.RoleAdmin))

    cases := []struct {
        role     model.Role
        status   int
        location string
    }{
        {model.RoleAdmin, http.StatusOK, ""},
        {model.RoleReception, http.StatusSeeOther, "/"},
        {model.RoleInstructor, http.StatusSeeOther, "/"},
    }
    for _, tc := range cases {
        t.Run(string(tc.role), func(t *testing.T) {
            tok, _, err := m.Tokens().Issue(utils.Subject{UserID: 9, Email: "x@pool.test", Role: tc.role}, utils.KindAccess)
            require.NoError(t, err)
            req := httptest.NewRequest(http.MethodGet, "/private", nil)
            req.AddCookie(&http.Cookie{Name: session.AccessCookie, Value: tok})
            rec := httptest.NewRecorder()
            e.ServeHTTP(rec, req)
            assert.Equal(t, tc.status, rec.Code)
            assert.Equal(t, tc.location, rec.Header().Get(echo.HeaderLocation))
        })
    }
}

func TestRequireRoleWithoutSession(t *testing.T) {
    e := echo.New()
    e.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, RequireRole(model.RoleAdmin))
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
    assert.Equal(t, http.StatusSeeOther, rec.Code)
    assert.Equal(t, "/login", rec.Header().Get(echo.HeaderLocation))
}

func clientOf(e *echo.Echo, remote, xff string) string {
    req := httptest.NewRequest(http.MethodGet, "/", nil)
    req.RemoteAddr = remote
    if xff != "" {
        req.Header.Set(echo.HeaderXForwardedFor, xff)
    }
    return ClientIdentifier(e.NewContext(req, httptest.NewRecorder()))
}

func TestClientIdentifierIgnoresUntrustedForwarding(t *testing.T) {
    e := echo.New()
    e.IPExtractor = NewIPExtractor(nil)
    assert.Equal(t, "198.51.100.1", clientOf(e, "198.51.100.1:4321", "1.2.3.4"))
}

func TestClientIdentifierHonoursTrustedProxy(t *testing.T) {
    _, proxies, err := net.ParseCIDR("10.0.0.0/8")
    require.NoError(t, err)
    e := echo.New()
    e.IPExtractor = NewIPExtractor([]*net.IPNet{proxies})

    assert.Equal(t, "203.0.113.9", clientOf(e, "10.1.2.3:5555", "203.0.113.9"))
    assert.Equal(t, "203.0.113.9", clientOf(e, "10.1.2.3:5555", "1.2.3.4, 203.0.113.9"), "only the hop added by the proxy counts")
    assert.Equal(t, "198.51.100.1", clientOf(e, "198.51.100.1:4321", "203.0.113.9"))
}

func TestClientIdentifierUnknown(t *testing.T) {
    e := echo.New()
    e.IPExtractor = NewIPExtractor(nil)
    assert.Equal(t, UnknownClient, clientOf(e, "", ""))
}

func TestLocalTokenBucket(t *testing.T) {
    cfg := config.ThrottleConfig{
        Enabled:        true,
        Capacity:       2,
        RefillTokens:   1,
        RefillInterval: time.Hour,
        TTL:            5 * time.Hour,
        Prefix:         "rl",
    }
    e := echo.New()
    e.IPExtractor = NewIPExtractor(nil)
    e.POST("/login", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, NewTokenBucket(cfg, nil))

    do := func(remote string) *httptest.ResponseRecorder {
        req := httptest.NewRequest(http.MethodPost, "/login", nil)
        req.RemoteAddr = remote
        rec := httptest.NewRecorder()
        e.ServeHTTP(rec, req)
        return rec
    }

    assert.Equal(t, http.StatusNoContent, do("192.0.2.10:1").Code)
    assert.Equal(t, http.StatusNoContent, do("192.0.2.10:2").Code)
    rec := do("192.0.2.10:3")
    assert.Equal(t, http.StatusTooManyRequests, rec.Code)
    assert.NotEmpty(t, rec.Header().Get("Retry-After"))
    assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

    assert.Equal(t, http.StatusNoContent, do("192.0.2.11:1").Code, "buckets are per client")
}

func TestTokenBucketDisabled(t *testing.T) {
    e := echo.New()
    e.POST("/login", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
        NewTokenBucket(config.ThrottleConfig{Enabled: false}, nil))
    for i := 0; i < 5; i++ {
        rec := httptest.NewRecorder()
        e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
        assert.Equal(t, http.StatusNoContent, rec.Code)
    }
}

func TestRequestLogger(t *testing.T) {
    core, logs := observer.New(zapcore.DebugLevel)
    e := echo.New()
    e.Use(RequestLogger(zap.New(core)))
    e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
    e.GET("/boom", func(c echo.Context) error { return echo.NewHTTPError(http.StatusInternalServerError, "boom") })

    e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
    assert.Equal(t, http.StatusInternalServerError, rec.Code)

    entries := logs.All()
    require.Len(t, entries, 2)
    assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
    assert.Equal(t, "/ok", entries[0].ContextMap()["path"])
    assert.Equal(t, int64(http.StatusOK), entries[0].ContextMap()["status"])
    assert.Equal(t, "guest", entries[0].ContextMap()["user"])
    assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestCacheWithoutRedisIsPassThrough(t *testing.T) {
    e := echo.New()
    e.GET("/v1/schedules", func(c echo.Context) error { return c.JSON(http.StatusOK, echo.Map{"ok": true}) },
        NewRedisCache(config.CacheConfig{Enabled: true}, nil))
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/schedules", nil))
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.Empty(t, rec.Header().Get("X-Cache"))
}

func TestCachePayloadCodec(t *testing.T) {
    hdr := http.Header{"Content-Type": {"application/json"}}
    bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"a":1}`))
    require.NoError(t, err)

    status, gotHdr, body, ok := decodePayload(bs)
    require.True(t, ok)
    assert.Equal(t, http.StatusOK, status)
    assert.Equal(t, "application/json", gotHdr.Get("Content-Type"))
    assert.Equal(t, `{"a":1}`, string(body))

    _, _, _, ok = decodePayload(bs[:5])
    assert.False(t, ok)
}

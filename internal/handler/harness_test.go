package handler

import (
    "context"
    "net/http"
    "net/http/httptest"
    "net/url"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/require"
    "golang.org/x/crypto/bcrypt"

    mw "github.com/iliyamo/facility-membership/internal/middleware"
    "github.com/iliyamo/facility-membership/internal/model"
    "github.com/iliyamo/facility-membership/internal/ratelimit"
    "github.com/iliyamo/facility-membership/internal/session"
    "github.com/iliyamo/facility-membership/internal/utils"
)

const (
    adminPassword = "Adm1n!pass"
    deskPassword  = "D3sk!pass"
    clientAddr    = "203.0.113.5:41000"
)

type testClock struct {
    mu sync.Mutex
    t  time.Time
}

func (c *testClock) Now() time.Time {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.t
}

func (c *testClock) Advance(d time.Duration) {
    c.mu.Lock()
    c.t = c.t.Add(d)
    c.mu.Unlock()
}

type harness struct {
    e        *echo.Echo
    clock    *testClock
    users    *fakeUsers
    slots    *fakeSlots
    sink     *fakeSink
    limiter  *ratelimit.MemoryLimiter
    sessions *session.Manager
    purged   int
}

func newHarness(t *testing.T) *harness {
    t.Helper()
    hasher := utils.NewHasher(bcrypt.MinCost)
    adminHash, err := hasher.Hash(adminPassword)
    require.NoError(t, err)
    deskHash, err := hasher.Hash(deskPassword)
    require.NoError(t, err)

    h := &harness{
        clock: &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
        users: newFakeUsers(
            &model.User{ID: 1, Email: "admin@pool.test", PasswordHash: adminHash, DisplayName: "Admin", Role: model.RoleAdmin, IsActive: true},
            &model.User{ID: 2, Email: "desk@pool.test", PasswordHash: deskHash, DisplayName: "Desk", Role: model.RoleReception, IsActive: true},
            &model.User{ID: 3, Email: "gone@pool.test", PasswordHash: deskHash, DisplayName: "Gone", Role: model.RoleInstructor, IsActive: false},
        ),
        slots: &fakeSlots{},
        sink:  &fakeSink{},
    }
    h.limiter = ratelimit.NewMemoryLimiter(ratelimit.DefaultPolicy(), h.clock.Now)
    h.sessions = session.NewManager(utils.NewTokenIssuer("handler-secret", 0, 0).WithClock(h.clock.Now), false)

    audit := &Auditor{Sink: h.sink}
    auth := NewAuthHandler(h.users, hasher, h.sessions, h.limiter, audit, nil)
    sched := NewScheduleHandler(h.slots, audit, nil, func(ctx context.Context) error { h.purged++; return nil })
    admin := NewUserAdminHandler(h.users, hasher, audit, nil)

    e := echo.New()
    e.IPExtractor = mw.NewIPExtractor(nil)
    e.GET("/login", auth.LoginPage)
    e.POST("/login", auth.Login)
    e.POST("/logout", auth.Logout)

    authed := mw.RequireAuthenticated(h.sessions)
    adminOnly := mw.RequireRole(model.RoleAdmin)
    e.GET("/", auth.Home, authed)
    e.GET("/v1/me", auth.Me, authed)
    e.GET("/v1/schedules", sched.List, authed)
    e.POST("/v1/schedules", sched.Create, authed)
    e.DELETE("/v1/schedules/:id", sched.Delete, authed, adminOnly)
    e.GET("/v1/admin/users", admin.List, authed, adminOnly)
    e.POST("/v1/admin/users", admin.Create, authed, adminOnly)
    e.POST("/v1/admin/users/:id/toggle", admin.ToggleActive, authed, adminOnly)

    h.e = e
    return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
    if req.RemoteAddr == "" || req.RemoteAddr == "192.0.2.1:1234" {
        req.RemoteAddr = clientAddr
    }
    rec := httptest.NewRecorder()
    h.e.ServeHTTP(rec, req)
    return rec
}

func (h *harness) login(email, password string) *httptest.ResponseRecorder {
    form := url.Values{"email": {email}, "password": {password}}
    req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
    req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
    return h.do(req)
}

// asUser returns cookies for a fresh session of the given user.
func (h *harness) asUser(t *testing.T, id uint64) []*http.Cookie {
    t.Helper()
    u, ok := h.users.byID[id]
    require.True(t, ok)
    pair, err := h.sessions.Tokens().IssuePair(utils.Subject{UserID: u.ID, Email: u.Email, Role: u.Role})
    require.NoError(t, err)
    return []*http.Cookie{
        {Name: session.AccessCookie, Value: pair.AccessToken},
        {Name: session.RefreshCookie, Value: pair.RefreshToken},
    }
}

func (h *harness) request(method, target, body string, cookies []*http.Cookie) *http.Request {
    req := httptest.NewRequest(method, target, strings.NewReader(body))
    if body != "" {
        req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    }
    for _, c := range cookies {
        req.AddCookie(c)
    }
    return req
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
    for _, c := range rec.Result().Cookies() {
        if c.Name == name {
            return c
        }
    }
    return nil
}

package router // package router defines how HTTP routes are registered for the API

import (
    "database/sql"
    "net"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/facility-membership/internal/config"
    "github.com/iliyamo/facility-membership/internal/handler"
    "github.com/iliyamo/facility-membership/internal/middleware"
    "github.com/iliyamo/facility-membership/internal/model"
    "github.com/iliyamo/facility-membership/internal/obs"
    "github.com/iliyamo/facility-membership/internal/session"
)

// Deps carries everything the routes need.  DB and Redis may be nil in
// tests; the readiness probe and the Redis-backed middlewares degrade
// accordingly.
type Deps struct {
    DB             *sql.DB
    Redis          *redis.Client
    Sessions       *session.Manager
    Auth           *handler.AuthHandler
    Schedules      *handler.ScheduleHandler
    Users          *handler.UserAdminHandler
    Throttle       config.ThrottleConfig
    Cache          config.CacheConfig
    TrustedProxies []*net.IPNet
}

// RegisterRoutes installs the client IP policy and every route.
func RegisterRoutes(e *echo.Echo, d Deps) {
    e.IPExtractor = middleware.NewIPExtractor(d.TrustedProxies)

    // probes and scraping
    e.GET("/healthz", handler.Health)
    if d.DB != nil {
        e.GET("/readyz", handler.Ready(d.DB))
    }
    e.GET("/metrics", echo.WrapHandler(obs.Handler()))

    RegisterAuth(e, d)
    RegisterSchedules(e, d)
    RegisterAdmin(e, d)
}

// RegisterAuth registers login, logout and the session-scoped pages.
// POST /login is additionally throttled per client on top of the
// failed-attempt limiter inside the handler.
func RegisterAuth(e *echo.Echo, d Deps) {
    a := d.Auth
    e.GET(session.LoginPath, a.LoginPage)
    e.POST(session.LoginPath, a.Login, middleware.NewTokenBucket(d.Throttle, d.Redis))
    e.POST("/logout", a.Logout)

    authed := middleware.RequireAuthenticated(d.Sessions)
    e.GET(session.HomePath, a.Home, authed)
    e.GET("/v1/me", a.Me, authed)
}

// RegisterSchedules registers the weekly timetable.  Any staff member may
// read and add slots; removing one is admin-only.
func RegisterSchedules(e *echo.Echo, d Deps) {
    s := d.Schedules
    g := e.Group("/v1/schedules", middleware.RequireAuthenticated(d.Sessions))
    g.GET("", s.List, middleware.NewRedisCache(d.Cache, d.Redis))
    g.POST("", s.Create)
    g.DELETE("/:id", s.Delete, middleware.RequireRole(model.RoleAdmin))
}

// RegisterAdmin registers staff account management.
func RegisterAdmin(e *echo.Echo, d Deps) {
    u := d.Users
    g := e.Group(
        "/v1/admin",
        middleware.RequireAuthenticated(d.Sessions),
        middleware.RequireRole(model.RoleAdmin),
    )
    g.GET("/users", u.List)
    g.POST("/users", u.Create)
    g.POST("/users/:id/toggle", u.ToggleActive)
}

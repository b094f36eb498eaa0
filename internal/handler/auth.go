package handler

import (
    "context"  // provides context with cancellation for DB calls
    "errors"   // sentinel comparisons
    "fmt"      // user-facing messages
    "net/http" // HTTP status codes and primitives
    "net/mail" // email syntax check
    "strconv"  // Retry-After header
    "time"     // blocked-until timestamps

    "github.com/labstack/echo/v4" // Echo framework for HTTP routing
    "go.uber.org/zap"

    "github.com/iliyamo/facility-membership/internal/middleware"
    "github.com/iliyamo/facility-membership/internal/model"
    "github.com/iliyamo/facility-membership/internal/obs"
    "github.com/iliyamo/facility-membership/internal/ratelimit"
    "github.com/iliyamo/facility-membership/internal/repository"
    "github.com/iliyamo/facility-membership/internal/session"
    "github.com/iliyamo/facility-membership/internal/utils"
)

const msgInvalidCredentials = "invalid email or password"

// PasswordVerifier checks a plain password against a stored hash.
type PasswordVerifier interface {
    Verify(plain, hash string) bool
}

// AuthHandler bundles dependencies for the login, logout and identity
// endpoints.
type AuthHandler struct {
    Users    CredentialStore
    Hasher   PasswordVerifier
    Sessions *session.Manager
    Limiter  ratelimit.Limiter
    Audit    *Auditor
    Log      *zap.Logger
}

func NewAuthHandler(users CredentialStore, hasher PasswordVerifier, sessions *session.Manager, limiter ratelimit.Limiter, audit *Auditor, log *zap.Logger) *AuthHandler {
    if log == nil {
        log = zap.NewNop()
    }
    return &AuthHandler{Users: users, Hasher: hasher, Sessions: sessions, Limiter: limiter, Audit: audit, Log: log}
}

// ----- DTOs -----

type loginReq struct {
    Email    string `json:"email" form:"email"`
    Password string `json:"password" form:"password"`
}

type userPart struct {
    ID          uint64 `json:"id"`
    Email       string `json:"email"`
    DisplayName string `json:"display_name,omitempty"`
    Role        string `json:"role"`
    IsActive    bool   `json:"is_active"`
}

func toUserPart(u *model.User) userPart {
    return userPart{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, Role: u.Role.String(), IsActive: u.IsActive}
}

// LoginPage sends an authenticated visitor home; everyone else gets the
// login form contract.
func (h *AuthHandler) LoginPage(c echo.Context) error {
    if s, ok := h.Sessions.Read(c.Request()); ok {
        if s.Rotated() {
            h.Sessions.SetAccessCookie(c, s.RotatedAccess, s.RotatedExpiry)
        }
        return c.Redirect(http.StatusSeeOther, session.HomePath)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "action": session.LoginPath,
        "method": http.MethodPost,
        "fields": []string{"email", "password"},
    })
}

func blockedMessage(d ratelimit.Decision) string {
    return fmt.Sprintf("too many failed attempts, try again in %d minutes", d.RetryAfterMinutes())
}

func (h *AuthHandler) blocked(c echo.Context, d ratelimit.Decision) error {
    obs.LoginAttempts.WithLabelValues(obs.LoginBlocked).Inc()
    secs := int(d.RetryAfter.Round(time.Second) / time.Second)
    c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
    return c.JSON(http.StatusTooManyRequests, echo.Map{
        "error":         blockedMessage(d),
        "blocked_until": d.BlockedUntil.UTC(),
        "retry_after":   secs,
    })
}

// Login checks the client's failed-attempt budget, then the credentials.
// Unknown email, wrong password and inactive accounts all fail the same
// way.  A failure is recorded before the budget is re-read, so the reply
// either states the remaining attempts or that the client is now blocked.
func (h *AuthHandler) Login(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
    defer cancel()

    client := middleware.ClientIdentifier(c)
    d, err := h.Limiter.Check(ctx, client)
    if err != nil {
        h.Log.Error("login limiter check failed", zap.Error(err), zap.String("client", client))
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "login temporarily unavailable"})
    }
    if !d.Allowed {
        return h.blocked(c, d)
    }

    var req loginReq
    if err := c.Bind(&req); err != nil {
        obs.LoginAttempts.WithLabelValues(obs.LoginRejected).Inc()
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    req.Email = model.NormalizeEmail(req.Email)
    if req.Email == "" || req.Password == "" {
        obs.LoginAttempts.WithLabelValues(obs.LoginRejected).Inc()
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and password are required"})
    }
    if _, err := mail.ParseAddress(req.Email); err != nil {
        obs.LoginAttempts.WithLabelValues(obs.LoginRejected).Inc()
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid email address"})
    }

    u, err := h.authenticate(ctx, req.Email, req.Password)
    if err != nil {
        h.Log.Error("credential lookup failed", zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
    }
    if u == nil {
        return h.loginFailed(ctx, c, client)
    }

    if err := h.Limiter.Clear(ctx, client); err != nil {
        h.Log.Warn("login limiter clear failed", zap.Error(err), zap.String("client", client))
    }
    pair, err := h.Sessions.Tokens().IssuePair(utils.Subject{UserID: u.ID, Email: u.Email, Role: u.Role})
    if err != nil {
        h.Log.Error("issue token pair failed", zap.Error(err), zap.Uint64("user_id", u.ID))
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
    }
    obs.LoginAttempts.WithLabelValues(obs.LoginSuccess).Inc()
    h.Audit.Record(c, model.AuditEntry{
        ActorID:    u.ID,
        ActorEmail: u.Email,
        Action:     model.AuditLogin,
        Resource:   model.ResourceSession,
        ResourceID: strconv.FormatUint(u.ID, 10),
    })
    return h.Sessions.Establish(c, pair, session.HomePath)
}

// authenticate returns the active user matching the credentials, nil when
// they do not match, or an error when the store fails.
func (h *AuthHandler) authenticate(ctx context.Context, email, password string) (*model.User, error) {
    u, err := h.Users.GetByEmail(ctx, email)
    if errors.Is(err, repository.ErrNotFound) {
        return nil, nil
    }
    if err != nil {
        return nil, err
    }
    if !u.IsActive || !h.Hasher.Verify(password, u.PasswordHash) {
        return nil, nil
    }
    return u, nil
}

func (h *AuthHandler) loginFailed(ctx context.Context, c echo.Context, client string) error {
    obs.LoginAttempts.WithLabelValues(obs.LoginFailure).Inc()
    if err := h.Limiter.RecordFailure(ctx, client); err != nil {
        h.Log.Warn("login limiter record failed", zap.Error(err), zap.String("client", client))
    }
    d, err := h.Limiter.Check(ctx, client)
    if err != nil {
        h.Log.Warn("login limiter re-check failed", zap.Error(err), zap.String("client", client))
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": msgInvalidCredentials})
    }
    if !d.Allowed {
        return h.blocked(c, d)
    }
    return c.JSON(http.StatusUnauthorized, echo.Map{
        "error":              fmt.Sprintf("%s, %d attempt(s) remaining", msgInvalidCredentials, d.Remaining),
        "remaining_attempts": d.Remaining,
    })
}

// Logout clears the session cookies.  It works without a valid session so
// a half-expired browser can always sign out.
func (h *AuthHandler) Logout(c echo.Context) error {
    if claims, ok := h.Sessions.Identify(c.Request()); ok {
        session.Store(c, claims)
        h.Audit.Record(c, model.AuditEntry{
            Action:     model.AuditLogout,
            Resource:   model.ResourceSession,
            ResourceID: strconv.FormatUint(claims.UserID, 10),
        })
    }
    return h.Sessions.Terminate(c)
}

// Me returns the current identity as stored.  An account deactivated
// since the token was issued loses its session here.
func (h *AuthHandler) Me(c echo.Context) error {
    claims, ok := session.FromContext(c)
    if !ok {
        return c.Redirect(http.StatusSeeOther, session.LoginPath)
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
    defer cancel()

    u, err := h.Users.GetByID(ctx, claims.UserID)
    if errors.Is(err, repository.ErrNotFound) || (err == nil && !u.IsActive) {
        return h.Sessions.Terminate(c)
    }
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load user failed"})
    }
    return c.JSON(http.StatusOK, echo.Map{"user": toUserPart(u)})
}

// Home is the application root for authenticated staff.
func (h *AuthHandler) Home(c echo.Context) error {
    claims, ok := session.FromContext(c)
    if !ok {
        return c.Redirect(http.StatusSeeOther, session.LoginPath)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "user_id": claims.UserID,
        "email":   claims.Email,
        "role":    claims.Role,
    })
}

package handler

import (
    "context"
    "errors"
    "net/http"
    "net/mail"
    "strconv"
    "strings"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/facility-membership/internal/model"
    "github.com/iliyamo/facility-membership/internal/repository"
    "github.com/iliyamo/facility-membership/internal/utils"
)

// PasswordHasher produces stored password hashes.
type PasswordHasher interface {
    Hash(plain string) (string, error)
}

// UserAdminHandler serves the admin-only staff account pages.
type UserAdminHandler struct {
    Users  UserStore
    Hasher PasswordHasher
    Audit  *Auditor
    Log    *zap.Logger
}

func NewUserAdminHandler(users UserStore, hasher PasswordHasher, audit *Auditor, log *zap.Logger) *UserAdminHandler {
    if log == nil {
        log = zap.NewNop()
    }
    return &UserAdminHandler{Users: users, Hasher: hasher, Audit: audit, Log: log}
}

type createUserReq struct {
    Email       string `json:"email" form:"email"`
    Password    string `json:"password" form:"password"`
    DisplayName string `json:"display_name" form:"display_name"`
    Role        string `json:"role" form:"role"`
}

// List returns every staff account.
func (h *UserAdminHandler) List(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
    defer cancel()

    users, err := h.Users.List(ctx)
    if err != nil {
        h.Log.Error("list users failed", zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
    }
    items := make([]userPart, 0, len(users))
    for i := range users {
        items = append(items, toUserPart(&users[i]))
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items, "current_user_id": currentUserID(c)})
}

// Create adds an active account after checking the password policy.
func (h *UserAdminHandler) Create(c echo.Context) error {
    var req createUserReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }

    fields := map[string]string{}
    email := model.NormalizeEmail(req.Email)
    if _, err := mail.ParseAddress(email); email == "" || err != nil {
        fields["email"] = "a valid email is required"
    }
    name := strings.TrimSpace(req.DisplayName)
    if name == "" {
        fields["display_name"] = "name is required"
    }
    role, ok := model.ParseRole(req.Role)
    if !ok {
        fields["role"] = "role must be admin, reception or instructor"
    }
    if err := utils.ValidatePasswordStrength(req.Password); err != nil {
        fields["password"] = err.Error()
    }
    if len(fields) > 0 {
        return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "validation failed", "fields": fields})
    }

    hash, err := h.Hasher.Hash(req.Password)
    if err != nil {
        return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "validation failed", "fields": map[string]string{"password": err.Error()}})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
    defer cancel()

    u := &model.User{Email: email, PasswordHash: hash, DisplayName: name, Role: role, IsActive: true}
    if err := h.Users.Create(ctx, u); err != nil {
        if errors.Is(err, repository.ErrEmailExists) {
            return c.JSON(http.StatusConflict, echo.Map{"error": "email already exists", "fields": map[string]string{"email": "this email is already registered"}})
        }
        h.Log.Error("create user failed", zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create user failed"})
    }

    h.Audit.Record(c, model.AuditEntry{
        Action:     model.AuditCreate,
        Resource:   model.ResourceUser,
        ResourceID: strconv.FormatUint(u.ID, 10),
        Details:    map[string]any{"email": u.Email, "role": u.Role.String()},
    })
    return c.JSON(http.StatusCreated, toUserPart(u))
}

// ToggleActive flips an account between active and inactive.  Admins
// cannot deactivate themselves.
func (h *UserAdminHandler) ToggleActive(c echo.Context) error {
    id, err := pathID(c)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    if id == currentUserID(c) {
        return c.JSON(http.StatusConflict, echo.Map{"error": "you cannot deactivate your own account"})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
    defer cancel()

    u, err := h.Users.GetByID(ctx, id)
    if errors.Is(err, repository.ErrNotFound) {
        return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
    }
    if err != nil {
        h.Log.Error("load user failed", zap.Error(err), zap.Uint64("id", id))
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load user failed"})
    }

    previous := u.IsActive
    if err := h.Users.SetActive(ctx, id, !previous); err != nil {
        h.Log.Error("toggle user failed", zap.Error(err), zap.Uint64("id", id))
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update user failed"})
    }
    u.IsActive = !previous

    h.Audit.Record(c, model.AuditEntry{
        Action:     model.AuditToggleStatus,
        Resource:   model.ResourceUser,
        ResourceID: strconv.FormatUint(id, 10),
        Details:    map[string]any{"email": u.Email, "previous_status": previous, "new_status": u.IsActive},
    })
    return c.JSON(http.StatusOK, toUserPart(u))
}

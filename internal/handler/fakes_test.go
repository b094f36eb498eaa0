package handler

import (
    "context"
    "errors"
    "sync"

    "github.com/iliyamo/facility-membership/internal/model"
    "github.com/iliyamo/facility-membership/internal/ratelimit"
    "github.com/iliyamo/facility-membership/internal/repository"
)

type fakeUsers struct {
    mu     sync.Mutex
    byID   map[uint64]*model.User
    nextID uint64
    err    error
}

func newFakeUsers(users ...*model.User) *fakeUsers {
    f := &fakeUsers{byID: map[uint64]*model.User{}, nextID: 100}
    for _, u := range users {
        f.byID[u.ID] = u
    }
    return f
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.err != nil {
        return nil, f.err
    }
    for _, u := range f.byID {
        if u.Email == model.NormalizeEmail(email) {
            cp := *u
            return &cp, nil
        }
    }
    return nil, repository.ErrNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id uint64) (*model.User, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.err != nil {
        return nil, f.err
    }
    u, ok := f.byID[id]
    if !ok {
        return nil, repository.ErrNotFound
    }
    cp := *u
    return &cp, nil
}

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    for _, existing := range f.byID {
        if existing.Email == u.Email {
            return repository.ErrEmailExists
        }
    }
    f.nextID++
    u.ID = f.nextID
    cp := *u
    f.byID[u.ID] = &cp
    return nil
}

func (f *fakeUsers) List(context.Context) ([]model.User, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    out := make([]model.User, 0, len(f.byID))
    for _, u := range f.byID {
        out = append(out, *u)
    }
    return out, nil
}

func (f *fakeUsers) SetActive(_ context.Context, id uint64, active bool) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    u, ok := f.byID[id]
    if !ok {
        return repository.ErrNotFound
    }
    u.IsActive = active
    return nil
}

type fakeSlots struct {
    mu    sync.Mutex
    slots []model.Slot
    err   error
}

func (f *fakeSlots) ListActive(context.Context) ([]model.Slot, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    var out []model.Slot
    for _, s := range f.slots {
        if s.IsActive {
            out = append(out, s)
        }
    }
    return out, nil
}

func (f *fakeSlots) ListActiveByWeekday(ctx context.Context, weekday int) ([]model.Slot, error) {
    all, _ := f.ListActive(ctx)
    var out []model.Slot
    for _, s := range all {
        if s.Weekday == weekday {
            out = append(out, s)
        }
    }
    return out, nil
}

func (f *fakeSlots) GetByID(_ context.Context, id uint64) (*model.Slot, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.err != nil {
        return nil, f.err
    }
    for _, s := range f.slots {
        if s.ID == id {
            cp := s
            return &cp, nil
        }
    }
    return nil, repository.ErrNotFound
}

func (f *fakeSlots) CreateIfFree(ctx context.Context, s *model.Slot, check func([]model.Slot) error) error {
    existing, _ := f.ListActiveByWeekday(ctx, s.Weekday)
    if err := check(existing); err != nil {
        return err
    }
    f.mu.Lock()
    defer f.mu.Unlock()
    s.ID = uint64(len(f.slots) + 1)
    s.IsActive = true
    f.slots = append(f.slots, *s)
    return nil
}

func (f *fakeSlots) Deactivate(_ context.Context, id uint64) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    for i := range f.slots {
        if f.slots[i].ID == id && f.slots[i].IsActive {
            f.slots[i].IsActive = false
            return nil
        }
    }
    return repository.ErrNotFound
}

type fakeSink struct {
    mu      sync.Mutex
    entries []model.AuditEntry
    err     error
}

func (f *fakeSink) Record(_ context.Context, e model.AuditEntry) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.err != nil {
        return f.err
    }
    f.entries = append(f.entries, e)
    return nil
}

func (f *fakeSink) actions() []model.AuditAction {
    f.mu.Lock()
    defer f.mu.Unlock()
    var out []model.AuditAction
    for _, e := range f.entries {
        out = append(out, e.Action)
    }
    return out
}

type brokenLimiter struct{}

func (brokenLimiter) Check(context.Context, string) (ratelimit.Decision, error) {
    return ratelimit.Decision{}, errors.New("redis down")
}
func (brokenLimiter) RecordFailure(context.Context, string) error { return nil }
func (brokenLimiter) Clear(context.Context, string) error         { return nil }

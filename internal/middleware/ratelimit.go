package middleware

import (
    "fmt"
    "math"
    "net/http"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "golang.org/x/time/rate"

    "github.com/iliyamo/facility-membership/internal/config"
)

var throttleScript = redis.NewScript(`
    local key = KEYS[1]
    local now_ms = tonumber(ARGV[1])
    local capacity = tonumber(ARGV[2])
    local refill_tokens = tonumber(ARGV[3])
    local interval_ms = tonumber(ARGV[4])
    local ttl_seconds = tonumber(ARGV[5])

    local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
    local tokens = tonumber(state[1])
    local last_refill = tonumber(state[2])

    if tokens == nil or last_refill == nil then
        tokens = capacity
        last_refill = now_ms
    end

    if interval_ms > 0 and refill_tokens > 0 then
        local elapsed = math.max(0, now_ms - last_refill)
        local intervals = math.floor(elapsed / interval_ms)
        if intervals > 0 then
            tokens = math.min(capacity, tokens + (intervals * refill_tokens))
            last_refill = last_refill + (intervals * interval_ms)
        end
    end

    local allowed = 0
    local retry_after_ms = 0
    if tokens > 0 then
        allowed = 1
        tokens = tokens - 1
    else
        local until_next = interval_ms - (now_ms - last_refill)
        if until_next < 0 then until_next = 0 end
        retry_after_ms = until_next
    end

    redis.call('HMSET', key, 'tokens', tokens, 'last_refill_ms', last_refill, 'capacity', capacity)
    redis.call('EXPIRE', key, ttl_seconds)

    return { allowed, tokens, retry_after_ms }
`)

// NewTokenBucket throttles request volume per client and route.  Buckets
// live in Redis when rdb is set, so every instance shares them; otherwise
// each process keeps its own golang.org/x/time/rate buckets.  Redis errors
// let the request through.
func NewTokenBucket(cfg config.ThrottleConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    if rdb == nil {
        return newLocalBucket(cfg)
    }

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := throttleKey(cfg, c)
            args := []interface{}{
                time.Now().UnixMilli(),
                cfg.Capacity,
                cfg.RefillTokens,
                cfg.RefillInterval.Milliseconds(),
                int64(cfg.TTL / time.Second),
            }

            vals, err := throttleScript.Run(c.Request().Context(), rdb, []string{key}, args...).Slice()
            if err != nil || len(vals) != 3 {
                if cfg.Debug {
                    c.Logger().Warnf("[throttle] redis error for key=%s: %v", key, err)
                }
                return next(c)
            }

            allowed := fmt.Sprint(vals[0]) == "1"
            remaining := asInt64(vals[1])
            retryMs := asInt64(vals[2])

            c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
            c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
            if !allowed {
                return tooManyRequests(c, time.Duration(retryMs)*time.Millisecond)
            }
            if cfg.Debug {
                c.Response().Header().Set("X-RateLimit-Key", key)
            }
            return next(c)
        }
    }
}

type localBucket struct {
    lim  *rate.Limiter
    seen time.Time
}

func newLocalBucket(cfg config.ThrottleConfig) echo.MiddlewareFunc {
    var (
        mu        sync.Mutex
        buckets   = make(map[string]*localBucket)
        lastPurge = time.Now()
        every     = rate.Every(cfg.RefillInterval / time.Duration(cfg.RefillTokens))
    )
    take := func(key string) (*rate.Reservation, float64) {
        mu.Lock()
        defer mu.Unlock()
        now := time.Now()
        if now.Sub(lastPurge) > time.Minute {
            for k, b := range buckets {
                if now.Sub(b.seen) > cfg.TTL {
                    delete(buckets, k)
                }
            }
            lastPurge = now
        }
        b, ok := buckets[key]
        if !ok {
            b = &localBucket{lim: rate.NewLimiter(every, cfg.Capacity)}
            buckets[key] = b
        }
        b.seen = now
        return b.lim.ReserveN(now, 1), b.lim.TokensAt(now)
    }

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            r, tokens := take(throttleKey(cfg, c))
            c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
            if delay := r.Delay(); delay > 0 {
                r.Cancel()
                c.Response().Header().Set("X-RateLimit-Remaining", "0")
                return tooManyRequests(c, delay)
            }
            if tokens < 0 {
                tokens = 0
            }
            c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(tokens)))
            return next(c)
        }
    }
}

func tooManyRequests(c echo.Context, retry time.Duration) error {
    secs := int(math.Ceil(retry.Seconds()))
    if secs < 0 {
        secs = 0
    }
    c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
    return c.JSON(http.StatusTooManyRequests, map[string]any{
        "error":       "too_many_requests",
        "message":     "rate limit exceeded",
        "retry_after": secs,
    })
}

func asInt64(v interface{}) int64 {
    switch t := v.(type) {
    case int64:
        return t
    case int32:
        return int64(t)
    case int:
        return int64(t)
    case float64:
        return int64(t)
    case string:
        if n, err := strconv.ParseInt(t, 10, 64); err == nil {
            return n
        }
    }
    return 0
}

func throttleKey(cfg config.ThrottleConfig, c echo.Context) string {
    route := c.Request().Method + " " + c.Path()
    return strings.Join([]string{cfg.Prefix, "ip", ClientIdentifier(c), "route", route}, ":")
}

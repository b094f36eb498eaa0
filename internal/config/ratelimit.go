package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Login limiter backends.
const (
	LimitStoreMemory = "memory"
	LimitStoreRedis  = "redis"
)

// LoginLimitConfig configures the failed-login limiter.
type LoginLimitConfig struct {
	MaxAttempts    int
	Window         time.Duration
	Block          time.Duration
	SweepEvery     time.Duration
	Store          string       // memory (single instance) or redis (shared)
	Prefix         string       // Redis key prefix
	TrustedProxies []*net.IPNet // only these peers may set X-Forwarded-For
}

func LoadLoginLimitConfig() LoginLimitConfig {
	cfg := LoginLimitConfig{
		MaxAttempts:    envInt("LOGIN_MAX_ATTEMPTS", 5),
		Window:         envDur("LOGIN_WINDOW", 15*time.Minute),
		Block:          envDur("LOGIN_BLOCK", 30*time.Minute),
		SweepEvery:     envDur("LOGIN_SWEEP_EVERY", time.Hour),
		Store:          strings.ToLower(envStr("LOGIN_LIMIT_STORE", LimitStoreMemory)),
		Prefix:         envStr("LOGIN_LIMIT_PREFIX", "login_fail"),
		TrustedProxies: ParseCIDRs(os.Getenv("TRUSTED_PROXIES")),
	}
	if cfg.Store != LimitStoreRedis {
		cfg.Store = LimitStoreMemory
	}
	return cfg
}

// ParseCIDRs parses a comma separated list of CIDRs or bare IPs.  Invalid
// items are skipped.
func ParseCIDRs(s string) []*net.IPNet {
	var out []*net.IPNet
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				continue
			}
			bits := 128
			if ip.To4() != nil {
				bits = 32
				ip = ip.To4()
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		if _, n, err := net.ParseCIDR(p); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// ThrottleConfig is the token bucket applied in front of POST /login.  It
// limits request volume, independent of whether credentials were right.
type ThrottleConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
	Debug          bool
}

func LoadThrottleConfig() ThrottleConfig {
	def := ThrottleConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 20),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", 3*time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	}
	if b := envInt("RATE_LIMIT_BURST", -1); b > 0 {
		def.Capacity = b
	}
	if every := envDur("RATE_LIMIT_REFILL_EVERY", 0); every > 0 {
		def.RefillTokens = 1
		def.RefillInterval = every
	}
	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	minTTL := 5 * def.RefillInterval
	if def.TTL < minTTL {
		def.TTL = minTTL
	}
	return def
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}

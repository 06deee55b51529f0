// Package config loads service settings from ACCOUNTS_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"dmh.org/accounts/internal/obs"
)

// Storage backends accepted by ACCOUNTS_STORE.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	HTTPAddr    string
	// GRPCAddr is empty when the health server is disabled.
	GRPCAddr string

	Store      string
	PGDSN      string
	SQLitePath string

	AuthSecret string
	AuthIssuer string
	// TrustUserHeader accepts X-User-Id from the gateway without a token.
	TrustUserHeader bool

	RateLimitRPS   float64
	RateLimitBurst int
	RedisAddr      string
	CORSOrigins    []string

	ProvisionAttempts int
	ShutdownTimeout   time.Duration
}

// Load reads a .env file when one exists (process variables win), then the
// environment, and validates the result.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				obs.Log("info", "env file not found, relying on process environment", map[string]any{"file": f})
				continue
			}
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup and validates it.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	e := env{lookup: lookup}
	cfg := &Config{
		Environment:       e.str("ACCOUNTS_ENV", "development"),
		HTTPAddr:          e.str("ACCOUNTS_HTTP_ADDR", ":8080"),
		GRPCAddr:          e.str("ACCOUNTS_GRPC_ADDR", ":9090"),
		Store:             strings.ToLower(e.str("ACCOUNTS_STORE", StoreMemory)),
		PGDSN:             e.str("ACCOUNTS_PG_DSN", ""),
		SQLitePath:        e.str("ACCOUNTS_SQLITE_PATH", "accounts.db"),
		AuthSecret:        e.str("ACCOUNTS_AUTH_SECRET", ""),
		AuthIssuer:        e.str("ACCOUNTS_AUTH_ISSUER", "accounts"),
		TrustUserHeader:   e.bool("ACCOUNTS_TRUST_USER_HEADER", true),
		RateLimitRPS:      e.float("ACCOUNTS_RATE_LIMIT_RPS", 50),
		RateLimitBurst:    e.int("ACCOUNTS_RATE_LIMIT_BURST", 100),
		RedisAddr:         e.str("ACCOUNTS_REDIS_ADDR", ""),
		CORSOrigins:       e.list("ACCOUNTS_CORS_ORIGINS", []string{"*"}),
		ProvisionAttempts: e.int("ACCOUNTS_PROVISION_ATTEMPTS", 10),
		ShutdownTimeout:   e.duration("ACCOUNTS_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.PGDSN == "" {
			problems = append(problems, "ACCOUNTS_PG_DSN is required when ACCOUNTS_STORE=postgres")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			problems = append(problems, "ACCOUNTS_SQLITE_PATH is required when ACCOUNTS_STORE=sqlite")
		}
	default:
		problems = append(problems, fmt.Sprintf("ACCOUNTS_STORE must be one of memory, postgres, sqlite (got %q)", c.Store))
	}

	if c.HTTPAddr == "" {
		problems = append(problems, "ACCOUNTS_HTTP_ADDR must not be empty")
	}
	if c.AuthSecret == "" && !c.TrustUserHeader {
		problems = append(problems, "either ACCOUNTS_AUTH_SECRET or ACCOUNTS_TRUST_USER_HEADER must be set")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		problems = append(problems, "ACCOUNTS_RATE_LIMIT_RPS and ACCOUNTS_RATE_LIMIT_BURST must be positive")
	}
	if c.ProvisionAttempts <= 0 {
		problems = append(problems, "ACCOUNTS_PROVISION_ATTEMPTS must be positive")
	}

	if c.Production() {
		if c.AuthSecret == "" {
			problems = append(problems, "ACCOUNTS_AUTH_SECRET is required in "+c.Environment)
		}
		if c.Store == StoreMemory {
			problems = append(problems, "ACCOUNTS_STORE=memory is not allowed in "+c.Environment)
		}
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// Production reports whether the environment requires hardened settings.
func (c *Config) Production() bool {
	return c.Environment == "production" || c.Environment == "staging"
}

type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) str(key, fallback string) string {
	if v, ok := e.lookup(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (e *env) parse(key string, parse func(string) error) {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	if err := parse(strings.TrimSpace(v)); err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
	}
}

func (e *env) bool(key string, fallback bool) bool {
	out := fallback
	e.parse(key, func(v string) (err error) {
		out, err = strconv.ParseBool(v)
		return err
	})
	return out
}

func (e *env) int(key string, fallback int) int {
	out := fallback
	e.parse(key, func(v string) (err error) {
		out, err = strconv.Atoi(v)
		return err
	})
	return out
}

func (e *env) float(key string, fallback float64) float64 {
	out := fallback
	e.parse(key, func(v string) (err error) {
		out, err = strconv.ParseFloat(v, 64)
		return err
	})
	return out
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	out := fallback
	e.parse(key, func(v string) (err error) {
		out, err = time.ParseDuration(v)
		return err
	})
	return out
}

func (e *env) list(key string, fallback []string) []string {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

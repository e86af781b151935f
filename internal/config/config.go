package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type APIConfig struct {
	Addr            string
	Store           string
	DatabaseURL     string
	SQLitePath      string
	SupabaseURL     string
	SupabaseAnonKey string
	// DevTokens maps static bearer tokens to user ids for local play
	// without Supabase. Parsed from "token:user,token:user".
	DevTokens      map[string]string
	BalanceFile    string
	RateLimitRPS   float64
	RateLimitBurst int
	StoreTimeout   time.Duration
}

type WorkerConfig struct {
	Store        string
	DatabaseURL  string
	SQLitePath   string
	BalanceFile  string
	StoreTimeout time.Duration
	SweepEvery   time.Duration
	ArchiveDir   string
	ArchiveEvery time.Duration
	RunOnce      bool
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("ALTANIAN_API_ADDR", ":8080")
	}

	devTokens, err := parseDevTokens(os.Getenv("ALTANIAN_DEV_TOKENS"))
	if err != nil {
		return APIConfig{}, err
	}
	cfg := APIConfig{
		Addr:            addr,
		Store:           envStoreDefault(),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:      envDefault("ALTANIAN_SQLITE_PATH", "data/altanian.db"),
		SupabaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey: strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		DevTokens:       devTokens,
		BalanceFile:     strings.TrimSpace(os.Getenv("ALTANIAN_BALANCE_FILE")),
		RateLimitRPS:    envFloatDefault("ALTANIAN_RATE_LIMIT_RPS", 10),
		RateLimitBurst:  envIntDefault("ALTANIAN_RATE_LIMIT_BURST", 20),
		StoreTimeout:    envDurationDefault("ALTANIAN_STORE_TIMEOUT", 5*time.Second),
	}
	if err := cfg.validateStore(); err != nil {
		return cfg, err
	}
	if len(cfg.DevTokens) == 0 {
		if cfg.SupabaseURL == "" {
			return cfg, fmt.Errorf("SUPABASE_URL is required")
		}
		if cfg.SupabaseAnonKey == "" {
			return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
		}
	}
	return cfg, nil
}

func (c APIConfig) validateStore() error {
	return validateStore(c.Store, c.DatabaseURL)
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		Store:        envStoreDefault(),
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:   envDefault("ALTANIAN_SQLITE_PATH", "data/altanian.db"),
		BalanceFile:  strings.TrimSpace(os.Getenv("ALTANIAN_BALANCE_FILE")),
		StoreTimeout: envDurationDefault("ALTANIAN_STORE_TIMEOUT", 5*time.Second),
		SweepEvery:   envDurationDefault("ALTANIAN_SWEEP_EVERY", time.Minute),
		ArchiveDir:   strings.TrimSpace(os.Getenv("ALTANIAN_ARCHIVE_DIR")),
		ArchiveEvery: envDurationDefault("ALTANIAN_ARCHIVE_EVERY", time.Hour),
		RunOnce:      envBoolDefault("ALTANIAN_WORKER_RUN_ONCE", false),
	}
	if cfg.SweepEvery <= 0 {
		return cfg, fmt.Errorf("ALTANIAN_SWEEP_EVERY must be positive")
	}
	return cfg, validateStore(cfg.Store, cfg.DatabaseURL)
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("CONQ_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func validateStore(store, databaseURL string) error {
	switch store {
	case "postgres":
		if databaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case "sqlite":
	default:
		return fmt.Errorf("ALTANIAN_STORE must be postgres or sqlite, got %q", store)
	}
	return nil
}

func parseDevTokens(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, user, ok := strings.Cut(pair, ":")
		token, user = strings.TrimSpace(token), strings.TrimSpace(user)
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("ALTANIAN_DEV_TOKENS: bad entry %q", pair)
		}
		out[token] = user
	}
	return out, nil
}

func envStoreDefault() string {
	return strings.ToLower(envDefault("ALTANIAN_STORE", "postgres"))
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Package config resolves runtime settings for the backoffice API.
//
// Values are resolved in priority order: built-in defaults, then an optional
// YAML file, then BACKOFFICE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration.
type Config struct {
	HTTPAddr string
	GRPCAddr string
	LogLevel string

	DatabaseURL string
	RedisURL    string
	AutoMigrate bool

	JWTSecret  string
	JWTIssuer  string
	TokenTTL   time.Duration
	BcryptCost int

	DefaultRole string

	LoginFailedThreshold int
	LoginLockout         time.Duration

	RateLimitBurst     int
	RateLimitPerSecond int

	BootstrapAdmin      bool
	AdminUsername       string
	AdminEmail          string
	AdminPasswordPath   string
	AdminPasswordLog    bool
	AllowedCORSOrigins  []string
	TrustedProxies      []string
	ShutdownGracePeriod time.Duration
}

type fileConfig struct {
	Server struct {
		HTTPAddr       string   `yaml:"http_addr"`
		GRPCAddr       string   `yaml:"grpc_addr"`
		LogLevel       string   `yaml:"log_level"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`
	Dependencies struct {
		PostgresDSN string `yaml:"postgres_dsn"`
		RedisURL    string `yaml:"redis_url"`
		AutoMigrate *bool  `yaml:"auto_migrate"`
	} `yaml:"dependencies"`
	Auth struct {
		JWTSecret   string `yaml:"jwt_secret"`
		JWTIssuer   string `yaml:"jwt_issuer"`
		TokenTTL    string `yaml:"token_ttl"`
		BcryptCost  int    `yaml:"bcrypt_cost"`
		DefaultRole string `yaml:"default_role"`
		Lockout     struct {
			Threshold int    `yaml:"threshold"`
			Window    string `yaml:"window"`
		} `yaml:"lockout"`
		RateLimit struct {
			Burst     int `yaml:"burst"`
			PerSecond int `yaml:"per_second"`
		} `yaml:"rate_limit"`
	} `yaml:"auth"`
	Bootstrap struct {
		Enabled      *bool  `yaml:"enabled"`
		Username     string `yaml:"username"`
		Email        string `yaml:"email"`
		PasswordPath string `yaml:"password_path"`
		LogPassword  *bool  `yaml:"log_password"`
	} `yaml:"bootstrap_admin"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:             ":8080",
		GRPCAddr:             ":9090",
		LogLevel:             "info",
		AutoMigrate:          true,
		JWTIssuer:            "backoffice",
		TokenTTL:             time.Hour,
		BcryptCost:           12,
		DefaultRole:          "USER",
		LoginFailedThreshold: 5,
		LoginLockout:         15 * time.Minute,
		RateLimitBurst:       10,
		RateLimitPerSecond:   5,
		BootstrapAdmin:       true,
		AdminUsername:        "admin",
		AdminEmail:           "admin@backoffice.local",
		AdminPasswordPath:    "admin-password.txt",
		ShutdownGracePeriod:  10 * time.Second,
	}
}

// Load resolves configuration from defaults, the YAML file at path (if any)
// and the environment. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	setString(&cfg.HTTPAddr, f.Server.HTTPAddr)
	setString(&cfg.GRPCAddr, f.Server.GRPCAddr)
	setString(&cfg.LogLevel, f.Server.LogLevel)
	if len(f.Server.AllowedOrigins) > 0 {
		cfg.AllowedCORSOrigins = f.Server.AllowedOrigins
	}
	if len(f.Server.TrustedProxies) > 0 {
		cfg.TrustedProxies = f.Server.TrustedProxies
	}
	setString(&cfg.DatabaseURL, f.Dependencies.PostgresDSN)
	setString(&cfg.RedisURL, f.Dependencies.RedisURL)
	if f.Dependencies.AutoMigrate != nil {
		cfg.AutoMigrate = *f.Dependencies.AutoMigrate
	}
	setString(&cfg.JWTSecret, f.Auth.JWTSecret)
	setString(&cfg.JWTIssuer, f.Auth.JWTIssuer)
	setString(&cfg.DefaultRole, f.Auth.DefaultRole)
	if f.Auth.TokenTTL != "" {
		d, err := time.ParseDuration(f.Auth.TokenTTL)
		if err != nil {
			return fmt.Errorf("parse auth.token_ttl: %w", err)
		}
		cfg.TokenTTL = d
	}
	if f.Auth.BcryptCost > 0 {
		cfg.BcryptCost = f.Auth.BcryptCost
	}
	if f.Auth.Lockout.Threshold > 0 {
		cfg.LoginFailedThreshold = f.Auth.Lockout.Threshold
	}
	if f.Auth.Lockout.Window != "" {
		d, err := time.ParseDuration(f.Auth.Lockout.Window)
		if err != nil {
			return fmt.Errorf("parse auth.lockout.window: %w", err)
		}
		cfg.LoginLockout = d
	}
	if f.Auth.RateLimit.Burst > 0 {
		cfg.RateLimitBurst = f.Auth.RateLimit.Burst
	}
	if f.Auth.RateLimit.PerSecond > 0 {
		cfg.RateLimitPerSecond = f.Auth.RateLimit.PerSecond
	}
	if f.Bootstrap.Enabled != nil {
		cfg.BootstrapAdmin = *f.Bootstrap.Enabled
	}
	setString(&cfg.AdminUsername, f.Bootstrap.Username)
	setString(&cfg.AdminEmail, f.Bootstrap.Email)
	setString(&cfg.AdminPasswordPath, f.Bootstrap.PasswordPath)
	if f.Bootstrap.LogPassword != nil {
		cfg.AdminPasswordLog = *f.Bootstrap.LogPassword
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.HTTPAddr = envOrDefault("BACKOFFICE_HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = envOrDefault("BACKOFFICE_GRPC_ADDR", cfg.GRPCAddr)
	cfg.LogLevel = envOrDefault("BACKOFFICE_LOG_LEVEL", cfg.LogLevel)
	cfg.AllowedCORSOrigins = envCSV("BACKOFFICE_ALLOWED_ORIGINS", cfg.AllowedCORSOrigins)
	cfg.TrustedProxies = envCSV("BACKOFFICE_TRUSTED_PROXIES", cfg.TrustedProxies)
	cfg.DatabaseURL = envOrDefault("BACKOFFICE_PG_DSN", cfg.DatabaseURL)
	cfg.RedisURL = envOrDefault("BACKOFFICE_REDIS_URL", cfg.RedisURL)
	cfg.AutoMigrate = envBool("BACKOFFICE_AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.JWTSecret = envOrDefault("BACKOFFICE_JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = envOrDefault("BACKOFFICE_JWT_ISSUER", cfg.JWTIssuer)
	cfg.DefaultRole = envOrDefault("BACKOFFICE_DEFAULT_ROLE", cfg.DefaultRole)
	cfg.BcryptCost = envInt("BACKOFFICE_BCRYPT_COST", cfg.BcryptCost)
	cfg.LoginFailedThreshold = envInt("BACKOFFICE_LOGIN_FAILED_THRESHOLD", cfg.LoginFailedThreshold)
	cfg.RateLimitBurst = envInt("BACKOFFICE_RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.RateLimitPerSecond = envInt("BACKOFFICE_RATE_LIMIT_PER_SECOND", cfg.RateLimitPerSecond)
	cfg.BootstrapAdmin = envBool("BACKOFFICE_BOOTSTRAP_ADMIN", cfg.BootstrapAdmin)
	cfg.AdminUsername = envOrDefault("BACKOFFICE_ADMIN_USERNAME", cfg.AdminUsername)
	cfg.AdminEmail = envOrDefault("BACKOFFICE_ADMIN_EMAIL", cfg.AdminEmail)
	cfg.AdminPasswordPath = envOrDefault("BACKOFFICE_ADMIN_PASSWORD_PATH", cfg.AdminPasswordPath)
	cfg.AdminPasswordLog = envBool("BACKOFFICE_ADMIN_PASSWORD_LOG", cfg.AdminPasswordLog)

	var err error
	if cfg.TokenTTL, err = envDuration("BACKOFFICE_JWT_TTL", cfg.TokenTTL); err != nil {
		return err
	}
	if cfg.LoginLockout, err = envDuration("BACKOFFICE_LOGIN_LOCKOUT", cfg.LoginLockout); err != nil {
		return err
	}
	return nil
}

func (c Config) validate() error {
	if c.TokenTTL <= 0 {
		return errors.New("config: token ttl must be positive")
	}
	if c.BcryptCost < 10 || c.BcryptCost > 31 {
		return fmt.Errorf("config: bcrypt cost %d out of range [10,31]", c.BcryptCost)
	}
	if strings.TrimSpace(c.DefaultRole) == "" {
		return errors.New("config: default role is required")
	}
	for _, proxy := range c.TrustedProxies {
		if _, err := ParseProxy(proxy); err != nil {
			return fmt.Errorf("config: trusted proxy %q: %w", proxy, err)
		}
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return d, nil
}

func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// ParseProxy accepts a CIDR prefix or a single address.
func ParseProxy(v string) (netip.Prefix, error) {
	v = strings.TrimSpace(v)
	if strings.Contains(v, "/") {
		p, err := netip.ParsePrefix(v)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(v)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// TrustedProxyPrefixes returns the parsed trusted proxy list. Load has
// already rejected invalid entries.
func (c Config) TrustedProxyPrefixes() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, proxy := range c.TrustedProxies {
		if p, err := ParseProxy(proxy); err == nil {
			out = append(out, p)
		}
	}
	return out
}

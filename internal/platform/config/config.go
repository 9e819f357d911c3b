// Package config loads service configuration from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full service configuration.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Storage  StorageConfig
	Auth     AuthConfig
	Workflow WorkflowConfig
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
	LogLevel    string
	// StoreDriver selects the persistence backend: "postgres" or "memory".
	StoreDriver string
	// SeedRoles pre-populates the in-memory directory, as "role:user_id".
	SeedRoles []string
}

type ServerConfig struct {
	Port            int
	GRPCPort        int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	IdempotencyTTL time.Duration
}

type NATSConfig struct {
	URL string
}

type StorageConfig struct {
	Bucket        string
	Region        string
	Endpoint      string
	PublicBaseURL string
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// WorkflowConfig holds the approval policies for the two open product
// decisions: what to do when no rule matches, and when a role has no user.
type WorkflowConfig struct {
	NoRulePolicy         string
	UnresolvedRolePolicy string
	// OverdueSweepInterval is how often issued assets past their due date are
	// flagged overdue. Zero disables the sweep.
	OverdueSweepInterval time.Duration
}

var (
	validNoRulePolicies         = []string{"block", "auto_approve", "reject"}
	validUnresolvedRolePolicies = []string{"fail", "skip"}
)

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	// Missing .env is fine; the environment is authoritative.
	_ = godotenv.Load()

	cfg := &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", "be-office-bills"),
			Version:     getEnv("SERVICE_VERSION", "dev"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			StoreDriver: getEnv("STORE_DRIVER", "postgres"),
			SeedRoles:   getEnvSlice("MEMORY_SEED_ROLES", nil),
		},
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8085),
			GRPCPort:        getEnvInt("GRPC_PORT", 9085),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 20*time.Second),
			AllowedOrigins:  getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", ""),
			Database:    getEnv("DB_NAME", "office_ops"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			MaxConns:    int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns:    int32(getEnvInt("DB_MIN_CONNS", 1)),
			MaxConnTime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxIdleTime: getEnvDuration("DB_MAX_CONN_IDLE", 30*time.Minute),
			HealthCheck: getEnvDuration("DB_HEALTH_CHECK_PERIOD", time.Minute),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", ""),
			Password:       getEnv("REDIS_PASS", ""),
			DB:             getEnvInt("REDIS_DB", 0),
			IdempotencyTTL: getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", ""),
		},
		Storage: StorageConfig{
			Bucket:        getEnv("STORAGE_BUCKET", "bill-files"),
			Region:        getEnv("STORAGE_REGION", "us-east-1"),
			Endpoint:      getEnv("STORAGE_ENDPOINT", ""),
			PublicBaseURL: getEnv("STORAGE_PUBLIC_BASE_URL", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
			Audience:  getEnv("JWT_AUDIENCE", ""),
		},
		Workflow: WorkflowConfig{
			NoRulePolicy:         strings.ToLower(getEnv("WORKFLOW_NO_RULE_POLICY", "block")),
			UnresolvedRolePolicy: strings.ToLower(getEnv("WORKFLOW_UNRESOLVED_ROLE_POLICY", "fail")),
			OverdueSweepInterval: getEnvDuration("ASSET_OVERDUE_SWEEP_INTERVAL", time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Server.Port)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid GRPC_PORT %d", c.Server.GRPCPort)
	}
	if !contains(validNoRulePolicies, c.Workflow.NoRulePolicy) {
		return fmt.Errorf("invalid WORKFLOW_NO_RULE_POLICY %q (want one of %s)",
			c.Workflow.NoRulePolicy, strings.Join(validNoRulePolicies, ", "))
	}
	if !contains(validUnresolvedRolePolicies, c.Workflow.UnresolvedRolePolicy) {
		return fmt.Errorf("invalid WORKFLOW_UNRESOLVED_ROLE_POLICY %q (want one of %s)",
			c.Workflow.UnresolvedRolePolicy, strings.Join(validUnresolvedRolePolicies, ", "))
	}
	if c.Workflow.OverdueSweepInterval < 0 {
		return fmt.Errorf("invalid ASSET_OVERDUE_SWEEP_INTERVAL %s", c.Workflow.OverdueSweepInterval)
	}
	switch c.Service.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.Service.StoreDriver)
	}
	if c.Auth.JWTSecret == "" && c.Service.Environment == "production" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

// DSN renders the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return fallback
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

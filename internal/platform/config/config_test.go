package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8085, cfg.Server.Port)
	assert.Equal(t, 9085, cfg.Server.GRPCPort)
	assert.Equal(t, "block", cfg.Workflow.NoRulePolicy)
	assert.Equal(t, "fail", cfg.Workflow.UnresolvedRolePolicy)
	assert.Equal(t, "bill-files", cfg.Storage.Bucket)
	assert.Equal(t, 24*time.Hour, cfg.Redis.IdempotencyTTL)
	assert.Equal(t, time.Hour, cfg.Workflow.OverdueSweepInterval)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("PORT", "9000")
	t.Setenv("WORKFLOW_NO_RULE_POLICY", "AUTO_APPROVE")
	t.Setenv("WORKFLOW_UNRESOLVED_ROLE_POLICY", "skip")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SERVER_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("ASSET_OVERDUE_SWEEP_INTERVAL", "15m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "auto_approve", cfg.Workflow.NoRulePolicy)
	assert.Equal(t, "skip", cfg.Workflow.UnresolvedRolePolicy)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Workflow.OverdueSweepInterval)
}

func TestLoad_RejectsNegativeSweepInterval(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ASSET_OVERDUE_SWEEP_INTERVAL", "-1m")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ASSET_OVERDUE_SWEEP_INTERVAL")
}

func TestLoad_RejectsUnknownPolicy(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("WORKFLOW_NO_RULE_POLICY", "maybe")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKFLOW_NO_RULE_POLICY")
}

func TestLoad_RequiresSecretInProduction(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5433, Database: "ops", SSLMode: "require"}
	assert.Equal(t, "postgres://u:p@db:5433/ops?sslmode=require", d.DSN())
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) {
	t.Helper()
	for _, k := range []string{"APP_ENV", "DATABASE_URL", "REDIS_URL", "JWT_SECRET", "KAFKA_BROKERS",
		"SESSION_TTL", "PAYROLL_CONCURRENCY", "CLAIM_RATE_LIMIT_PER_MIN", "IDEMPOTENCY_TTL_SECONDS", "IDEMPOTENCY_TTL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv(envFileEnvVar, filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoadDevelopmentDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsDev() || cfg.JWTSecret == "" {
		t.Fatalf("expected dev config with fallback secret, got %+v", cfg)
	}
	if cfg.SessionTTL != defaultSessionTTL || cfg.PayrollConcurrency != defaultPayrollWorkers {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}

func TestLoadProductionRequiresInfrastructure(t *testing.T) {
	isolate(t)
	t.Setenv("APP_ENV", "production")

	if _, err := Load(); err == nil {
		t.Fatal("expected missing DATABASE_URL to fail")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/classbank")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "short")
	if _, err := Load(); err == nil {
		t.Fatal("expected short JWT secret to fail")
	}

	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SESSION_TTL", "30m")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("unexpected session ttl %s", cfg.SessionTTL)
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("PAYROLL_CONCURRENCY=3\nCLAIM_RATE_LIMIT_PER_MIN=4\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv(envFileEnvVar, path)
	t.Cleanup(func() {
		os.Unsetenv("PAYROLL_CONCURRENCY")
		os.Unsetenv("CLAIM_RATE_LIMIT_PER_MIN")
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PayrollConcurrency != 3 || cfg.ClaimRateLimit != 4 {
		t.Fatalf("env file not applied: %+v", cfg)
	}
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	isolate(t)
	t.Setenv("PAYROLL_CONCURRENCY", "zero")
	if _, err := Load(); err == nil {
		t.Fatal("expected invalid PAYROLL_CONCURRENCY to fail")
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// setRequiredEnv sets the minimum configuration for a valid load.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/rosterly_test")
	t.Setenv("UNSUBSCRIBE_TOKEN_SECRET", "token-secret")
	t.Setenv("CRON_SHARED_SECRET", "cron-secret")
	t.Setenv("STRIPE_API_KEY", "sk_test_123")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, errs := Load("")
	if len(errs) != 0 {
		t.Fatalf("Load() errors = %v", errs)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.Env != DefaultEnv {
		t.Errorf("Env = %q, want %q", cfg.Env, DefaultEnv)
	}
	if cfg.ExportWindowDays != DefaultExportWindowDays {
		t.Errorf("ExportWindowDays = %d, want %d", cfg.ExportWindowDays, DefaultExportWindowDays)
	}
	if cfg.AuditRetentionDays != DefaultAuditRetentionDays {
		t.Errorf("AuditRetentionDays = %d, want %d", cfg.AuditRetentionDays, DefaultAuditRetentionDays)
	}
	if cfg.AgeThresholdYears != DefaultAgeThresholdYears {
		t.Errorf("AgeThresholdYears = %d, want %d", cfg.AgeThresholdYears, DefaultAgeThresholdYears)
	}
	if cfg.RateLimitMaxPerSource <= cfg.RateLimitMaxPerSubject {
		t.Error("default source ceiling must exceed the subject ceiling")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	// Clear anything the environment might carry.
	for _, key := range []string{"DATABASE_URL", "UNSUBSCRIBE_TOKEN_SECRET", "CRON_SHARED_SECRET", "STRIPE_API_KEY"} {
		t.Setenv(key, "")
	}

	_, errs := Load("")
	want := []error{ErrMissingDatabaseURL, ErrMissingUnsubscribeTokenSecret, ErrMissingCronSharedSecret, ErrMissingStripeAPIKey}
	for _, wantErr := range want {
		found := false
		for _, err := range errs {
			if errors.Is(err, wantErr) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Load() errors missing %v", wantErr)
		}
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: 3000\nexport_window_days: 14\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, errs := Load(path)
	if len(errs) != 0 {
		t.Fatalf("Load() errors = %v", errs)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, env must beat file", cfg.Port)
	}
	if cfg.ExportWindowDays != 14 {
		t.Errorf("ExportWindowDays = %d, file value should be used when env is unset", cfg.ExportWindowDays)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "not-a-number")

	_, errs := Load("")
	found := false
	for _, err := range errs {
		if errors.Is(err, ErrInvalidPort) {
			found = true
		}
	}
	if !found {
		t.Errorf("Load() errors = %v, want ErrInvalidPort", errs)
	}
}

func TestLoad_RateLimitCeilingOrder(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RATE_LIMIT_MAX_PER_SUBJECT", "50")
	t.Setenv("RATE_LIMIT_MAX_PER_SOURCE", "50")

	_, errs := Load("")
	found := false
	for _, err := range errs {
		if errors.Is(err, ErrInvalidRateLimitCeilings) {
			found = true
		}
	}
	if !found {
		t.Errorf("Load() errors = %v, want ErrInvalidRateLimitCeilings", errs)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	setRequiredEnv(t)
	if _, errs := Load("/nonexistent/config.yaml"); len(errs) == 0 {
		t.Error("Load() with missing file should return an error")
	}
}

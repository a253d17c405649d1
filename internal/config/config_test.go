package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

// clearEnv unsets every OFFSYNC_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
		os.Unsetenv(s.env)
	}
}

var noSecret = mockKeychain{err: errors.New("not found")}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OFFSYNC_AUTH_JWT_SECRET", "test-secret")

	cfg, err := loadWith(writeTempConfig(t, `{}`), noSecret, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Storage.DefaultLimitMB != 1024 {
		t.Errorf("Storage.DefaultLimitMB = %d, want 1024", cfg.Storage.DefaultLimitMB)
	}
	if cfg.Tasks.Workers != 4 || cfg.Tasks.QueueSize != 100 {
		t.Errorf("Tasks = %+v", cfg.Tasks)
	}
	if cfg.Tasks.StepDelay != 500*time.Millisecond {
		t.Errorf("Tasks.StepDelay = %v, want 500ms", cfg.Tasks.StepDelay)
	}
	if cfg.Tasks.MaxRunDuration != 30*time.Minute {
		t.Errorf("Tasks.MaxRunDuration = %v, want 30m", cfg.Tasks.MaxRunDuration)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour || cfg.Auth.Issuer != "offsync" {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if cfg.Log.Level != "info" || cfg.Log.File != "" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

// TestFileParsing verifies that fields are correctly read from the JSON backend.
func TestFileParsing(t *testing.T) {
	clearEnv(t)
	t.Setenv("OFFSYNC_AUTH_JWT_SECRET", "test-secret")

	b := writeTempConfig(t, `{
  "server.port": 5000,
  "server.rate_limit_rps": "2.5",
  "storage.data_dir": "/tmp/offsync-test",
  "storage.default_limit_mb": 200,
  "source.dir": "/srv/content",
  "auth.token_ttl": "2h",
  "tasks.step_delay": "10ms",
  "mcp.owner_id": 42,
  "log.file": "/var/log/offsync.log"
}`)
	cfg, err := loadWith(b, noSecret, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Server.RateLimitRPS != 2.5 {
		t.Errorf("Server.RateLimitRPS = %v, want 2.5", cfg.Server.RateLimitRPS)
	}
	if cfg.Storage.DataDir != "/tmp/offsync-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.DefaultLimitMB != 200 {
		t.Errorf("Storage.DefaultLimitMB = %d", cfg.Storage.DefaultLimitMB)
	}
	if cfg.Source.Dir != "/srv/content" {
		t.Errorf("Source.Dir = %q", cfg.Source.Dir)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Errorf("Auth.TokenTTL = %v", cfg.Auth.TokenTTL)
	}
	if cfg.Tasks.StepDelay != 10*time.Millisecond {
		t.Errorf("Tasks.StepDelay = %v", cfg.Tasks.StepDelay)
	}
	if cfg.MCP.OwnerID != 42 {
		t.Errorf("MCP.OwnerID = %d", cfg.MCP.OwnerID)
	}
	if cfg.Log.File != "/var/log/offsync.log" {
		t.Errorf("Log.File = %q", cfg.Log.File)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("OFFSYNC_AUTH_JWT_SECRET", "env-secret")
	t.Setenv("OFFSYNC_SERVER_PORT", "6000")
	t.Setenv("OFFSYNC_TASKS_SWEEP_INTERVAL", "5s")

	cfg, err := loadWith(writeTempConfig(t, `{"server.port": 5000}`), noSecret, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Tasks.SweepInterval != 5*time.Second {
		t.Errorf("Tasks.SweepInterval = %v, want 5s", cfg.Tasks.SweepInterval)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Errorf("Auth.JWTSecret = %q", cfg.Auth.JWTSecret)
	}
}

// TestInvalidEnvKeepsDefault verifies a malformed value is ignored.
func TestInvalidEnvKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("OFFSYNC_AUTH_JWT_SECRET", "s")
	t.Setenv("OFFSYNC_TASKS_STEP_DELAY", "soon")

	cfg, err := loadWith(writeTempConfig(t, `{}`), noSecret, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Tasks.StepDelay != 500*time.Millisecond {
		t.Errorf("Tasks.StepDelay = %v, want default", cfg.Tasks.StepDelay)
	}
}

// TestDotEnvFile verifies .env values apply but never beat the real environment.
func TestDotEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("OFFSYNC_SERVER_PORT", "7000")

	envFile := filepath.Join(t.TempDir(), ".env")
	content := "OFFSYNC_AUTH_JWT_SECRET=dotenv-secret\nOFFSYNC_SERVER_PORT=8000\nOFFSYNC_LOG_LEVEL=debug\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadWith(writeTempConfig(t, `{}`), noSecret, envFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.JWTSecret != "dotenv-secret" {
		t.Errorf("Auth.JWTSecret = %q, want dotenv-secret", cfg.Auth.JWTSecret)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000 from the process environment", cfg.Server.Port)
	}
}

// TestMissingDotEnvIsIgnored verifies an absent .env file is not an error.
func TestMissingDotEnvIsIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("OFFSYNC_AUTH_JWT_SECRET", "s")

	if _, err := loadWith(writeTempConfig(t, `{}`), noSecret, filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestMissingRequiredSecret verifies a clear error when the JWT secret is missing everywhere.
func TestMissingRequiredSecret(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(writeTempConfig(t, `{}`), noSecret, "")
	if err == nil {
		t.Fatal("expected error for missing JWT secret, got nil")
	}
	if got := err.Error(); !strings.Contains(got, "missing required config") {
		t.Errorf("error = %q, want it to mention missing required config", got)
	}
}

// TestSecretStoreFallback verifies the secret store is consulted when no secret is in the environment.
func TestSecretStoreFallback(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(writeTempConfig(t, `{}`), mockKeychain{value: "stored-secret"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.JWTSecret != "stored-secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "stored-secret")
	}
}

func TestSetKey(t *testing.T) {
	b := writeTempConfig(t, `{}`)

	if err := setKey(b, "server.port", "4100"); err != nil {
		t.Fatalf("setKey(server.port): %v", err)
	}
	if err := setKey(b, "tasks.step_delay", "250ms"); err != nil {
		t.Fatalf("setKey(tasks.step_delay): %v", err)
	}
	if err := setKey(b, "tasks.step_delay", "later"); err == nil {
		t.Error("expected error for invalid duration")
	}
	if err := setKey(b, "auth.jwt_secret", "x"); err == nil {
		t.Error("expected error when setting a secret")
	}
	if err := setKey(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	reloaded := newFileBackend(b.path)
	if v, ok, _ := reloaded.GetInt("server.port"); !ok || v != 4100 {
		t.Errorf("server.port = %d, %v", v, ok)
	}
	if v, ok, _ := reloaded.GetString("tasks.step_delay"); !ok || v != "250ms" {
		t.Errorf("tasks.step_delay = %q, %v", v, ok)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Auth.JWTSecret = "hidden"
	for _, k := range ShowAll(cfg) {
		if k.Key == "auth.jwt_secret" || k.Value == "hidden" {
			t.Errorf("secret exposed: %+v", k)
		}
	}
	if len(ValidKeys()) != len(specs)-1 {
		t.Errorf("ValidKeys() = %d keys, want %d", len(ValidKeys()), len(specs)-1)
	}
}

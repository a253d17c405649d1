package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Source  SourceConfig
	Auth    AuthConfig
	Tasks   TasksConfig
	MCP     MCPConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port           int
	RateLimitRPS   float64
	RateLimitBurst int
}

type StorageConfig struct {
	DataDir        string
	DefaultLimitMB int
}

type SourceConfig struct {
	Dir string
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

type TasksConfig struct {
	Workers        int
	QueueSize      int
	StepDelay      time.Duration
	MaxRunDuration time.Duration
	SweepInterval  time.Duration
}

type MCPConfig struct {
	OwnerID int
}

type LogConfig struct {
	Level     string
	File      string
	MaxSizeMB int
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:           4000,
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		Storage: StorageConfig{
			DataDir:        dataDir,
			DefaultLimitMB: 1024,
		},
		Auth: AuthConfig{
			Issuer:   "offsync",
			TokenTTL: 24 * time.Hour,
		},
		Tasks: TasksConfig{
			Workers:        4,
			QueueSize:      100,
			StepDelay:      500 * time.Millisecond,
			MaxRunDuration: 30 * time.Minute,
			SweepInterval:  time.Minute,
		},
		MCP: MCPConfig{
			OwnerID: 1,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 50,
		},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.offsync.app) and the JWT
// secret falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/offsync/config.json
// and the JWT secret falls back to $XDG_DATA_HOME/offsync/secrets.json.
//
// Variables from .env never override variables already set in the process
// environment. Environment variables (OFFSYNC_*) override backend values on
// all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{}, ".env")
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain, envFile string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !isNotExist(err) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	applyEnvOverrides(&cfg)

	if cfg.Auth.JWTSecret == "" {
		if key, err := kc.Get(secretService, jwtSecretAccount); err == nil && key != "" {
			cfg.Auth.JWTSecret = key
		}
	}

	if cfg.Auth.JWTSecret == "" {
		msg := "missing required config: JWT signing secret. " +
			"Set it via environment variable OFFSYNC_AUTH_JWT_SECRET" +
			secretHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

const (
	secretService    = "offsync"
	jwtSecretAccount = "jwt_secret"
)

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ClientConfig configures the installation service and receive client.
type ClientConfig struct {
	BaseURL              string
	AppID                string
	AppKey               string
	MasterKey            string
	SessionToken         string
	InstallationFile     string
	AppVersion           string
	HTTPTimeout          time.Duration
	ReachabilityInterval time.Duration
	LogLevel             string
}

// ServerConfig configures the development push backend.
type ServerConfig struct {
	Port             int
	AppID            string
	AppKey           string
	MasterKey        string
	MasterSecret     string
	CredentialExpiry time.Duration
	PublicURL        string
	StateFile        string
	GinMode          string
	TLSCertFile      string
	TLSKeyFile       string
	LogLevel         string
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadClientConfig() (ClientConfig, error) {
	return LoadClientConfigFromEnv(osEnv{})
}

func LoadServerConfig() (ServerConfig, error) {
	return LoadServerConfigFromEnv(osEnv{})
}

func LoadClientConfigFromEnv(env Env) (ClientConfig, error) {
	cfg := ClientConfig{
		AppVersion:           "0",
		HTTPTimeout:          30 * time.Second,
		ReachabilityInterval: 10 * time.Second,
		LogLevel:             "info",
	}

	cfg.BaseURL = strings.TrimRight(env.Getenv("PUSH_BASE_URL"), "/")
	if cfg.BaseURL == "" {
		return ClientConfig{}, fmt.Errorf("PUSH_BASE_URL is required")
	}
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return ClientConfig{}, fmt.Errorf("invalid PUSH_BASE_URL")
	}

	cfg.AppID = env.Getenv("PUSH_APP_ID")
	cfg.AppKey = env.Getenv("PUSH_APP_KEY")
	if cfg.AppID == "" || cfg.AppKey == "" {
		return ClientConfig{}, fmt.Errorf("PUSH_APP_ID and PUSH_APP_KEY are required")
	}
	cfg.MasterKey = env.Getenv("PUSH_MASTER_KEY")
	cfg.SessionToken = env.Getenv("PUSH_SESSION_TOKEN")

	cfg.InstallationFile = env.Getenv("PUSH_INSTALLATION_FILE")
	if cfg.InstallationFile == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return ClientConfig{}, fmt.Errorf("PUSH_INSTALLATION_FILE is required: %w", err)
		}
		cfg.InstallationFile = filepath.Join(dir, "ssepush", "installation.json")
	}

	if raw := env.Getenv("PUSH_APP_VERSION"); raw != "" {
		cfg.AppVersion = raw
	}

	if raw := env.Getenv("PUSH_HTTP_TIMEOUT_SECONDS"); raw != "" {
		d, err := seconds(raw)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("invalid PUSH_HTTP_TIMEOUT_SECONDS")
		}
		cfg.HTTPTimeout = d
	}
	if raw := env.Getenv("PUSH_REACHABILITY_INTERVAL_SECONDS"); raw != "" {
		d, err := seconds(raw)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("invalid PUSH_REACHABILITY_INTERVAL_SECONDS")
		}
		cfg.ReachabilityInterval = d
	}
	if raw := env.Getenv("PUSH_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}

	return cfg, nil
}

func LoadServerConfigFromEnv(env Env) (ServerConfig, error) {
	cfg := ServerConfig{
		Port:             3000,
		GinMode:          "release",
		CredentialExpiry: time.Hour,
		LogLevel:         "info",
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return ServerConfig{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.AppID = env.Getenv("APP_ID")
	cfg.AppKey = env.Getenv("APP_KEY")
	cfg.MasterKey = env.Getenv("MASTER_KEY")
	if cfg.AppID == "" || cfg.AppKey == "" || cfg.MasterKey == "" {
		return ServerConfig{}, fmt.Errorf("APP_ID, APP_KEY and MASTER_KEY are required")
	}

	cfg.MasterSecret = env.Getenv("MASTER_SECRET")
	if cfg.MasterSecret == "" {
		return ServerConfig{}, fmt.Errorf("MASTER_SECRET is required")
	}

	if raw := env.Getenv("CREDENTIAL_EXPIRY_SECONDS"); raw != "" {
		d, err := seconds(raw)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("invalid CREDENTIAL_EXPIRY_SECONDS")
		}
		cfg.CredentialExpiry = d
	}

	cfg.PublicURL = strings.TrimRight(env.Getenv("PUBLIC_URL"), "/")
	if cfg.PublicURL == "" {
		cfg.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	cfg.StateFile = env.Getenv("INSTALLATIONS_STATE_FILE")

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return ServerConfig{}, fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}

	return cfg, nil
}

func seconds(raw string) (time.Duration, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid seconds %q", raw)
	}
	return time.Duration(n) * time.Second, nil
}

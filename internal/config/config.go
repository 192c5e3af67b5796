package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the halpline server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir           string
	HTTPPort          int
	RedisAddr         string
	BaseURL           string // public URL the voice platform calls back to
	CredsPath         string // creds.json (voice platform, media CMS, error reporting)
	NumbersPath       string // numbers.json outbound number manifest
	AdminPasswordHash string // bcrypt hash guarding the debug surface
	JWTSecret         string // hex-encoded 32-byte secret for debug token signing
	LogLevel          string
	LogFormat         string // log output format: "text" or "json"
}

// defaults
const (
	defaultDataDir   = "./data"
	defaultHTTPPort  = 8080
	defaultRedisAddr = "localhost:6379"
	defaultCreds     = "./creds.json"
	defaultNumbers   = "./numbers.json"
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// envPrefix is the prefix for all halpline environment variables.
const envPrefix = "HALPLINE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("halpline", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the call log database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", defaultRedisAddr, "redis server address (host:port)")
	fs.StringVar(&cfg.BaseURL, "base-url", "", "public base URL for voice platform callbacks (e.g., https://halpline.example.com)")
	fs.StringVar(&cfg.CredsPath, "creds", defaultCreds, "path to the credentials file")
	fs.StringVar(&cfg.NumbersPath, "numbers", defaultNumbers, "path to the outbound numbers manifest")
	fs.StringVar(&cfg.AdminPasswordHash, "admin-password-hash", "", "bcrypt hash of the debug surface password (debug routes disabled if empty)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for debug token signing")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":            envPrefix + "DATA_DIR",
		"http-port":           envPrefix + "HTTP_PORT",
		"redis-addr":          envPrefix + "REDIS_ADDR",
		"base-url":            envPrefix + "BASE_URL",
		"creds":               envPrefix + "CREDS",
		"numbers":             envPrefix + "NUMBERS",
		"admin-password-hash": envPrefix + "ADMIN_PASSWORD_HASH",
		"jwt-secret":          envPrefix + "JWT_SECRET",
		"log-level":           envPrefix + "LOG_LEVEL",
		"log-format":          envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "redis-addr":
			cfg.RedisAddr = val
		case "base-url":
			cfg.BaseURL = val
		case "creds":
			cfg.CredsPath = val
		case "numbers":
			cfg.NumbersPath = val
		case "admin-password-hash":
			cfg.AdminPasswordHash = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base-url is required (the voice platform must be able to reach this server)")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base-url must be an absolute URL, got %q", c.BaseURL)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.JWTSecret != "" {
		key, err := hex.DecodeString(c.JWTSecret)
		if err != nil {
			return fmt.Errorf("jwt-secret must be hex: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("jwt-secret must decode to 32 bytes, got %d", len(key))
		}
	}

	return nil
}

// WebhookURL joins a callback path onto the configured public base URL.
func (c *Config) WebhookURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.BaseURL + path
}

// JWTSecretBytes returns the decoded 32-byte token signing secret.
// Validity is checked at Load. If no secret is configured, it generates a
// random key and keeps the hex form for the process lifetime.
func (c *Config) JWTSecretBytes() []byte {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		rand.Read(key)
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key
	}
	key, _ := hex.DecodeString(c.JWTSecret)
	return key
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Creds holds secrets loaded from the credentials file. They stay out of
// flags and env so that process listings never carry them.
type Creds struct {
	Twilio struct {
		SID   string `json:"sid"`
		Token string `json:"token"`
	} `json:"twilio"`
	MediaCMS struct {
		BaseURL string `json:"base_url"`
		User    string `json:"user"`
		Secret  string `json:"secret"`
	} `json:"resource_space"`
	ErrorReports struct {
		NumbersToText []string `json:"numbers_to_text"`
	} `json:"error_reports"`
}

// LoadCreds reads and validates the credentials file.
func LoadCreds(path string) (*Creds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	var creds Creds
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}
	if creds.Twilio.SID == "" || creds.Twilio.Token == "" {
		return nil, fmt.Errorf("credentials file %s is missing twilio sid/token", path)
	}
	return &creds, nil
}

// Package config loads application configuration from an optional JSON
// settings file and the environment. Environment variables always win.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"
)

// Config holds application configuration.
type Config struct {
	Env           Environment
	Port          string
	LogLevel      string
	LogFormat     string
	LogFilePath   string
	Database      DatabaseConfig
	Scan          ScanConfig
	Import        ImportConfig
	Notifications NotificationConfig
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// ScanConfig tunes the TLS endpoint scanner.
type ScanConfig struct {
	DefaultPort     int
	Timeout         time.Duration
	Concurrency     int
	VerifyChain     bool
	EnrichSchedule  string
	EnrichBatchSize int
}

// ImportConfig sets the CSV ingestion defaults.
type ImportConfig struct {
	Delimiter string
	HasHeader bool
}

// NotificationConfig drives the expiration alert engine.
type NotificationConfig struct {
	Enabled           bool
	DefaultRecipients []string
	CheckSchedule     string
	SummarySchedule   string
	RecomputeSchedule string
	SMTP              SMTPConfig
}

// SMTPConfig is the outgoing mail relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
	Insecure bool
}

// settingsFile mirrors the optional JSON settings document.
type settingsFile struct {
	App struct {
		Env     string `json:"env"`
		Port    int    `json:"port"`
		Logging struct {
			Level    string `json:"level"`
			Format   string `json:"format"`
			FilePath string `json:"file_path"`
		} `json:"logging"`
	} `json:"app"`
	Database struct {
		Driver string `json:"driver"`
		DSN    string `json:"dsn"`
	} `json:"database"`
	Scan struct {
		DefaultPort     int    `json:"default_port"`
		TimeoutSeconds  int    `json:"timeout_seconds"`
		Concurrency     int    `json:"concurrency"`
		VerifyChain     bool   `json:"verify_chain"`
		EnrichSchedule  string `json:"enrich_schedule"`
		EnrichBatchSize int    `json:"enrich_batch_size"`
	} `json:"scan"`
	Import struct {
		Delimiter string `json:"delimiter"`
		HasHeader *bool  `json:"has_header"`
	} `json:"import"`
	Notifications struct {
		Enabled           *bool    `json:"enabled"`
		DefaultRecipients []string `json:"default_recipients"`
		CheckSchedule     string   `json:"check_schedule"`
		SummarySchedule   string   `json:"summary_schedule"`
		RecomputeSchedule string   `json:"recompute_schedule"`
		SMTP              struct {
			Host     string `json:"host"`
			Port     int    `json:"port"`
			Username string `json:"username"`
			Password string `json:"password"`
			From     string `json:"from"`
			UseTLS   bool   `json:"use_tls"`
			Insecure bool   `json:"insecure"`
		} `json:"smtp"`
	} `json:"notifications"`
}

// Load reads configuration: defaults, then the settings file when one is
// found, then environment variables.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	settings, settingsPath, err := loadSettingsFile()
	if err != nil && settingsPath != "" {
		return Config{}, fmt.Errorf("invalid settings file %s: %w", settingsPath, err)
	}
	if settings != nil {
		applySettings(&cfg, *settings)
	}

	applyEnv(&cfg)

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel(cfg.Env)
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat(cfg.Env)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Env:  EnvDev,
		Port: "52100",
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "certitrack.db",
		},
		Scan: ScanConfig{
			DefaultPort:     443,
			Timeout:         10 * time.Second,
			Concurrency:     10,
			EnrichSchedule:  "0 3 * * 0",
			EnrichBatchSize: 50,
		},
		Import: ImportConfig{
			Delimiter: "comma",
			HasHeader: true,
		},
		Notifications: NotificationConfig{
			Enabled:           true,
			CheckSchedule:     "0 8 * * *",
			SummarySchedule:   "0 9 * * *",
			RecomputeSchedule: "30 0 * * *",
			SMTP:              SMTPConfig{Port: 587},
		},
	}
}

func loadSettingsFile() (*settingsFile, string, error) {
	settingsPath := strings.TrimSpace(getEnv("SETTINGS_PATH", ""))
	candidates := []string{"settings.json", "/etc/certitrack/settings.json"}
	if settingsPath != "" {
		candidates = []string{settingsPath}
	}

	for _, candidate := range candidates {
		absPath, absErr := filepath.Abs(candidate)
		if absErr != nil {
			continue
		}
		data, readErr := os.ReadFile(absPath)
		if readErr != nil {
			if settingsPath != "" {
				return nil, absPath, readErr
			}
			continue
		}
		var settings settingsFile
		if err := json.Unmarshal(data, &settings); err != nil {
			return nil, absPath, err
		}
		return &settings, absPath, nil
	}
	return nil, "", nil
}

func applySettings(cfg *Config, settings settingsFile) {
	if v := strings.TrimSpace(settings.App.Env); v != "" {
		cfg.Env = parseEnv(v)
	}
	if settings.App.Port > 0 {
		cfg.Port = strconv.Itoa(settings.App.Port)
	}
	if v := strings.TrimSpace(settings.App.Logging.Level); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(settings.App.Logging.Format); v != "" {
		cfg.LogFormat = v
	}
	if v := strings.TrimSpace(settings.App.Logging.FilePath); v != "" {
		cfg.LogFilePath = v
	}
	if v := strings.TrimSpace(settings.Database.Driver); v != "" {
		cfg.Database.Driver = v
	}
	if v := strings.TrimSpace(settings.Database.DSN); v != "" {
		cfg.Database.DSN = v
	}
	if settings.Scan.DefaultPort > 0 {
		cfg.Scan.DefaultPort = settings.Scan.DefaultPort
	}
	if settings.Scan.TimeoutSeconds > 0 {
		cfg.Scan.Timeout = time.Duration(settings.Scan.TimeoutSeconds) * time.Second
	}
	if settings.Scan.Concurrency > 0 {
		cfg.Scan.Concurrency = settings.Scan.Concurrency
	}
	cfg.Scan.VerifyChain = settings.Scan.VerifyChain
	if v := strings.TrimSpace(settings.Scan.EnrichSchedule); v != "" {
		cfg.Scan.EnrichSchedule = v
	}
	if settings.Scan.EnrichBatchSize > 0 {
		cfg.Scan.EnrichBatchSize = settings.Scan.EnrichBatchSize
	}
	if v := strings.TrimSpace(settings.Import.Delimiter); v != "" {
		cfg.Import.Delimiter = v
	}
	if settings.Import.HasHeader != nil {
		cfg.Import.HasHeader = *settings.Import.HasHeader
	}
	if settings.Notifications.Enabled != nil {
		cfg.Notifications.Enabled = *settings.Notifications.Enabled
	}
	if len(settings.Notifications.DefaultRecipients) > 0 {
		cfg.Notifications.DefaultRecipients = settings.Notifications.DefaultRecipients
	}
	if v := strings.TrimSpace(settings.Notifications.CheckSchedule); v != "" {
		cfg.Notifications.CheckSchedule = v
	}
	if v := strings.TrimSpace(settings.Notifications.SummarySchedule); v != "" {
		cfg.Notifications.SummarySchedule = v
	}
	if v := strings.TrimSpace(settings.Notifications.RecomputeSchedule); v != "" {
		cfg.Notifications.RecomputeSchedule = v
	}
	smtp := settings.Notifications.SMTP
	if strings.TrimSpace(smtp.Host) != "" {
		cfg.Notifications.SMTP = SMTPConfig{
			Host:     smtp.Host,
			Port:     smtp.Port,
			Username: smtp.Username,
			Password: smtp.Password,
			From:     smtp.From,
			UseTLS:   smtp.UseTLS,
			Insecure: smtp.Insecure,
		}
		if cfg.Notifications.SMTP.Port == 0 {
			cfg.Notifications.SMTP.Port = 587
		}
	}
}

func applyEnv(cfg *Config) {
	cfg.Env = parseEnv(getEnv("APP_ENV", string(cfg.Env)))
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.LogFilePath = getEnv("LOG_FILE_PATH", cfg.LogFilePath)

	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getEnv("DB_DSN", cfg.Database.DSN)

	cfg.Scan.DefaultPort = getEnvInt("SCAN_DEFAULT_PORT", cfg.Scan.DefaultPort)
	cfg.Scan.Timeout = time.Duration(getEnvInt("SCAN_TIMEOUT_SECONDS", int(cfg.Scan.Timeout/time.Second))) * time.Second
	cfg.Scan.Concurrency = getEnvInt("SCAN_CONCURRENCY", cfg.Scan.Concurrency)
	cfg.Scan.VerifyChain = getEnvBool("SCAN_VERIFY_CHAIN", cfg.Scan.VerifyChain)
	cfg.Scan.EnrichSchedule = getEnv("SCAN_ENRICH_SCHEDULE", cfg.Scan.EnrichSchedule)
	cfg.Scan.EnrichBatchSize = getEnvInt("SCAN_ENRICH_BATCH_SIZE", cfg.Scan.EnrichBatchSize)

	cfg.Import.Delimiter = getEnv("IMPORT_DELIMITER", cfg.Import.Delimiter)
	cfg.Import.HasHeader = getEnvBool("IMPORT_HAS_HEADER", cfg.Import.HasHeader)

	cfg.Notifications.Enabled = getEnvBool("NOTIFY_ENABLED", cfg.Notifications.Enabled)
	if recipients := getEnv("NOTIFY_DEFAULT_RECIPIENTS", ""); recipients != "" {
		parts := strings.Split(recipients, ",")
		cleaned := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		cfg.Notifications.DefaultRecipients = cleaned
	}
	cfg.Notifications.CheckSchedule = getEnv("NOTIFY_CHECK_SCHEDULE", cfg.Notifications.CheckSchedule)
	cfg.Notifications.SummarySchedule = getEnv("NOTIFY_SUMMARY_SCHEDULE", cfg.Notifications.SummarySchedule)
	cfg.Notifications.RecomputeSchedule = getEnv("NOTIFY_RECOMPUTE_SCHEDULE", cfg.Notifications.RecomputeSchedule)

	cfg.Notifications.SMTP.Host = getEnv("SMTP_HOST", cfg.Notifications.SMTP.Host)
	cfg.Notifications.SMTP.Port = getEnvInt("SMTP_PORT", cfg.Notifications.SMTP.Port)
	cfg.Notifications.SMTP.Username = getEnv("SMTP_USERNAME", cfg.Notifications.SMTP.Username)
	cfg.Notifications.SMTP.Password = getEnv("SMTP_PASSWORD", cfg.Notifications.SMTP.Password)
	cfg.Notifications.SMTP.From = getEnv("SMTP_FROM", cfg.Notifications.SMTP.From)
	cfg.Notifications.SMTP.UseTLS = getEnvBool("SMTP_USE_TLS", cfg.Notifications.SMTP.UseTLS)
	cfg.Notifications.SMTP.Insecure = getEnvBool("SMTP_INSECURE", cfg.Notifications.SMTP.Insecure)
}

// IsDev returns true if the environment is development.
func (c Config) IsDev() bool {
	return c.Env == EnvDev
}

// IsProd returns true if the environment is production.
func (c Config) IsProd() bool {
	return c.Env == EnvProd
}

func parseEnv(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "production":
		return EnvProd
	default:
		return EnvDev
	}
}

func defaultLogLevel(env Environment) string {
	switch env {
	case EnvProd:
		return "info"
	default:
		return "debug"
	}
}

func defaultLogFormat(env Environment) string {
	switch env {
	case EnvProd:
		return "json"
	default:
		return "console"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// DatabaseConfig holds the database connection information.
type DatabaseConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

// RedisConfig holds the Redis connection used by the redis window and stats backends.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AdminConfig holds configuration for the admin API.
// PasswordHash, when set, is a bcrypt hash and takes precedence over Password.
type AdminConfig struct {
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
}

// GateConfig tunes the API key gate.
type GateConfig struct {
	DefaultRateLimit int           `yaml:"default_rate_limit"`
	KeyCacheTTL      time.Duration `yaml:"key_cache_ttl"`
	WindowBackend    string        `yaml:"window_backend"`
	StatsBackend     string        `yaml:"stats_backend"`
}

// ThrottleConfig holds the per-client-IP limits for routes outside the gate.
type ThrottleConfig struct {
	PublicPerMinute int `yaml:"public_per_minute"`
	AdminPerMinute  int `yaml:"admin_per_minute"`
}

// DispatchConfig controls how helper scripts are executed.
type DispatchConfig struct {
	ScriptsDir string        `yaml:"scripts_dir"`
	Shell      string        `yaml:"shell"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SchedulerConfig holds configuration for the housekeeping scheduler.
type SchedulerConfig struct {
	PurgeSchedule  string        `yaml:"purge_schedule"`
	PurgeOlderThan time.Duration `yaml:"purge_older_than"`
}

// CORSConfig lists origins allowed to call the public API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebhookConfig describes a single webhook endpoint.
type WebhookConfig struct {
	ID            string   `yaml:"id"`
	URL           string   `yaml:"url"`
	Secret        string   `yaml:"secret"`
	Events        []string `yaml:"events"`
	Active        bool     `yaml:"active"`
	RetryAttempts int      `yaml:"retry_attempts"`
}

// Config holds the configuration for the control panel API.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Admin     AdminConfig     `yaml:"admin"`
	Gate      GateConfig      `yaml:"gate"`
	Throttle  ThrottleConfig  `yaml:"throttle"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	CORS      CORSConfig      `yaml:"cors"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
	Port      int             `yaml:"port"`
	Debug     bool            `yaml:"debug"`
}

const envPrefix = "LOMPAPI_"

// Window and stats backends.
const (
	BackendSQL    = "sql"
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// LoadConfig reads and parses the configuration file. It returns the config and any warnings
// about defaulted values.
var LoadConfig = func(path string) (*Config, []string, error) {
	var config Config

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}
	// If the file does not exist we continue with an empty config and rely on environment variables.

	applyEnv(&config)
	warnings := applyDefaults(&config)

	if config.Database.Type == "" || config.Database.DSN == "" {
		return nil, nil, fmt.Errorf("database type and dsn must be configured in config.yaml or via environment variables")
	}
	switch config.Gate.WindowBackend {
	case BackendSQL, BackendRedis, BackendMemory:
	default:
		return nil, nil, fmt.Errorf("unsupported gate.window_backend: %s", config.Gate.WindowBackend)
	}
	switch config.Gate.StatsBackend {
	case BackendNone, BackendMemory, BackendRedis:
	default:
		return nil, nil, fmt.Errorf("unsupported gate.stats_backend: %s", config.Gate.StatsBackend)
	}
	if (config.Gate.WindowBackend == BackendRedis || config.Gate.StatsBackend == BackendRedis) && config.Redis.Addr == "" {
		return nil, nil, fmt.Errorf("redis.addr must be set when a redis backend is selected")
	}

	return &config, warnings, nil
}

func applyEnv(config *Config) {
	if dsn := os.Getenv(envPrefix + "DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if dbType := os.Getenv(envPrefix + "DATABASE_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if port, ok := intEnv("PORT"); ok {
		config.Port = port
	}
	if password := os.Getenv(envPrefix + "ADMIN_PASSWORD"); password != "" {
		config.Admin.Password = password
	}
	if hash := os.Getenv(envPrefix + "ADMIN_PASSWORD_HASH"); hash != "" {
		config.Admin.PasswordHash = hash
	}
	if debug := os.Getenv(envPrefix + "DEBUG"); debug != "" {
		config.Debug = debug == "true"
	}
	if addr := os.Getenv(envPrefix + "REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv(envPrefix + "REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if backend := os.Getenv(envPrefix + "WINDOW_BACKEND"); backend != "" {
		config.Gate.WindowBackend = strings.ToLower(backend)
	}
	if backend := os.Getenv(envPrefix + "STATS_BACKEND"); backend != "" {
		config.Gate.StatsBackend = strings.ToLower(backend)
	}
	if dir := os.Getenv(envPrefix + "SCRIPTS_DIR"); dir != "" {
		config.Dispatch.ScriptsDir = dir
	}
	if origins := os.Getenv(envPrefix + "CORS_ORIGINS"); origins != "" {
		config.CORS.AllowedOrigins = splitAndTrim(origins)
	}
}

func applyDefaults(config *Config) []string {
	var warnings []string
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Gate.DefaultRateLimit <= 0 {
		config.Gate.DefaultRateLimit = 100
	}
	if config.Gate.KeyCacheTTL == 0 {
		config.Gate.KeyCacheTTL = 30 * time.Second
	}
	if config.Gate.WindowBackend == "" {
		config.Gate.WindowBackend = BackendSQL
	}
	if config.Gate.StatsBackend == "" {
		config.Gate.StatsBackend = BackendNone
	}
	if config.Throttle.PublicPerMinute <= 0 {
		config.Throttle.PublicPerMinute = 200
	}
	if config.Throttle.AdminPerMinute <= 0 {
		config.Throttle.AdminPerMinute = 60
	}
	if config.Dispatch.ScriptsDir == "" {
		config.Dispatch.ScriptsDir = ".."
		warnings = append(warnings, "dispatch.scripts_dir not set, using default value of ..")
	}
	if config.Dispatch.Shell == "" {
		config.Dispatch.Shell = "bash"
	}
	if config.Dispatch.Timeout <= 0 {
		config.Dispatch.Timeout = 10 * time.Minute
	}
	if config.Scheduler.PurgeSchedule == "" {
		config.Scheduler.PurgeSchedule = "@daily"
	}
	if config.Scheduler.PurgeOlderThan <= 0 {
		config.Scheduler.PurgeOlderThan = time.Hour
	}
	if len(config.CORS.AllowedOrigins) == 0 {
		config.CORS.AllowedOrigins = []string{"*"}
	}
	if config.Admin.Password == "" && config.Admin.PasswordHash == "" {
		warnings = append(warnings, "admin password not set, the admin API will reject every request")
	}
	for i := range config.Webhooks {
		if config.Webhooks[i].RetryAttempts <= 0 {
			config.Webhooks[i].RetryAttempts = 3
		}
	}
	return warnings
}

func intEnv(name string) (int, bool) {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

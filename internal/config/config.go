package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// EnvPrefix is tried first for every key (NEXUS_PORT), then the bare name
// (PORT).
const EnvPrefix = "NEXUS"

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSheets   = "sheets"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"LOG_WARN_STACK" default:"false"`

	StoreBackend          string `envconfig:"STORE_BACKEND"`
	DatabaseURL           string `envconfig:"DATABASE_URL"`
	SheetsSpreadsheetID   string `envconfig:"SHEETS_SPREADSHEET_ID"`
	SheetsCredentialsFile string `envconfig:"SHEETS_CREDENTIALS_FILE"`
	SheetsCredentialsJSON string `envconfig:"SHEETS_CREDENTIALS_JSON"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	SnapshotCacheTTLSeconds int             `envconfig:"SNAPSHOT_CACHE_TTL_SECONDS" default:"10"`
	LowStockThreshold       decimal.Decimal `envconfig:"LOW_STOCK_THRESHOLD" default:"3"`

	AuthSecret            string `envconfig:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `envconfig:"ACCESS_TOKEN_TTL_MINUTES" default:"480"`
	OwnerUsername         string `envconfig:"OWNER_USERNAME" default:"owner"`
	OwnerPassword         string `envconfig:"OWNER_PASSWORD"`
	ManagerUsername       string `envconfig:"MANAGER_USERNAME" default:"manager"`
	ManagerPassword       string `envconfig:"MANAGER_PASSWORD"`

	ValidateSchemaOnStart bool          `envconfig:"VALIDATE_SCHEMA_ON_START" default:"true"`
	ShutdownTimeout       time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.OwnerPassword = strings.TrimSpace(cfg.OwnerPassword)
	cfg.ManagerPassword = strings.TrimSpace(cfg.ManagerPassword)
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = cfg.defaultBackend()
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
		}
	case BackendSheets:
		if cfg.SheetsSpreadsheetID == "" {
			return Config{}, fmt.Errorf("STORE_BACKEND=sheets requires SHEETS_SPREADSHEET_ID")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	if cfg.SnapshotCacheTTLSeconds < 0 {
		cfg.SnapshotCacheTTLSeconds = 0
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if !cfg.LowStockThreshold.IsPositive() {
		cfg.LowStockThreshold = decimal.NewFromInt(3)
	}
	return cfg, nil
}

func (c Config) defaultBackend() string {
	switch {
	case c.DatabaseURL != "":
		return BackendPostgres
	case c.SheetsSpreadsheetID != "":
		return BackendSheets
	default:
		return BackendMemory
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) SnapshotCacheTTL() time.Duration {
	return time.Duration(c.SnapshotCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

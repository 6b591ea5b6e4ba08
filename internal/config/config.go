// Package config loads the fulfillment service configuration.
//
// Values are resolved in three layers: compiled defaults, an optional YAML
// file named by CONFIG_FILE, and environment variables. Environment always
// wins so containers can override a mounted file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ServiceName    = "fulfillment-service"
	ServiceVersion = "1.0.0"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Collaborator sources.
const (
	SourcePostgres = "postgres"
	SourceHTTP     = "http"
)

// Withdrawal policies.
const (
	// PolicyReservePending subtracts outstanding PENDING payout debits from
	// the withdrawable balance.
	PolicyReservePending = "reserve-pending"
	// PolicyAvailableOnly checks only the completed balance, so several
	// requests may each pass before any is paid.
	PolicyAvailableOnly = "available-only"
)

// Duration wraps time.Duration so YAML files can say "5m" or "30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML accepts a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration back in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

type HTTP struct {
	Port string `yaml:"port"`
}

type Database struct {
	Host            string   `yaml:"host"`
	Port            string   `yaml:"port"`
	User            string   `yaml:"user"`
	Password        string   `yaml:"password"`
	Name            string   `yaml:"name"`
	MaxConns        int32    `yaml:"max_conns"`
	MaxConnLifetime Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime Duration `yaml:"max_conn_idle_time"`
	ConnectAttempts int      `yaml:"connect_attempts"`
	Migrate         bool     `yaml:"migrate"`
}

// DSN builds the connection string shared by pgx and lib/pq.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

type Telemetry struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

type Kafka struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	GroupID      string   `yaml:"group_id"`
	PaymentTopic string   `yaml:"payment_topic"`
	AlertTopic   string   `yaml:"alert_topic"`
	BatchTimeout Duration `yaml:"batch_timeout"`
}

type DTM struct {
	Enabled    bool   `yaml:"enabled"`
	Server     string `yaml:"server"`
	ServiceURL string `yaml:"service_url"`
	NotifyURL  string `yaml:"notify_url"`
}

type Commission struct {
	DefaultPercent float64  `yaml:"default_percent"`
	SettingsTTL    Duration `yaml:"settings_ttl"`
}

type Catalog struct {
	Source   string   `yaml:"source"`
	BaseURL  string   `yaml:"base_url"`
	CacheTTL Duration `yaml:"cache_ttl"`
	Timeout  Duration `yaml:"timeout"`
}

type Banking struct {
	Source  string   `yaml:"source"`
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

type Inventory struct {
	DefaultReservationMinutes int      `yaml:"default_reservation_minutes"`
	MaxReservationMinutes     int      `yaml:"max_reservation_minutes"`
	SweepInterval             Duration `yaml:"sweep_interval"`
	SweepBatchSize            int      `yaml:"sweep_batch_size"`
	LeaderElection            bool     `yaml:"leader_election"`
}

type Wallet struct {
	WithdrawalPolicy string `yaml:"withdrawal_policy"`
}

// Config holds the runtime configuration of the fulfillment service.
type Config struct {
	Storage    string     `yaml:"storage"`
	HTTP       HTTP       `yaml:"http"`
	Database   Database   `yaml:"database"`
	Telemetry  Telemetry  `yaml:"telemetry"`
	Kafka      Kafka      `yaml:"kafka"`
	DTM        DTM        `yaml:"dtm"`
	Commission Commission `yaml:"commission"`
	Catalog    Catalog    `yaml:"catalog"`
	Banking    Banking    `yaml:"banking"`
	Inventory  Inventory  `yaml:"inventory"`
	Wallet     Wallet     `yaml:"wallet"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Storage: StoragePostgres,
		HTTP:    HTTP{Port: "8080"},
		Database: Database{
			Host:            "localhost",
			Port:            "5432",
			User:            "root",
			Password:        "pass",
			Name:            "marketplace_db",
			MaxConns:        10,
			MaxConnLifetime: Duration{time.Hour},
			MaxConnIdleTime: Duration{30 * time.Minute},
			ConnectAttempts: 30,
			Migrate:         true,
		},
		Telemetry: Telemetry{
			Enabled:  false,
			Endpoint: "localhost:4318",
			Service:  ServiceName,
		},
		Kafka: Kafka{
			Enabled:      false,
			Brokers:      []string{"localhost:9092"},
			GroupID:      "fulfillment-service-group",
			PaymentTopic: "PaymentConfirmed",
			AlertTopic:   "LowStockAlert",
			BatchTimeout: Duration{10 * time.Millisecond},
		},
		DTM: DTM{
			Enabled:    false,
			Server:     "http://dtm:36789/api/dtmsvr",
			ServiceURL: "http://fulfillment-service:8080",
			NotifyURL:  "http://notifications-service:8080",
		},
		Commission: Commission{
			DefaultPercent: 10,
			SettingsTTL:    Duration{time.Minute},
		},
		Catalog: Catalog{
			Source:   SourcePostgres,
			CacheTTL: Duration{5 * time.Minute},
			Timeout:  Duration{5 * time.Second},
		},
		Banking: Banking{
			Source:  SourcePostgres,
			Timeout: Duration{5 * time.Second},
		},
		Inventory: Inventory{
			DefaultReservationMinutes: 15,
			MaxReservationMinutes:     120,
			SweepInterval:             Duration{5 * time.Minute},
			SweepBatchSize:            500,
			LeaderElection:            true,
		},
		Wallet: Wallet{
			WithdrawalPolicy: PolicyReservePending,
		},
	}
}

// Load reads defaults, then CONFIG_FILE (if set), then the environment.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s not found", path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Storage = getEnv("STORAGE_DRIVER", c.Storage)
	c.HTTP.Port = getEnv("PORT", c.HTTP.Port)

	c.Database.Host = getEnv("DATABASE_HOST", c.Database.Host)
	c.Database.Port = getEnv("DATABASE_PORT", c.Database.Port)
	c.Database.User = getEnv("DATABASE_USER", c.Database.User)
	c.Database.Password = getEnv("DATABASE_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DATABASE_NAME", c.Database.Name)

	c.Telemetry.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.Endpoint)
	c.Telemetry.Service = getEnv("SERVICE_NAME", c.Telemetry.Service)

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	c.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", c.Kafka.GroupID)

	c.DTM.Server = getEnv("DTM_SERVER", c.DTM.Server)
	c.DTM.ServiceURL = getEnv("SERVICE_URL", c.DTM.ServiceURL)
	c.DTM.NotifyURL = getEnv("NOTIFICATIONS_URL", c.DTM.NotifyURL)

	c.Catalog.Source = getEnv("CATALOG_SOURCE", c.Catalog.Source)
	c.Catalog.BaseURL = getEnv("CATALOG_SERVICE_URL", c.Catalog.BaseURL)
	c.Banking.Source = getEnv("BANKING_SOURCE", c.Banking.Source)
	c.Banking.BaseURL = getEnv("VENDOR_SERVICE_URL", c.Banking.BaseURL)

	c.Wallet.WithdrawalPolicy = getEnv("WITHDRAWAL_POLICY", c.Wallet.WithdrawalPolicy)

	var err error
	if c.Telemetry.Enabled, err = getEnvBool("OTEL_ENABLED", c.Telemetry.Enabled); err != nil {
		return err
	}
	if c.Kafka.Enabled, err = getEnvBool("KAFKA_ENABLED", c.Kafka.Enabled); err != nil {
		return err
	}
	if c.DTM.Enabled, err = getEnvBool("DTM_ENABLED", c.DTM.Enabled); err != nil {
		return err
	}
	if c.Inventory.LeaderElection, err = getEnvBool("SWEEP_LEADER_ELECTION", c.Inventory.LeaderElection); err != nil {
		return err
	}
	if c.Commission.DefaultPercent, err = getEnvFloat("DEFAULT_COMMISSION_PERCENT", c.Commission.DefaultPercent); err != nil {
		return err
	}
	if c.Inventory.SweepInterval.Duration, err = getEnvDuration("SWEEP_INTERVAL", c.Inventory.SweepInterval.Duration); err != nil {
		return err
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage)
	}

	if c.Commission.DefaultPercent < 0 || c.Commission.DefaultPercent > 100 {
		return fmt.Errorf("default commission percent must be within [0, 100], got %v", c.Commission.DefaultPercent)
	}

	inv := c.Inventory
	if inv.MaxReservationMinutes < 1 {
		return fmt.Errorf("max reservation minutes must be positive")
	}
	if inv.DefaultReservationMinutes < 1 || inv.DefaultReservationMinutes > inv.MaxReservationMinutes {
		return fmt.Errorf("default reservation minutes must be within [1, %d]", inv.MaxReservationMinutes)
	}
	if inv.SweepInterval.Duration <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	switch c.Wallet.WithdrawalPolicy {
	case PolicyReservePending, PolicyAvailableOnly:
	default:
		return fmt.Errorf("unknown withdrawal policy %q", c.Wallet.WithdrawalPolicy)
	}

	for _, source := range []string{c.Catalog.Source, c.Banking.Source} {
		if source != SourcePostgres && source != SourceHTTP {
			return fmt.Errorf("unknown collaborator source %q", source)
		}
	}
	if c.Catalog.CacheTTL.Duration <= 0 {
		return fmt.Errorf("catalog cache ttl must be positive")
	}
	if c.Catalog.Source == SourceHTTP && c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog base url is required for the http source")
	}
	if c.Banking.Source == SourceHTTP && c.Banking.BaseURL == "" {
		return fmt.Errorf("banking base url is required for the http source")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

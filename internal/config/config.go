package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ConfigName is the base name of the config file; any viper extension works.
const ConfigName = "livemap.cfg"

// HistoryConfig holds trail history settings
type HistoryConfig struct {
	Window            time.Duration `json:"window" mapstructure:"window" validate:"gt=0"`
	MinUpdateInterval time.Duration `json:"minUpdateInterval" mapstructure:"minUpdateInterval" validate:"gt=0"`
}

// ReconcileConfig holds snapshot interpretation settings
type ReconcileConfig struct {
	TreatSnapshotAsComplete bool          `json:"treatSnapshotAsComplete" mapstructure:"treatSnapshotAsComplete"`
	StaleTimeout            time.Duration `json:"staleTimeout" mapstructure:"staleTimeout" validate:"gt=0"`
	MoveEpsilonDegrees      float64       `json:"moveEpsilonDegrees" mapstructure:"moveEpsilonDegrees" validate:"gt=0"`
	IdentityGridDegrees     float64       `json:"identityGridDegrees" mapstructure:"identityGridDegrees" validate:"gt=0"`
	SweepInterval           time.Duration `json:"sweepInterval" mapstructure:"sweepInterval" validate:"gt=0"`
}

// IdentityConfig holds derived identity matching settings
type IdentityConfig struct {
	MatchRadius float64 `json:"matchRadius" mapstructure:"matchRadius" validate:"gte=0"`
}

// FeedConfig holds the polled snapshot source
type FeedConfig struct {
	URL          string        `json:"url" mapstructure:"url" validate:"omitempty,url"`
	APIKey       string        `json:"apiKey" mapstructure:"apiKey"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout" validate:"gt=0"`
	PollInterval time.Duration `json:"pollInterval" mapstructure:"pollInterval" validate:"gte=0"`
	Format       string        `json:"format" mapstructure:"format" validate:"oneof=json gtfsrt"`
}

// LiveConfig holds the push channel settings
type LiveConfig struct {
	Transport   string        `json:"transport" mapstructure:"transport" validate:"oneof=sse websocket nats none"`
	URL         string        `json:"url" mapstructure:"url" validate:"required_unless=Transport none"`
	BaseDelay   time.Duration `json:"baseDelay" mapstructure:"baseDelay" validate:"gt=0"`
	MaxDelay    time.Duration `json:"maxDelay" mapstructure:"maxDelay" validate:"gtefield=BaseDelay"`
	NATSSubject string        `json:"natsSubject" mapstructure:"natsSubject"`
}

// VisibilityConfig holds active set persistence settings
type VisibilityConfig struct {
	Namespace    string   `json:"namespace" mapstructure:"namespace" validate:"required"`
	DefaultTypes []string `json:"defaultTypes" mapstructure:"defaultTypes"`
}

// SqliteConfig holds SQLite storage backend settings
type SqliteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// RedisConfig holds Redis storage backend settings
type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db" validate:"gte=0"`
}

// StorageConfig selects the active set persistence backend
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type" validate:"oneof=memory sqlite postgres redis"`
	Sqlite SqliteConfig `json:"sqlite" mapstructure:"sqlite"`
	Redis  RedisConfig  `json:"redis" mapstructure:"redis"`
}

// DBConfig holds the Postgres connection settings
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// DSN returns the Postgres connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		c.Host, c.Port, c.Username, c.Password, c.Database)
}

// RenderConfig holds the browser stream settings
type RenderConfig struct {
	Listen     string `json:"listen" mapstructure:"listen" validate:"required"`
	Projection string `json:"projection" mapstructure:"projection" validate:"oneof=4326 3857"`
	Backlog    int    `json:"backlog" mapstructure:"backlog" validate:"gt=0"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// Config is the typed view of every setting.
type Config struct {
	LogLevel   string           `json:"logLevel" mapstructure:"logLevel" validate:"oneof=debug info warn error"`
	LogsDir    string           `json:"logsDir" mapstructure:"logsDir"`
	History    HistoryConfig    `json:"history" mapstructure:"history"`
	Reconcile  ReconcileConfig  `json:"reconcile" mapstructure:"reconcile"`
	Identity   IdentityConfig   `json:"identity" mapstructure:"identity"`
	Feed       FeedConfig       `json:"feed" mapstructure:"feed"`
	Live       LiveConfig       `json:"live" mapstructure:"live"`
	Visibility VisibilityConfig `json:"visibility" mapstructure:"visibility"`
	Storage    StorageConfig    `json:"storage" mapstructure:"storage"`
	DB         DBConfig         `json:"db" mapstructure:"db"`
	Render     RenderConfig     `json:"render" mapstructure:"render"`
	OTel       OTelConfig       `json:"otel" mapstructure:"otel"`
}

// SetDefaults registers the default of every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("history.window", "5m")
	viper.SetDefault("history.minUpdateInterval", "1s")

	viper.SetDefault("reconcile.treatSnapshotAsComplete", true)
	viper.SetDefault("reconcile.staleTimeout", "2m")
	viper.SetDefault("reconcile.moveEpsilonDegrees", 1e-6)
	viper.SetDefault("reconcile.identityGridDegrees", 0.001)
	viper.SetDefault("reconcile.sweepInterval", "15s")

	viper.SetDefault("identity.matchRadius", 150.0)

	viper.SetDefault("feed.url", "http://localhost:5000/api/vehicles")
	viper.SetDefault("feed.apiKey", "")
	viper.SetDefault("feed.timeout", "10s")
	viper.SetDefault("feed.pollInterval", "30s")
	viper.SetDefault("feed.format", "json")

	viper.SetDefault("live.transport", "sse")
	viper.SetDefault("live.url", "http://localhost:5000/api/vehicles/updates")
	viper.SetDefault("live.baseDelay", "5s")
	viper.SetDefault("live.maxDelay", "30s")
	viper.SetDefault("live.natsSubject", "vehicles.snapshot")

	viper.SetDefault("visibility.namespace", "livemap")
	viper.SetDefault("visibility.defaultTypes", []string{})

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpPath", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.redis.addr", "localhost:6379")
	viper.SetDefault("storage.redis.password", "")
	viper.SetDefault("storage.redis.db", 0)

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "livemap")

	viper.SetDefault("render.listen", ":8080")
	viper.SetDefault("render.projection", "4326")
	viper.SetDefault("render.backlog", 256)

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "livemap")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load sets defaults, loads an optional .env from configDir and reads the
// config file if present. LIVEMAP_* environment variables override file values.
func Load(configDir string) error {
	SetDefaults()

	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !isNotExist(err) {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	viper.SetEnvPrefix("LIVEMAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(ConfigName)
	viper.AddConfigPath(configDir)

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// Read decodes and validates the loaded settings.
func Read() (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error decoding config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

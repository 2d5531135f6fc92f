package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "algocore.cfg.json"

// ErrConfigNotFound is returned by Load when no config file exists; the
// defaults are still in effect.
var ErrConfigNotFound = errors.New("config file not found")

// MemoryConfig holds in-memory/JSON recorder settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds sqlite recorder settings
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// PostgresConfig holds postgres connection settings
type PostgresConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// WebSocketConfig holds spectator stream settings
type WebSocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// StorageConfig selects and configures the game recorder
type StorageConfig struct {
	Type      string
	Memory    MemoryConfig
	SQLite    SQLiteConfig
	Postgres  PostgresConfig
	WebSocket WebSocketConfig
}

// InfluxConfig holds per-turn metrics settings
type InfluxConfig struct {
	Enabled    bool
	URL        string
	Token      string
	Org        string
	Bucket     string
	BackupPath string
}

// ProtocolConfig holds engine protocol settings
type ProtocolConfig struct {
	SubPhases    int
	MaxLineBytes int
}

// LogConfig holds diagnostic output settings
type LogConfig struct {
	Level          string
	LogsDir        string
	ToFile         bool
	GraylogEnabled bool
	GraylogAddress string
}

// UploadConfig holds replay server settings
type UploadConfig struct {
	Enabled bool
	URL     string
	APIKey  string
	Tag     string
}

// StatusConfig holds the status file settings
type StatusConfig struct {
	Enabled  bool
	Path     string
	Interval time.Duration
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled        bool
	ServiceName    string
	File           string
	Endpoint       string
	Insecure       bool
	ExportInterval time.Duration
}

// SetDefaults registers default values for every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./algologs")
	viper.SetDefault("logToFile", false)

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("protocol.subPhases", 2)
	viper.SetDefault("protocol.maxLineBytes", 16<<20)

	viper.SetDefault("stats.legacyScramblerAccounting", false)

	viper.SetDefault("storage.type", "none")
	viper.SetDefault("storage.memory.outputDir", "./replays")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "./algocore.db")
	viper.SetDefault("storage.websocket.url", "ws://localhost:5000/ws")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "algocore")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "algocore")
	viper.SetDefault("influx.bucket", "army_tally")
	viper.SetDefault("influx.backupPath", "./algologs/influx_backup.log.gz")

	viper.SetDefault("upload.enabled", false)
	viper.SetDefault("upload.url", "http://localhost:5000")
	viper.SetDefault("upload.apiKey", "")
	viper.SetDefault("upload.tag", "")

	viper.SetDefault("status.enabled", false)
	viper.SetDefault("status.path", "./algologs/status.json")
	viper.SetDefault("status.interval", "1s")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "algocore")
	viper.SetDefault("otel.file", "./algologs/metrics.json")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", false)
	viper.SetDefault("otel.exportInterval", "10s")
}

// Load reads configuration from the JSON file in configDir on top of the
// defaults. A missing file returns ErrConfigNotFound; any other read error
// is returned wrapped.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return ErrConfigNotFound
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
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

// GetStorageConfig returns the recorder configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path: viper.GetString("storage.sqlite.path"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
		},
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
	}
}

// GetInfluxConfig returns the metrics sink configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled: viper.GetBool("influx.enabled"),
		URL: fmt.Sprintf("%s://%s:%s",
			viper.GetString("influx.protocol"),
			viper.GetString("influx.host"),
			viper.GetString("influx.port"),
		),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetProtocolConfig returns the engine protocol settings.
func GetProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		SubPhases:    viper.GetInt("protocol.subPhases"),
		MaxLineBytes: viper.GetInt("protocol.maxLineBytes"),
	}
}

// GetLogConfig returns the diagnostic output settings.
func GetLogConfig() LogConfig {
	return LogConfig{
		Level:          viper.GetString("logLevel"),
		LogsDir:        viper.GetString("logsDir"),
		ToFile:         viper.GetBool("logToFile"),
		GraylogEnabled: viper.GetBool("graylog.enabled"),
		GraylogAddress: viper.GetString("graylog.address"),
	}
}

// GetUploadConfig returns the replay server settings.
func GetUploadConfig() UploadConfig {
	return UploadConfig{
		Enabled: viper.GetBool("upload.enabled"),
		URL:     viper.GetString("upload.url"),
		APIKey:  viper.GetString("upload.apiKey"),
		Tag:     viper.GetString("upload.tag"),
	}
}

// GetStatusConfig returns the status file settings.
func GetStatusConfig() StatusConfig {
	return StatusConfig{
		Enabled:  viper.GetBool("status.enabled"),
		Path:     viper.GetString("status.path"),
		Interval: viper.GetDuration("status.interval"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		File:           viper.GetString("otel.file"),
		Endpoint:       viper.GetString("otel.endpoint"),
		Insecure:       viper.GetBool("otel.insecure"),
		ExportInterval: viper.GetDuration("otel.exportInterval"),
	}
}

// LegacyScramblerAccounting reports the stats accounting switch.
func LegacyScramblerAccounting() bool {
	return viper.GetBool("stats.legacyScramblerAccounting")
}

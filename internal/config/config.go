// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Session   SessionConfig   `mapstructure:"session"`
	Device    DeviceConfig    `mapstructure:"device"`
	Scanning  ScanningConfig  `mapstructure:"scanning"`
	Journal   JournalConfig   `mapstructure:"journal"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Advertise AdvertiseConfig `mapstructure:"advertise"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
	Debug       bool   `mapstructure:"debug"`
}

// VersionParts splits Version into major, minor and build numbers.
// Missing or non-numeric parts are zero.
func (a AppConfig) VersionParts() (major, minor, build uint32) {
	parts := strings.SplitN(strings.TrimPrefix(a.Version, "v"), ".", 3)
	nums := make([]uint32, 3)
	for i, p := range parts {
		if n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32); err == nil {
			nums[i] = uint32(n)
		}
	}
	return nums[0], nums[1], nums[2]
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host" validate:"required"`
	Port         string        `mapstructure:"port" validate:"required,numeric"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file" validate:"required_if=Enabled true"`
	KeyFile  string `mapstructure:"key_file" validate:"required_if=Enabled true"`
}

// SecurityConfig represents client access configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxMessageSize int64    `mapstructure:"max_message_size" validate:"gt=0"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// SessionConfig represents protocol session configuration
type SessionConfig struct {
	ServerName string `mapstructure:"server_name" validate:"required"`

	// MaxPingTime is how long a client may go without Ping. Zero disables.
	MaxPingTime  time.Duration `mapstructure:"max_ping_time" validate:"gte=0"`
	SendBuffer   int           `mapstructure:"send_buffer" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	PongWait     time.Duration `mapstructure:"pong_wait" validate:"gt=0"`

	// StopOnDisconnect stops every device when a client goes away
	StopOnDisconnect bool `mapstructure:"stop_on_disconnect"`
}

// PingPeriod is how often the transport pings the peer
func (s SessionConfig) PingPeriod() time.Duration {
	return s.PongWait * 9 / 10
}

// DeviceConfig represents device command configuration
type DeviceConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout" validate:"gt=0"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout" validate:"gt=0"`
}

// ScanningConfig represents discovery configuration
type ScanningConfig struct {
	ProfilesFile string              `mapstructure:"profiles_file"`
	Virtual      VirtualScanConfig   `mapstructure:"virtual"`
	Serial       SerialScanConfig    `mapstructure:"serial"`
	USB          USBScanConfig       `mapstructure:"usb"`
	Simulator    SimulatorScanConfig `mapstructure:"simulator"`
}

// VirtualScanConfig enables devices declared in the profiles file
type VirtualScanConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SerialScanConfig represents serial port discovery configuration
type SerialScanConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Passes          int           `mapstructure:"passes" validate:"gt=0"`
	Interval        time.Duration `mapstructure:"interval" validate:"gt=0"`
	DefaultBaudRate int           `mapstructure:"default_baud_rate" validate:"gt=0"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
}

// USBScanConfig represents USB discovery configuration
type USBScanConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Passes   int           `mapstructure:"passes" validate:"gt=0"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	Endpoint int           `mapstructure:"endpoint" validate:"gt=0"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SimulatorScanConfig represents the external device simulator link
type SimulatorScanConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Address        string        `mapstructure:"address" validate:"required_if=Enabled true"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// JournalConfig represents the device event journal database
type JournalConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host" validate:"required_if=Enabled true"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user" validate:"required_if=Enabled true"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"dbname" validate:"required_if=Enabled true"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	MigrationsPath string        `mapstructure:"migrations_path"`
	BufferSize     int           `mapstructure:"buffer_size" validate:"gt=0"`
	Retention      time.Duration `mapstructure:"retention"`
}

// MQTTConfig represents the device event bridge
type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker" validate:"required_if=Enabled true"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix" validate:"required"`
	QoS            byte          `mapstructure:"qos" validate:"lte=2"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// CaptureConfig represents protocol traffic capture
type CaptureConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// AdvertiseConfig represents LAN service advertisement
type AdvertiseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
	Service  string `mapstructure:"service" validate:"required_if=Enabled true"`
	Domain   string `mapstructure:"domain"`
}

// Flags returns the command line flags understood by Load
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("actuator-hub", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "path to config file")
	fs.String("port", "", "HTTP listen port")
	fs.String("log-level", "", "log level (debug, info, warn, error, fatal)")
	return fs
}

// Load loads configuration from flags, file and environment variables
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	configFile := ""
	if flags != nil {
		configFile, _ = flags.GetString("config")
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variable support
	v.SetEnvPrefix("ACTUATOR_HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if f := flags.Lookup("port"); f != nil {
			if err := v.BindPFlag("server.port", f); err != nil {
				return nil, fmt.Errorf("failed to bind port flag: %w", err)
			}
		}
		if f := flags.Lookup("log-level"); f != nil {
			if err := v.BindPFlag("logging.level", f); err != nil {
				return nil, fmt.Errorf("failed to bind log-level flag: %w", err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "actuator-hub")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "12345")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{})
	v.SetDefault("security.max_message_size", 1<<20)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Session defaults
	v.SetDefault("session.server_name", "Actuator Hub")
	v.SetDefault("session.max_ping_time", "0s")
	v.SetDefault("session.send_buffer", 256)
	v.SetDefault("session.write_timeout", "10s")
	v.SetDefault("session.pong_wait", "60s")
	v.SetDefault("session.stop_on_disconnect", true)

	// Device defaults
	v.SetDefault("device.command_timeout", "5s")
	v.SetDefault("device.stop_timeout", "2s")

	// Scanning defaults
	v.SetDefault("scanning.profiles_file", "./config/profiles.yaml")
	v.SetDefault("scanning.virtual.enabled", false)
	v.SetDefault("scanning.serial.enabled", false)
	v.SetDefault("scanning.serial.passes", 3)
	v.SetDefault("scanning.serial.interval", "2s")
	v.SetDefault("scanning.serial.default_baud_rate", 115200)
	v.SetDefault("scanning.serial.read_timeout", "1s")
	v.SetDefault("scanning.usb.enabled", false)
	v.SetDefault("scanning.usb.passes", 3)
	v.SetDefault("scanning.usb.interval", "2s")
	v.SetDefault("scanning.usb.endpoint", 1)
	v.SetDefault("scanning.usb.timeout", "1s")
	v.SetDefault("scanning.simulator.enabled", false)
	v.SetDefault("scanning.simulator.address", "127.0.0.1:54017")
	v.SetDefault("scanning.simulator.connect_timeout", "5s")

	// Journal defaults
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.host", "localhost")
	v.SetDefault("journal.port", 5432)
	v.SetDefault("journal.user", "postgres")
	v.SetDefault("journal.dbname", "actuator_hub")
	v.SetDefault("journal.sslmode", "disable")
	v.SetDefault("journal.max_open_conns", 5)
	v.SetDefault("journal.max_idle_conns", 2)
	v.SetDefault("journal.max_lifetime", "5m")
	v.SetDefault("journal.migrations_path", "./migrations")
	v.SetDefault("journal.buffer_size", 256)
	v.SetDefault("journal.retention", "720h")

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "actuator-hub")
	v.SetDefault("mqtt.topic_prefix", "actuator-hub")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.connect_timeout", "10s")

	// Capture defaults
	v.SetDefault("capture.enabled", false)
	v.SetDefault("capture.path", "./data/capture.cbor")

	// Advertise defaults
	v.SetDefault("advertise.enabled", false)
	v.SetDefault("advertise.instance", "Actuator Hub")
	v.SetDefault("advertise.service", "_actuatorhub._tcp")
	v.SetDefault("advertise.domain", "local.")
}

var configValidator = validator.New()

// validate validates the configuration
func validate(config *Config) error {
	if err := configValidator.Struct(config); err != nil {
		return err
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	if config.Session.MaxPingTime > 0 && config.Session.MaxPingTime < time.Millisecond {
		return fmt.Errorf("session.max_ping_time must be at least 1ms")
	}

	return nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

// GetJournalDSN returns the journal database connection string
func (c *Config) GetJournalDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Journal.Host, c.Journal.Port, c.Journal.User,
		c.Journal.Password, c.Journal.DBName, c.Journal.SSLMode)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == "development"
}

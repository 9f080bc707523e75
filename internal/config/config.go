package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

const (
	RegistryPostgrest = "postgrest"
	RegistryFile      = "file"
)

const (
	SinkS3     = "s3"
	SinkKafka  = "kafka"
	SinkSQLite = "sqlite"
)

type Config struct {
	Env         string             `mapstructure:"env"`
	DeviceType  string             `mapstructure:"device_type"`
	Probe       ProbeConfig        `mapstructure:"probe"`
	Registry    RegistryConfig     `mapstructure:"registry"`
	DeviceTypes []DeviceTypeConfig `mapstructure:"device_types"`
	Sinks       SinksConfig        `mapstructure:"sinks"`
	Spool       SpoolConfig        `mapstructure:"spool"`
	Schedule    ScheduleConfig     `mapstructure:"schedule"`
	Server      ServerConfig       `mapstructure:"server"`
	Socrata     SocrataConfig      `mapstructure:"socrata"`
}

type ProbeConfig struct {
	Method      string        `mapstructure:"method"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Workers     int           `mapstructure:"workers"`
	Privileged  bool          `mapstructure:"privileged"`
	TCPPort     int           `mapstructure:"tcp_port"`
}

type RegistryConfig struct {
	Source    string          `mapstructure:"source"`
	File      string          `mapstructure:"file"`
	Postgrest PostgrestConfig `mapstructure:"postgrest"`
}

type PostgrestConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// DeviceTypeConfig maps a device type to the Knack container holding its
// assets and to the Knack field keys of each device attribute.
type DeviceTypeConfig struct {
	Name      string       `mapstructure:"name"`
	Container string       `mapstructure:"container"`
	Fields    FieldMapping `mapstructure:"fields"`
}

type FieldMapping struct {
	IPAddress    string `mapstructure:"ip_address"`
	DeviceID     string `mapstructure:"device_id"`
	LocationID   string `mapstructure:"location_id"`
	LocationName string `mapstructure:"location_name"`
	KnackID      string `mapstructure:"knack_id"`
	SignalID     string `mapstructure:"signal_id"`
}

type SinksConfig struct {
	Enabled []string     `mapstructure:"enabled"`
	S3      S3Config     `mapstructure:"s3"`
	Kafka   KafkaConfig  `mapstructure:"kafka"`
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
}

type S3Config struct {
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type SpoolConfig struct {
	Path string `mapstructure:"path"`
}

type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type ServerConfig struct {
	HealthPort string `mapstructure:"health_port"`
}

type SocrataConfig struct {
	Domain      string            `mapstructure:"domain"`
	ResourceIDs map[string]string `mapstructure:"resource_ids"`
	Timeout     time.Duration     `mapstructure:"timeout"`
}

// Load reads defaults, the optional YAML config file, environment variables
// and any flags already parsed into flags, in increasing precedence.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("local")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.DeviceTypes) == 0 {
		cfg.DeviceTypes = DefaultDeviceTypes()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"config":      "config",
	"env":         "env",
	"workers":     "probe.workers",
	"timeout":     "probe.timeout",
	"attempts":    "probe.max_attempts",
	"method":      "probe.method",
	"registry":    "registry.source",
	"devices":     "registry.file",
	"sinks":       "sinks.enabled",
	"interval":    "schedule.interval",
	"health-port": "server.health_port",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", EnvLocal)

	// Probe defaults
	v.SetDefault("probe.method", "icmp")
	v.SetDefault("probe.timeout", 20*time.Second)
	v.SetDefault("probe.max_attempts", 2)
	v.SetDefault("probe.workers", 300)
	v.SetDefault("probe.privileged", false)
	v.SetDefault("probe.tcp_port", 80)

	// Registry defaults
	v.SetDefault("registry.source", RegistryPostgrest)
	v.SetDefault("registry.file", "")
	v.SetDefault("registry.postgrest.timeout", 30*time.Second)

	// Sink defaults
	v.SetDefault("sinks.enabled", []string{SinkS3})
	v.SetDefault("sinks.s3.region", "us-east-1")
	v.SetDefault("sinks.s3.endpoint", "")
	v.SetDefault("sinks.s3.use_path_style", false)
	v.SetDefault("sinks.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("sinks.kafka.topic", "signal-comm-status")
	v.SetDefault("sinks.sqlite.path", "comm_status.db")

	v.SetDefault("spool.path", "")
	v.SetDefault("schedule.interval", time.Duration(0))
	v.SetDefault("server.health_port", "8081")

	// Socrata defaults
	v.SetDefault("socrata.domain", "data.austintexas.gov")
	v.SetDefault("socrata.resource_ids", map[string]string{EnvDev: "j9p3-9u87", EnvProd: "pj7k-98z2"})
	v.SetDefault("socrata.timeout", 60*time.Second)
}

// Validate enforces the ranges the probing core relies on.
func (c *Config) Validate() error {
	var errs []error

	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		errs = append(errs, fmt.Errorf("env must be one of local, dev, prod: got %q", c.Env))
	}

	if c.Probe.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("probe.max_attempts must be >= 1: got %d", c.Probe.MaxAttempts))
	}
	if c.Probe.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("probe.timeout must be > 0: got %s", c.Probe.Timeout))
	}
	if c.Probe.Workers < 1 {
		errs = append(errs, fmt.Errorf("probe.workers must be >= 1: got %d", c.Probe.Workers))
	}
	if c.Schedule.Interval < 0 {
		errs = append(errs, errors.New("schedule.interval must not be negative"))
	}

	switch c.Registry.Source {
	case RegistryPostgrest:
	case RegistryFile:
		if c.Registry.File == "" {
			errs = append(errs, errors.New("registry.file is required when registry.source is file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown registry.source %q", c.Registry.Source))
	}

	for _, sink := range c.Sinks.Enabled {
		if !slices.Contains([]string{SinkS3, SinkKafka, SinkSQLite}, sink) {
			errs = append(errs, fmt.Errorf("unknown sink %q", sink))
		}
	}

	if c.DeviceType != "" {
		if _, ok := c.DeviceTypeConfig(c.DeviceType); !ok {
			errs = append(errs, fmt.Errorf("unsupported device type %q (supported: %s)",
				c.DeviceType, strings.Join(c.SupportedDeviceTypes(), ", ")))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) DeviceTypeConfig(name string) (DeviceTypeConfig, bool) {
	for _, dt := range c.DeviceTypes {
		if dt.Name == name {
			return dt, true
		}
	}
	return DeviceTypeConfig{}, false
}

func (c *Config) SupportedDeviceTypes() []string {
	names := make([]string, 0, len(c.DeviceTypes))
	for _, dt := range c.DeviceTypes {
		names = append(names, dt.Name)
	}
	return names
}

// DataEnv is the environment segment used for bucket paths and portal
// resources; local runs write to dev.
func (c *Config) DataEnv() string {
	if c.Env == EnvProd {
		return EnvProd
	}
	return EnvDev
}

func (c *Config) SinkEnabled(name string) bool {
	return slices.Contains(c.Sinks.Enabled, name)
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	API        APIConfig
	Sink       SinkConfig
	Mongo      MongoConfig
	Database   DatabaseConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
	Mail       MailConfig
	Console    ConsoleConfig
	Kafka      KafkaConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type APIConfig struct {
	Prefix   string `mapstructure:"prefix"`
	PageSize int    `mapstructure:"page_size"`
}

// SinkConfig configures the persistent store sink.
type SinkConfig struct {
	Driver             string        `mapstructure:"driver"` // mongo, postgres, clickhouse or memory
	CollectionName     string        `mapstructure:"collection_name"`
	Capped             bool          `mapstructure:"capped"`
	CappedSize         int64         `mapstructure:"capped_size"`
	CappedMax          int64         `mapstructure:"capped_max"`
	ExpireAfterSeconds int32         `mapstructure:"expire_after_seconds"` // 0 disables expiry
	Decolorize         bool          `mapstructure:"decolorize"`
	StoreHost          bool          `mapstructure:"store_host"`
	Label              string        `mapstructure:"label"`
	MinLevel           string        `mapstructure:"min_level"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	ConnectRetries     int           `mapstructure:"connect_retries"`
	RetentionInterval  time.Duration `mapstructure:"retention_interval"`
}

type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	MaxPoolSize    uint64        `mapstructure:"max_pool_size"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type ClickHouseConfig struct {
	// DSN takes precedence over the discrete fields when set.
	DSN      string `mapstructure:"dsn"`
	Addr     string `mapstructure:"addr"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type RedisConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Addresses   []string `mapstructure:"addresses"`
	Password    string   `mapstructure:"password"`
	DB          int      `mapstructure:"db"`
	PoolSize    int      `mapstructure:"pool_size"`
	ClusterMode bool     `mapstructure:"cluster_mode"`
	Channel     string   `mapstructure:"channel"`
}

type MailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	StartTLS bool     `mapstructure:"starttls"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
	Subject  string   `mapstructure:"subject"`
	HTML     bool     `mapstructure:"html"`
	MinLevel string   `mapstructure:"min_level"`
}

type ConsoleConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	MinLevel string `mapstructure:"min_level"`
	Color    bool   `mapstructure:"color"`
}

type KafkaConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Brokers   []string `mapstructure:"brokers"`
	ClientID  string   `mapstructure:"client_id"`
	Topic     string   `mapstructure:"topic"`
	MinLevel  string   `mapstructure:"min_level"`
	BatchSize int      `mapstructure:"batch_size"`
	QueueSize int      `mapstructure:"queue_size"`

	// Ingest consumes the topic into the local sink.
	Ingest   bool          `mapstructure:"ingest"`
	GroupID  string        `mapstructure:"group_id"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

var envKeyReplacer = strings.NewReplacer(".", "_")

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/superlogger/")
	v.AddConfigPath(".")
	return load(v)
}

// LoadFile reads the given file instead of searching the default paths.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("SUPERLOGGER")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("api.prefix", "/logs")
	v.SetDefault("api.page_size", 10)
	v.SetDefault("sink.driver", "mongo")
	v.SetDefault("sink.collection_name", "log")
	v.SetDefault("sink.capped_size", 10000000)
	v.SetDefault("sink.decolorize", true)
	v.SetDefault("sink.min_level", "debug")
	v.SetDefault("sink.poll_interval", "2s")
	v.SetDefault("sink.retention_interval", "1m")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017/superlogger")
	v.SetDefault("mongo.max_pool_size", 2)
	v.SetDefault("mongo.connect_timeout", "10s")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("clickhouse.addr", "localhost:9000")
	v.SetDefault("clickhouse.database", "default")
	v.SetDefault("clickhouse.user", "default")
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.channel", "superlogger:logs")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.min_level", "error")
	v.SetDefault("mail.starttls", true)
	v.SetDefault("mail.subject", "superlogger")
	v.SetDefault("console.enabled", true)
	v.SetDefault("console.min_level", "debug")
	v.SetDefault("console.color", true)
	v.SetDefault("kafka.client_id", "superlogger")
	v.SetDefault("kafka.topic", "superlogger.logs")
	v.SetDefault("kafka.min_level", "debug")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.queue_size", 1000)
	v.SetDefault("kafka.group_id", "superlogger-ingest")
	v.SetDefault("kafka.dedup_ttl", "10m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Addr returns the SMTP server address.
func (c *MailConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

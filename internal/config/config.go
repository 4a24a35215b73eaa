package config

import (
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	JWT      JWTConfig
	Executor ExecutorConfig
	LogLevel string
}

type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	URI          string
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ExecutorConfig struct {
	BaseURL string
	Timeout time.Duration
}

type JWTConfig struct {
	Secret        string
	AccessExpire  time.Duration
	RefreshExpire time.Duration
	Issuer        string
}

var (
	configInstance *Config
	once           sync.Once
)

// LoadConfig reads configuration from the environment, applying defaults for
// anything unset. The result is cached for the process lifetime.
func LoadConfig() (*Config, error) {
	once.Do(func() {
		viper.SetDefault("GATEWAY_HOST", "")
		viper.SetDefault("GATEWAY_PORT", "8080")
		viper.SetDefault("GATEWAY_READ_TIMEOUT", 30*time.Second)
		viper.SetDefault("GATEWAY_WRITE_TIMEOUT", 30*time.Second)
		viper.SetDefault("GATEWAY_IDLE_TIMEOUT", 60*time.Second)
		viper.SetDefault("GATEWAY_ALLOWED_ORIGINS", []string{"https://app.school.example"})
		viper.SetDefault("GATEWAY_JWT_SECRET", "secret")
		viper.SetDefault("GATEWAY_JWT_ACCESS_EXPIRE", 15*time.Minute)
		viper.SetDefault("GATEWAY_JWT_REFRESH_EXPIRE", 7*24*time.Hour)
		viper.SetDefault("GATEWAY_JWT_ISSUER", "school-gateway")
		viper.SetDefault("REDIS_URL", "redis://127.0.0.1:6379/0")
		viper.SetDefault("REDIS_MAX_RETRIES", 3)
		viper.SetDefault("REDIS_POOL_SIZE", 100)
		viper.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
		viper.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
		viper.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
		viper.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)
		viper.SetDefault("KAFKA_BROKERS", []string{"localhost:9092"})
		viper.SetDefault("KAFKA_AUDIT_TOPIC", "gateway-audit")
		viper.SetDefault("POSTGRES_USER", "postgres")
		viper.SetDefault("POSTGRES_PASSWORD", "password")
		viper.SetDefault("POSTGRES_HOST", "localhost")
		viper.SetDefault("POSTGRES_PORT", "5432")
		viper.SetDefault("POSTGRES_DB", "school")
		viper.SetDefault("POSTGRES_SSLMODE", "disable")
		viper.SetDefault("EXECUTOR_URL", "http://localhost:9000")
		viper.SetDefault("EXECUTOR_TIMEOUT", 30*time.Second)
		viper.SetDefault("LOG_LEVEL", "info")
		viper.AutomaticEnv()

		configInstance = &Config{
			Server: ServerConfig{
				Host:           viper.GetString("GATEWAY_HOST"),
				Port:           viper.GetString("GATEWAY_PORT"),
				ReadTimeout:    viper.GetDuration("GATEWAY_READ_TIMEOUT"),
				WriteTimeout:   viper.GetDuration("GATEWAY_WRITE_TIMEOUT"),
				IdleTimeout:    viper.GetDuration("GATEWAY_IDLE_TIMEOUT"),
				AllowedOrigins: viper.GetStringSlice("GATEWAY_ALLOWED_ORIGINS"),
			},
			Database: DatabaseConfig{
				Host:     viper.GetString("POSTGRES_HOST"),
				Port:     viper.GetString("POSTGRES_PORT"),
				User:     viper.GetString("POSTGRES_USER"),
				Password: viper.GetString("POSTGRES_PASSWORD"),
				DBName:   viper.GetString("POSTGRES_DB"),
				SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
			},
			Redis: RedisConfig{
				URI:          viper.GetString("REDIS_URL"),
				MaxRetries:   viper.GetInt("REDIS_MAX_RETRIES"),
				DialTimeout:  viper.GetDuration("REDIS_DIAL_TIMEOUT"),
				ReadTimeout:  viper.GetDuration("REDIS_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("REDIS_WRITE_TIMEOUT"),
				PoolSize:     viper.GetInt("REDIS_POOL_SIZE"),
				MinIdleConns: viper.GetInt("REDIS_MIN_IDLE_CONNS"),
			},
			Kafka: KafkaConfig{
				Brokers: viper.GetStringSlice("KAFKA_BROKERS"),
				Topic:   viper.GetString("KAFKA_AUDIT_TOPIC"),
			},
			JWT: JWTConfig{
				Secret:        viper.GetString("GATEWAY_JWT_SECRET"),
				AccessExpire:  viper.GetDuration("GATEWAY_JWT_ACCESS_EXPIRE"),
				RefreshExpire: viper.GetDuration("GATEWAY_JWT_REFRESH_EXPIRE"),
				Issuer:        viper.GetString("GATEWAY_JWT_ISSUER"),
			},
			Executor: ExecutorConfig{
				BaseURL: viper.GetString("EXECUTOR_URL"),
				Timeout: viper.GetDuration("EXECUTOR_TIMEOUT"),
			},
			LogLevel: viper.GetString("LOG_LEVEL"),
		}
	})

	return configInstance, nil
}

package config

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Auth        AuthConfig
	Reservation ReservationConfig
	Outbox      OutboxConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Schema   string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret        string
	AccessExpiry  int // in minutes
	RefreshExpiry int // in days
}

type AuthConfig struct {
	MaxFailedAttempts  int
	LockoutMinutes     int
	LoginRateLimit     int // attempts per window per IP
	LoginRateWindowSec int
	AlertThreshold     int // per-IP failures before a security alert is logged
	CodeTTLMinutes     int // activation / reset code lifetime
	CodeMaxAttempts    int
}

type ReservationConfig struct {
	TTLMinutes       int
	SweepIntervalSec int
}

type OutboxConfig struct {
	Brokers         []string
	Topic           string
	BatchSize       int
	PollIntervalSec int
	MaxAttempts     int
}

func Load() *Config {
	// godotenv first so plain os.Getenv consumers see the same values
	_ = godotenv.Load()

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_ENV", "development")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SCHEMA", "public")
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("JWT_ACCESS_EXPIRY", 15)
	viper.SetDefault("JWT_REFRESH_EXPIRY", 7)
	viper.SetDefault("AUTH_MAX_FAILED_ATTEMPTS", 5)
	viper.SetDefault("AUTH_LOCKOUT_MINUTES", 15)
	viper.SetDefault("AUTH_LOGIN_RATE_LIMIT", 10)
	viper.SetDefault("AUTH_LOGIN_RATE_WINDOW_SEC", 60)
	viper.SetDefault("AUTH_ALERT_THRESHOLD", 20)
	viper.SetDefault("AUTH_CODE_TTL_MINUTES", 10)
	viper.SetDefault("AUTH_CODE_MAX_ATTEMPTS", 5)
	viper.SetDefault("RESERVATION_TTL_MINUTES", 30)
	viper.SetDefault("RESERVATION_SWEEP_INTERVAL_SEC", 60)
	viper.SetDefault("OUTBOX_BROKERS", []string{"localhost:9092"})
	viper.SetDefault("OUTBOX_TOPIC", "storefront.email")
	viper.SetDefault("OUTBOX_BATCH_SIZE", 50)
	viper.SetDefault("OUTBOX_POLL_INTERVAL_SEC", 10)
	viper.SetDefault("OUTBOX_MAX_ATTEMPTS", 5)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Could not read config file: %v", err)
	}

	return &Config{
		Server: ServerConfig{
			Port: viper.GetString("SERVER_PORT"),
			Env:  viper.GetString("SERVER_ENV"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Database: viper.GetString("DB_DATABASE"),
			Schema:   viper.GetString("DB_SCHEMA"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret:        viper.GetString("JWT_SECRET"),
			AccessExpiry:  viper.GetInt("JWT_ACCESS_EXPIRY"),
			RefreshExpiry: viper.GetInt("JWT_REFRESH_EXPIRY"),
		},
		Auth: AuthConfig{
			MaxFailedAttempts:  viper.GetInt("AUTH_MAX_FAILED_ATTEMPTS"),
			LockoutMinutes:     viper.GetInt("AUTH_LOCKOUT_MINUTES"),
			LoginRateLimit:     viper.GetInt("AUTH_LOGIN_RATE_LIMIT"),
			LoginRateWindowSec: viper.GetInt("AUTH_LOGIN_RATE_WINDOW_SEC"),
			AlertThreshold:     viper.GetInt("AUTH_ALERT_THRESHOLD"),
			CodeTTLMinutes:     viper.GetInt("AUTH_CODE_TTL_MINUTES"),
			CodeMaxAttempts:    viper.GetInt("AUTH_CODE_MAX_ATTEMPTS"),
		},
		Reservation: ReservationConfig{
			TTLMinutes:       viper.GetInt("RESERVATION_TTL_MINUTES"),
			SweepIntervalSec: viper.GetInt("RESERVATION_SWEEP_INTERVAL_SEC"),
		},
		Outbox: OutboxConfig{
			Brokers:         viper.GetStringSlice("OUTBOX_BROKERS"),
			Topic:           viper.GetString("OUTBOX_TOPIC"),
			BatchSize:       viper.GetInt("OUTBOX_BATCH_SIZE"),
			PollIntervalSec: viper.GetInt("OUTBOX_POLL_INTERVAL_SEC"),
			MaxAttempts:     viper.GetInt("OUTBOX_MAX_ATTEMPTS"),
		},
	}
}

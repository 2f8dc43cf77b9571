package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Log          LogConfig          `mapstructure:"log"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	CSRF         CSRFConfig         `mapstructure:"csrf"`
	Upload       UploadConfig       `mapstructure:"upload"`
	Verification VerificationConfig `mapstructure:"verification"`
	Extraction   ExtractionConfig   `mapstructure:"extraction"`
	SMTP         SMTPConfig         `mapstructure:"smtp"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig - пустой URL отключает распределенную блокировку
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
}

type CSRFConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

type VerificationConfig struct {
	HighThreshold     int           `mapstructure:"high_threshold"`
	LowThreshold      int           `mapstructure:"low_threshold"`
	AnomalyPenalty    int           `mapstructure:"anomaly_penalty"`
	Async             bool          `mapstructure:"async"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	KnownInstitutions []string      `mapstructure:"known_institutions"`
}

type ExtractionConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	TesseractPath string        `mapstructure:"tesseract_path"`
}

// SMTPConfig - пустой Host переключает уведомления на запись в лог
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// DefaultSecret - заглушка для секретов JWT и CSRF, годится только для локальной отладки
const DefaultSecret = "change-this-in-production"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "verification")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.password", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("jwt.secret", DefaultSecret)
	v.SetDefault("jwt.expiry", 24*time.Hour)
	v.SetDefault("csrf.secret", DefaultSecret)
	v.SetDefault("csrf.ttl", time.Hour)

	v.SetDefault("upload.dir", "public/uploads/diplomas")
	v.SetDefault("upload.max_bytes", 10<<20)

	v.SetDefault("verification.high_threshold", 80)
	v.SetDefault("verification.low_threshold", 30)
	v.SetDefault("verification.anomaly_penalty", 10)
	v.SetDefault("verification.async", false)
	v.SetDefault("verification.lock_ttl", 2*time.Minute)
	v.SetDefault("verification.known_institutions", []string{})

	v.SetDefault("extraction.timeout", 30*time.Second)
	v.SetDefault("extraction.tesseract_path", "tesseract")

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "no-reply@localhost")
}

// Load читает конфигурацию из config.yaml (если есть), .env и переменных окружения.
// Переменные окружения имеют приоритет: database.host -> DATABASE_HOST.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database port out of range: %d", c.Database.Port)
	}
	low, high := c.Verification.LowThreshold, c.Verification.HighThreshold
	if low < 0 || high > 100 || low >= high {
		return fmt.Errorf("invalid verification thresholds: low=%d high=%d", low, high)
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload max bytes must be positive, got %d", c.Upload.MaxBytes)
	}
	if c.CSRF.TTL <= 0 {
		return fmt.Errorf("csrf ttl must be positive, got %s", c.CSRF.TTL)
	}
	return nil
}

// InsecureSecrets возвращает ключи секретов, оставленных пустыми или равными значению по умолчанию
func (c *Config) InsecureSecrets() []string {
	var keys []string
	if c.JWT.Secret == "" || c.JWT.Secret == DefaultSecret {
		keys = append(keys, "jwt.secret")
	}
	if c.CSRF.Secret == "" || c.CSRF.Secret == DefaultSecret {
		keys = append(keys, "csrf.secret")
	}
	return keys
}

func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

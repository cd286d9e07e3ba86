package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env           string `yaml:"env" env:"ENV" env-default:"local"`
	HTTPServer    `yaml:"http_server"`
	Postgres      `yaml:"postgres"`
	Confirmation  `yaml:"confirmation"`
	PasswordReset `yaml:"password_reset"`
	PreviewPin    `yaml:"preview_pin"`
	Registration  `yaml:"registration"`
	Email         `yaml:"email"`
	Session       `yaml:"session"`
	Cleanup       `yaml:"cleanup"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type Postgres struct {
	Host     string `yaml:"host" env-default:"postgres"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env-required:"true"`
	Password string `yaml:"password" env-required:"true"`
	DBName   string `yaml:"dbname" env-required:"true"`
	SSLMode  string `yaml:"sslmode" env-default:"disable"`
}

type Confirmation struct {
	Required bool          `yaml:"required" env-default:"true"`
	TokenTTL time.Duration `yaml:"token_ttl" env-default:"24h"`
}

type PasswordReset struct {
	TokenTTL        time.Duration `yaml:"token_ttl" env-default:"30m"`
	MaxActiveTokens int           `yaml:"max_active_tokens" env-default:"3"`
}

type PreviewPin struct {
	TTL         time.Duration `yaml:"ttl" env-default:"5m"`
	MaxAttempts int           `yaml:"max_attempts" env-default:"100"`
}

type Registration struct {
	// AllowedDomains restricts registration to the listed email domains.
	// An empty list allows any domain.
	AllowedDomains []string `yaml:"allowed_domains"`
}

type Email struct {
	Mode       string `yaml:"mode" env-default:"log"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port" env-default:"587"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password" env:"EMAIL_PASSWORD"`
	Sender     string `yaml:"sender"`
	SenderName string `yaml:"sender_name" env-default:"AnnounceIt"`
	QueueURL   string `yaml:"queue_url"`
	QueueName  string `yaml:"queue_name" env-default:"emails"`
	Buffer     int    `yaml:"buffer" env-default:"64"`
}

type Session struct {
	Secret string        `yaml:"secret" env:"SESSION_SECRET" env-required:"true"`
	TTL    time.Duration `yaml:"ttl" env-default:"24h"`
}

type Cleanup struct {
	UserInterval        time.Duration `yaml:"user_interval" env-default:"6h"`
	AnnouncementHourUTC int           `yaml:"announcement_hour_utc" env-default:"1"`
}

func MustLoad(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("Config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("Failed to read config: " + err.Error())
	}

	return &cfg
}

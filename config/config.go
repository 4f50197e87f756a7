// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultPersona is the instruction block that opens every prompt.
const DefaultPersona = `Ты - опытный спортивный тренер и мотивационный коуч. Твоя задача - помогать людям достигать их фитнес-целей.
Ты должен:
- Составлять индивидуальные и групповые программы тренировок
- Отслеживать прогресс каждого пользователя
- Давать мотивирующие советы
- Напоминать о тренировках и отдыхе
- Адаптировать программы под уровень и цели каждого
- Поддерживать дружескую атмосферу в группе
- Использовать имена пользователей в общении
- Помнить контекст предыдущих разговоров

Будь дружелюбным, профессиональным и мотивирующим!`

type DBConfig struct {
	Driver       string
	Path         string
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

type GPTConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	TopP        float32
	Timeout     time.Duration
}

type BotConfig struct {
	Name               string
	Persona            string
	HistoryWindow      int
	MaxHistoryMessages int
	MaxMessageLength   int
	QueueIdleTimeout   time.Duration
}

type Config struct {
	Telegram struct {
		Token       string
		Debug       bool
		PollTimeout int
	}
	DB    DBConfig
	GPT   GPTConfig
	Bot   BotConfig
	Redis struct {
		URL      string
		DedupTTL time.Duration
	}
	Server struct {
		Port string
	}
	Log struct {
		Mode string
	}
	ShutdownTimeout time.Duration
}

// envBindings maps config keys to the environment variables that set them.
// The first variable found wins.
var envBindings = map[string][]string{
	"Telegram.Token":  {"TELEGRAM_TOKEN"},
	"GPT.APIKey":      {"GPT_API_KEY", "OPENROUTER_API_KEY"},
	"GPT.BaseURL":     {"GPT_BASE_URL", "OPENROUTER_BASE_URL"},
	"GPT.Model":       {"GPT_MODEL", "OPENROUTER_MODEL"},
	"GPT.Timeout":     {"GPT_TIMEOUT"},
	"DB.Driver":       {"DB_DRIVER"},
	"DB.Path":         {"DB_PATH", "DATABASE_PATH"},
	"DB.Host":         {"DB_HOST"},
	"DB.Port":         {"DB_PORT"},
	"DB.User":         {"DB_USER"},
	"DB.Password":     {"DB_PASSWORD"},
	"DB.DBName":       {"DB_NAME"},
	"DB.SSLMode":      {"DB_SSL_MODE"},
	"Redis.URL":       {"REDIS_URL"},
	"Server.Port":     {"SERVER_PORT"},
	"Log.Mode":        {"LOG_MODE"},
	"Bot.Name":        {"BOT_NAME"},
	"Bot.Persona":     {"TRAINER_PERSONALITY"},
	"ShutdownTimeout": {"SHUTDOWN_TIMEOUT"},
}

// Load reads .env, an optional config file and the environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")
	v.AddConfigPath("$HOME/.fitness-bot")

	setDefaults(v)

	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("error binding env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Process any ${ENV_VAR} syntax in the config values
	for _, key := range v.AllKeys() {
		value, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
			v.Set(key, os.Getenv(envVar))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ShutdownTimeout", 10*time.Second)
	v.SetDefault("Telegram.PollTimeout", 60)
	v.SetDefault("Server.Port", "8080")
	v.SetDefault("Log.Mode", "production")

	v.SetDefault("DB.Driver", DriverSQLite)
	v.SetDefault("DB.Path", "fitness_trainer.db")
	v.SetDefault("DB.Host", "localhost")
	v.SetDefault("DB.Port", "5432")
	v.SetDefault("DB.User", "postgres")
	v.SetDefault("DB.DBName", "fitness_bot")
	v.SetDefault("DB.SSLMode", "disable")
	v.SetDefault("DB.MaxOpenConns", 20)
	v.SetDefault("DB.MaxIdleConns", 2)
	v.SetDefault("DB.ConnLifetime", 5*time.Minute)

	v.SetDefault("GPT.BaseURL", "https://openrouter.ai/api/v1")
	v.SetDefault("GPT.Model", "anthropic/claude-3.5-sonnet")
	v.SetDefault("GPT.MaxTokens", 1000)
	v.SetDefault("GPT.Temperature", 0.7)
	v.SetDefault("GPT.TopP", 0.9)
	v.SetDefault("GPT.Timeout", 45*time.Second)

	v.SetDefault("Bot.Name", "Спортивный Тренер")
	v.SetDefault("Bot.Persona", DefaultPersona)
	v.SetDefault("Bot.HistoryWindow", 20)
	v.SetDefault("Bot.MaxHistoryMessages", 50)
	v.SetDefault("Bot.MaxMessageLength", 4096)
	v.SetDefault("Bot.QueueIdleTimeout", 2*time.Minute)

	v.SetDefault("Redis.DedupTTL", 24*time.Hour)
}

// Validate reports the first setting that would keep the bot from working.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram token is not configured")
	}
	if c.GPT.APIKey == "" {
		return errors.New("GPT API key is not configured")
	}
	switch c.DB.Driver {
	case DriverSQLite:
		if c.DB.Path == "" {
			return errors.New("sqlite database path is empty")
		}
	case DriverPostgres:
		if c.DB.Host == "" || c.DB.DBName == "" {
			return errors.New("postgres configuration is incomplete")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.DB.Driver)
	}
	if c.Bot.HistoryWindow <= 0 {
		return errors.New("history window must be positive")
	}
	if c.Bot.HistoryWindow > c.Bot.MaxHistoryMessages {
		return fmt.Errorf("history window %d exceeds max history messages %d", c.Bot.HistoryWindow, c.Bot.MaxHistoryMessages)
	}
	if c.Bot.MaxMessageLength <= 0 {
		return errors.New("max message length must be positive")
	}
	if c.GPT.Timeout <= 0 {
		return errors.New("GPT timeout must be positive")
	}
	return nil
}

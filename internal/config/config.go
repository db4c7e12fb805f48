package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dosewatch/meds-reminder/internal/logger"
)

// Scheduler modes. The worker mode runs a dedicated goroutine that sleeps
// between state transitions; the alarm mode re-arms a one-shot timer and
// never blocks.
const (
	SchedulerModeWorker = "worker"
	SchedulerModeAlarm  = "alarm"
)

type Config struct {
	TelegramToken  string
	TelegramChatID int64 // chat that receives reminder notifications
	SchedulerMode  string
	CrashLogDir    string
	DB             DBConfig
	Redis          RedisConfig
	Logger         LoggerConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// RedisConfig is optional: with an empty Host the bot keeps conversation
// state in memory.
type RedisConfig struct {
	Host string
	Port string
}

type LoggerConfig struct {
	Level      logger.LogLevel
	OutputPath string
	Format     string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.LevelDebug
	case "info":
		return logger.LevelInfo
	case "warn", "warning":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}

func Load() (*Config, error) {
	cfg := &Config{
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		SchedulerMode: getEnvOrDefault("SCHEDULER_MODE", SchedulerModeWorker),
		CrashLogDir:   getEnvOrDefault("CRASH_LOG_DIR", "logs"),
		DB: DBConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvOrDefault("DB_PORT", "5432"),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
			DBName:   getEnvOrDefault("DB_NAME", "meds_reminder"),
		},
		Redis: RedisConfig{
			Host: os.Getenv("REDIS_HOST"),
			Port: getEnvOrDefault("REDIS_PORT", "6379"),
		},
		Logger: LoggerConfig{
			Level:      parseLogLevel(getEnvOrDefault("LOG_LEVEL", "info")),
			OutputPath: getEnvOrDefault("LOG_OUTPUT", "logs/app.log"),
			Format:     getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", chatID, err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.SchedulerMode != SchedulerModeWorker && cfg.SchedulerMode != SchedulerModeAlarm {
		return nil, fmt.Errorf("invalid SCHEDULER_MODE %q: must be %q or %q",
			cfg.SchedulerMode, SchedulerModeWorker, SchedulerModeAlarm)
	}

	return cfg, nil
}

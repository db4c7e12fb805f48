package main

import (
	"fmt"
	"os"

	"github.com/dosewatch/meds-reminder/internal/config"
	"github.com/dosewatch/meds-reminder/internal/services"
	"github.com/joho/godotenv"
)

func main() {
	fmt.Println("🔍 Проверка конфигурации...")

	// Загружаем .env файл если есть
	if err := godotenv.Load(); err != nil {
		fmt.Printf("⚠️  .env файл не найден: %v\n", err)
	}

	// Загружаем и валидируем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Ошибка валидации конфигурации:\n%v\n", err)
		os.Exit(1)
	}

	// Таблица окон приёма по умолчанию должна быть согласованной
	if err := services.DefaultWindows().Validate(); err != nil {
		fmt.Printf("❌ Ошибка в окнах времени приёма:\n%v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ Конфигурация валидна!")
	fmt.Printf("📋 Детали конфигурации:\n")
	fmt.Printf("  - Telegram Token: %s\n", maskToken(cfg.TelegramToken))
	fmt.Printf("  - Telegram Chat ID: %d\n", cfg.TelegramChatID)
	fmt.Printf("  - Scheduler Mode: %s\n", cfg.SchedulerMode)
	fmt.Printf("  - Crash Log Dir: %s\n", cfg.CrashLogDir)
	fmt.Printf("  - DB Host: %s\n", cfg.DB.Host)
	fmt.Printf("  - DB Port: %s\n", cfg.DB.Port)
	fmt.Printf("  - DB User: %s\n", cfg.DB.User)
	fmt.Printf("  - DB Name: %s\n", cfg.DB.DBName)
	fmt.Printf("  - Redis Host: %s\n", cfg.Redis.Host)
	fmt.Printf("  - Log Level: %v\n", cfg.Logger.Level)
	fmt.Printf("  - Log Output: %s\n", cfg.Logger.OutputPath)
	fmt.Printf("  - Log Format: %s\n", cfg.Logger.Format)
}

func maskToken(token string) string {
	if token == "" {
		return "<не установлен>"
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

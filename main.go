package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dosewatch/meds-reminder/internal/bot"
	"github.com/dosewatch/meds-reminder/internal/bot/state"
	"github.com/dosewatch/meds-reminder/internal/config"
	"github.com/dosewatch/meds-reminder/internal/database"
	"github.com/dosewatch/meds-reminder/internal/domain"
	"github.com/dosewatch/meds-reminder/internal/logger"
	"github.com/dosewatch/meds-reminder/internal/notification"
	"github.com/dosewatch/meds-reminder/internal/scheduler"
	"github.com/dosewatch/meds-reminder/internal/services"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting Meds Reminder Bot...")

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("Configuration loaded successfully")

	if err := logger.InitWithConfig(logger.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	db, err := database.NewPostgresDB(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Database connection established and migrations completed")

	// Initialize services
	drugService := services.NewDrugService(db)
	prefService := services.NewPreferenceService(db)
	complianceService := services.NewComplianceService(drugService)
	supplyService := services.NewSupplyService(drugService)
	log.Println("Services initialized successfully")

	// Fail fast on an inconsistent time window configuration.
	if _, err := prefService.Windows(context.Background()); err != nil {
		log.Fatalf("Invalid dose time configuration: %v", err)
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		log.Fatalf("Failed to create Telegram API client: %v", err)
	}

	sink := notification.NewTelegramSink(api, cfg.TelegramChatID)
	aggregator := notification.NewAggregator(sink)

	deps := scheduler.Deps{
		Compliance:  complianceService,
		Supply:      supplyService,
		Prefs:       prefService,
		Aggregator:  aggregator,
		CrashLogDir: cfg.CrashLogDir,
	}

	var sched domain.Scheduler
	switch cfg.SchedulerMode {
	case config.SchedulerModeAlarm:
		sched = scheduler.NewAlarmLoop(deps, scheduler.NewTimerAlarm())
	default:
		sched = scheduler.NewWorker(deps)
	}
	log.Printf("Scheduler mode: %s", cfg.SchedulerMode)

	// Any drug or scheduling-relevant preference change restarts the
	// reminder loop so it picks up the new state.
	drugService.RegisterOnChangeListener(func(kind services.EntryKind, entry interface{}, flags int) {
		if flags&services.FlagIgnore != 0 {
			return
		}
		sched.Restart()
	})
	prefService.RegisterOnChangeListener(func(key string) {
		if !services.IsSchedulingKey(key) {
			return
		}
		sched.Restart()
	})

	// Conversation state: Redis when configured, in-memory otherwise.
	var states state.Store
	if cfg.Redis.Host != "" {
		redisStates, err := state.NewRedisManager(cfg.Redis.Host, cfg.Redis.Port)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		states = redisStates
		log.Println("Using Redis conversation state")
	} else {
		states = state.NewManager()
	}

	telegramBot := bot.NewBot(api, drugService, prefService, states)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	go func() {
		log.Println("Starting bot...")
		if err := telegramBot.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Bot stopped with error", "error", err)
			os.Exit(1)
		}
	}()

	log.Println("Bot is running. Press Ctrl+C to stop.")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	cancel()
	sched.Stop()
}

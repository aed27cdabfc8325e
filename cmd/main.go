package main

import (
	"blabberbox/backend/internal/api/handler"
	"blabberbox/backend/internal/chathub"
	"blabberbox/backend/internal/config"
	"blabberbox/backend/internal/events"
	"blabberbox/backend/internal/localization"
	"blabberbox/backend/internal/storage"
	"blabberbox/backend/internal/telegram"
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupDependencies(cfg config.Config) (*gorm.DB, *redis.Client) {
	// 1. PostgreSQL
	db, err := gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect PostgreSQL: %v", err)
	}

	// 2. Redis (change notifications)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx := context.Background()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}

	log.Println("Database and Redis connections established.")
	return db, rdb
}

func main() {
	log.Println("Starting BlabberBox Backend...")

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}
	cfg := config.Load()

	// 1. Ініціалізація залежностей
	db, rdb := setupDependencies(cfg)
	s := storage.NewStorageService(db, rdb)
	if err := s.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// 2. Chat Hub
	hub := chathub.NewManagerService(s, chathub.OptionsFromConfig(cfg))

	if cfg.RabbitURL != "" {
		pub, err := events.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Printf("WARNING: RabbitMQ unavailable, lifecycle events disabled: %v", err)
		} else {
			defer pub.Close()
			hub.Publisher = pub
			log.Printf("Publishing lifecycle events to queue %s", cfg.RabbitQueue)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Telegram (optional)
	var botDone chan struct{}
	if cfg.TelegramToken != "" {
		localizer, err := localization.NewLocalizer(cfg.LocalizationPath)
		if err != nil {
			log.Fatalf("Failed to load translations: %v", err)
		}
		botService, err := telegram.NewBotService(cfg.TelegramToken, hub, rdb, localizer)
		if err != nil {
			log.Fatalf("Не вдалося запустити Telegram-бота: %v", err)
		}
		botDone = make(chan struct{})
		go func() {
			defer close(botDone)
			botService.Run(ctx)
		}()
	} else {
		log.Println("TELEGRAM_BOT_TOKEN не встановлено, Telegram-бот вимкнений")
	}

	// 4. Налаштування Gin та роутингу
	r := gin.Default()
	handler.NewHandler(hub, s, cfg.JWTSecret).Register(r)

	server := &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("Listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: HTTP shutdown: %v", err)
	}
	if botDone != nil {
		<-botDone
	}
	// Best-effort leave for every user still attached.
	hub.Shutdown()
	_ = rdb.Close()
}

// Command blabberbox is a terminal client: it runs one controller against
// the shared store and keeps its identity and session pointer in a local
// YAML file, so restarting it resumes the open chat.
package main

import (
	"blabberbox/backend/internal/chathub"
	"blabberbox/backend/internal/config"
	"blabberbox/backend/internal/localization"
	"blabberbox/backend/internal/localstate"
	"blabberbox/backend/internal/storage"
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".blabberbox.yaml"
	}
	return filepath.Join(home, ".blabberbox.yaml")
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	statePath := flag.String("state", defaultStatePath(), "local state file (user id and session pointer)")
	dsn := flag.String("dsn", cfg.DBDSN, "PostgreSQL DSN")
	redisAddr := flag.String("redis", cfg.RedisAddr, "Redis address")
	name := flag.String("name", "", "display name shown to partners")
	lang := flag.String("lang", os.Getenv("LANG"), "language for notices")
	flag.Parse()

	state := localstate.NewFile(*statePath)
	userID, err := state.UserID()
	if err != nil {
		log.Fatalf("Failed to read local state: %v", err)
	}

	db, err := gorm.Open(postgres.Open(*dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		log.Fatalf("Failed to connect PostgreSQL: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()
	s := storage.NewStorageService(db, rdb)

	localizer, err := localization.NewLocalizer(cfg.LocalizationPath)
	if err != nil {
		log.Fatalf("Failed to load translations: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := newConsoleClient(userID, *lang, localizer, os.Stdout)
	client.Run()

	controller := chathub.NewController(userID, s, state, client, chathub.OptionsFromConfig(cfg))
	controller.DisplayName = *name
	if err := controller.Start(ctx); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	fmt.Printf("BlabberBox as %s. Commands: /find /retry /leave /quit\n", userID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok || !handleLine(controller, line, os.Stdout) {
				break loop
			}
		}
	}

	// Close keeps the session pointer so the next run resumes the chat.
	controller.Close()
	client.Close()
}

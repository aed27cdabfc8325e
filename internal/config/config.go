package config

import (
	"os"
	"strconv"
	"time"
)

// Config зберігає налаштування сервісу, зчитані з оточення.
type Config struct {
	ListenAddr string
	DBDSN      string
	JWTSecret  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TelegramToken    string
	LocalizationPath string

	// rabbitMQ (optional)
	RabbitURL   string
	RabbitQueue string

	HeartbeatInterval    time.Duration
	PartnerTimeout       time.Duration
	LivenessPollInterval time.Duration
	MatchFreshness       time.Duration
	MaxPairAttempts      int
}

// Load reads the configuration from environment variables.
// Call godotenv.Load before it to pick up a .env file.
func Load() Config {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = "host=localhost user=user password=password dbname=blabberboxdb port=5432 sslmode=disable"
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6380"
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	// Empty means the translations bundled into the binary.
	locPath := os.Getenv("LOCALIZATION_PATH")

	rabbitQueue := os.Getenv("RABBIT_QUEUE")
	if rabbitQueue == "" {
		rabbitQueue = "session_events"
	}

	heartbeat := envDuration("HEARTBEAT_INTERVAL", HeartbeatInterval)
	// Keep the 2.5x ratio unless the timeout is overridden explicitly.
	timeout := envDuration("PARTNER_TIMEOUT", heartbeat*5/2)

	return Config{
		ListenAddr: listenAddr,
		DBDSN:      dsn,
		JWTSecret:  secret,

		RedisAddr:     redisAddr,
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		TelegramToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		LocalizationPath: locPath,

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: rabbitQueue,

		HeartbeatInterval:    heartbeat,
		PartnerTimeout:       timeout,
		LivenessPollInterval: envDuration("LIVENESS_POLL_INTERVAL", LivenessPollInterval),
		MatchFreshness:       envDuration("MATCH_FRESHNESS", 0),
		MaxPairAttempts:      envInt("MAX_PAIR_ATTEMPTS", MaxPairAttempts),
	}
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return def
}

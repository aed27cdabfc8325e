package main

import (
	"blabberbox/backend/internal/config"
	"blabberbox/backend/internal/models"
	"blabberbox/backend/internal/storage"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const usage = `Usage: admin [flags] <command> [args]

Commands:
  waiting             list users in the waiting pool, longest waiting first
  session <id>        show a session and its messages
  end <id>            mark a session ended (resumption will reject it)
  reset <user_id>     force a user back to idle
`

var errUsage = errors.New("invalid usage")

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	flags := flag.NewFlagSet("admin", flag.ExitOnError)
	dsn := flags.String("dsn", cfg.DBDSN, "PostgreSQL DSN")
	redisAddr := flags.String("redis", cfg.RedisAddr, "Redis address for change notifications (empty disables)")
	limit := flags.Int("limit", 50, "maximum rows for list commands")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage, "\nFlags:\n")
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	db, err := gorm.Open(postgres.Open(*dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	// Without Redis, connected clients only notice admin changes on their next reload.
	var rdb *redis.Client
	if *redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: *redisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
	}
	storageSvc := storage.NewStorageService(db, rdb)

	if err := run(context.Background(), storageSvc, flags.Args(), *limit, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			flags.Usage()
			os.Exit(2)
		}
		log.Fatalf("Error: %v", err)
	}
}

func run(ctx context.Context, s storage.Storage, args []string, limit int, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "waiting":
		return listWaiting(ctx, s, limit, out)
	case "session":
		if len(args) != 2 {
			return errUsage
		}
		return showSession(ctx, s, args[1], out)
	case "end":
		if len(args) != 2 {
			return errUsage
		}
		if err := s.EndSession(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Session %s has been ended.\n", args[1])
	case "reset":
		if len(args) != 2 {
			return errUsage
		}
		if err := s.SetUserStatus(ctx, args[1], models.UserIdle, nil); err != nil {
			return err
		}
		fmt.Fprintf(out, "User %s has been reset to idle.\n", args[1])
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
	return nil
}

func listWaiting(ctx context.Context, s storage.Storage, limit int, out io.Writer) error {
	users, err := s.FindWaitingUsers(ctx, "", time.Time{}, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tLAST SEEN")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\n", u.ID, u.LastSeen.Format(time.RFC3339))
	}
	return w.Flush()
}

func showSession(ctx context.Context, s storage.Storage, sessionID string, out io.Writer) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return storage.ErrSessionNotFound
	}
	msgs, err := s.ListMessages(ctx, sessionID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Session %s (%s), created %s\n", session.ID, session.Status, session.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Participants: %s, %s\n", session.ParticipantIDs[0], session.ParticipantIDs[1])
	for _, m := range msgs {
		fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Format(time.TimeOnly), m.SenderID, m.Text)
	}
	return nil
}

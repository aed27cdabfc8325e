// Package telegram handles the integration with the Telegram Bot API.
// Every chat gets its own controller in the hub; commands are routed to it
// and controller events are rendered back as chat messages.
package telegram

import (
	"blabberbox/backend/internal/chathub"
	"blabberbox/backend/internal/localization"
	"blabberbox/backend/internal/models"
	"blabberbox/backend/internal/storage"
	"context"
	"errors"
	"log"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// userNamespace derives stable anonymous user ids from chat ids.
var userNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://blabberbox/telegram"))

// UserIDForChat returns the anonymous user id bound to a Telegram chat.
func UserIDForChat(chatID int64) string {
	return uuid.NewSHA1(userNamespace, []byte(strconv.FormatInt(chatID, 10))).String()
}

// BotService is responsible for receiving Telegram updates and routing them to the hub.
type BotService struct {
	BotAPI    *tgbotapi.BotAPI
	Sender    Sender
	Hub       *chathub.ManagerService
	Redis     *redis.Client
	Localizer *localization.Localizer

	mu      sync.Mutex
	clients map[int64]*Client
}

// NewBotService creates a new BotService instance.
func NewBotService(token string, hub *chathub.ManagerService, rdb *redis.Client, l *localization.Localizer) (*BotService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	log.Printf("✅ Authorized on account %s", bot.Self.UserName)

	return &BotService{
		BotAPI:    bot,
		Sender:    bot,
		Hub:       hub,
		Redis:     rdb,
		Localizer: l,
		clients:   make(map[int64]*Client),
	}, nil
}

// getOrCreateClient retrieves an existing Telegram client or attaches a new
// controller for the chat. The Redis pointer lets a restarted bot resume
// the chat's session.
func (s *BotService) getOrCreateClient(ctx context.Context, chatID int64, lang string) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[chatID]; ok {
		return c, nil
	}

	userID := UserIDForChat(chatID)
	c := NewClient(userID, chatID, s.Localizer.Lang(lang), s.Sender, s.Localizer)
	c.Run()

	controller, err := s.Hub.Attach(ctx, "", storage.NewRedisPointer(s.Redis, userID), c)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Controller = controller
	s.clients[chatID] = c
	log.Printf("Telegram chat %d attached as %s", chatID, userID)
	return c, nil
}

// handleIncomingMessage processes new messages from users.
func (s *BotService) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	lang := ""
	if msg.From != nil {
		lang = msg.From.LanguageCode
	}

	c, err := s.getOrCreateClient(ctx, msg.Chat.ID, lang)
	if err != nil {
		log.Printf("ERROR: Failed to attach chat %d: %v", msg.Chat.ID, err)
		return
	}

	if msg.IsCommand() {
		s.handleCommand(c, msg.Command())
		return
	}
	s.handleText(c, msg.Text)
}

func (s *BotService) handleCommand(c *Client, command string) {
	switch command {
	case "start":
		c.reply(s.Localizer.GetString(c.Lang, "welcome"))
	case "help":
		c.reply(s.Localizer.GetString(c.Lang, "help"))
	case "find", "next":
		c.Controller.Find()
	case "retry":
		c.Controller.Retry()
	case "leave", "stop":
		c.Controller.Leave()
	default:
		c.reply(s.Localizer.GetString(c.Lang, "unknown_command"))
	}
}

func (s *BotService) handleText(c *Client, text string) {
	if c.Controller.Snapshot().State != chathub.StateChatting {
		c.reply(s.Localizer.GetString(c.Lang, "not_chatting"))
		return
	}
	if err := c.Controller.Dispatch(models.Command{Type: models.CommandSend, Text: text}); err != nil {
		if errors.Is(err, chathub.ErrEmptyMessage) {
			c.reply(s.Localizer.GetString(c.Lang, "empty_message"))
			return
		}
		log.Printf("ERROR: Send from chat %d failed: %v", c.ChatID, err)
	}
}

// Run is the main loop for receiving Telegram updates. It returns when ctx is done.
func (s *BotService) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.BotAPI.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			s.BotAPI.StopReceivingUpdates()
			s.Close()
			return
		case update, ok := <-updates:
			if !ok {
				s.Close()
				return
			}
			if update.Message != nil {
				s.handleIncomingMessage(ctx, update.Message)
			}
		}
	}
}

// Close detaches every chat's controller and stops its write pump.
func (s *BotService) Close() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[int64]*Client)
	s.mu.Unlock()

	for _, c := range clients {
		if c.Controller != nil {
			s.Hub.Detach(c.Controller)
		}
		c.Close()
	}
	log.Printf("Telegram bot stopped, detached %d chats", len(clients))
}

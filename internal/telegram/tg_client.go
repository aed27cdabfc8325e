package telegram

import (
	"blabberbox/backend/internal/chathub"
	"blabberbox/backend/internal/localization"
	"blabberbox/backend/internal/models"
	"log"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of the Bot API the client writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client реалізує інтерфейс chathub.Client для одного Telegram-чату.
type Client struct {
	UserID     string
	ChatID     int64
	Lang       string
	Bot        Sender
	Localizer  *localization.Localizer
	Controller *chathub.Controller
	Send       chan models.Event

	// forwarded counts partner messages already delivered per session.
	forwarded map[string]int
	// baseline marks sessions whose next snapshot is history, not news.
	baseline  map[string]bool
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(userID string, chatID int64, lang string, bot Sender, l *localization.Localizer) *Client {
	return &Client{
		UserID:    userID,
		ChatID:    chatID,
		Lang:      lang,
		Bot:       bot,
		Localizer: l,
		Send:      make(chan models.Event, 64),
		forwarded: make(map[string]int),
		baseline:  make(map[string]bool),
		done:      make(chan struct{}),
	}
}

func (c *Client) GetUserID() string                     { return c.UserID }
func (c *Client) GetSendChannel() chan<- models.Event { return c.Send }

// Run запускає 'write pump'. 'Read pump' обробляється централізовано в BotService.
func (c *Client) Run() {
	go c.writePump()
}

// Close закриває Send канал і чекає завершення writePump.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
	<-c.done
}

// writePump слухає канал Send і надсилає повідомлення в Telegram
func (c *Client) writePump() {
	defer close(c.done)

	for ev := range c.Send {
		for _, text := range c.render(ev) {
			c.reply(text)
		}
	}
	log.Printf("Зупинка writePump для Telegram клієнта %d", c.ChatID)
}

// render turns one controller event into zero or more chat lines.
func (c *Client) render(ev models.Event) []string {
	switch ev.Type {
	case models.EventNotice:
		if ev.Notice == models.NoticeSessionResumed {
			c.baseline[ev.SessionID] = true
		}
		return []string{c.Localizer.Notice(c.Lang, ev.Notice, ev.PartnerName)}

	case models.EventState:
		if ev.State == string(chathub.StateFailed) {
			return []string{c.Localizer.GetString(c.Lang, "state_failed")}
		}

	case models.EventMessages:
		var fromPartner []string
		for _, m := range ev.Messages {
			if m.SenderID != c.UserID {
				fromPartner = append(fromPartner, m.Text)
			}
		}
		if c.baseline[ev.SessionID] {
			delete(c.baseline, ev.SessionID)
			c.forwarded[ev.SessionID] = len(fromPartner)
			return nil
		}
		seen := c.forwarded[ev.SessionID]
		if seen >= len(fromPartner) {
			return nil
		}
		c.forwarded[ev.SessionID] = len(fromPartner)
		return fromPartner[seen:]

	case models.EventSessionPointer:
		if ev.SessionID == "" {
			// Session dropped; forget its counters.
			c.forwarded = make(map[string]int)
			c.baseline = make(map[string]bool)
		}
	}
	return nil
}

func (c *Client) reply(text string) {
	if _, err := c.Bot.Send(tgbotapi.NewMessage(c.ChatID, text)); err != nil {
		log.Printf("ERROR: Failed to send message to chat %d: %v", c.ChatID, err)
	}
}

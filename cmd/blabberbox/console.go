package main

import (
	"blabberbox/backend/internal/chathub"
	"blabberbox/backend/internal/localization"
	"blabberbox/backend/internal/models"
	"fmt"
	"io"
)

// consoleClient prints controller events to a terminal.
type consoleClient struct {
	userID    string
	lang      string
	localizer *localization.Localizer
	out       io.Writer
	send      chan models.Event
	done      chan struct{}

	// printed counts messages already shown for the current session.
	printed int
	session string
}

func newConsoleClient(userID, lang string, l *localization.Localizer, out io.Writer) *consoleClient {
	return &consoleClient{
		userID:    userID,
		lang:      l.Lang(lang),
		localizer: l,
		out:       out,
		send:      make(chan models.Event, 64),
		done:      make(chan struct{}),
	}
}

func (c *consoleClient) GetUserID() string                     { return c.userID }
func (c *consoleClient) GetSendChannel() chan<- models.Event { return c.send }

func (c *consoleClient) Run() {
	go func() {
		defer close(c.done)
		for ev := range c.send {
			c.print(ev)
		}
	}()
}

func (c *consoleClient) Close() {
	close(c.send)
	<-c.done
}

func (c *consoleClient) print(ev models.Event) {
	switch ev.Type {
	case models.EventNotice:
		fmt.Fprintf(c.out, "* %s\n", c.localizer.Notice(c.lang, ev.Notice, ev.PartnerName))
	case models.EventState:
		fmt.Fprintf(c.out, "[%s] %s\n", ev.State, c.localizer.GetString(c.lang, "state_"+ev.State))
	case models.EventSessionPointer:
		if ev.SessionID != c.session {
			c.session = ev.SessionID
			c.printed = 0
		}
	case models.EventMessages:
		if ev.SessionID != c.session {
			c.session = ev.SessionID
			c.printed = 0
		}
		for _, m := range ev.Messages[min(c.printed, len(ev.Messages)):] {
			who := "partner"
			if m.SenderID == c.userID {
				who = "you"
			}
			fmt.Fprintf(c.out, "%s %s: %s\n", m.Timestamp.Local().Format("15:04"), who, m.Text)
		}
		c.printed = len(ev.Messages)
	}
}

// handleLine runs one line of user input. It returns false on /quit.
func handleLine(c *chathub.Controller, line string, out io.Writer) bool {
	var err error
	switch line {
	case "":
		return true
	case "/quit", "/exit":
		return false
	case "/find", "/next":
		err = c.Dispatch(models.Command{Type: models.CommandFind})
	case "/retry":
		err = c.Dispatch(models.Command{Type: models.CommandRetry})
	case "/leave", "/stop":
		err = c.Dispatch(models.Command{Type: models.CommandLeave})
	default:
		if c.Snapshot().State != chathub.StateChatting {
			fmt.Fprintln(out, "! not in a chat, type /find")
			return true
		}
		err = c.Dispatch(models.Command{Type: models.CommandSend, Text: line})
	}
	if err != nil {
		fmt.Fprintf(out, "! %v\n", err)
	}
	return true
}

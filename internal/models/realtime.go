package models

// EventType identifies what a controller is reporting to its client.
type EventType string

const (
	EventState          EventType = "state"
	EventMessages       EventType = "messages"
	EventNotice         EventType = "notice"
	EventSessionPointer EventType = "session_pointer"
)

// Notice keys. Frontends translate them via the localizer.
const (
	NoticePartnerFound        = "partner_found"
	NoticePartnerDisconnected = "partner_disconnected"
	NoticePartnerLeft         = "partner_left"
	NoticePairingError        = "pairing_error"
	NoticeChatEnded           = "chat_ended"
	NoticeSessionInvalid      = "session_invalid"
	NoticeSessionResumed      = "session_resumed"
	NoticeSearchStarted       = "search_started"
)

// Event is what the hub sends to a client (JSON over WebSocket, text in Telegram).
type Event struct {
	Type        EventType `json:"type"`
	State       string    `json:"state,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	PartnerID   string    `json:"partner_id,omitempty"`
	PartnerName string    `json:"partner_name,omitempty"`
	Messages    []Message `json:"messages,omitempty"`
	Notice      string    `json:"notice,omitempty"`
}

// CommandType is an action requested by the user.
type CommandType string

const (
	CommandFind  CommandType = "find"
	CommandRetry CommandType = "retry"
	CommandSend  CommandType = "send"
	CommandLeave CommandType = "leave"
)

// Command is decoded from the client (WebSocket JSON, Telegram commands).
type Command struct {
	Type CommandType `json:"type"`
	Text string      `json:"text,omitempty"`
}

// LifecycleType names an entry published to the event queue.
type LifecycleType string

const (
	LifecyclePaired        LifecycleType = "paired"
	LifecycleLeft          LifecycleType = "left"
	LifecyclePartnerLost   LifecycleType = "partner_lost"
	LifecyclePairingFailed LifecycleType = "pairing_failed"
)

// LifecycleEvent is published for downstream consumers; it is never read back.
type LifecycleEvent struct {
	Type      LifecycleType `json:"type"`
	UserID    string        `json:"user_id"`
	SessionID string        `json:"session_id,omitempty"`
	At        int64         `json:"at"`
}

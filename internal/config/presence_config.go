package config

import "time"

const (
	// Presence
	HeartbeatInterval = 15 * time.Second
	// PartnerTimeout tolerates one missed beat plus clock and latency slack.
	PartnerTimeout       = HeartbeatInterval * 5 / 2
	LivenessPollInterval = 5 * time.Second

	// Matchmaking
	MaxPairAttempts = 3

	// Teardown
	LeaveTimeout = 3 * time.Second
)

package chathub

import "errors"

var (
	// ErrTransientStore wraps any store failure (network, transaction hiccup).
	// Recovery is always user-initiated.
	ErrTransientStore = errors.New("transient store failure")
	// ErrPairingRace means the pairing transaction lost to a concurrent one.
	// It is routine and never shown to the user.
	ErrPairingRace = errors.New("pairing race lost")
	// ErrPartnerLost is inferred from the partner record, never reported by the store.
	ErrPartnerLost = errors.New("partner lost")
	// ErrInvalidResumedSession means the persisted pointer is not a joinable session.
	ErrInvalidResumedSession = errors.New("resumed session is not joinable")

	ErrEmptyMessage   = errors.New("message text is empty")
	ErrUnknownCommand = errors.New("unknown command")
)

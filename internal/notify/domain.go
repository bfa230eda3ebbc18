package notify

import (
	"errors"
	"time"
)

// Notification is a persisted in-app message for one recipient.
type Notification struct {
	ID              int64
	RecipientID     int64
	Type            string
	Title           string
	Message         string
	RelatedEntityID string
	Priority        string
	Read            bool
	CreatedAt       time.Time
}

var (
	// ErrNotFound indicates the notification does not exist.
	ErrNotFound = errors.New("notify: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("notify: invalid input")
)

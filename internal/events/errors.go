package events

import "errors"

var (
	// ErrDuplicateSubscription is returned when (kind, key) already has a subscription
	ErrDuplicateSubscription = errors.New("duplicate subscription")
	// ErrNoSubscription is returned when unsubscribing a (kind, key) that has none
	ErrNoSubscription = errors.New("no such subscription")
	// ErrBusClosed is returned when subscribing to a closed bus
	ErrBusClosed = errors.New("event bus closed")
)

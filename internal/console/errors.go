package console

import "errors"

var (
	// ErrAlreadySubscribed is returned when subscribing twice to one event
	ErrAlreadySubscribed = errors.New("already subscribed")
	// ErrNotSubscribed is returned when unsubscribing from an event that has no subscription
	ErrNotSubscribed = errors.New("not subscribed")
	// ErrReservedCommand is returned when Send is used for subscription directives
	ErrReservedCommand = errors.New("subscription commands must use Subscribe/Unsubscribe")
	// ErrConnectionClosed is returned when writing to a closed connection
	ErrConnectionClosed = errors.New("console connection closed")
	// ErrDuplicateCommandID is returned when a command id is already pending
	ErrDuplicateCommandID = errors.New("duplicate command id")
)

package upstream

import "errors"

var (
	// ErrDuplicateServer is returned when registering a server id that is already managed
	ErrDuplicateServer = errors.New("server already managed")
	// ErrUnknownServer is returned for a server id that is not managed
	ErrUnknownServer = errors.New("server not managed")
	// ErrConsoleRefused is recorded when the metadata service denies console access
	ErrConsoleRefused = errors.New("console access refused")
	// ErrManagerDisposed is returned by operations on a disposed manager
	ErrManagerDisposed = errors.New("manager disposed")
)

package xrelay

import (
	"errors"
	"fmt"
)

// ErrUnknownSubscriber is returned for a subscriber name with no registered factory.
type ErrUnknownSubscriber struct{ name string }

func (e ErrUnknownSubscriber) Error() string { return fmt.Sprintf("unknown subscriber: %s", e.name) }

// ErrUnknownSink is returned for a sink name with no registered factory.
type ErrUnknownSink struct{ name string }

func (e ErrUnknownSink) Error() string { return fmt.Sprintf("unknown sink: %s", e.name) }

var (
	ErrRelayClosed                 = errors.New("xrelay: relay is closed")
	ErrAlreadyStarted              = errors.New("xrelay: relay already started")
	ErrNoSubscriberConfigured      = errors.New("xrelay: no subscriber configured")
	ErrInvalidPattern              = errors.New("xrelay: topic pattern must not be empty")
	ErrSubscriptionLost            = errors.New("xrelay: bus subscription lost")
	ErrRegistryClosed              = errors.New("xrelay: registry is closed")
	ErrRegistryFull                = errors.New("xrelay: connection limit reached")
	ErrDuplicateConn               = errors.New("xrelay: connection already registered")
	ErrNilConn                     = errors.New("xrelay: nil connection")
	ErrSinkPanic                   = errors.New("xrelay: sink panic recovered")
	ErrObserverPoolShutdownTimeout = errors.New("xrelay: observer pool shutdown timeout")
)

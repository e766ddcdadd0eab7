package domain

import (
	"errors"
	"fmt"
	"time"
)

// FeedErrorKind classifies feed failures so the monitor can apply one retry
// policy regardless of the underlying fault.
type FeedErrorKind int

const (
	// FeedTransport covers refused connections, timeouts and 5xx responses.
	FeedTransport FeedErrorKind = iota + 1
	// FeedProtocol covers 4xx responses and undecodable bodies.
	FeedProtocol
	// FeedRateLimited is a 429 response.
	FeedRateLimited
)

func (k FeedErrorKind) String() string {
	switch k {
	case FeedTransport:
		return "transport"
	case FeedProtocol:
		return "protocol"
	case FeedRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against the typed errors below.
var (
	ErrFeedTransport   = errors.New("feed transport error")
	ErrFeedProtocol    = errors.New("feed protocol error")
	ErrFeedRateLimited = errors.New("feed rate limited")
	ErrNotify          = errors.New("notification failed")
	ErrPersist         = errors.New("persist notified event")
)

// FeedError is returned by the feed client for every failed query.
type FeedError struct {
	Kind       FeedErrorKind
	StatusCode int           // 0 when no response was received
	RetryAfter time.Duration // set for rate limiting when the server supplied it
	Err        error
}

func (e *FeedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("feed %s error: status %d: %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("feed %s error: %v", e.Kind, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }

func (e *FeedError) Is(target error) bool {
	switch target {
	case ErrFeedTransport:
		return e.Kind == FeedTransport
	case ErrFeedProtocol:
		return e.Kind == FeedProtocol
	case ErrFeedRateLimited:
		return e.Kind == FeedRateLimited
	}
	return false
}

// Notification stages reported in NotifyError.
const (
	StageRender = "render"
	StageImage  = "image"
	StageText   = "text"
)

// NotifyError reports which step of a notification failed.
type NotifyError struct {
	Stage   string
	EventID string
	Err     error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify %s: %s stage: %v", e.EventID, e.Stage, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

func (e *NotifyError) Is(target error) bool { return target == ErrNotify }

// PersistError means the notified-event record could not be made durable.
// It is fatal: continuing would re-notify the event after the next restart.
type PersistError struct {
	Op      string
	EventID string
	Err     error
}

func (e *PersistError) Error() string {
	if e.EventID == "" {
		return fmt.Sprintf("%s notified events: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s notified event %s: %v", e.Op, e.EventID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

func (e *PersistError) Is(target error) bool { return target == ErrPersist }

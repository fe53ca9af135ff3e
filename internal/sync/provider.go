package sync

import (
	"context"
	"errors"
)

// Provider-error classes. Adapters map their transport errors onto these
// so the engine can pick a recovery path without knowing the provider.
var (
	// ErrCursorInvalid means the history cursor is expired or unknown to
	// the provider; the watch must be re-registered.
	ErrCursorInvalid = errors.New("history cursor invalid or expired")

	// ErrMessageNotFound means a single message id could not be fetched;
	// the batch continues without it.
	ErrMessageNotFound = errors.New("message not found")
)

// MessageRef identifies a newly added message discovered in history.
type MessageRef struct {
	ID string
}

// HistoryPage is the result of one history traversal.
type HistoryPage struct {
	// LatestID is the provider-reported history id for the traversal,
	// zero when the provider returned none.
	LatestID uint64
	// Messages are the message-added entries since the cursor, in order.
	Messages []MessageRef
}

// Message is a fetched mailbox message with its body already decoded.
type Message struct {
	ID        string
	HistoryID uint64
	Sender    string
	Subject   string
	Body      string
}

// Provider is the mail provider capability surface the engine needs.
type Provider interface {
	// ListHistorySince lists message-added history entries after the
	// cursor. Returns ErrCursorInvalid when the cursor is stale.
	ListHistorySince(ctx context.Context, startHistoryID uint64) (*HistoryPage, error)

	// GetMessage fetches one message with headers and decoded body.
	// Returns ErrMessageNotFound for a missing id.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// RegisterWatch (re)registers the push subscription and returns the
	// history id the new watch starts from.
	RegisterWatch(ctx context.Context) (uint64, error)
}

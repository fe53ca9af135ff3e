// Package gmail implements the sync.Provider capability against the
// Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/courtpulse/bookingsync/internal/sync"
)

// Adapter implements sync.Provider for Gmail
type Adapter struct {
	svc   *gmail.Service
	topic string
}

// New creates a Gmail adapter. The token source keeps requests
// authenticated; topic is the Pub/Sub topic watch registrations point at.
func New(ctx context.Context, ts oauth2.TokenSource, topic string) (*Adapter, error) {
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &Adapter{svc: svc, topic: topic}, nil
}

// ListHistorySince lists message-added history entries after the cursor.
func (a *Adapter) ListHistorySince(ctx context.Context, startHistoryID uint64) (*sync.HistoryPage, error) {
	call := a.svc.Users.History.List("me").
		StartHistoryId(startHistoryID).
		HistoryTypes("messageAdded").
		MaxResults(100)

	page := &sync.HistoryPage{}
	seen := make(map[string]bool)

	err := call.Pages(ctx, func(resp *gmail.ListHistoryResponse) error {
		if resp.HistoryId != 0 {
			page.LatestID = resp.HistoryId
		}
		for _, h := range resp.History {
			for _, record := range h.MessagesAdded {
				id := record.Message.Id
				if seen[id] {
					continue
				}
				seen[id] = true
				page.Messages = append(page.Messages, sync.MessageRef{ID: id})
			}
		}
		return nil
	})

	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %v", sync.ErrCursorInvalid, err)
		}
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	return page, nil
}

// GetMessage fetches one full message and decodes its body.
func (a *Adapter) GetMessage(ctx context.Context, id string) (*sync.Message, error) {
	m, err := a.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", sync.ErrMessageNotFound, id)
		}
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	msg := &sync.Message{
		ID:        m.Id,
		HistoryID: m.HistoryId,
		Body:      ExtractBody(m.Payload),
	}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			switch h.Name {
			case "From":
				msg.Sender = h.Value
			case "Subject":
				msg.Subject = h.Value
			}
		}
	}
	return msg, nil
}

// RegisterWatch (re)registers the inbox watch and returns the history id
// the new subscription starts from.
func (a *Adapter) RegisterWatch(ctx context.Context) (uint64, error) {
	resp, err := a.svc.Users.Watch("me", &gmail.WatchRequest{
		TopicName: a.topic,
		LabelIds:  []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to register watch: %w", err)
	}
	return resp.HistoryId, nil
}

// ExtractBody walks the multi-part payload depth first, preferring
// text/plain and falling back to text/html. The first matching leaf wins.
func ExtractBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}
	if len(payload.Parts) > 0 {
		if body := findPart(payload.Parts, "text/plain"); body != "" {
			return body
		}
		if body := findPart(payload.Parts, "text/html"); body != "" {
			return body
		}
	}
	if payload.Body != nil && payload.Body.Data != "" {
		return decodePartData(payload.Body.Data)
	}
	return ""
}

func findPart(parts []*gmail.MessagePart, mimeType string) string {
	for _, part := range parts {
		if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
			return decodePartData(part.Body.Data)
		}
		if len(part.Parts) > 0 {
			if nested := findPart(part.Parts, mimeType); nested != "" {
				return nested
			}
		}
	}
	return ""
}

// decodePartData decodes the base64url body data; Gmail omits padding.
func decodePartData(data string) string {
	raw, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		if raw, err = base64.URLEncoding.DecodeString(data); err != nil {
			return ""
		}
	}
	return string(raw)
}

func isNotFound(err error) bool {
	var ge *googleapi.Error
	return errors.As(err, &ge) && ge.Code == 404
}

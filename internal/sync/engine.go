// Package sync walks the mailbox change history whenever a push
// notification arrives, feeds new message bodies through the extraction
// pipeline, and persists the results idempotently.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/courtpulse/bookingsync/internal/extract"
	"github.com/courtpulse/bookingsync/internal/store"
)

const (
	bookingEventSubject = "bookings.created"
	bookingEventType    = "booking.created"
)

// CredentialSource yields a credential valid beyond the refresh margin.
type CredentialSource interface {
	EnsureValid(ctx context.Context) (store.Tokens, error)
}

// Storage is the persistence surface the engine writes through.
type Storage interface {
	LoadSyncState(ctx context.Context) (*store.SyncState, error)
	SaveCursor(ctx context.Context, historyID uint64) error
	InsertProcessedMessage(ctx context.Context, msg *store.ProcessedMessage) error
	InsertBookingWithEvent(ctx context.Context, b *store.Booking, subject, eventType string, payload []byte, msgID string) error
}

// Engine drives one mailbox: notification in, deduplicated stream of new
// messages out, cursor advanced after each handled batch.
type Engine struct {
	provider Provider
	tokens   CredentialSource
	store    Storage
	pipeline *extract.Pipeline
	ledger   *Ledger
	logger   *slog.Logger
}

// NewEngine creates a sync engine.
func NewEngine(p Provider, ts CredentialSource, st Storage, pipe *extract.Pipeline, logger *slog.Logger) *Engine {
	return &Engine{
		provider: p,
		tokens:   ts,
		store:    st,
		pipeline: pipe,
		ledger:   NewLedger(),
		logger:   logger,
	}
}

// OnNotification is the fail-soft entry point. Push delivery is
// at-least-once, so malformed payloads are logged and dropped and no
// error ever reaches the caller.
func (e *Engine) OnNotification(ctx context.Context, env PushEnvelope) {
	if env.Message.Data == "" {
		e.logger.Warn("notification has no message data, dropping")
		return
	}

	if env.Message.MessageID != "" && !e.ledger.MarkSeen("push:"+env.Message.MessageID) {
		e.logger.Info("duplicate notification skipped", "push_id", env.Message.MessageID)
		return
	}

	payload, err := decodeNotification(env.Message.Data)
	if err != nil {
		e.logger.Warn("unparseable notification payload, dropping", "error", err)
		return
	}

	e.logger.Info("notification received",
		"email", payload.EmailAddress, "history_id", payload.HistoryID)

	if err := e.syncSince(ctx, payload.HistoryID); err != nil {
		e.logger.Error("sync failed", "error", err)
	}
}

// syncSince runs one history traversal. The cursor is advanced only after
// the whole batch is handled, so a crash mid-batch reprocesses the same
// window; message and booking writes are idempotent, making that safe.
func (e *Engine) syncSince(ctx context.Context, notifiedHistoryID uint64) error {
	state, err := e.store.LoadSyncState(ctx)
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}

	if _, err := e.tokens.EnsureValid(ctx); err != nil {
		return fmt.Errorf("acquire credential: %w", err)
	}

	// Persisted cursor if present, else bootstrap from the notification.
	start := state.LastHistoryID
	if start == 0 {
		start = notifiedHistoryID
	}
	if start == 0 {
		return fmt.Errorf("no history cursor available")
	}

	e.logger.Info("fetching history", "start_history_id", start)

	page, err := e.provider.ListHistorySince(ctx, start)
	if err != nil {
		if errors.Is(err, ErrCursorInvalid) {
			e.logger.Warn("history cursor too old or invalid, restarting watch")
			return e.restartWatch(ctx)
		}
		return fmt.Errorf("list history: %w", err)
	}

	if len(page.Messages) == 0 {
		// The provider had nothing for this cursor; re-register the
		// watch defensively, as the original listener did.
		e.logger.Info("no history entries, restarting watch")
		return e.restartWatch(ctx)
	}

	for _, ref := range page.Messages {
		if !e.ledger.MarkSeen("msg:" + ref.ID) {
			e.logger.Info("message already handled this run, skipping", "message_id", ref.ID)
			continue
		}
		e.processMessage(ctx, ref.ID, start)
	}

	// The provider's history id is taken as reported, falling back to
	// the notification's only when the provider returned none.
	cursor := page.LatestID
	if cursor == 0 {
		cursor = notifiedHistoryID
	}
	if err := e.store.SaveCursor(ctx, cursor); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}

	e.logger.Info("batch complete", "cursor", cursor, "messages", len(page.Messages))
	return nil
}

// processMessage fetches, classifies, and persists a single message. Any
// failure here is logged and skipped; one bad message never aborts the
// batch.
func (e *Engine) processMessage(ctx context.Context, id string, batchHistoryID uint64) {
	msg, err := e.provider.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			e.logger.Warn("message not found, skipping", "message_id", id)
		} else {
			e.logger.Error("failed to fetch message", "message_id", id, "error", err)
		}
		return
	}

	result := e.pipeline.Extract(msg.Body)

	if result.IsBooking() {
		booking := bookingFromClassification(result)
		payload := e.bookingEventPayload(booking, msg.ID)
		msgID := fmt.Sprintf("%s|%s|%s", bookingEventType, booking.Vendor, booking.BookingID)

		err := e.store.InsertBookingWithEvent(ctx, booking, bookingEventSubject, bookingEventType, payload, msgID)
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			e.logger.Info("booking already exists, skipping",
				"booking_id", booking.BookingID, "vendor", booking.Vendor)
		case err != nil:
			e.logger.Error("failed to save booking",
				"booking_id", booking.BookingID, "error", err)
		default:
			e.logger.Info("booking saved",
				"booking_id", booking.BookingID, "vendor", booking.Vendor)
		}
	}

	historyID := msg.HistoryID
	if historyID == 0 {
		historyID = batchHistoryID
	}

	err = e.store.InsertProcessedMessage(ctx, &store.ProcessedMessage{
		MessageID: msg.ID,
		HistoryID: historyID,
		Sender:    msg.Sender,
		Subject:   msg.Subject,
		Body:      msg.Body,
		FetchedAt: time.Now(),
	})
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		e.logger.Info("duplicate message skipped", "message_id", msg.ID)
	case err != nil:
		e.logger.Error("failed to save message", "message_id", msg.ID, "error", err)
	default:
		e.logger.Info("message saved", "message_id", msg.ID)
	}
}

// restartWatch re-registers the push subscription and resets the cursor
// to the new watch's starting history id. This is the only path that
// moves the cursor outside normal advancement.
func (e *Engine) restartWatch(ctx context.Context) error {
	historyID, err := e.provider.RegisterWatch(ctx)
	if err != nil {
		return fmt.Errorf("register watch: %w", err)
	}
	if err := e.store.SaveCursor(ctx, historyID); err != nil {
		return fmt.Errorf("save cursor after watch restart: %w", err)
	}
	e.logger.Info("watch restarted", "history_id", historyID)
	return nil
}

// bookingFromClassification maps extracted fields onto the stored record.
func bookingFromClassification(c extract.Classification) *store.Booking {
	f := c.Fields
	return &store.Booking{
		BookingID:    f.BookingID,
		Vendor:       c.Vendor,
		Confirmed:    c.Confirmed,
		CustomerName: f.CustomerName,
		VenueName:    f.Venue,
		Location:     f.Location,
		Sport:        f.Sport,
		Court:        f.Court,
		Slot: store.Slot{
			StartTime: f.StartTime,
			EndTime:   f.EndTime,
			StartDate: f.StartDate,
			EndDate:   f.EndDate,
		},
		Price: store.Price{
			TotalAmount:    f.TotalAmount,
			CourtPrice:     f.CourtPrice,
			ConvenienceFee: f.ConvenienceFee,
			Discount:       f.Discount,
			AdvancePaid:    f.AdvancePaid,
			PaidOnline:     f.PaidOnline,
			PayableAtVenue: f.PayableAtVenue,
		},
		BookedDate: f.BookedDate,
		BookedTime: f.BookedTime,
		RawBody:    c.RawBody,
	}
}

func (e *Engine) bookingEventPayload(b *store.Booking, messageID string) []byte {
	event := map[string]any{
		"event_id":   uuid.NewString(),
		"ts":         time.Now().Unix(),
		"booking_id": b.BookingID,
		"vendor":     b.Vendor,
		"venue":      b.VenueName,
		"sport":      b.Sport,
		"court":      b.Court,
		"start_date": b.Slot.StartDate,
		"start_time": b.Slot.StartTime,
		"end_time":   b.Slot.EndTime,
		"total":      b.Price.TotalAmount,
		"message_id": messageID,
	}
	payload, _ := json.Marshal(event)
	return payload
}

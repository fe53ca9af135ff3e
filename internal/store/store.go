package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// syncStateID is the key of the singleton sync state row. One mailbox,
// one credential, one cursor.
const syncStateID = "gmail-sync-state"

// ErrAlreadyExists is returned when an insert hits an existing unique key.
// Callers treat it as a benign skip, not a failure.
var ErrAlreadyExists = errors.New("record already exists")

// Tokens is the persisted OAuth credential pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Valid reports whether the credential pair is usable at all.
func (t Tokens) Valid() bool {
	return t.AccessToken != "" || t.RefreshToken != ""
}

// SyncState is the singleton mailbox state: the history cursor plus the
// current credential pair.
type SyncState struct {
	LastHistoryID uint64
	Tokens        Tokens
}

// ProcessedMessage is one fetched mailbox message. Insertion is idempotent
// on MessageID.
type ProcessedMessage struct {
	MessageID string
	HistoryID uint64
	Sender    string
	Subject   string
	Body      string
	FetchedAt time.Time
}

// Slot is the booked time window.
type Slot struct {
	StartTime string
	EndTime   string
	StartDate string
	EndDate   string
}

// Price holds amount fields as the literal strings found in the email.
type Price struct {
	TotalAmount    string
	CourtPrice     string
	ConvenienceFee string
	Discount       string
	AdvancePaid    string
	PaidOnline     string
	PayableAtVenue string
}

// Booking is a normalized booking record extracted from a vendor email.
// BookingID is unique; a duplicate insert is a no-op.
type Booking struct {
	BookingID    string
	Vendor       string
	Confirmed    bool
	CustomerName string
	VenueName    string
	Location     string
	Sport        string
	Court        string
	Slot         Slot
	Price        Price
	BookedDate   string
	BookedTime   string
	RawBody      string
}

// OutboxMessage represents a message in the outbox
type OutboxMessage struct {
	ID      int64
	Subject string
	Payload []byte
	MsgID   string
}

// Store is the SQLite-backed persistence adapter.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at dbPath and applies the schema.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadSyncState loads the singleton sync state. A missing row yields a zero
// state, not an error.
func (s *Store) LoadSyncState(ctx context.Context) (*SyncState, error) {
	var (
		state  SyncState
		expiry int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT last_history_id, access_token, refresh_token, token_expiry
		FROM sync_state WHERE id = ?
	`, syncStateID).Scan(&state.LastHistoryID, &state.Tokens.AccessToken, &state.Tokens.RefreshToken, &expiry)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &SyncState{}, nil
		}
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}

	if expiry > 0 {
		state.Tokens.Expiry = time.Unix(expiry, 0)
	}
	return &state, nil
}

// SaveTokens upserts the credential pair. An empty refresh token never
// overwrites a stored one.
func (s *Store) SaveTokens(ctx context.Context, tok Tokens) error {
	var expiry int64
	if !tok.Expiry.IsZero() {
		expiry = tok.Expiry.Unix()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (id, access_token, refresh_token, token_expiry, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token != ''
				THEN excluded.refresh_token ELSE sync_state.refresh_token END,
			token_expiry = excluded.token_expiry,
			updated_at = excluded.updated_at
	`, syncStateID, tok.AccessToken, tok.RefreshToken, expiry, time.Now().Unix())

	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

// SaveCursor upserts the history cursor.
func (s *Store) SaveCursor(ctx context.Context, historyID uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (id, last_history_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_history_id = excluded.last_history_id,
			updated_at = excluded.updated_at
	`, syncStateID, historyID, time.Now().Unix())

	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// InsertProcessedMessage inserts a message record, returning
// ErrAlreadyExists if the message id was seen before.
func (s *Store) InsertProcessedMessage(ctx context.Context, msg *ProcessedMessage) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_messages
		(message_id, history_id, sender, subject, body, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.MessageID, msg.HistoryID, msg.Sender, msg.Subject, msg.Body, msg.FetchedAt.Unix())

	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// InsertBookingWithEvent inserts a booking and, in the same transaction, an
// outbox entry for the booking-created event. A duplicate booking id rolls
// back the event and returns ErrAlreadyExists. A nil payload skips the
// outbox entry.
func (s *Store) InsertBookingWithEvent(ctx context.Context, b *Booking, subject, eventType string, payload []byte, msgID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	confirmed := 0
	if b.Confirmed {
		confirmed = 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO bookings
		(booking_id, vendor, confirmed, customer_name, venue_name, location, sport, court,
		 start_time, end_time, start_date, end_date, booked_date, booked_time,
		 total_amount, court_price, convenience_fee, discount, advance_paid,
		 paid_online, payable_at_venue, raw_body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.BookingID, b.Vendor, confirmed, b.CustomerName, b.VenueName, b.Location, b.Sport, b.Court,
		b.Slot.StartTime, b.Slot.EndTime, b.Slot.StartDate, b.Slot.EndDate, b.BookedDate, b.BookedTime,
		b.Price.TotalAmount, b.Price.CourtPrice, b.Price.ConvenienceFee, b.Price.Discount, b.Price.AdvancePaid,
		b.Price.PaidOnline, b.Price.PayableAtVenue, b.RawBody, time.Now().Unix())

	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}

	if payload != nil {
		now := time.Now().Unix()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO outbox (ts, subject, event_type, payload, msg_id, next_attempt_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, now, subject, eventType, payload, msgID, now)
		if err != nil {
			return fmt.Errorf("failed to insert outbox entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CountBookings returns the number of stored bookings.
func (s *Store) CountBookings(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count bookings: %w", err)
	}
	return n, nil
}

// DequeueOutbox fetches unpublished messages from outbox
func (s *Store) DequeueOutbox(ctx context.Context, limit int) ([]OutboxMessage, error) {
	now := time.Now().Unix()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, payload, msg_id
		FROM outbox
		WHERE published_at IS NULL
		  AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?
	`, now, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.Subject, &msg.Payload, &msg.MsgID); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MarkPublished marks an outbox message as published
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET published_at = ? WHERE id = ?
	`, time.Now().Unix(), id)

	if err != nil {
		return fmt.Errorf("failed to mark published: %w", err)
	}
	return nil
}

// MarkOutboxRetry updates retry count and next attempt time
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox
		SET retries = retries + 1,
		    next_attempt_at = ?
		WHERE id = ?
	`, time.Now().Add(backoff).Unix(), id)

	if err != nil {
		return fmt.Errorf("failed to mark retry: %w", err)
	}
	return nil
}

// Package transfer moves a player's transient conversation data to another
// player through a short-lived stored record.
//
// The record is a fallback handoff path: the sender prepares it, the receiver
// applies it before it expires. A receiver has at most one pending record;
// preparing a new one replaces it.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoTransfer     = errors.New("no pending transfer")
	ErrNoConversation = errors.New("no conversation state")
	ErrSelfTransfer   = errors.New("cannot transfer to yourself")
	ErrExpired        = errors.New("transfer expires before it is stored")
)

type Record struct {
	ID         string          `json:"id"`
	SenderID   int64           `json:"sender_id"`
	ReceiverID int64           `json:"receiver_id"`
	Payload    json.RawMessage `json:"payload"`
	ExpiresAt  time.Time       `json:"expires_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SessionStore keeps per-user transient conversation data.
type SessionStore interface {
	// GetConversation returns ErrNoConversation when the user has none.
	GetConversation(ctx context.Context, userID int64) (json.RawMessage, error)
	SetConversation(ctx context.Context, userID int64, data json.RawMessage) error
	ClearConversation(ctx context.Context, userID int64) error
}

// RecordStore keeps pending transfer records.
type RecordStore interface {
	// PutTransfer stores rec, replacing any record pending for the same
	// receiver.
	PutTransfer(ctx context.Context, rec Record) error
	// TakeTransfer removes and returns the receiver's record if it has not
	// expired at now. It returns ErrNoTransfer otherwise.
	TakeTransfer(ctx context.Context, receiverID int64, now time.Time) (Record, error)
	// DeleteExpired removes records that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Store interface {
	SessionStore
	RecordStore
}

type Service struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, ttl time.Duration, logger *slog.Logger) *Service {
	return &Service{store: store, ttl: ttl, logger: logger, now: time.Now}
}

// Conversation returns the user's transient data.
func (s *Service) Conversation(ctx context.Context, userID int64) (json.RawMessage, error) {
	return s.store.GetConversation(ctx, userID)
}

func (s *Service) SetConversation(ctx context.Context, userID int64, data json.RawMessage) error {
	if !json.Valid(data) {
		return fmt.Errorf("conversation data is not valid JSON")
	}
	return s.store.SetConversation(ctx, userID, data)
}

// PrepareTransfer moves the sender's conversation data into a record for the
// receiver and clears the sender's data.
func (s *Service) PrepareTransfer(ctx context.Context, senderID, receiverID int64) (Record, error) {
	if senderID == receiverID {
		return Record{}, ErrSelfTransfer
	}
	data, err := s.store.GetConversation(ctx, senderID)
	if err != nil {
		return Record{}, fmt.Errorf("loading sender conversation: %w", err)
	}

	now := s.now().UTC()
	rec := Record{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Payload:    data,
		ExpiresAt:  now.Add(s.ttl),
		CreatedAt:  now,
	}
	if err := s.store.PutTransfer(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("storing transfer: %w", err)
	}
	if err := s.store.ClearConversation(ctx, senderID); err != nil {
		return Record{}, fmt.Errorf("clearing sender conversation: %w", err)
	}

	s.logger.Info("transfer prepared",
		"transfer_id", rec.ID,
		"sender_id", senderID,
		"receiver_id", receiverID,
	)
	return rec, nil
}

// ApplyTransfer restores the receiver's pending record as their conversation
// data and consumes it.
func (s *Service) ApplyTransfer(ctx context.Context, receiverID int64) (Record, error) {
	rec, err := s.store.TakeTransfer(ctx, receiverID, s.now().UTC())
	if err != nil {
		return Record{}, err
	}
	if err := s.store.SetConversation(ctx, receiverID, rec.Payload); err != nil {
		return Record{}, fmt.Errorf("restoring conversation: %w", err)
	}

	s.logger.Info("transfer applied",
		"transfer_id", rec.ID,
		"sender_id", rec.SenderID,
		"receiver_id", receiverID,
	)
	return rec, nil
}

// Reclaim deletes expired records.
func (s *Service) Reclaim(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired transfers: %w", err)
	}
	return n, nil
}

// Run reclaims expired records every interval until ctx is done. Failures are
// logged and retried on the next tick.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Reclaim(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("reclaiming transfers failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("reclaimed expired transfers", "count", n)
			}
		}
	}
}

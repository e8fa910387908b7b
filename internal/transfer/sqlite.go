package transfer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Fixed width keeps stored timestamps ordered as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) GetConversation(ctx context.Context, userID int64) (json.RawMessage, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM conversation_state WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoConversation
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (s *SQLiteStore) SetConversation(ctx context.Context, userID int64, data json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_state (user_id, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, userID, string(data), s.now().UTC().Format(timeLayout))
	return err
}

func (s *SQLiteStore) ClearConversation(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_state WHERE user_id = ?`, userID)
	return err
}

func (s *SQLiteStore) PutTransfer(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state_transfers (id, sender_id, receiver_id, payload, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(receiver_id) DO UPDATE SET
			id = excluded.id,
			sender_id = excluded.sender_id,
			payload = excluded.payload,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at
	`, rec.ID, rec.SenderID, rec.ReceiverID, string(rec.Payload),
		rec.ExpiresAt.UTC().Format(timeLayout), rec.CreatedAt.UTC().Format(timeLayout))
	return err
}

func (s *SQLiteStore) TakeTransfer(ctx context.Context, receiverID int64, now time.Time) (Record, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	var (
		rec                  Record
		payload              string
		expiresAt, createdAt string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, sender_id, receiver_id, payload, expires_at, created_at
		FROM state_transfers
		WHERE receiver_id = ? AND expires_at > ?
	`, receiverID, now.UTC().Format(timeLayout)).Scan(
		&rec.ID, &rec.SenderID, &rec.ReceiverID, &payload, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNoTransfer
	}
	if err != nil {
		return Record{}, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM state_transfers WHERE id = ?`, rec.ID); err != nil {
		return Record{}, fmt.Errorf("deleting transfer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, err
	}

	rec.Payload = json.RawMessage(payload)
	rec.ExpiresAt, _ = time.Parse(timeLayout, expiresAt)
	rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return rec, nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM state_transfers WHERE expires_at <= ?`, now.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

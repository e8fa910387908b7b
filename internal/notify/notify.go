// Package notify delivers quest messages to players and keeps the per-player
// inbox that transport feeds read from.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMediaUnavailable = errors.New("media unavailable")
	ErrUnknownMessage   = errors.New("unknown message")
)

// MessageRef identifies a delivered message so it can be edited in place.
type MessageRef struct {
	PlayerID  int64
	MessageID int64
}

// Notifier is the messaging contract consumed by the quest engine.
type Notifier interface {
	SendText(ctx context.Context, playerID int64, text string) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string) error
	SendPhoto(ctx context.Context, playerID int64, path, caption string) error
	SendLocation(ctx context.Context, playerID int64, lat, lon float64) error
	Broadcast(ctx context.Context, teamID, exceptPlayerID int64, text string) error
}

// Roster resolves the recipients of a team broadcast.
type Roster interface {
	TeamPlayerIDs(ctx context.Context, teamID int64) ([]int64, error)
}

const (
	EventText     = "text"
	EventPhoto    = "photo"
	EventLocation = "location"
	EventEdit     = "edit"
)

// Event is one inbox entry as seen by a player's feed.
type Event struct {
	Type      string    `json:"type"`
	MessageID int64     `json:"messageId"`
	PlayerID  int64     `json:"playerId"`
	Text      string    `json:"text,omitempty"`
	MediaPath string    `json:"mediaPath,omitempty"`
	Lat       float64   `json:"lat,omitempty"`
	Lon       float64   `json:"lon,omitempty"`
	At        time.Time `json:"at"`
}

// Broadcast sends text to every roster member except exceptPlayerID. A failed
// recipient does not stop delivery to the rest; all failures are returned
// joined.
func Broadcast(ctx context.Context, roster Roster, teamID, exceptPlayerID int64, send func(ctx context.Context, playerID int64) error) error {
	ids, err := roster.TeamPlayerIDs(ctx, teamID)
	if err != nil {
		return fmt.Errorf("loading roster of team %d: %w", teamID, err)
	}

	var errs []error
	for _, id := range ids {
		if id == exceptPlayerID {
			continue
		}
		if err := send(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("player %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

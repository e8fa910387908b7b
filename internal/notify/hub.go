package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const historyLimit = 50

// Mirror receives a copy of every event the hub delivers.
type Mirror interface {
	Publish(ctx context.Context, ev Event) error
}

// Hub is an in-process Notifier. Each player has an inbox: a bounded history
// plus live subscribers (SSE or WebSocket feeds), keyed by player ID.
type Hub struct {
	roster   Roster
	logger   *slog.Logger
	mediaDir string
	mirror   Mirror
	now      func() time.Time

	mu      sync.RWMutex
	nextID  int64
	subs    map[int64]map[chan Event]struct{}
	history map[int64][]Event
}

type HubOption func(*Hub)

// WithMediaDir resolves relative photo paths against dir.
func WithMediaDir(dir string) HubOption {
	return func(h *Hub) { h.mediaDir = dir }
}

func WithMirror(m Mirror) HubOption {
	return func(h *Hub) { h.mirror = m }
}

func NewHub(logger *slog.Logger, roster Roster, opts ...HubOption) *Hub {
	h := &Hub{
		roster:  roster,
		logger:  logger,
		now:     time.Now,
		subs:    make(map[int64]map[chan Event]struct{}),
		history: make(map[int64][]Event),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe returns a channel of new events for the player and the events
// already in the player's inbox. Call the returned func to unsubscribe.
func (h *Hub) Subscribe(playerID int64) (<-chan Event, []Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	if h.subs[playerID] == nil {
		h.subs[playerID] = make(map[chan Event]struct{})
	}
	h.subs[playerID][ch] = struct{}{}
	backlog := append([]Event(nil), h.history[playerID]...)
	h.mu.Unlock()

	var once sync.Once
	return ch, backlog, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[playerID], ch)
			if len(h.subs[playerID]) == 0 {
				delete(h.subs, playerID)
			}
			h.mu.Unlock()
		})
	}
}

// History returns a copy of the player's inbox.
func (h *Hub) History(playerID int64) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Event(nil), h.history[playerID]...)
}

func (h *Hub) SendText(ctx context.Context, playerID int64, text string) (MessageRef, error) {
	ev := h.publish(ctx, Event{Type: EventText, PlayerID: playerID, Text: text})
	return MessageRef{PlayerID: playerID, MessageID: ev.MessageID}, nil
}

func (h *Hub) EditText(ctx context.Context, ref MessageRef, text string) error {
	h.mu.Lock()
	found := false
	for i := range h.history[ref.PlayerID] {
		if h.history[ref.PlayerID][i].MessageID == ref.MessageID {
			h.history[ref.PlayerID][i].Text = text
			found = true
			break
		}
	}
	if !found {
		h.mu.Unlock()
		return fmt.Errorf("%w: player %d message %d", ErrUnknownMessage, ref.PlayerID, ref.MessageID)
	}
	ev := Event{
		Type:      EventEdit,
		MessageID: ref.MessageID,
		PlayerID:  ref.PlayerID,
		Text:      text,
		At:        h.now(),
	}
	h.fanOut(ev)
	h.mu.Unlock()

	h.mirrorEvent(ctx, ev)
	return nil
}

func (h *Hub) SendPhoto(ctx context.Context, playerID int64, path, caption string) error {
	full := path
	if h.mediaDir != "" && !filepath.IsAbs(path) {
		full = filepath.Join(h.mediaDir, path)
	}
	if _, err := os.Stat(full); err != nil {
		return fmt.Errorf("%w: %s", ErrMediaUnavailable, path)
	}
	h.publish(ctx, Event{Type: EventPhoto, PlayerID: playerID, Text: caption, MediaPath: path})
	return nil
}

func (h *Hub) SendLocation(ctx context.Context, playerID int64, lat, lon float64) error {
	h.publish(ctx, Event{Type: EventLocation, PlayerID: playerID, Lat: lat, Lon: lon})
	return nil
}

func (h *Hub) Broadcast(ctx context.Context, teamID, exceptPlayerID int64, text string) error {
	return Broadcast(ctx, h.roster, teamID, exceptPlayerID, func(ctx context.Context, id int64) error {
		_, err := h.SendText(ctx, id, text)
		return err
	})
}

// publish assigns a message ID, records the event in the player's inbox and
// fans it out.
func (h *Hub) publish(ctx context.Context, ev Event) Event {
	h.mu.Lock()
	h.nextID++
	ev.MessageID = h.nextID
	ev.At = h.now()
	inbox := append(h.history[ev.PlayerID], ev)
	if len(inbox) > historyLimit {
		inbox = inbox[len(inbox)-historyLimit:]
	}
	h.history[ev.PlayerID] = inbox
	h.fanOut(ev)
	h.mu.Unlock()

	h.mirrorEvent(ctx, ev)
	return ev
}

// fanOut hands ev to the player's live subscribers. h.mu must be held, so a
// subscriber sees each event either in its backlog or on its channel.
func (h *Hub) fanOut(ev Event) {
	for ch := range h.subs[ev.PlayerID] {
		select {
		case ch <- ev:
		default:
			// Drop if subscriber is slow.
		}
	}
}

func (h *Hub) mirrorEvent(ctx context.Context, ev Event) {
	if h.mirror != nil {
		if err := h.mirror.Publish(ctx, ev); err != nil {
			h.logger.Warn("mirroring notification failed",
				"player_id", ev.PlayerID,
				"type", ev.Type,
				"error", err,
			)
		}
	}
}

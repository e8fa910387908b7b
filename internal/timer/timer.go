// Package timer keeps the per-chat registry of cancellable delayed actions:
// staggered hint reveals and the answer-deadline countdown.
//
// Only Service mutates the registry. Cancelling a timer waits for its
// goroutine to exit, so once Cancel returns no message from that timer can
// still be delivered, and a subsequent Schedule for the same slot never races
// with the cancelled one.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/VladislavGnom/QuestBot/internal/notify"
)

type Kind int

const (
	KindHint Kind = iota
	KindDeadline
)

func (k Kind) String() string {
	switch k {
	case KindHint:
		return "hint"
	case KindDeadline:
		return "deadline"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ID names a timer slot within a chat.
type ID string

const (
	QuestionTimer ID = "question_timer"
	Clue1         ID = "clue1"
	Clue2         ID = "clue2"
	Clue3         ID = "clue3"

	// All matches every slot of a chat in Cancel.
	All ID = ""
)

// HintID returns the slot for the 1-based hint number.
func HintID(slot int) ID {
	return ID(fmt.Sprintf("clue%d", slot))
}

// Payload is what a timer delivers when it fires.
type Payload struct {
	PlayerID  int64
	Slot      int
	Text      string
	MediaPath string
}

// Sender is the subset of notify.Notifier timers deliver through.
type Sender interface {
	SendText(ctx context.Context, playerID int64, text string) (notify.MessageRef, error)
	EditText(ctx context.Context, ref notify.MessageRef, text string) error
	SendPhoto(ctx context.Context, playerID int64, path, caption string) error
}

// Recorder observes timer lifecycle events.
type Recorder interface {
	TimerScheduled(kind string)
	TimerFired(kind string)
	TimerCancelled(kind string)
}

type nopRecorder struct{}

func (nopRecorder) TimerScheduled(string) {}
func (nopRecorder) TimerFired(string)     {}
func (nopRecorder) TimerCancelled(string) {}

type entry struct {
	kind   Kind
	token  uint64
	fireAt time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

type Service struct {
	sender Sender
	logger *slog.Logger
	tick   time.Duration
	rec    Recorder

	base context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	seq    uint64
	timers map[int64]map[ID]*entry
}

type Option func(*Service)

// WithTick sets how often the deadline countdown display is refreshed.
func WithTick(d time.Duration) Option {
	return func(s *Service) { s.tick = d }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.rec = r }
}

func New(sender Sender, logger *slog.Logger, opts ...Option) *Service {
	base, stop := context.WithCancel(context.Background())
	s := &Service{
		sender: sender,
		logger: logger,
		tick:   time.Second,
		rec:    nopRecorder{},
		base:   base,
		stop:   stop,
		timers: make(map[int64]map[ID]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule arms a timer in the (chatID, id) slot, replacing any timer already
// there. The replaced timer is fully stopped before the new one starts.
func (s *Service) Schedule(chatID int64, kind Kind, delay time.Duration, payload Payload, id ID) {
	if id == All {
		s.logger.Error("refusing to schedule timer without id", "chat_id", chatID, "kind", kind.String())
		return
	}

	ctx, cancel := context.WithCancel(s.base)
	e := &entry{
		kind:   kind,
		fireAt: time.Now().Add(delay),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.seq++
	e.token = s.seq
	if s.timers[chatID] == nil {
		s.timers[chatID] = make(map[ID]*entry)
	}
	old := s.timers[chatID][id]
	s.timers[chatID][id] = e
	s.mu.Unlock()

	if old != nil {
		s.stopEntry(old)
	}

	s.rec.TimerScheduled(kind.String())
	go s.run(ctx, chatID, id, e, payload, delay)
}

// Cancel stops the timer in the (chatID, id) slot, or every timer of the chat
// when id is All. It returns after the affected timers have exited.
func (s *Service) Cancel(chatID int64, id ID) {
	var victims []*entry

	s.mu.Lock()
	if id == All {
		for _, e := range s.timers[chatID] {
			victims = append(victims, e)
		}
		delete(s.timers, chatID)
	} else if e, ok := s.timers[chatID][id]; ok {
		victims = append(victims, e)
		delete(s.timers[chatID], id)
		if len(s.timers[chatID]) == 0 {
			delete(s.timers, chatID)
		}
	}
	s.mu.Unlock()

	for _, e := range victims {
		s.stopEntry(e)
	}
}

// Pending returns the fire time of every armed timer of the chat.
func (s *Service) Pending(chatID int64) map[ID]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[ID]time.Time, len(s.timers[chatID]))
	for id, e := range s.timers[chatID] {
		out[id] = e.fireAt
	}
	return out
}

// Len returns the number of armed timers across all chats.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, chat := range s.timers {
		n += len(chat)
	}
	return n
}

// Close cancels every timer of every chat.
func (s *Service) Close() {
	s.mu.Lock()
	var victims []*entry
	for _, chat := range s.timers {
		for _, e := range chat {
			victims = append(victims, e)
		}
	}
	s.timers = make(map[int64]map[ID]*entry)
	s.mu.Unlock()

	s.stop()
	for _, e := range victims {
		s.stopEntry(e)
	}
}

func (s *Service) stopEntry(e *entry) {
	e.cancel()
	<-e.done
	s.rec.TimerCancelled(e.kind.String())
}

// release removes the entry from the registry unless it was already replaced
// or cancelled.
func (s *Service) release(chatID int64, id ID, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.timers[chatID][id]; ok && e.token == token {
		delete(s.timers[chatID], id)
		if len(s.timers[chatID]) == 0 {
			delete(s.timers, chatID)
		}
	}
}

func (s *Service) run(ctx context.Context, chatID int64, id ID, e *entry, payload Payload, delay time.Duration) {
	defer close(e.done)
	defer s.release(chatID, id, e.token)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("timer panicked", "chat_id", chatID, "timer_id", string(id), "panic", r)
		}
	}()

	switch e.kind {
	case KindHint:
		s.runHint(ctx, chatID, id, payload, delay)
	case KindDeadline:
		s.runDeadline(ctx, chatID, id, payload, delay)
	default:
		s.logger.Error("unknown timer kind", "chat_id", chatID, "timer_id", string(id), "kind", e.kind.String())
	}
}

func (s *Service) runHint(ctx context.Context, chatID int64, id ID, p Payload, delay time.Duration) {
	t := time.NewTimer(delay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
	if ctx.Err() != nil {
		return
	}

	text := fmt.Sprintf("Hint #%d: %s", p.Slot, p.Text)
	if p.MediaPath != "" {
		err := s.sender.SendPhoto(ctx, p.PlayerID, p.MediaPath, text)
		if err == nil {
			s.rec.TimerFired(KindHint.String())
			return
		}
		s.logger.Warn("sending hint photo failed, falling back to text",
			"chat_id", chatID, "timer_id", string(id), "player_id", p.PlayerID, "error", err)
	}
	if _, err := s.sender.SendText(ctx, p.PlayerID, text); err != nil {
		s.logger.Warn("sending hint failed",
			"chat_id", chatID, "timer_id", string(id), "player_id", p.PlayerID, "error", err)
		return
	}
	s.rec.TimerFired(KindHint.String())
}

func (s *Service) runDeadline(ctx context.Context, chatID int64, id ID, p Payload, delay time.Duration) {
	deadline := time.Now().Add(delay)

	display := CountdownText(delay)
	ref, err := s.sender.SendText(ctx, p.PlayerID, display)
	shown := err == nil
	if err != nil {
		s.logger.Warn("sending countdown failed",
			"chat_id", chatID, "timer_id", string(id), "player_id", p.PlayerID, "error", err)
	}

	expire := time.NewTimer(delay)
	defer expire.Stop()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-expire.C:
			if ctx.Err() != nil {
				return
			}
			s.rec.TimerFired(KindDeadline.String())
			if shown {
				if err := s.sender.EditText(ctx, ref, TimeUpText); err != nil {
					s.logger.Warn("updating countdown failed",
						"chat_id", chatID, "timer_id", string(id), "player_id", p.PlayerID, "error", err)
				}
			}
			return
		case <-ticker.C:
			if !shown {
				continue
			}
			next := CountdownText(time.Until(deadline))
			if next == display {
				continue
			}
			if err := s.sender.EditText(ctx, ref, next); err != nil {
				s.logger.Warn("updating countdown failed",
					"chat_id", chatID, "timer_id", string(id), "player_id", p.PlayerID, "error", err)
				continue
			}
			display = next
		}
	}
}

// TimeUpText is the terminal state of the countdown message.
const TimeUpText = "⌛ Time's up! Send any answer to see the correct one and pass the turn."

// CountdownText renders the remaining time, rounded up to whole seconds.
func CountdownText(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	secs := int((remaining + time.Second - 1) / time.Second)
	return fmt.Sprintf("⏳ Time left: %02d:%02d", secs/60, secs%60)
}

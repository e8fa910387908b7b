package timer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladislavGnom/QuestBot/internal/notify"
)

type sent struct {
	kind     string
	playerID int64
	text     string
	ref      notify.MessageRef
}

type fakeSender struct {
	mu       sync.Mutex
	next     int64
	log      []sent
	failAll  bool
	failPics bool
}

func (f *fakeSender) SendText(_ context.Context, playerID int64, text string) (notify.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return notify.MessageRef{}, errors.New("chat not found")
	}
	f.next++
	ref := notify.MessageRef{PlayerID: playerID, MessageID: f.next}
	f.log = append(f.log, sent{kind: "text", playerID: playerID, text: text, ref: ref})
	return ref, nil
}

func (f *fakeSender) EditText(_ context.Context, ref notify.MessageRef, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("message to edit not found")
	}
	f.log = append(f.log, sent{kind: "edit", playerID: ref.PlayerID, text: text, ref: ref})
	return nil
}

func (f *fakeSender) SendPhoto(_ context.Context, playerID int64, _, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failPics {
		return notify.ErrMediaUnavailable
	}
	f.log = append(f.log, sent{kind: "photo", playerID: playerID, text: caption})
	return nil
}

func (f *fakeSender) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.log...)
}

func newService(t *testing.T, sender Sender, opts ...Option) *Service {
	t.Helper()
	s := New(sender, slog.Default(), opts...)
	t.Cleanup(s.Close)
	return s
}

func TestHintFiresOnceAndSelfRemoves(t *testing.T) {
	sender := &fakeSender{}
	s := newService(t, sender)

	s.Schedule(1, KindHint, 10*time.Millisecond, Payload{PlayerID: 7, Slot: 1, Text: "look up"}, Clue1)
	require.Contains(t, s.Pending(1), Clue1)

	require.Eventually(t, func() bool { return len(s.Pending(1)) == 0 }, time.Second, 5*time.Millisecond)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(7), msgs[0].playerID)
	assert.Equal(t, "Hint #1: look up", msgs[0].text)
}

func TestHintPhotoFallsBackToText(t *testing.T) {
	sender := &fakeSender{failPics: true}
	s := newService(t, sender)

	s.Schedule(1, KindHint, time.Millisecond, Payload{PlayerID: 7, Slot: 2, Text: "red door", MediaPath: "door.png"}, Clue2)
	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, "text", sender.messages()[0].kind)
}

func TestHintPhotoDelivered(t *testing.T) {
	sender := &fakeSender{}
	s := newService(t, sender)

	s.Schedule(1, KindHint, time.Millisecond, Payload{PlayerID: 7, Slot: 3, Text: "statue", MediaPath: "statue.png"}, Clue3)
	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, "photo", sender.messages()[0].kind)
}

func TestScheduleReplacesSameSlot(t *testing.T) {
	sender := &fakeSender{}
	s := newService(t, sender)

	s.Schedule(1, KindHint, 30*time.Millisecond, Payload{PlayerID: 7, Slot: 1, Text: "old"}, Clue1)
	s.Schedule(1, KindHint, 30*time.Millisecond, Payload{PlayerID: 7, Slot: 1, Text: "new"}, Clue1)
	assert.Len(t, s.Pending(1), 1)

	require.Eventually(t, func() bool { return len(s.Pending(1)) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hint #1: new", msgs[0].text)
}

func TestCancelAllThenReschedule(t *testing.T) {
	sender := &fakeSender{}
	s := newService(t, sender)

	arm := func() {
		s.Schedule(1, KindDeadline, time.Hour, Payload{PlayerID: 7}, QuestionTimer)
		for slot := 1; slot <= 3; slot++ {
			s.Schedule(1, KindHint, time.Hour, Payload{PlayerID: 7, Slot: slot, Text: "x"}, HintID(slot))
		}
	}

	arm()
	s.Schedule(2, KindHint, time.Hour, Payload{PlayerID: 8, Slot: 1}, Clue1)
	require.Len(t, s.Pending(1), 4)

	s.Cancel(1, All)
	assert.Empty(t, s.Pending(1))
	assert.Len(t, s.Pending(2), 1, "other chats are untouched")

	arm()
	pending := s.Pending(1)
	assert.Len(t, pending, 4)
	for _, id := range []ID{QuestionTimer, Clue1, Clue2, Clue3} {
		assert.Contains(t, pending, id)
	}
}

func TestCancelSingleSlot(t *testing.T) {
	sender := &fakeSender{}
	s := newService(t, sender)

	s.Schedule(1, KindHint, 20*time.Millisecond, Payload{PlayerID: 7, Slot: 1, Text: "a"}, Clue1)
	s.Schedule(1, KindHint, 20*time.Millisecond, Payload{PlayerID: 7, Slot: 2, Text: "b"}, Clue2)
	s.Cancel(1, Clue1)

	require.Eventually(t, func() bool { return len(s.Pending(1)) == 0 }, time.Second, 5*time.Millisecond)
	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hint #2: b", msgs[0].text)
}

func TestCancelledHintNeverDelivers(t *testing.T) {
	sender := &fakeSender{}
	s := newService(t, sender)

	s.Schedule(1, KindHint, 10*time.Millisecond, Payload{PlayerID: 7, Slot: 1, Text: "late"}, Clue1)
	s.Cancel(1, All)
	time.Sleep(30 * time.Millisecond)

	assert.Empty(t, sender.messages())
}

func TestDeadlineCountdown(t *testing.T) {
	sender := &fakeSender{}
	s := newService(t, sender, WithTick(5*time.Millisecond))

	s.Schedule(1, KindDeadline, 1200*time.Millisecond, Payload{PlayerID: 7}, QuestionTimer)
	require.Eventually(t, func() bool { return len(s.Pending(1)) == 0 }, 3*time.Second, 10*time.Millisecond)

	msgs := sender.messages()
	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Equal(t, "text", msgs[0].kind)
	assert.Equal(t, "⏳ Time left: 00:02", msgs[0].text)

	for _, m := range msgs[1:] {
		assert.Equal(t, "edit", m.kind)
		assert.Equal(t, msgs[0].ref, m.ref, "countdown edits the same message")
	}
	assert.Equal(t, TimeUpText, msgs[len(msgs)-1].text)
}

func TestDeadlineCancelStopsCountdown(t *testing.T) {
	sender := &fakeSender{}
	s := newService(t, sender, WithTick(5*time.Millisecond))

	s.Schedule(1, KindDeadline, 50*time.Millisecond, Payload{PlayerID: 7}, QuestionTimer)
	s.Cancel(1, QuestionTimer)
	time.Sleep(80 * time.Millisecond)

	for _, m := range sender.messages() {
		assert.NotEqual(t, TimeUpText, m.text)
	}
}

func TestSenderErrorsAreSwallowed(t *testing.T) {
	sender := &fakeSender{failAll: true}
	s := newService(t, sender, WithTick(time.Millisecond))

	s.Schedule(1, KindHint, time.Millisecond, Payload{PlayerID: 7, Slot: 1, Text: "x"}, Clue1)
	s.Schedule(1, KindDeadline, 10*time.Millisecond, Payload{PlayerID: 7}, QuestionTimer)

	require.Eventually(t, func() bool { return len(s.Pending(1)) == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, sender.messages())
}

func TestCloseCancelsEverything(t *testing.T) {
	sender := &fakeSender{}
	s := New(sender, slog.Default())

	s.Schedule(1, KindHint, 10*time.Millisecond, Payload{PlayerID: 7, Slot: 1}, Clue1)
	s.Schedule(2, KindHint, 10*time.Millisecond, Payload{PlayerID: 8, Slot: 1}, Clue1)
	s.Close()
	time.Sleep(30 * time.Millisecond)

	assert.Empty(t, s.Pending(1))
	assert.Empty(t, s.Pending(2))
	assert.Empty(t, sender.messages())
}

func TestCountdownText(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{5 * time.Minute, "05:00"},
		{299500 * time.Millisecond, "05:00"},
		{61 * time.Second, "01:01"},
		{0, "00:00"},
		{-time.Second, "00:00"},
	}
	for _, tt := range tests {
		got := CountdownText(tt.in)
		if !strings.HasSuffix(got, tt.want) {
			t.Errorf("CountdownText(%v) = %q, want suffix %q", tt.in, got, tt.want)
		}
	}
}

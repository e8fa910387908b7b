package quest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/VladislavGnom/QuestBot/internal/notify"
	"github.com/VladislavGnom/QuestBot/internal/timer"
)

const maxHints = 3

// Timers is the part of timer.Service the scheduler drives. The team ID is
// used as the chat ID.
type Timers interface {
	Schedule(chatID int64, kind timer.Kind, delay time.Duration, payload timer.Payload, id timer.ID)
	Cancel(chatID int64, id timer.ID)
}

type Settings struct {
	QuestionTimeLimit time.Duration
	// HintOffsets are the delays of the hint reveals after a question is
	// issued. Only the first three are used.
	HintOffsets     []time.Duration
	ConflictRetries int
}

type Outcome string

const (
	OutcomeRetry    Outcome = "retry"
	OutcomeAdvanced Outcome = "advanced"
	OutcomeFinished Outcome = "finished"
)

type AnswerResult struct {
	Outcome  Outcome
	Correct  bool
	Credited bool
	// Expired is set when the deadline had passed. The canonical answer is
	// revealed and the turn advances without credit.
	Expired         bool
	CanonicalAnswer string
	NextPlayerID    int64
	State           TeamGameState
}

// Scheduler owns the per-team quest state machine:
//
//	waiting -> playing(awaiting_answer) <-> playing(awaiting_arrival) -> finished
//
// Every mutation of a team runs under that team's lock and is persisted with
// an optimistic version check.
type Scheduler struct {
	store    Store
	caps     CapabilityLookup
	notifier notify.Notifier
	timers   Timers
	settings Settings
	logger   *slog.Logger
	rec      Recorder
	now      func() time.Time
	pick     func(n int) int
	locks    *teamLocks
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithPicker replaces the uniform random choice of the next question.
func WithPicker(pick func(n int) int) Option {
	return func(s *Scheduler) { s.pick = pick }
}

func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.rec = r }
}

func NewScheduler(
	store Store,
	caps CapabilityLookup,
	notifier notify.Notifier,
	timers Timers,
	settings Settings,
	logger *slog.Logger,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		store:    store,
		caps:     caps,
		notifier: notifier,
		timers:   timers,
		settings: settings,
		logger:   logger,
		rec:      nopRecorder{},
		now:      time.Now,
		pick:     rand.IntN,
		locks:    newTeamLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartQuest orders the roster by location, issues the first question and
// arms its timers. Only the team's captain may start.
func (s *Scheduler) StartQuest(ctx context.Context, teamID, requesterID int64) (TeamGameState, error) {
	grant, err := s.grant(ctx, requesterID)
	if err != nil {
		return TeamGameState{}, err
	}
	if !grant.CaptainOf(teamID) {
		return TeamGameState{}, fmt.Errorf("%w: player %d is not the captain of team %d", ErrUnauthorized, requesterID, teamID)
	}
	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		return TeamGameState{}, fmt.Errorf("loading team: %w", err)
	}

	defer s.locks.lock(teamID)()

	current, err := s.store.GetTeamState(ctx, teamID)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return TeamGameState{}, fmt.Errorf("loading team state: %w", err)
	}
	if err == nil {
		if err := requireWaiting(current); err != nil {
			return TeamGameState{}, err
		}
	}

	players, err := s.store.GetTeamPlayers(ctx, teamID)
	if err != nil {
		return TeamGameState{}, fmt.Errorf("loading roster: %w", err)
	}
	if len(players) == 0 {
		return TeamGameState{}, ErrEmptyRoster
	}
	order := playersOrder(players)
	first := players[slices.IndexFunc(players, func(p Player) bool { return p.ID == order[0] })]

	q, err := s.pickQuestion(ctx, first.LocationID)
	if err != nil {
		return TeamGameState{}, err
	}

	if _, err := s.store.InitTeamState(ctx, teamID, order); err != nil {
		return TeamGameState{}, fmt.Errorf("initializing team state: %w", err)
	}

	st, err := s.mutate(ctx, teamID, func(st TeamGameState) (*StateUpdate, error) {
		if err := requireWaiting(st); err != nil {
			return nil, err
		}
		now := s.now()
		return &StateUpdate{
			Status:               ptr(StatusPlaying),
			Phase:                ptr(PhaseAwaitingAnswer),
			PlayersOrder:         order,
			CurrentPlayerIdx:     ptr(0),
			CurrentQuestionID:    ptr(q.ID),
			CurrentQuestionNum:   ptr(1),
			CorrectAnswers:       ptr(0),
			PretendOnRightAnswer: ptr(true),
			QuestionDeadline:     ptr(now.Add(s.settings.QuestionTimeLimit)),
			CreatedAt:            ptr(now),
		}, nil
	})
	if err != nil {
		return TeamGameState{}, err
	}

	s.rec.QuestStarted()
	s.logger.Info("quest started", "team_id", teamID, "players", len(order), "first_player_id", first.ID)

	s.issueQuestion(ctx, teamID, first.ID, q, 1)
	s.broadcast(ctx, teamID, first.ID, startedText(first.Name))
	return st, nil
}

// SubmitAnswer checks the active player's answer. A wrong answer before the
// deadline clears the credit gate and keeps the turn. A correct or expired
// answer advances the turn and then cancels the chat's timers.
func (s *Scheduler) SubmitAnswer(ctx context.Context, teamID, submitterID int64, text string) (AnswerResult, error) {
	defer s.locks.lock(teamID)()

	var res AnswerResult
	st, err := s.mutate(ctx, teamID, func(st TeamGameState) (*StateUpdate, error) {
		res = AnswerResult{}
		if err := requirePlaying(st); err != nil {
			return nil, err
		}
		active, ok := st.ActivePlayer()
		if !ok || active != submitterID {
			return nil, ErrInvalidTurn
		}
		if st.Phase == PhaseAwaitingArrival {
			return nil, ErrAwaitingArrival
		}

		q, err := s.currentQuestion(ctx, st, active)
		if err != nil {
			return nil, err
		}

		now := s.now()
		if now.After(st.QuestionDeadline) {
			res.Expired = true
			res.CanonicalAnswer = q.Answer
		} else {
			res.Correct = answerMatches(text, q.Answer)
		}

		if !res.Expired && !res.Correct {
			res.Outcome = OutcomeRetry
			if !st.PretendOnRightAnswer {
				return nil, nil
			}
			return &StateUpdate{PretendOnRightAnswer: ptr(false)}, nil
		}

		res.Credited = res.Correct && st.PretendOnRightAnswer
		correct := st.CorrectAnswers
		if res.Credited {
			correct++
		}
		next := st.CurrentPlayerIdx + 1
		upd := &StateUpdate{
			CurrentPlayerIdx: ptr(next),
			CorrectAnswers:   ptr(correct),
		}
		if next >= len(st.PlayersOrder) {
			res.Outcome = OutcomeFinished
			upd.Status = ptr(StatusFinished)
			upd.EndedAt = ptr(now)
			return upd, nil
		}
		res.Outcome = OutcomeAdvanced
		res.NextPlayerID = st.PlayersOrder[next]
		upd.Phase = ptr(PhaseAwaitingArrival)
		upd.CurrentQuestionNum = ptr(st.CurrentQuestionNum + 1)
		return upd, nil
	})
	if err != nil {
		return AnswerResult{}, err
	}
	res.State = st

	// The turn is over. Timers go only once the advance is stored, so a
	// failed update leaves the question running.
	if res.Outcome != OutcomeRetry {
		s.timers.Cancel(teamID, timer.All)
	}

	switch {
	case res.Expired:
		s.rec.AnswerRecorded("expired")
		s.send(ctx, submitterID, expiredText(res.CanonicalAnswer))
	case res.Correct:
		s.rec.AnswerRecorded("correct")
		s.send(ctx, submitterID, correctText)
	default:
		s.rec.AnswerRecorded("wrong")
		s.send(ctx, submitterID, wrongText)
	}

	switch res.Outcome {
	case OutcomeFinished:
		elapsed := st.EndedAt.Sub(st.CreatedAt)
		s.rec.QuestFinished(elapsed)
		s.logger.Info("quest finished", "team_id", teamID, "correct_answers", st.CorrectAnswers, "elapsed", elapsed.String())
		s.broadcast(ctx, teamID, 0, finishedText(st.CorrectAnswers, len(st.PlayersOrder), elapsed))
	case OutcomeAdvanced:
		s.navigate(ctx, teamID, res.NextPlayerID)
	}
	return res, nil
}

// ConfirmArrival tells the next active player the team has arrived and that
// they must accept the turn. It does not change the team state.
func (s *Scheduler) ConfirmArrival(ctx context.Context, teamID, confirmerID int64) error {
	if err := s.requireMember(ctx, teamID, confirmerID); err != nil {
		return err
	}

	st, err := s.loadState(ctx, teamID)
	if err != nil {
		return err
	}
	if err := requirePlaying(st); err != nil {
		return err
	}
	if st.Phase != PhaseAwaitingArrival {
		return ErrNotAwaitingArrival
	}

	active, _ := st.ActivePlayer()
	s.send(ctx, active, arrivedText)
	return nil
}

// AcceptTurn issues a fresh question to the active player once the turn has
// been handed over.
func (s *Scheduler) AcceptTurn(ctx context.Context, teamID, accepterID int64) (TeamGameState, error) {
	defer s.locks.lock(teamID)()

	var q Question
	st, err := s.mutate(ctx, teamID, func(st TeamGameState) (*StateUpdate, error) {
		if err := requirePlaying(st); err != nil {
			return nil, err
		}
		active, ok := st.ActivePlayer()
		if !ok || active != accepterID {
			return nil, ErrInvalidTurn
		}
		if st.Phase != PhaseAwaitingArrival {
			return nil, ErrNotAwaitingArrival
		}

		player, err := s.store.GetPlayer(ctx, accepterID)
		if err != nil {
			return nil, fmt.Errorf("loading player: %w", err)
		}
		q, err = s.pickQuestion(ctx, player.LocationID)
		if err != nil {
			return nil, err
		}

		return &StateUpdate{
			Phase:                ptr(PhaseAwaitingAnswer),
			CurrentQuestionID:    ptr(q.ID),
			PretendOnRightAnswer: ptr(true),
			QuestionDeadline:     ptr(s.now().Add(s.settings.QuestionTimeLimit)),
		}, nil
	})
	if err != nil {
		return TeamGameState{}, err
	}

	s.issueQuestion(ctx, teamID, accepterID, q, st.CurrentQuestionNum)
	return st, nil
}

// mutate plans an update against the current team state and persists it,
// replanning from a fresh read when the version check fails. A nil update
// leaves the state untouched. Callers hold the team lock.
func (s *Scheduler) mutate(ctx context.Context, teamID int64, plan func(TeamGameState) (*StateUpdate, error)) (TeamGameState, error) {
	for attempt := 0; ; attempt++ {
		st, err := s.store.GetTeamState(ctx, teamID)
		if errors.Is(err, ErrStateNotFound) {
			st = TeamGameState{TeamID: teamID, Status: StatusWaiting}
		} else if err != nil {
			return TeamGameState{}, fmt.Errorf("loading team state: %w", err)
		}

		upd, err := plan(st)
		if err != nil {
			return TeamGameState{}, err
		}
		if upd == nil {
			return st, nil
		}

		next, err := s.store.UpdateTeamState(ctx, teamID, st.Version, *upd)
		if errors.Is(err, ErrConflict) && attempt < s.settings.ConflictRetries {
			s.rec.ConflictRetried()
			s.logger.Warn("team state changed concurrently, retrying",
				"team_id", teamID,
				"attempt", attempt+1,
			)
			continue
		}
		if err != nil {
			return TeamGameState{}, fmt.Errorf("updating team state: %w", err)
		}
		return next, nil
	}
}

func (s *Scheduler) loadState(ctx context.Context, teamID int64) (TeamGameState, error) {
	st, err := s.store.GetTeamState(ctx, teamID)
	if errors.Is(err, ErrStateNotFound) {
		if _, err := s.store.GetTeam(ctx, teamID); err != nil {
			return TeamGameState{}, fmt.Errorf("loading team: %w", err)
		}
		return TeamGameState{TeamID: teamID, Status: StatusWaiting}, nil
	}
	if err != nil {
		return TeamGameState{}, fmt.Errorf("loading team state: %w", err)
	}
	return st, nil
}

func (s *Scheduler) grant(ctx context.Context, playerID int64) (Grant, error) {
	g, err := s.caps.Capabilities(ctx, playerID)
	if errors.Is(err, ErrPlayerNotFound) {
		return Grant{}, fmt.Errorf("%w: unknown player %d", ErrUnauthorized, playerID)
	}
	if err != nil {
		return Grant{}, fmt.Errorf("looking up capabilities: %w", err)
	}
	return g, nil
}

// requireMember allows members of the team and admins.
func (s *Scheduler) requireMember(ctx context.Context, teamID, playerID int64) error {
	g, err := s.grant(ctx, playerID)
	if err != nil {
		return err
	}
	if g.Has(CapAdmin) || (teamID != 0 && g.TeamID == teamID) {
		return nil
	}
	return fmt.Errorf("%w: player %d is not in team %d", ErrUnauthorized, playerID, teamID)
}

func (s *Scheduler) pickQuestion(ctx context.Context, locationID int64) (Question, error) {
	questions, err := s.store.GetLocationQuestions(ctx, locationID)
	if err != nil {
		return Question{}, fmt.Errorf("loading questions: %w", err)
	}
	if len(questions) == 0 {
		return Question{}, fmt.Errorf("%w: location %d", ErrNoQuestionsForLocation, locationID)
	}
	return questions[s.pick(len(questions))], nil
}

// currentQuestion resolves the question posed to the active player within
// their location's question set.
func (s *Scheduler) currentQuestion(ctx context.Context, st TeamGameState, playerID int64) (Question, error) {
	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return Question{}, fmt.Errorf("loading player: %w", err)
	}
	questions, err := s.store.GetLocationQuestions(ctx, player.LocationID)
	if err != nil {
		return Question{}, fmt.Errorf("loading questions: %w", err)
	}
	i := slices.IndexFunc(questions, func(q Question) bool { return q.ID == st.CurrentQuestionID })
	if i < 0 {
		return Question{}, fmt.Errorf("%w: question %d at location %d", ErrQuestionNotFound, st.CurrentQuestionID, player.LocationID)
	}
	return questions[i], nil
}

// issueQuestion sends the question to the player and arms the deadline and
// hint timers on the team's chat.
func (s *Scheduler) issueQuestion(ctx context.Context, teamID, playerID int64, q Question, num int) {
	s.timers.Cancel(teamID, timer.All)

	caption := questionText(num, q.Prompt)
	sent := false
	if q.MediaPath != "" {
		if err := s.notifier.SendPhoto(ctx, playerID, q.MediaPath, caption); err != nil {
			s.logger.Warn("sending question photo failed, falling back to text",
				"team_id", teamID,
				"player_id", playerID,
				"error", err,
			)
		} else {
			sent = true
		}
	}
	if !sent {
		s.send(ctx, playerID, caption)
	}

	s.timers.Schedule(teamID, timer.KindDeadline, s.settings.QuestionTimeLimit,
		timer.Payload{PlayerID: playerID}, timer.QuestionTimer)

	for i, offset := range s.settings.HintOffsets {
		if i >= maxHints || i >= len(q.Hints) {
			break
		}
		p := timer.Payload{PlayerID: playerID, Slot: i + 1, Text: q.Hints[i]}
		if i < len(q.HintMedia) {
			p.MediaPath = q.HintMedia[i]
		}
		s.timers.Schedule(teamID, timer.KindHint, offset, p, timer.HintID(i+1))
	}
}

// navigate points the next player at their location and tells the rest of
// the team who is up.
func (s *Scheduler) navigate(ctx context.Context, teamID, nextID int64) {
	player, err := s.store.GetPlayer(ctx, nextID)
	if err != nil {
		s.logger.Warn("loading next player failed", "team_id", teamID, "player_id", nextID, "error", err)
		return
	}
	loc, err := s.store.GetLocation(ctx, player.LocationID)
	if err != nil {
		s.logger.Warn("loading next location failed", "team_id", teamID, "player_id", nextID, "error", err)
		return
	}

	if !loc.Hidden {
		if err := s.notifier.SendLocation(ctx, nextID, loc.Lat, loc.Lon); err != nil {
			s.logger.Warn("sending location failed", "team_id", teamID, "player_id", nextID, "error", err)
		}
	}
	s.send(ctx, nextID, nextTurnText(loc.Name))
	s.broadcast(ctx, teamID, nextID, turnPassedText(player.Name, loc.Name))
}

func (s *Scheduler) send(ctx context.Context, playerID int64, text string) {
	if _, err := s.notifier.SendText(ctx, playerID, text); err != nil {
		s.logger.Warn("sending message failed", "player_id", playerID, "error", err)
	}
}

func (s *Scheduler) broadcast(ctx context.Context, teamID, exceptPlayerID int64, text string) {
	if err := s.notifier.Broadcast(ctx, teamID, exceptPlayerID, text); err != nil {
		s.logger.Warn("broadcast incomplete", "team_id", teamID, "error", err)
	}
}

func requireWaiting(st TeamGameState) error {
	switch st.Status {
	case StatusFinished:
		return ErrAlreadyFinished
	case StatusPlaying:
		return ErrAlreadyStarted
	}
	return nil
}

func requirePlaying(st TeamGameState) error {
	switch st.Status {
	case StatusFinished:
		return ErrAlreadyFinished
	case StatusPlaying:
		return nil
	}
	return ErrNotStarted
}

// playersOrder sorts the roster by current location, keeping join order for
// players at the same location.
func playersOrder(players []Player) []int64 {
	sorted := slices.Clone(players)
	slices.SortStableFunc(sorted, func(a, b Player) int {
		return cmp.Or(
			cmp.Compare(a.LocationID, b.LocationID),
			cmp.Compare(a.JoinSeq, b.JoinSeq),
		)
	})
	order := make([]int64, len(sorted))
	for i, p := range sorted {
		order[i] = p.ID
	}
	return order
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func answerMatches(given, canonical string) bool {
	return normalizeAnswer(given) == normalizeAnswer(canonical)
}

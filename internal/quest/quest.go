// Package quest defines the quest domain types, the error taxonomy, the
// collaborator contracts and the per-team turn scheduler.
package quest

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidTurn is returned when someone other than the active player acts
	// on the turn. It matches ErrUnauthorized.
	ErrInvalidTurn = fmt.Errorf("%w: not your turn", ErrUnauthorized)

	ErrAlreadyFinished        = errors.New("quest already finished")
	ErrAlreadyStarted         = errors.New("quest already started")
	ErrNotStarted             = errors.New("quest not started")
	ErrNoQuestionsForLocation = errors.New("no questions for location")
	ErrEmptyRoster            = errors.New("team has no players")
	ErrAwaitingArrival        = errors.New("turn not accepted yet")
	ErrNotAwaitingArrival     = errors.New("turn is not waiting for arrival")
	ErrLocationLocked         = errors.New("location of the answering player cannot change")

	ErrTeamNotFound     = errors.New("team not found")
	ErrPlayerNotFound   = errors.New("player not found")
	ErrLocationNotFound = errors.New("location not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrStateNotFound    = errors.New("team state not found")

	// ErrConflict reports that the team state changed since it was read.
	ErrConflict = errors.New("team state changed concurrently")
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Phase is the sub-state of a playing team.
type Phase string

const (
	PhaseAwaitingAnswer  Phase = "awaiting_answer"
	PhaseAwaitingArrival Phase = "awaiting_arrival"
)

type Team struct {
	ID          int64
	Name        string
	CaptainID   int64
	InviteToken string
	CreatedAt   time.Time
}

type Player struct {
	ID         int64
	Name       string
	TeamID     int64 // 0 until the player joins a team
	IsCaptain  bool
	IsAdmin    bool
	LocationID int64
	JoinSeq    int64
	JoinedAt   time.Time
}

type Location struct {
	ID          int64
	Name        string
	Description string
	Lat         float64
	Lon         float64
	Hidden      bool
}

type Question struct {
	ID         int64
	LocationID int64
	Prompt     string
	Answer     string
	Hints      []string
	HintMedia  []string
	MediaPath  string
	Cost       int
}

// TeamGameState is the per-team quest aggregate. Version increases with every
// successful update.
type TeamGameState struct {
	TeamID               int64
	Status               Status
	Phase                Phase
	PlayersOrder         []int64
	CurrentPlayerIdx     int
	CurrentQuestionID    int64
	CurrentQuestionNum   int
	CorrectAnswers       int
	PretendOnRightAnswer bool
	QuestionDeadline     time.Time
	CreatedAt            time.Time
	EndedAt              time.Time
	UpdatedAt            time.Time
	Version              int64
}

// ActivePlayer returns the player whose turn it is. It reports false once the
// roster is exhausted.
func (s TeamGameState) ActivePlayer() (int64, bool) {
	if s.CurrentPlayerIdx < 0 || s.CurrentPlayerIdx >= len(s.PlayersOrder) {
		return 0, false
	}
	return s.PlayersOrder[s.CurrentPlayerIdx], true
}

// StateUpdate is a partial update of TeamGameState. Nil fields are left
// unchanged.
type StateUpdate struct {
	Status               *Status
	Phase                *Phase
	PlayersOrder         []int64
	CurrentPlayerIdx     *int
	CurrentQuestionID    *int64
	CurrentQuestionNum   *int
	CorrectAnswers       *int
	PretendOnRightAnswer *bool
	QuestionDeadline     *time.Time
	CreatedAt            *time.Time
	EndedAt              *time.Time
}

// Apply merges u into s and stamps the modification time. The version is
// left to the store.
func (s TeamGameState) Apply(u StateUpdate, now time.Time) TeamGameState {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.Phase != nil {
		s.Phase = *u.Phase
	}
	if u.PlayersOrder != nil {
		s.PlayersOrder = append([]int64(nil), u.PlayersOrder...)
	}
	if u.CurrentPlayerIdx != nil {
		s.CurrentPlayerIdx = *u.CurrentPlayerIdx
	}
	if u.CurrentQuestionID != nil {
		s.CurrentQuestionID = *u.CurrentQuestionID
	}
	if u.CurrentQuestionNum != nil {
		s.CurrentQuestionNum = *u.CurrentQuestionNum
	}
	if u.CorrectAnswers != nil {
		s.CorrectAnswers = *u.CorrectAnswers
	}
	if u.PretendOnRightAnswer != nil {
		s.PretendOnRightAnswer = *u.PretendOnRightAnswer
	}
	if u.QuestionDeadline != nil {
		s.QuestionDeadline = *u.QuestionDeadline
	}
	if u.CreatedAt != nil {
		s.CreatedAt = *u.CreatedAt
	}
	if u.EndedAt != nil {
		s.EndedAt = *u.EndedAt
	}
	s.UpdatedAt = now
	return s
}

func ptr[T any](v T) *T { return &v }

type Capability uint8

const (
	CapCaptain Capability = 1 << iota
	CapAdmin
)

// Grant is the capability set of one player.
type Grant struct {
	PlayerID int64
	TeamID   int64
	Caps     Capability
}

func (g Grant) Has(c Capability) bool { return g.Caps&c == c }

// CaptainOf reports whether the grant holds the captain capability for teamID.
func (g Grant) CaptainOf(teamID int64) bool {
	return teamID != 0 && g.TeamID == teamID && g.Has(CapCaptain)
}

type CapabilityLookup interface {
	Capabilities(ctx context.Context, playerID int64) (Grant, error)
}

// Store is the persistence contract of the scheduler.
type Store interface {
	GetTeam(ctx context.Context, teamID int64) (Team, error)
	// GetTeamState returns ErrStateNotFound when the team never started.
	GetTeamState(ctx context.Context, teamID int64) (TeamGameState, error)
	// InitTeamState creates a waiting state for the team if none exists and
	// returns the stored state either way.
	InitTeamState(ctx context.Context, teamID int64, playersOrder []int64) (TeamGameState, error)
	// UpdateTeamState merges u into the state if its version still equals
	// version, returning ErrConflict otherwise.
	UpdateTeamState(ctx context.Context, teamID, version int64, u StateUpdate) (TeamGameState, error)

	// GetTeamPlayers returns the roster in join order.
	GetTeamPlayers(ctx context.Context, teamID int64) ([]Player, error)
	GetPlayer(ctx context.Context, playerID int64) (Player, error)
	SetPlayerLocation(ctx context.Context, playerID, locationID int64) error

	GetLocation(ctx context.Context, locationID int64) (Location, error)
	GetLocationQuestions(ctx context.Context, locationID int64) ([]Question, error)
}

// Recorder observes quest progress.
type Recorder interface {
	QuestStarted()
	QuestFinished(elapsed time.Duration)
	AnswerRecorded(outcome string)
	ConflictRetried()
}

type nopRecorder struct{}

func (nopRecorder) QuestStarted()               {}
func (nopRecorder) QuestFinished(time.Duration) {}
func (nopRecorder) AnswerRecorded(string)       {}
func (nopRecorder) ConflictRetried()            {}

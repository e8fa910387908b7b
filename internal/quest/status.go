package quest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// StatusView is the read-only summary of a team's progress.
type StatusView struct {
	TeamID           int64
	TeamName         string
	Status           Status
	Phase            Phase
	QuestionNum      int
	TotalQuestions   int
	CorrectAnswers   int
	ActivePlayerID   int64
	ActivePlayerName string
	LocationName     string
	QuestionPrompt   string
	TimeRemaining    time.Duration
	StartedAt        time.Time
	EndedAt          time.Time
}

// Status summarizes the team's quest for one of its members or an admin.
func (s *Scheduler) Status(ctx context.Context, teamID, requesterID int64) (StatusView, error) {
	if err := s.requireMember(ctx, teamID, requesterID); err != nil {
		return StatusView{}, err
	}
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return StatusView{}, fmt.Errorf("loading team: %w", err)
	}
	st, err := s.loadState(ctx, teamID)
	if err != nil {
		return StatusView{}, err
	}

	v := StatusView{
		TeamID:         teamID,
		TeamName:       team.Name,
		Status:         st.Status,
		QuestionNum:    st.CurrentQuestionNum,
		TotalQuestions: len(st.PlayersOrder),
		CorrectAnswers: st.CorrectAnswers,
		StartedAt:      st.CreatedAt,
		EndedAt:        st.EndedAt,
	}
	if st.Status == StatusWaiting {
		players, err := s.store.GetTeamPlayers(ctx, teamID)
		if err != nil {
			return StatusView{}, fmt.Errorf("loading roster: %w", err)
		}
		v.TotalQuestions = len(players)
		return v, nil
	}
	if st.Status != StatusPlaying {
		return v, nil
	}

	v.Phase = st.Phase
	active, ok := st.ActivePlayer()
	if !ok {
		return v, nil
	}
	player, err := s.store.GetPlayer(ctx, active)
	if err != nil {
		return StatusView{}, fmt.Errorf("loading active player: %w", err)
	}
	v.ActivePlayerID = player.ID
	v.ActivePlayerName = player.Name

	loc, err := s.store.GetLocation(ctx, player.LocationID)
	if err != nil && !errors.Is(err, ErrLocationNotFound) {
		return StatusView{}, fmt.Errorf("loading location: %w", err)
	}
	v.LocationName = loc.Name

	if st.Phase == PhaseAwaitingAnswer {
		if q, err := s.currentQuestion(ctx, st, active); err == nil {
			v.QuestionPrompt = q.Prompt
		}
		v.TimeRemaining = max(st.QuestionDeadline.Sub(s.now()), 0)
	}
	return v, nil
}

// LocationView is a player's current location. Coordinates of hidden
// locations are withheld.
type LocationView struct {
	ID          int64
	Name        string
	Description string
	Lat         *float64
	Lon         *float64
}

func (s *Scheduler) PlayerLocation(ctx context.Context, playerID int64) (LocationView, error) {
	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return LocationView{}, fmt.Errorf("loading player: %w", err)
	}
	loc, err := s.store.GetLocation(ctx, player.LocationID)
	if err != nil {
		return LocationView{}, fmt.Errorf("loading location: %w", err)
	}

	v := LocationView{ID: loc.ID, Name: loc.Name, Description: loc.Description}
	if !loc.Hidden {
		v.Lat = ptr(loc.Lat)
		v.Lon = ptr(loc.Lon)
	}
	return v, nil
}

// SetPlayerLocation moves a player. The captain of the player's team and
// admins may do so, except for the player who is answering a question.
func (s *Scheduler) SetPlayerLocation(ctx context.Context, requesterID, playerID, locationID int64) error {
	grant, err := s.grant(ctx, requesterID)
	if err != nil {
		return err
	}
	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return fmt.Errorf("loading player: %w", err)
	}
	if !grant.Has(CapAdmin) && !grant.CaptainOf(player.TeamID) {
		return fmt.Errorf("%w: player %d cannot move player %d", ErrUnauthorized, requesterID, playerID)
	}
	if _, err := s.store.GetLocation(ctx, locationID); err != nil {
		return fmt.Errorf("loading location: %w", err)
	}

	if player.TeamID != 0 {
		defer s.locks.lock(player.TeamID)()

		st, err := s.store.GetTeamState(ctx, player.TeamID)
		if err != nil && !errors.Is(err, ErrStateNotFound) {
			return fmt.Errorf("loading team state: %w", err)
		}
		if err == nil && st.Status == StatusPlaying && st.Phase == PhaseAwaitingAnswer {
			if active, ok := st.ActivePlayer(); ok && active == playerID {
				return ErrLocationLocked
			}
		}
	}

	if err := s.store.SetPlayerLocation(ctx, playerID, locationID); err != nil {
		return fmt.Errorf("setting location: %w", err)
	}
	s.logger.Info("player location changed",
		"player_id", playerID,
		"location_id", locationID,
		"requester_id", requesterID,
	)
	return nil
}

// Roster lists the team's players in turn order once the quest started, or in
// join order before that.
func (s *Scheduler) Roster(ctx context.Context, teamID int64) ([]Player, error) {
	players, err := s.store.GetTeamPlayers(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("loading roster: %w", err)
	}
	st, err := s.store.GetTeamState(ctx, teamID)
	if errors.Is(err, ErrStateNotFound) || (err == nil && len(st.PlayersOrder) == 0) {
		return players, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading team state: %w", err)
	}
	slices.SortStableFunc(players, func(a, b Player) int {
		return slices.Index(st.PlayersOrder, a.ID) - slices.Index(st.PlayersOrder, b.ID)
	})
	return players, nil
}

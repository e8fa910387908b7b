package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/VladislavGnom/QuestBot/internal/quest"
)

func (s *SQLite) GetTeamState(ctx context.Context, teamID int64) (quest.TeamGameState, error) {
	var (
		st                           quest.TeamGameState
		order, updatedAt             string
		deadline, createdAt, endedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT team_id, status, phase, players_order, current_player_idx,
		       current_question_id, current_question_num, correct_answers,
		       is_pretend_on_right_answer, question_deadline, created_at,
		       ended_at, updated_at, version
		FROM team_game_state
		WHERE team_id = ?
	`, teamID).Scan(
		&st.TeamID, &st.Status, &st.Phase, &order, &st.CurrentPlayerIdx,
		&st.CurrentQuestionID, &st.CurrentQuestionNum, &st.CorrectAnswers,
		&st.PretendOnRightAnswer, &deadline, &createdAt,
		&endedAt, &updatedAt, &st.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return st, fmt.Errorf("%w: team %d", quest.ErrStateNotFound, teamID)
	}
	if err != nil {
		return st, err
	}

	if err := json.Unmarshal([]byte(order), &st.PlayersOrder); err != nil {
		return st, fmt.Errorf("decoding players order: %w", err)
	}
	st.QuestionDeadline = nullTime(deadline)
	st.CreatedAt = nullTime(createdAt)
	st.EndedAt = nullTime(endedAt)
	st.UpdatedAt = parseTime(updatedAt)
	return st, nil
}

func (s *SQLite) InitTeamState(ctx context.Context, teamID int64, playersOrder []int64) (quest.TeamGameState, error) {
	order, err := json.Marshal(nonNil(playersOrder))
	if err != nil {
		return quest.TeamGameState{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO team_game_state (team_id, status, players_order, updated_at, version)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(team_id) DO NOTHING
	`, teamID, string(quest.StatusWaiting), string(order), formatTime(s.now()))
	if err != nil {
		return quest.TeamGameState{}, fmt.Errorf("inserting team state: %w", err)
	}
	return s.GetTeamState(ctx, teamID)
}

// UpdateTeamState writes the non-nil fields of u when the stored version
// matches, bumping the version and the modification time.
func (s *SQLite) UpdateTeamState(ctx context.Context, teamID, version int64, u quest.StateUpdate) (quest.TeamGameState, error) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if u.Status != nil {
		set("status", string(*u.Status))
	}
	if u.Phase != nil {
		set("phase", string(*u.Phase))
	}
	if u.PlayersOrder != nil {
		order, err := json.Marshal(u.PlayersOrder)
		if err != nil {
			return quest.TeamGameState{}, err
		}
		set("players_order", string(order))
	}
	if u.CurrentPlayerIdx != nil {
		set("current_player_idx", *u.CurrentPlayerIdx)
	}
	if u.CurrentQuestionID != nil {
		set("current_question_id", *u.CurrentQuestionID)
	}
	if u.CurrentQuestionNum != nil {
		set("current_question_num", *u.CurrentQuestionNum)
	}
	if u.CorrectAnswers != nil {
		set("correct_answers", *u.CorrectAnswers)
	}
	if u.PretendOnRightAnswer != nil {
		set("is_pretend_on_right_answer", boolInt(*u.PretendOnRightAnswer))
	}
	if u.QuestionDeadline != nil {
		set("question_deadline", formatTime(*u.QuestionDeadline))
	}
	if u.CreatedAt != nil {
		set("created_at", formatTime(*u.CreatedAt))
	}
	if u.EndedAt != nil {
		set("ended_at", formatTime(*u.EndedAt))
	}
	set("updated_at", formatTime(s.now()))
	sets = append(sets, "version = version + 1")
	args = append(args, teamID, version)

	res, err := s.db.ExecContext(ctx,
		`UPDATE team_game_state SET `+strings.Join(sets, ", ")+` WHERE team_id = ? AND version = ?`,
		args...)
	if err != nil {
		return quest.TeamGameState{}, fmt.Errorf("updating team state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return quest.TeamGameState{}, err
	}
	if n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM team_game_state WHERE team_id = ?`, teamID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return quest.TeamGameState{}, fmt.Errorf("%w: team %d", quest.ErrStateNotFound, teamID)
		}
		if err != nil {
			return quest.TeamGameState{}, err
		}
		return quest.TeamGameState{}, fmt.Errorf("%w: team %d version %d", quest.ErrConflict, teamID, version)
	}
	return s.GetTeamState(ctx, teamID)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/VladislavGnom/QuestBot/internal/quest"
	"github.com/VladislavGnom/QuestBot/internal/store"
)

type QuestStateResponse struct {
	TeamID          int64   `json:"teamId"`
	Status          string  `json:"status"`
	Phase           string  `json:"phase,omitempty"`
	PlayersOrder    []int64 `json:"playersOrder"`
	CurrentPlayerID int64   `json:"currentPlayerId,omitempty"`
	QuestionNum     int     `json:"questionNum"`
	CorrectAnswers  int     `json:"correctAnswers"`
}

func toQuestState(st quest.TeamGameState) QuestStateResponse {
	resp := QuestStateResponse{
		TeamID:         st.TeamID,
		Status:         string(st.Status),
		PlayersOrder:   st.PlayersOrder,
		QuestionNum:    st.CurrentQuestionNum,
		CorrectAnswers: st.CorrectAnswers,
	}
	if resp.PlayersOrder == nil {
		resp.PlayersOrder = []int64{}
	}
	if st.Status == quest.StatusPlaying {
		resp.Phase = string(st.Phase)
	}
	if id, ok := st.ActivePlayer(); ok && st.Status == quest.StatusPlaying {
		resp.CurrentPlayerID = id
	}
	return resp
}

type RosterEntry struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	IsCaptain  bool   `json:"isCaptain"`
	LocationID int64  `json:"locationId"`
}

type QuestStatusResponse struct {
	TeamID               int64         `json:"teamId"`
	TeamName             string        `json:"teamName"`
	Status               string        `json:"status"`
	Phase                string        `json:"phase,omitempty"`
	QuestionNum          int           `json:"questionNum"`
	TotalQuestions       int           `json:"totalQuestions"`
	CorrectAnswers       int           `json:"correctAnswers"`
	ActivePlayerID       int64         `json:"activePlayerId,omitempty"`
	ActivePlayerName     string        `json:"activePlayerName,omitempty"`
	LocationName         string        `json:"locationName,omitempty"`
	QuestionPrompt       string        `json:"questionPrompt,omitempty"`
	TimeRemainingSeconds int           `json:"timeRemainingSeconds,omitempty"`
	StartedAt            *time.Time    `json:"startedAt,omitempty"`
	EndedAt              *time.Time    `json:"endedAt,omitempty"`
	Roster               []RosterEntry `json:"roster"`
}

type AnswerRequest struct {
	// Answer may be blank: after the deadline any text reveals the answer.
	Answer string `json:"answer" validate:"max=512"`
}

type AnswerResponse struct {
	Outcome        string `json:"outcome"`
	Correct        bool   `json:"correct"`
	Credited       bool   `json:"credited"`
	Expired        bool   `json:"expired"`
	CorrectAnswer  string `json:"correctAnswer,omitempty"`
	NextPlayerID   int64  `json:"nextPlayerId,omitempty"`
	QuestionNum    int    `json:"questionNum"`
	CorrectAnswers int    `json:"correctAnswers"`
}

// teamFor resolves the team a quest request targets. Admins may address any
// team with the teamId query parameter.
func teamFor(r *http.Request) (int64, error) {
	p := playerFrom(r)
	if raw := r.URL.Query().Get("teamId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return 0, quest.ErrTeamNotFound
		}
		return id, nil
	}
	if p.TeamID == 0 {
		return 0, store.ErrNoTeam
	}
	return p.TeamID, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func handleQuestStatus(logger *slog.Logger, q *quest.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		teamID, err := teamFor(r)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}

		v, err := q.Status(r.Context(), teamID, playerFrom(r).ID)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		players, err := q.Roster(r.Context(), teamID)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}

		resp := QuestStatusResponse{
			TeamID:               v.TeamID,
			TeamName:             v.TeamName,
			Status:               string(v.Status),
			Phase:                string(v.Phase),
			QuestionNum:          v.QuestionNum,
			TotalQuestions:       v.TotalQuestions,
			CorrectAnswers:       v.CorrectAnswers,
			ActivePlayerID:       v.ActivePlayerID,
			ActivePlayerName:     v.ActivePlayerName,
			LocationName:         v.LocationName,
			QuestionPrompt:       v.QuestionPrompt,
			TimeRemainingSeconds: int(v.TimeRemaining.Round(time.Second) / time.Second),
			StartedAt:            optionalTime(v.StartedAt),
			EndedAt:              optionalTime(v.EndedAt),
			Roster:               make([]RosterEntry, 0, len(players)),
		}
		for _, p := range players {
			resp.Roster = append(resp.Roster, RosterEntry{
				ID:         p.ID,
				Name:       p.Name,
				IsCaptain:  p.IsCaptain,
				LocationID: p.LocationID,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleStartQuest(logger *slog.Logger, q *quest.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		teamID, err := teamFor(r)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		st, err := q.StartQuest(r.Context(), teamID, playerFrom(r).ID)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toQuestState(st))
	}
}

func handleAnswer(logger *slog.Logger, q *quest.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnswerRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Answer = strings.TrimSpace(req.Answer)
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "answer is too long")
			return
		}

		teamID, err := teamFor(r)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		res, err := q.SubmitAnswer(r.Context(), teamID, playerFrom(r).ID, req.Answer)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, AnswerResponse{
			Outcome:        string(res.Outcome),
			Correct:        res.Correct,
			Credited:       res.Credited,
			Expired:        res.Expired,
			CorrectAnswer:  res.CanonicalAnswer,
			NextPlayerID:   res.NextPlayerID,
			QuestionNum:    res.State.CurrentQuestionNum,
			CorrectAnswers: res.State.CorrectAnswers,
		})
	}
}

func handleArrive(logger *slog.Logger, q *quest.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		teamID, err := teamFor(r)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		if err := q.ConfirmArrival(r.Context(), teamID, playerFrom(r).ID); err != nil {
			writeFailure(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAccept(logger *slog.Logger, q *quest.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		teamID, err := teamFor(r)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		st, err := q.AcceptTurn(r.Context(), teamID, playerFrom(r).ID)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toQuestState(st))
	}
}

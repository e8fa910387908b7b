package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/VladislavGnom/QuestBot/internal/notify"
)

type JoinRequest struct {
	InviteToken string `json:"inviteToken" validate:"required"`
	PlayerID    int64  `json:"playerId" validate:"gt=0"`
	PlayerName  string `json:"playerName" validate:"required,max=64"`
}

type JoinResponse struct {
	Token    string `json:"token"`
	PlayerID int64  `json:"playerId"`
	TeamID   int64  `json:"teamId"`
	TeamName string `json:"teamName"`
}

func handleJoin(logger *slog.Logger, s Store, inbox *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.PlayerName = strings.TrimSpace(req.PlayerName)
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "inviteToken, playerId and playerName are required")
			return
		}

		p, token, err := s.JoinTeam(r.Context(), req.InviteToken, req.PlayerID, req.PlayerName)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		team, err := s.GetTeam(r.Context(), p.TeamID)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}

		logger.Info("player joined team", "player_id", p.ID, "team_id", team.ID)
		if err := inbox.Broadcast(r.Context(), team.ID, p.ID, fmt.Sprintf("👋 %s joined the team.", p.Name)); err != nil {
			logger.Warn("announcing new player failed", "team_id", team.ID, "error", err)
		}

		writeJSON(w, http.StatusOK, JoinResponse{
			Token:    token,
			PlayerID: p.ID,
			TeamID:   team.ID,
			TeamName: team.Name,
		})
	}
}

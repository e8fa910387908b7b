package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type CreateTeamRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

type TeamResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	InviteToken string    `json:"inviteToken"`
	CreatedAt   time.Time `json:"createdAt"`
}

// handleCreateTeam registers a team for admins. Creating an existing name
// returns that team with 200 instead of 201.
func handleCreateTeam(logger *slog.Logger, s Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := playerFrom(r)
		if !p.IsAdmin {
			writeError(w, http.StatusForbidden, "only admins can create teams")
			return
		}

		var req CreateTeamRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "name is required and at most 64 characters")
			return
		}

		team, created, err := s.CreateTeam(r.Context(), req.Name)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
			logger.Info("team created", "team_id", team.ID, "name", team.Name, "admin_id", p.ID)
		}
		writeJSON(w, status, TeamResponse{
			ID:          team.ID,
			Name:        team.Name,
			InviteToken: team.InviteToken,
			CreatedAt:   team.CreatedAt,
		})
	}
}

package server

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/VladislavGnom/QuestBot/internal/quest"
)

type PromoteRequest struct {
	Role     string `json:"role" validate:"required,oneof=captain admin"`
	Password string `json:"password" validate:"required"`
}

type PlayerResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	TeamID     int64  `json:"teamId,omitempty"`
	IsCaptain  bool   `json:"isCaptain"`
	IsAdmin    bool   `json:"isAdmin"`
	LocationID int64  `json:"locationId"`
}

func toPlayerResponse(p quest.Player) PlayerResponse {
	return PlayerResponse{
		ID:         p.ID,
		Name:       p.Name,
		TeamID:     p.TeamID,
		IsCaptain:  p.IsCaptain,
		IsAdmin:    p.IsAdmin,
		LocationID: p.LocationID,
	}
}

func handlePromote(logger *slog.Logger, s Store, passwords Passwords) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PromoteRequest
		if err := readRequest(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		hash, capability := passwords.CaptainHash, quest.CapCaptain
		if req.Role == "admin" {
			hash, capability = passwords.AdminHash, quest.CapAdmin
		}
		if hash == "" {
			writeError(w, http.StatusForbidden, "promotion to "+req.Role+" is disabled")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		p := playerFrom(r)
		if err := s.GrantCapability(r.Context(), p.ID, capability); err != nil {
			writeFailure(w, logger, err)
			return
		}
		logger.Info("player promoted", "player_id", p.ID, "role", req.Role)

		if capability == quest.CapCaptain {
			p.IsCaptain = true
		} else {
			p.IsAdmin = true
		}
		writeJSON(w, http.StatusOK, toPlayerResponse(p))
	}
}

package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/VladislavGnom/QuestBot/internal/quest"
)

type LocationResponse struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lon         *float64 `json:"lon,omitempty"`
}

type SetLocationRequest struct {
	PlayerID   int64 `json:"-" path:"playerID"`
	LocationID int64 `json:"locationId" validate:"gt=0"`
}

func handleMyLocation(logger *slog.Logger, q *quest.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := q.PlayerLocation(r.Context(), playerFrom(r).ID)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, LocationResponse{
			ID:          v.ID,
			Name:        v.Name,
			Description: v.Description,
			Lat:         v.Lat,
			Lon:         v.Lon,
		})
	}
}

func handleSetLocation(logger *slog.Logger, q *quest.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, err := strconv.ParseInt(chi.URLParam(r, "playerID"), 10, 64)
		if err != nil || playerID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid player id")
			return
		}

		var req SetLocationRequest
		if err := readRequest(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := q.SetPlayerLocation(r.Context(), playerFrom(r).ID, playerID, req.LocationID); err != nil {
			writeFailure(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/VladislavGnom/QuestBot/internal/quest"
	"github.com/VladislavGnom/QuestBot/internal/store"
	"github.com/VladislavGnom/QuestBot/internal/transfer"
)

var validate = validator.New()

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// readRequest decodes the body into v and validates its struct tags.
func readRequest(r *http.Request, v any) error {
	if err := readJSON(r, v); err != nil {
		return errors.New("invalid request body")
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("field %s failed %s validation", fe.Field(), fe.Tag())
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeFailure maps a domain error to a status code. Unexpected errors are
// logged and hidden behind a generic message.
func writeFailure(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, quest.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, quest.ErrTeamNotFound),
		errors.Is(err, quest.ErrPlayerNotFound),
		errors.Is(err, quest.ErrLocationNotFound),
		errors.Is(err, quest.ErrQuestionNotFound),
		errors.Is(err, quest.ErrStateNotFound),
		errors.Is(err, transfer.ErrNoTransfer),
		errors.Is(err, transfer.ErrNoConversation):
		return http.StatusNotFound
	case errors.Is(err, quest.ErrAlreadyStarted),
		errors.Is(err, quest.ErrAlreadyFinished),
		errors.Is(err, quest.ErrNotStarted),
		errors.Is(err, quest.ErrAwaitingArrival),
		errors.Is(err, quest.ErrNotAwaitingArrival),
		errors.Is(err, quest.ErrLocationLocked),
		errors.Is(err, quest.ErrConflict),
		errors.Is(err, store.ErrAlreadyMember),
		errors.Is(err, store.ErrNoTeam):
		return http.StatusConflict
	case errors.Is(err, quest.ErrNoQuestionsForLocation),
		errors.Is(err, quest.ErrEmptyRoster),
		errors.Is(err, transfer.ErrSelfTransfer):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/VladislavGnom/QuestBot/internal/transfer"
)

const maxConversationBytes = 64 << 10

type PrepareTransferRequest struct {
	ReceiverID int64 `json:"receiverId" validate:"gt=0"`
}

type TransferResponse struct {
	ID         string          `json:"id"`
	SenderID   int64           `json:"senderId"`
	ReceiverID int64           `json:"receiverId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ExpiresAt  time.Time       `json:"expiresAt"`
}

func handlePutConversation(logger *slog.Logger, t *transfer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConversationBytes))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "conversation data too large")
			return
		}
		if !json.Valid(data) {
			writeError(w, http.StatusBadRequest, "conversation data must be JSON")
			return
		}

		if err := t.SetConversation(r.Context(), playerFrom(r).ID, data); err != nil {
			writeFailure(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handlePrepareTransfer(logger *slog.Logger, t *transfer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PrepareTransferRequest
		if err := readRequest(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		rec, err := t.PrepareTransfer(r.Context(), playerFrom(r).ID, req.ReceiverID)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, TransferResponse{
			ID:         rec.ID,
			SenderID:   rec.SenderID,
			ReceiverID: rec.ReceiverID,
			ExpiresAt:  rec.ExpiresAt,
		})
	}
}

func handleApplyTransfer(logger *slog.Logger, t *transfer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := t.ApplyTransfer(r.Context(), playerFrom(r).ID)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, TransferResponse{
			ID:         rec.ID,
			SenderID:   rec.SenderID,
			ReceiverID: rec.ReceiverID,
			Payload:    rec.Payload,
			ExpiresAt:  rec.ExpiresAt,
		})
	}
}

package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"
)

func addRoutes(r chi.Router, logger *slog.Logger, deps Deps) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("QuestBot API", "/openapi.json", "/docs"))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Post("/api/join", handleJoin(logger, deps.Store, deps.Inbox))

	// Player routes, caller resolved from the session token.
	r.Group(func(r chi.Router) {
		r.Use(sessionMiddleware(deps.Store))

		r.Post("/api/me/promote", handlePromote(logger, deps.Store, deps.Passwords))
		r.Post("/api/teams", handleCreateTeam(logger, deps.Store))
		r.Get("/api/me/location", handleMyLocation(logger, deps.Quest))
		r.Put("/api/players/{playerID}/location", handleSetLocation(logger, deps.Quest))

		r.Get("/api/me/quest", handleQuestStatus(logger, deps.Quest))
		r.Post("/api/me/quest/start", handleStartQuest(logger, deps.Quest))
		r.Post("/api/me/quest/answer", handleAnswer(logger, deps.Quest))
		r.Post("/api/me/quest/arrive", handleArrive(logger, deps.Quest))
		r.Post("/api/me/quest/accept", handleAccept(logger, deps.Quest))

		r.Put("/api/me/conversation", handlePutConversation(logger, deps.Transfers))
		r.Post("/api/transfers", handlePrepareTransfer(logger, deps.Transfers))
		r.Post("/api/me/transfers/apply", handleApplyTransfer(logger, deps.Transfers))

		r.Get("/api/me/events", handleEvents(deps.Inbox))
		r.Get("/api/me/ws", handleInboxWS(logger, deps.Inbox))
	})
}

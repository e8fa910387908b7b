package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/VladislavGnom/QuestBot/internal/quest"
	"github.com/VladislavGnom/QuestBot/internal/store"
)

type ctxKey int

const ctxKeyPlayer ctxKey = iota

// Store is what the transport needs beyond the quest engine.
type Store interface {
	PlayerFromToken(ctx context.Context, token string) (quest.Player, error)
	JoinTeam(ctx context.Context, inviteToken string, playerID int64, name string) (quest.Player, string, error)
	GrantCapability(ctx context.Context, playerID int64, c quest.Capability) error
	GetTeam(ctx context.Context, teamID int64) (quest.Team, error)
	CreateTeam(ctx context.Context, name string) (quest.Team, bool, error)
}

// sessionToken reads the bearer token. Event feeds may pass it as the token
// query parameter since browsers cannot set headers on EventSource or
// WebSocket requests.
func sessionToken(r *http.Request) string {
	if token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found {
		return token
	}
	return r.URL.Query().Get("token")
}

func sessionMiddleware(s Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sessionToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "invalid or missing session token")
				return
			}

			p, err := s.PlayerFromToken(r.Context(), token)
			if errors.Is(err, store.ErrNoSession) {
				writeError(w, http.StatusUnauthorized, "invalid or missing session token")
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyPlayer, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func playerFrom(r *http.Request) quest.Player {
	return r.Context().Value(ctxKeyPlayer).(quest.Player)
}

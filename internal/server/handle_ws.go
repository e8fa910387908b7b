package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/VladislavGnom/QuestBot/internal/notify"
)

const wsWriteTimeout = 10 * time.Second

// handleInboxWS streams the caller's inbox over a WebSocket as JSON messages.
// Messages from the client are ignored.
func handleInboxWS(logger *slog.Logger, inbox *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := playerFrom(r)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "player_id", p.ID, "error", err)
			return
		}
		defer conn.CloseNow()

		ctx := conn.CloseRead(r.Context())

		ch, backlog, unsubscribe := inbox.Subscribe(p.ID)
		defer unsubscribe()

		for _, ev := range backlog {
			if err := writeWS(ctx, conn, ev); err != nil {
				logger.Debug("websocket write failed", "player_id", p.ID, "error", err)
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				logger.Debug("websocket closed", "player_id", p.ID)
				return
			case ev := <-ch:
				if err := writeWS(ctx, conn, ev); err != nil {
					logger.Debug("websocket write failed", "player_id", p.ID, "error", err)
					return
				}
			}
		}
	}
}

func writeWS(ctx context.Context, conn *websocket.Conn, ev notify.Event) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/VladislavGnom/QuestBot/internal/notify"
)

// handleEvents streams the caller's inbox as Server-Sent Events, starting with
// the retained history.
func handleEvents(inbox *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		ch, backlog, unsubscribe := inbox.Subscribe(playerFrom(r).ID)
		defer unsubscribe()

		for _, ev := range backlog {
			writeSSE(w, ev)
		}
		flusher.Flush()

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev := <-ch:
				writeSSE(w, ev)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, ev notify.Event) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.MessageID, ev.Type, data)
}

package sse

import (
	"net/http"
	"strings"

	"github.com/yungbote/studysync/internal/realtime"
)

// Handler serves hub frames for the ?channel= scopes named in the request.
func Handler(hub *realtime.Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scopes := make([]string, 0, 2)
		for _, c := range r.URL.Query()["channel"] {
			if c = strings.TrimSpace(c); c != "" {
				scopes = append(scopes, c)
			}
		}
		if len(scopes) == 0 {
			http.Error(w, "missing channel", http.StatusBadRequest)
			return
		}
		client := hub.NewClient()
		for _, s := range scopes {
			hub.AddChannel(client, s)
		}
		defer hub.CloseClient(client)
		hub.ServeHTTP(w, r, client)
	})
}

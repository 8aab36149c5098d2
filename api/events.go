package api

import (
	"fmt"
	"net/http"

	"fatgo/events"
)

// SSEHandler handles Server-Sent Events connections
func SSEHandler(broker *events.EventBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		client := broker.Subscribe()
		defer broker.Unsubscribe(client)

		flusher, _ := w.(http.Flusher)
		flush := func() {
			if flusher != nil {
				flusher.Flush()
			}
		}

		fmt.Fprintf(w, "event: connected\ndata: {\"message\": \"Connected to firmware analysis events\"}\n\n")
		flush()

		for {
			select {
			case message, ok := <-client:
				if !ok {
					return
				}
				fmt.Fprint(w, message)
				flush()
			case <-r.Context().Done():
				// Client disconnected
				return
			}
		}
	}
}

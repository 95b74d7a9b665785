package httplink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"example.com/activitysync/internal/transport"
)

// Receiver accepts tier-1 envelopes. transport.Composite implements it.
type Receiver interface {
	Receive(ctx context.Context, env transport.Envelope) error
}

const maxMessageBytes = 1 << 20

// NewHandler returns the handler mounted on MessagesPath.
func NewHandler(r Receiver) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var body wireEnvelope
		if err := json.NewDecoder(io.LimitReader(req.Body, maxMessageBytes)).Decode(&body); err != nil {
			http.Error(w, "invalid envelope", http.StatusBadRequest)
			return
		}
		if len(body.Payload) == 0 {
			http.Error(w, "payload is required", http.StatusBadRequest)
			return
		}
		if body.SentAt.IsZero() {
			body.SentAt = time.Now().UTC()
		}

		err := r.Receive(req.Context(), transport.Envelope{
			Topic:   body.Topic,
			Payload: []byte(body.Payload),
			SentAt:  body.SentAt,
		})
		switch {
		case errors.Is(err, transport.ErrClosed):
			http.Error(w, "peer shutting down", http.StatusServiceUnavailable)
			return
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
}

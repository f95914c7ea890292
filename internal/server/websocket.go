package server

import (
	"net/http"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/tradewinds/internal/events"
)

// WebsocketHandler pushes platform events to websocket clients.
type WebsocketHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewWebsocketHandler creates the websocket handler.
func NewWebsocketHandler(bus *events.Bus, log zerolog.Logger) *WebsocketHandler {
	return &WebsocketHandler{
		bus: bus,
		log: log.With().Str("component", "websocket").Logger(),
	}
}

// ServeHTTP handles GET /api/events/ws.
func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin checks are the proxy's job
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	allowed := typeFilter(r.URL.Query().Get("types"))
	h.log.Info().Str("remote", r.RemoteAddr).Msg("Websocket client connected")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-sub.C:
			if !open {
				return
			}
			if allowed != nil && !allowed[event.Type] {
				continue
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				h.log.Debug().Err(err).Msg("Websocket write failed, closing")
				return
			}
		}
	}
}

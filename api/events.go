package api

import (
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"
	"github.com/vfxforge/bidd/sidecar/rpc"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// EventHub fans worker progress events out to any number of subscribers.
// Publish never blocks: a subscriber that falls behind loses events rather
// than stalling the sidecar's stderr reader.
type EventHub struct {
	log *zap.SugaredLogger

	mu   sync.Mutex
	subs map[chan rpc.ProgressEvent]struct{}
}

func NewEventHub(log *zap.SugaredLogger) *EventHub {
	return &EventHub{
		log:  log.Named("events"),
		subs: make(map[chan rpc.ProgressEvent]struct{}),
	}
}

// Publish delivers ev to all current subscribers. Safe to pass as the
// sidecar event handler.
func (h *EventHub) Publish(ev rpc.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.log.Debugw("dropping event for slow subscriber", "Event", ev.Event)
		}
	}
}

// Subscribe registers a new event channel.
func (h *EventHub) Subscribe() chan rpc.ProgressEvent {
	ch := make(chan rpc.ProgressEvent, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (h *EventHub) Unsubscribe(ch chan rpc.ProgressEvent) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// events streams progress events to the client over a WebSocket.
func (s *Server) events(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	// Subscribe before the upgrade so events published as soon as the client
	// sees the handshake complete are not lost.
	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.log.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	defer wsConn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, wsConn, ev); err != nil {
				s.log.Debugf("error writing event: %s", err)
				return
			}
		}
	}
}

package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/victornm/ebattle/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// stream pushes every ranking change of a session to a websocket observer. The first frame is the
// current snapshot, the connection is closed once the session completes.
func (a *API) stream(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	sub := a.hub.join(id)
	defer a.hub.leave(id, sub)

	snap, err := a.bs.Snapshot(ctx, id)
	if err != nil {
		abort(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(ctx, "api: websocket upgrade failed", "session", id, "error", err)
		return
	}
	defer conn.Close()

	go readPump(conn, sub)

	if err := writePump(conn, sub, snap); err != nil {
		slog.InfoContext(ctx, "api: stream closed", "session", id, "error", err)
	}
}

// readPump drains the connection so control frames are processed, it stops the subscriber once the peer goes away.
func readPump(conn *websocket.Conn, sub *subscriber) {
	defer sub.stop()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *subscriber, initial domain.Snapshot) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	last := int64(-1)
	write := func(snap domain.Snapshot) (bool, error) {
		if snap.Version <= last {
			return false, nil
		}
		last = snap.Version

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(Notification{Event: domain.EventNameRankingUpdated, Data: toSnapshot(snap)}); err != nil {
			return true, err
		}

		return snap.Status == domain.StatusCompleted, nil
	}

	closeWith := func(code int, text string) error {
		return conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	}

	if done, err := write(initial); done {
		if err != nil {
			return err
		}
		return closeWith(websocket.CloseNormalClosure, "session completed")
	}

	for {
		select {
		case snap := <-sub.send:
			done, err := write(snap)
			if err != nil {
				return err
			}
			if done {
				return closeWith(websocket.CloseNormalClosure, "session completed")
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}

		case <-sub.done:
			return closeWith(websocket.CloseGoingAway, "")
		}
	}
}

type subscriber struct {
	send chan domain.Snapshot
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// hub fans snapshots out to the stream subscribers of each session.
type hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*subscriber]struct{}
}

func newHub() *hub {
	return &hub{
		sessions: make(map[string]map[*subscriber]struct{}),
	}
}

func (h *hub) join(session string) *subscriber {
	sub := &subscriber{
		send: make(chan domain.Snapshot, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessions[session] == nil {
		h.sessions[session] = make(map[*subscriber]struct{})
	}
	h.sessions[session][sub] = struct{}{}

	return sub
}

func (h *hub) leave(session string, sub *subscriber) {
	sub.stop()

	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.sessions[session]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.sessions, session)
		}
	}
}

// broadcast never blocks, a subscriber that falls behind misses intermediate snapshots.
func (h *hub) broadcast(snap domain.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.sessions[snap.SessionID] {
		select {
		case sub.send <- snap:
		default:
			slog.Warn("api: stream subscriber is behind, snapshot dropped", "session", snap.SessionID, "version", snap.Version)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for session, subs := range h.sessions {
		for sub := range subs {
			sub.stop()
		}
		delete(h.sessions, session)
	}
}

package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/greendelivery/coldchain/processor/internal/alerts"
	"github.com/greendelivery/coldchain/processor/internal/api"
	"github.com/greendelivery/coldchain/processor/internal/store"
)

const (
	writeWait    = 10 * time.Second
	idleTimeout  = time.Minute
	pingInterval = idleTimeout / 2
	queueDepth   = 32
	maxInbound   = 512
)

// Event names.
const (
	EventAlert    = "alert"
	EventPackages = "packages"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Message is the JSON envelope sent to subscribers.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// filter narrows what a subscriber receives. Zero value means everything.
type filter struct {
	packages map[string]bool
	alerts   bool
	snapshot bool
}

// parseFilter reads ?package=A,B and ?events=alert,packages.
func parseFilter(r *http.Request) filter {
	f := filter{alerts: true, snapshot: true}
	q := r.URL.Query()
	if ids := splitList(q["package"]); len(ids) > 0 {
		f.packages = make(map[string]bool, len(ids))
		for _, id := range ids {
			f.packages[id] = true
		}
	}
	if evs := splitList(q["events"]); len(evs) > 0 {
		f.alerts, f.snapshot = false, false
		for _, e := range evs {
			switch e {
			case EventAlert:
				f.alerts = true
			case EventPackages:
				f.snapshot = true
			}
		}
	}
	return f
}

func splitList(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func (f filter) wants(pkg string) bool {
	return f.packages == nil || f.packages[pkg]
}

type subscriber struct {
	conn   *websocket.Conn
	filter filter
	queue  chan []byte
}

// Hub fans dispatched alerts and periodic package snapshots out to
// WebSocket subscribers.
type Hub struct {
	latest   *store.Latest
	table    *alerts.Table
	interval time.Duration

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// New creates a Hub that snapshots package state from latest and table
// every interval.
func New(latest *store.Latest, table *alerts.Table, interval time.Duration) *Hub {
	return &Hub{
		latest:   latest,
		table:    table,
		interval: interval,
		subs:     make(map[*subscriber]struct{}),
	}
}

// Run pushes snapshots until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	tick := time.NewTicker(h.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			h.disconnectAll()
			return
		case <-tick.C:
			h.pushSnapshots()
		}
	}
}

// Publish delivers a to every subscriber interested in its package. It never
// blocks and has the signature alerts.WithObserver expects.
func (h *Hub) Publish(a alerts.Alert) {
	data, err := json.Marshal(Message{Event: EventAlert, Data: a})
	if err != nil {
		slog.Error("ws: encode alert", "alert_id", a.ID, "err", err)
		return
	}
	h.deliver(func(f filter) []byte {
		if f.alerts && f.wants(a.PackageID) {
			return data
		}
		return nil
	})
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f := parseFilter(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s := &subscriber{conn: conn, filter: f, queue: make(chan []byte, queueDepth)}
	if f.snapshot {
		if data := h.snapshot(f); data != nil {
			s.queue <- data
		}
	}
	h.add(s)
	defer h.remove(s)

	go s.writeLoop()
	s.readLoop()
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.queue)
	}
	h.mu.Unlock()
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	for s := range h.subs {
		delete(h.subs, s)
		close(s.queue)
	}
	h.mu.Unlock()
}

// deliver enqueues render(filter) for each subscriber. Queues are written
// under the read lock so remove cannot close one mid-send; subscribers whose
// queue is full are dropped afterwards.
func (h *Hub) deliver(render func(filter) []byte) {
	var lagging []*subscriber
	h.mu.RLock()
	for s := range h.subs {
		data := render(s.filter)
		if data == nil {
			continue
		}
		select {
		case s.queue <- data:
		default:
			lagging = append(lagging, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range lagging {
		slog.Warn("ws: subscriber lagging, disconnecting", "remote", s.conn.RemoteAddr().String())
		h.remove(s)
	}
}

func (h *Hub) pushSnapshots() {
	if h.Count() == 0 {
		return
	}
	var all []byte
	h.deliver(func(f filter) []byte {
		if !f.snapshot {
			return nil
		}
		if f.packages != nil {
			return h.snapshot(f)
		}
		if all == nil {
			all = h.snapshot(f)
		}
		return all
	})
}

func (h *Hub) snapshot(f filter) []byte {
	resp := api.BuildPackages(h.latest, h.table)
	if f.packages != nil {
		kept := resp.Packages[:0]
		for _, p := range resp.Packages {
			if f.wants(p.PackageID) {
				kept = append(kept, p)
			}
		}
		resp.Packages = kept
	}
	data, err := json.Marshal(Message{Event: EventPackages, Data: resp})
	if err != nil {
		slog.Error("ws: encode snapshot", "err", err)
		return nil
	}
	return data
}

// writeLoop owns all writes on the connection.
func (s *subscriber) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		var (
			kind = websocket.TextMessage
			data []byte
		)
		select {
		case msg, open := <-s.queue:
			if !open {
				s.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			data = msg
		case <-ping.C:
			kind = websocket.PingMessage
		}
		s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
		if err := s.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

// readLoop discards inbound frames; it exists to process pongs and notice
// when the peer goes away.
func (s *subscriber) readLoop() {
	s.conn.SetReadLimit(maxInbound)
	s.conn.SetReadDeadline(time.Now().Add(idleTimeout)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}

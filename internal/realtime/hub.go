package realtime

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/school-bus-tracker/internal/metrics"
	"github.com/ukydev/school-bus-tracker/internal/models"
)

const defaultSendBuffer = 64

// Publisher delivers an event to every session in a room.
type Publisher interface {
	Publish(ctx context.Context, room string, ev Event) error
}

// Session is one authenticated connection. Outbound events are queued on a
// bounded channel drained by the transport.
type Session struct {
	ID        string
	Principal models.Principal

	send chan Event
}

// Send returns the outbound queue. It is closed when the session is unregistered.
func (s *Session) Send() <-chan Event { return s.send }

// Hub owns the session registry: which sessions exist and which rooms each
// has joined. Room membership lives exactly as long as the session.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session // room -> session id -> session
	joined   map[string]map[string]struct{} // session id -> rooms

	backplane  Backplane
	metrics    *metrics.Metrics
	sendBuffer int
}

type Option func(*Hub)

// WithBackplane routes every publish through b so sessions on other
// instances receive it. Local delivery then happens on the subscription.
func WithBackplane(b Backplane) Option { return func(h *Hub) { h.backplane = b } }

func WithMetrics(m *metrics.Metrics) Option { return func(h *Hub) { h.metrics = m } }

func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		sessions:   make(map[string]*Session),
		rooms:      make(map[string]map[string]*Session),
		joined:     make(map[string]map[string]struct{}),
		sendBuffer: defaultSendBuffer,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Start subscribes to the backplane, if any. It returns once the
// subscription is live; delivery stops when ctx is done.
func (h *Hub) Start(ctx context.Context) error {
	if h.backplane == nil {
		return nil
	}
	return h.backplane.Subscribe(ctx, h.deliver)
}

// Register creates a session for an authenticated principal and joins it to
// the principal's inbox room.
func (h *Hub) Register(p models.Principal) *Session {
	s := &Session{ID: uuid.NewString(), Principal: p, send: make(chan Event, h.sendBuffer)}
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.joined[s.ID] = make(map[string]struct{})
	h.joinLocked(s, InboxRoom(p.UserID))
	h.mu.Unlock()
	h.metrics.ConnectionOpened()
	return s
}

// Unregister removes the session from every room and closes its queue.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	rooms, ok := h.joined[s.ID]
	if !ok {
		h.mu.Unlock()
		return
	}
	for room := range rooms {
		h.leaveLocked(s, room)
	}
	delete(h.joined, s.ID)
	delete(h.sessions, s.ID)
	close(s.send)
	h.mu.Unlock()
	h.metrics.ConnectionClosed()
}

// Join adds the session to room. Joining a room twice is a no-op; the
// result reports whether membership changed.
func (h *Hub) Join(s *Session, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.ID]; !ok {
		return false
	}
	return h.joinLocked(s, room)
}

// Leave removes the session from room. Leaving a room not joined is a no-op.
func (h *Hub) Leave(s *Session, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(s, room)
}

func (h *Hub) joinLocked(s *Session, room string) bool {
	if _, ok := h.joined[s.ID][room]; ok {
		return false
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Session)
		h.rooms[room] = members
	}
	members[s.ID] = s
	h.joined[s.ID][room] = struct{}{}
	return true
}

func (h *Hub) leaveLocked(s *Session, room string) bool {
	if _, ok := h.joined[s.ID][room]; !ok {
		return false
	}
	delete(h.joined[s.ID], room)
	if members := h.rooms[room]; members != nil {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	return true
}

// Rooms lists the rooms a session has joined, sorted.
func (h *Hub) Rooms(s *Session) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.joined[s.ID]))
	for room := range h.joined[s.ID] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Members returns the number of local sessions in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Sessions returns the number of registered local sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Publish fans ev out to every member of room, including the publisher's
// own session. Delivery is best effort: a session whose queue is full
// misses the event.
func (h *Hub) Publish(ctx context.Context, room string, ev Event) error {
	if h.backplane != nil {
		return h.backplane.Publish(ctx, room, ev)
	}
	h.deliver(room, ev)
	return nil
}

// SendTo queues ev for a single session.
func (h *Hub) SendTo(s *Session, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	h.offer(s, ev)
}

func (h *Hub) deliver(room string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.rooms[room] {
		h.offer(s, ev)
	}
}

// offer must be called with h.mu held so the queue cannot be closed concurrently.
func (h *Hub) offer(s *Session, ev Event) {
	select {
	case s.send <- ev:
	default:
		h.metrics.EventDropped()
		log.WithFields(log.Fields{"session": s.ID, "event": ev.Name}).Warn("send buffer full, dropping event")
	}
}

// Package realtime fans note lifecycle events out to connected clients of a
// conference. Delivery is best effort: a subscriber whose buffer is full
// misses the event and catches up with a regular read.
package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"parley/api/internal/metrics"
	"parley/api/internal/rbac"
)

const DefaultBuffer = 32

type Kind string

const (
	KindReady        Kind = "ready"
	KindNoteCreated  Kind = "note.created"
	KindNoteLocked   Kind = "note.locked"
	KindNoteUnlocked Kind = "note.unlocked"
	KindNoteApproved Kind = "note.approved"
	KindNoteRejected Kind = "note.rejected"
	KindNoteDeleted  Kind = "note.deleted"
)

type Event struct {
	Kind         Kind      `json:"kind"`
	ConferenceID string    `json:"conferenceId"`
	Payload      any       `json:"payload,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewEvent(conferenceID string, kind Kind, payload any) Event {
	return Event{
		Kind:         kind,
		ConferenceID: conferenceID,
		Payload:      payload,
		Timestamp:    time.Now().UTC(),
	}
}

// Close reasons reported by Subscription.Reason.
const (
	ReasonUnsubscribed = "unsubscribed"
	ReasonShutdown     = "shutdown"
	ReasonRevoked      = "revoked"
)

type Subscription struct {
	id            uint64
	conferenceID  string
	participantID string
	role          rbac.Role
	ch            chan Event
	reason        string
}

// C is closed when the subscription is removed or the hub shuts down.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

func (s *Subscription) Role() rbac.Role {
	return s.role
}

func (s *Subscription) ParticipantID() string {
	return s.participantID
}

// Reason says why C was closed. Only valid after C is closed.
func (s *Subscription) Reason() string {
	return s.reason
}

// inGroup reports whether the subscriber belongs to the role's broadcast
// group. The moderator group holds every role allowed to moderate.
func (s *Subscription) inGroup(role rbac.Role) bool {
	if role == rbac.RoleModerator {
		return rbac.Can(s.role, rbac.ActionModerate)
	}
	return s.role == role
}

// Hub keeps one room per conference. Sends happen under the read lock and
// never block, so Unsubscribe can safely close channels under the write lock.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[uint64]*Subscription
	lastID  uint64
	buffer  int
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewHub(buffer int, logger *zap.Logger, m *metrics.Metrics) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Hub{
		rooms:   make(map[string]map[uint64]*Subscription),
		buffer:  buffer,
		logger:  logger,
		metrics: m,
	}
}

// Subscribe joins the conference's room as participantID. The role is fixed
// for the subscription; callers Revoke it when the participant's role
// changes.
func (h *Hub) Subscribe(conferenceID, participantID string, role rbac.Role) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastID++
	sub := &Subscription{
		id:            h.lastID,
		conferenceID:  conferenceID,
		participantID: participantID,
		role:          role,
		ch:            make(chan Event, h.buffer),
	}
	room, ok := h.rooms[conferenceID]
	if !ok {
		room = make(map[uint64]*Subscription)
		h.rooms[conferenceID] = room
	}
	room[sub.id] = sub
	h.metrics.Subscribers.Inc()
	return sub
}

// Unsubscribe is idempotent.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sub.conferenceID]
	if !ok {
		return
	}
	if _, ok := room[sub.id]; !ok {
		return
	}
	h.remove(room, sub, ReasonUnsubscribed)
}

// Revoke closes every subscription the participant holds in the conference
// and returns how many were closed.
func (h *Hub) Revoke(conferenceID, participantID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[conferenceID]
	closed := 0
	for _, sub := range room {
		if sub.participantID == participantID {
			h.remove(room, sub, ReasonRevoked)
			closed++
		}
	}
	return closed
}

// remove requires h.mu held for writing.
func (h *Hub) remove(room map[uint64]*Subscription, sub *Subscription, reason string) {
	delete(room, sub.id)
	if len(room) == 0 {
		delete(h.rooms, sub.conferenceID)
	}
	sub.reason = reason
	close(sub.ch)
	h.metrics.Subscribers.Dec()
}

// Broadcast sends to everyone in the conference and returns how many
// subscribers received the event.
func (h *Hub) Broadcast(conferenceID string, kind Kind, payload any) int {
	evt := NewEvent(conferenceID, kind, payload)
	return h.publish(conferenceID, kind, func(*Subscription) (Event, bool) { return evt, true })
}

// BroadcastToRole sends only to the role's group within the conference.
func (h *Hub) BroadcastToRole(conferenceID string, role rbac.Role, kind Kind, payload any) int {
	evt := NewEvent(conferenceID, kind, payload)
	return h.publish(conferenceID, kind, func(s *Subscription) (Event, bool) { return evt, s.inGroup(role) })
}

// Audience picks the subscribers of a Publish that get the full payload: the
// Role's group, if set, and the listed participants.
type Audience struct {
	Role         rbac.Role
	Participants []string
}

func (a Audience) includes(s *Subscription) bool {
	if a.Role != "" && s.inGroup(a.Role) {
		return true
	}
	for _, id := range a.Participants {
		if id == s.participantID {
			return true
		}
	}
	return false
}

// Publish sends full to the audience and summary to everyone else in the
// conference. A nil summary limits the event to the audience. Each
// subscriber gets at most one event.
func (h *Hub) Publish(conferenceID string, kind Kind, audience Audience, full, summary any) int {
	fullEvt := NewEvent(conferenceID, kind, full)
	summaryEvt := fullEvt
	summaryEvt.Payload = summary
	return h.publish(conferenceID, kind, func(s *Subscription) (Event, bool) {
		if audience.includes(s) {
			return fullEvt, true
		}
		return summaryEvt, summary != nil
	})
}

func (h *Hub) publish(conferenceID string, kind Kind, route func(*Subscription) (Event, bool)) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, sub := range h.rooms[conferenceID] {
		evt, ok := route(sub)
		if !ok {
			continue
		}
		select {
		case sub.ch <- evt:
			delivered++
		default:
			h.metrics.FanoutDropped.WithLabelValues(string(kind)).Inc()
			h.logger.Debug("Subscriber buffer full, dropping event",
				zap.String("conference", conferenceID),
				zap.String("kind", string(kind)),
				zap.Uint64("subscriber", sub.id))
		}
	}
	h.metrics.FanoutDelivered.WithLabelValues(string(kind)).Add(float64(delivered))
	return delivered
}

func (h *Hub) Subscribers(conferenceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conferenceID])
}

// Close removes every subscription, closing their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conferenceID, room := range h.rooms {
		for _, sub := range room {
			sub.reason = ReasonShutdown
			close(sub.ch)
			h.metrics.Subscribers.Dec()
		}
		delete(h.rooms, conferenceID)
	}
}

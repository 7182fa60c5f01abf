package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process partition used for memory:// tenants and in
// tests. A single mutex makes every conditional write atomic, matching the
// row-level guarantees of the Postgres store.
type MemoryStore struct {
	mu           sync.RWMutex
	conferences  map[string]Conference
	participants map[string]Participant
	notes        map[string]Note
	closed       bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conferences:  make(map[string]Conference),
		participants: make(map[string]Participant),
		notes:        make(map[string]Note),
	}
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("memory store closed")
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) EnsureConference(_ context.Context, conference Conference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conferences[conference.ID]; ok {
		return nil
	}
	if conference.CreatedAt.IsZero() {
		conference.CreatedAt = time.Now().UTC()
	}
	s.conferences[conference.ID] = conference
	return nil
}

func (s *MemoryStore) GetConference(_ context.Context, conferenceID string) (Conference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.conferences[conferenceID]
	if !ok {
		return Conference{}, fmt.Errorf("get conference %s: %w", conferenceID, ErrNotFound)
	}
	return item, nil
}

func (s *MemoryStore) InsertParticipant(_ context.Context, item Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Email = strings.ToLower(strings.TrimSpace(item.Email))
	for _, existing := range s.participants {
		if existing.ConferenceID == item.ConferenceID && existing.Email == item.Email {
			return fmt.Errorf("insert participant %s: %w", item.Email, ErrDuplicate)
		}
	}
	if _, ok := s.participants[item.ID]; ok {
		return fmt.Errorf("insert participant %s: %w", item.ID, ErrDuplicate)
	}
	item.UpdatedAt = item.CreatedAt
	s.participants[item.ID] = item
	return nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, participantID string) (Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.participants[participantID]
	if !ok {
		return Participant{}, fmt.Errorf("get participant %s: %w", participantID, ErrNotFound)
	}
	return item, nil
}

func (s *MemoryStore) GetParticipantByEmail(_ context.Context, email string) (Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, item := range s.participants {
		if item.Email == email {
			return item, nil
		}
	}
	return Participant{}, fmt.Errorf("get participant by email: %w", ErrNotFound)
}

func (s *MemoryStore) ListParticipants(context.Context) ([]Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Participant, 0, len(s.participants))
	for _, item := range s.participants {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].DisplayName != items[j].DisplayName {
			return items[i].DisplayName < items[j].DisplayName
		}
		return items[i].Email < items[j].Email
	})
	return items, nil
}

func (s *MemoryStore) UpdateParticipant(_ context.Context, participantID string, update ParticipantUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.participants[participantID]
	if !ok {
		return false, nil
	}
	item.Role = update.Role
	item.Country = update.Country
	item.UpdatedAt = time.Now().UTC()
	s.participants[participantID] = item
	if update.ReleaseLocks {
		s.releaseLocks(participantID)
	}
	return true, nil
}

func (s *MemoryStore) DeleteParticipant(_ context.Context, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[participantID]; !ok {
		return false, nil
	}
	s.releaseLocks(participantID)
	delete(s.participants, participantID)
	return true, nil
}

// releaseLocks requires s.mu held for writing.
func (s *MemoryStore) releaseLocks(participantID string) {
	for id, note := range s.notes {
		if note.Status == NoteWaiting && note.LockedBy != nil && *note.LockedBy == participantID {
			note.LockedBy = nil
			note.LockedAt = nil
			s.notes[id] = note
		}
	}
}

func (s *MemoryStore) InsertNote(_ context.Context, item Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[item.ID]; ok {
		return fmt.Errorf("insert note %s: %w", item.ID, ErrDuplicate)
	}
	item.UpdatedAt = item.CreatedAt
	s.notes[item.ID] = cloneNote(item)
	return nil
}

func (s *MemoryStore) GetNote(_ context.Context, noteID string) (Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.notes[noteID]
	if !ok {
		return Note{}, fmt.Errorf("get note %s: %w", noteID, ErrNotFound)
	}
	return cloneNote(item), nil
}

func (s *MemoryStore) filterNotes(keep func(Note) bool) []Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Note, 0)
	for _, item := range s.notes {
		if keep(item) {
			items = append(items, cloneNote(item))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items
}

func (s *MemoryStore) ListPendingNotes(_ context.Context, viewerID string) ([]Note, error) {
	return s.filterNotes(func(n Note) bool {
		if !n.Pending() {
			return false
		}
		return viewerID == "" || !n.LockedByOther(viewerID)
	}), nil
}

func (s *MemoryStore) ListNotesFor(_ context.Context, participantID string) ([]Note, error) {
	return s.filterNotes(func(n Note) bool {
		if n.DeletedAt != nil {
			return false
		}
		return n.SenderID == participantID || (n.RecipientID == participantID && n.Status == NoteApproved)
	}), nil
}

// update applies change to a note only when cond holds for its stored state.
func (s *MemoryStore) update(noteID string, cond func(Note) bool, change func(*Note)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.notes[noteID]
	if !ok || !cond(item) {
		return false
	}
	change(&item)
	s.notes[noteID] = item
	return true
}

func heldBy(n Note, moderatorID string) bool {
	return n.LockedBy != nil && *n.LockedBy == moderatorID
}

func (s *MemoryStore) LockNote(_ context.Context, noteID, moderatorID string, at time.Time) (bool, error) {
	return s.update(noteID,
		func(n Note) bool { return n.Pending() && (n.LockedBy == nil || heldBy(n, moderatorID)) },
		func(n *Note) {
			n.LockedBy = &moderatorID
			n.LockedAt = &at
			n.UpdatedAt = at
		},
	), nil
}

func (s *MemoryStore) UnlockNote(_ context.Context, noteID, moderatorID string) (bool, error) {
	return s.update(noteID,
		func(n Note) bool { return n.Pending() && heldBy(n, moderatorID) },
		func(n *Note) {
			n.LockedBy = nil
			n.LockedAt = nil
			n.UpdatedAt = time.Now().UTC()
		},
	), nil
}

func (s *MemoryStore) ApproveNote(_ context.Context, noteID, moderatorID string, at time.Time) (bool, error) {
	return s.update(noteID,
		func(n Note) bool { return n.Pending() && heldBy(n, moderatorID) },
		func(n *Note) {
			n.Status = NoteApproved
			n.ModeratorID = &moderatorID
			n.ApprovedAt = &at
			n.LockedBy = nil
			n.LockedAt = nil
			n.UpdatedAt = at
		},
	), nil
}

func (s *MemoryStore) RejectNote(_ context.Context, noteID, moderatorID, reason string, at time.Time) (bool, error) {
	return s.update(noteID,
		func(n Note) bool { return n.Pending() && heldBy(n, moderatorID) },
		func(n *Note) {
			n.Status = NoteRejected
			n.ModeratorID = &moderatorID
			n.RejectionReason = &reason
			n.RejectedAt = &at
			n.LockedBy = nil
			n.LockedAt = nil
			n.UpdatedAt = at
		},
	), nil
}

func (s *MemoryStore) SoftDeleteNote(_ context.Context, noteID string, at time.Time) (bool, error) {
	return s.update(noteID,
		func(n Note) bool { return n.DeletedAt == nil },
		func(n *Note) {
			n.DeletedAt = &at
			n.LockedBy = nil
			n.LockedAt = nil
			n.UpdatedAt = at
		},
	), nil
}

// cloneNote copies pointer fields so callers never alias stored state.
func cloneNote(n Note) Note {
	n.ParentID = cloneString(n.ParentID)
	n.ModeratorID = cloneString(n.ModeratorID)
	n.RejectionReason = cloneString(n.RejectionReason)
	n.LockedBy = cloneString(n.LockedBy)
	n.ApprovedAt = cloneTime(n.ApprovedAt)
	n.RejectedAt = cloneTime(n.RejectedAt)
	n.LockedAt = cloneTime(n.LockedAt)
	n.DeletedAt = cloneTime(n.DeletedAt)
	return n
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"parley/api/internal/rbac"
	"parley/api/internal/realtime"
	"parley/api/internal/store"
	"parley/api/internal/util"
)

type CreateNoteInput struct {
	RecipientID string `json:"recipientId"`
	Body        string `json:"body"`
	ParentID    string `json:"parentId"`
}

// CreateNote sends a note from the caller. Notes from senders whose matrix
// row needs no approval are stored approved; the rest wait for a moderator.
func (s *Service) CreateNote(ctx context.Context, code, email string, in CreateNoteInput) (store.Note, error) {
	sc, err := s.scope(ctx, code, email)
	if err != nil {
		return store.Note{}, err
	}
	if strings.TrimSpace(in.Body) == "" {
		return store.Note{}, validation("Message body is required", nil)
	}
	if n := utf8.RuneCountInString(in.Body); n > store.MaxNoteBody {
		return store.Note{}, validation(fmt.Sprintf("Message body exceeds %d characters", store.MaxNoteBody),
			map[string]any{"length": n, "max": store.MaxNoteBody})
	}
	if strings.TrimSpace(in.RecipientID) == "" {
		return store.Note{}, validation("recipientId is required", nil)
	}

	recipient, err := sc.store.GetParticipant(ctx, in.RecipientID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Note{}, notFound("Recipient not found")
	}
	if err != nil {
		return store.Note{}, fmt.Errorf("load recipient: %w", err)
	}

	senderRole := sc.actor.Role
	recipientRole := rbac.Normalize(recipient.Role)
	if !rbac.CanBeContacted(recipientRole) {
		return store.Note{}, forbidden("RECIPIENT_NOT_CONTACTABLE", "This participant cannot receive messages", map[string]any{
			"recipientRole": recipientRole,
		})
	}
	if !rbac.CanContact(senderRole, recipientRole) {
		return store.Note{}, forbidden("CONTACT_NOT_ALLOWED", fmt.Sprintf("A %s cannot message a %s", senderRole, recipientRole), map[string]any{
			"senderRole":    senderRole,
			"recipientRole": recipientRole,
		})
	}

	var parentID *string
	if in.ParentID != "" {
		parent, err := sc.store.GetNote(ctx, in.ParentID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && parent.DeletedAt != nil) {
			return store.Note{}, notFound("Parent note not found")
		}
		if err != nil {
			return store.Note{}, fmt.Errorf("load parent note: %w", err)
		}
		parentID = &parent.ID
	}

	now := s.now()
	note := store.Note{
		ID:               util.NewID("note"),
		ConferenceID:     sc.code,
		SenderID:         sc.actor.ID,
		RecipientID:      recipient.ID,
		ParentID:         parentID,
		Body:             in.Body,
		Status:           store.NoteWaiting,
		SenderRole:       string(senderRole),
		RecipientRole:    string(recipientRole),
		RequiresApproval: rbac.RequiresApproval(senderRole, recipientRole),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if !note.RequiresApproval {
		note.Status = store.NoteApproved
		note.ApprovedAt = &now
	}
	if err := sc.store.InsertNote(ctx, note); err != nil {
		return store.Note{}, fmt.Errorf("insert note: %w", err)
	}
	s.metrics.NoteTransitions.WithLabelValues("created_" + string(note.Status)).Inc()

	s.publishNote(sc.code, realtime.KindNoteCreated, note)
	return note, nil
}

// readers is everyone who may read the note's body: the moderator group, the
// sender and, once approved, the recipient. It mirrors canView.
func readers(note store.Note) realtime.Audience {
	audience := realtime.Audience{Role: rbac.RoleModerator, Participants: []string{note.SenderID}}
	if note.Status == store.NoteApproved {
		audience.Participants = append(audience.Participants, note.RecipientID)
	}
	return audience
}

// publishNote sends the full note to its readers and a body-less summary to
// the rest of the room.
func (s *Service) publishNote(code string, kind realtime.Kind, note store.Note) {
	s.fanout.Publish(code, kind, readers(note), noteView(note), noteSummary(note))
}

type transition string

const (
	transitionLock    transition = "lock"
	transitionUnlock  transition = "unlock"
	transitionApprove transition = "approve"
	transitionReject  transition = "reject"
)

// explainRejected re-reads a note after a conditional write matched nothing
// and names the precondition that failed.
func (s *Service) explainRejected(ctx context.Context, st store.Store, noteID string, actor Actor, op transition) error {
	note, err := st.GetNote(ctx, noteID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("Note not found")
	}
	if err != nil {
		return fmt.Errorf("%s note: %w", op, err)
	}
	if note.DeletedAt != nil {
		return notFound("Note not found")
	}
	if note.Status != store.NoteWaiting {
		return forbidden("NOTE_NOT_PENDING", fmt.Sprintf("Note is already %s", note.Status), map[string]any{
			"status": note.Status,
		})
	}
	if op == transitionLock {
		s.metrics.LockConflicts.Inc()
		details := map[string]any{}
		if note.LockedBy != nil {
			details["lockedBy"] = *note.LockedBy
		}
		return conflict("NOTE_LOCKED", "Note is already locked by another moderator", details)
	}
	details := map[string]any{}
	if note.LockedByOther(actor.ID) {
		details["lockedBy"] = *note.LockedBy
	}
	return forbidden("LOCK_REQUIRED", fmt.Sprintf("You must hold the lock to %s this note", op), details)
}

// moderate runs one conditional transition and re-reads the stored result.
func (s *Service) moderate(ctx context.Context, code, email, noteID string, op transition, write func(store.Store, Actor) (bool, error)) (scope, store.Note, error) {
	sc, err := s.scope(ctx, code, email)
	if err != nil {
		return scope{}, store.Note{}, err
	}
	if err := s.require(sc.actor, rbac.ActionModerate); err != nil {
		return scope{}, store.Note{}, err
	}
	ok, err := write(sc.store, sc.actor)
	if err != nil {
		return scope{}, store.Note{}, fmt.Errorf("%s note: %w", op, err)
	}
	if !ok {
		return scope{}, store.Note{}, s.explainRejected(ctx, sc.store, noteID, sc.actor, op)
	}
	s.metrics.NoteTransitions.WithLabelValues(string(op)).Inc()

	note, err := sc.store.GetNote(ctx, noteID)
	if err != nil {
		return scope{}, store.Note{}, fmt.Errorf("reload note: %w", err)
	}
	s.logger.Info("Note transition",
		zap.String("tenant", sc.code),
		zap.String("note", noteID),
		zap.String("transition", string(op)),
		zap.String("moderator", sc.actor.ID))
	return sc, note, nil
}

// LockNote claims a waiting note for the caller. Re-locking a note the caller
// already holds refreshes the lock.
func (s *Service) LockNote(ctx context.Context, code, email, noteID string) (store.Note, error) {
	sc, note, err := s.moderate(ctx, code, email, noteID, transitionLock, func(st store.Store, actor Actor) (bool, error) {
		return st.LockNote(ctx, noteID, actor.ID, s.now())
	})
	if err != nil {
		return store.Note{}, err
	}
	s.fanout.BroadcastToRole(sc.code, rbac.RoleModerator, realtime.KindNoteLocked, noteView(note))
	return note, nil
}

func (s *Service) UnlockNote(ctx context.Context, code, email, noteID string) (store.Note, error) {
	sc, note, err := s.moderate(ctx, code, email, noteID, transitionUnlock, func(st store.Store, actor Actor) (bool, error) {
		return st.UnlockNote(ctx, noteID, actor.ID)
	})
	if err != nil {
		return store.Note{}, err
	}
	s.fanout.BroadcastToRole(sc.code, rbac.RoleModerator, realtime.KindNoteUnlocked, noteView(note))
	return note, nil
}

func (s *Service) ApproveNote(ctx context.Context, code, email, noteID string) (store.Note, error) {
	sc, note, err := s.moderate(ctx, code, email, noteID, transitionApprove, func(st store.Store, actor Actor) (bool, error) {
		return st.ApproveNote(ctx, noteID, actor.ID, s.now())
	})
	if err != nil {
		return store.Note{}, err
	}
	s.publishNote(sc.code, realtime.KindNoteApproved, note)
	return note, nil
}

// RejectNote stores reason exactly as given; it only has to contain
// something other than whitespace.
func (s *Service) RejectNote(ctx context.Context, code, email, noteID, reason string) (store.Note, error) {
	if strings.TrimSpace(reason) == "" {
		return store.Note{}, validation("A rejection reason is required", nil)
	}
	sc, note, err := s.moderate(ctx, code, email, noteID, transitionReject, func(st store.Store, actor Actor) (bool, error) {
		return st.RejectNote(ctx, noteID, actor.ID, reason, s.now())
	})
	if err != nil {
		return store.Note{}, err
	}
	s.publishNote(sc.code, realtime.KindNoteRejected, note)
	return note, nil
}

// ListPending is the caller's moderation queue: waiting notes that are free
// or already locked by the caller.
func (s *Service) ListPending(ctx context.Context, code, email string) ([]store.Note, error) {
	sc, err := s.scope(ctx, code, email)
	if err != nil {
		return nil, err
	}
	if err := s.require(sc.actor, rbac.ActionModerate); err != nil {
		return nil, err
	}
	items, err := sc.store.ListPendingNotes(ctx, sc.actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list pending notes: %w", err)
	}
	return items, nil
}

// ListPendingAll includes notes locked by other moderators.
func (s *Service) ListPendingAll(ctx context.Context, code, email string) ([]store.Note, error) {
	sc, err := s.scope(ctx, code, email)
	if err != nil {
		return nil, err
	}
	if err := s.require(sc.actor, rbac.ActionViewAllPending); err != nil {
		return nil, err
	}
	items, err := sc.store.ListPendingNotes(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list pending notes: %w", err)
	}
	return items, nil
}

// ListNotes returns what the caller sent plus approved notes addressed to
// them.
func (s *Service) ListNotes(ctx context.Context, code, email string) ([]store.Note, error) {
	sc, err := s.scope(ctx, code, email)
	if err != nil {
		return nil, err
	}
	items, err := sc.store.ListNotesFor(ctx, sc.actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return items, nil
}

func canView(actor Actor, note store.Note) bool {
	switch {
	case note.SenderID == actor.ID:
		return true
	case note.RecipientID == actor.ID && note.Status == store.NoteApproved:
		return true
	default:
		return actor.Can(rbac.ActionModerate)
	}
}

// GetNote hides notes the caller may not see behind NotFound.
func (s *Service) GetNote(ctx context.Context, code, email, noteID string) (store.Note, error) {
	sc, err := s.scope(ctx, code, email)
	if err != nil {
		return store.Note{}, err
	}
	note, err := sc.store.GetNote(ctx, noteID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Note{}, notFound("Note not found")
	}
	if err != nil {
		return store.Note{}, fmt.Errorf("get note: %w", err)
	}
	if note.DeletedAt != nil || !canView(sc.actor, note) {
		return store.Note{}, notFound("Note not found")
	}
	return note, nil
}

// DeleteNote soft-deletes a note. Senders may delete their own notes;
// managers may delete any.
func (s *Service) DeleteNote(ctx context.Context, code, email, noteID string) error {
	sc, err := s.scope(ctx, code, email)
	if err != nil {
		return err
	}
	note, err := sc.store.GetNote(ctx, noteID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("Note not found")
	}
	if err != nil {
		return fmt.Errorf("get note: %w", err)
	}
	if note.DeletedAt != nil {
		return notFound("Note not found")
	}
	if note.SenderID != sc.actor.ID && !sc.actor.Can(rbac.ActionDeleteAnyNote) {
		if canView(sc.actor, note) {
			return forbidden("FORBIDDEN", "Only the sender or a conference manager can delete this note", nil)
		}
		return notFound("Note not found")
	}

	ok, err := sc.store.SoftDeleteNote(ctx, noteID, s.now())
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if !ok {
		return notFound("Note not found")
	}
	s.metrics.NoteTransitions.WithLabelValues("delete").Inc()
	s.fanout.Broadcast(sc.code, realtime.KindNoteDeleted, map[string]any{"id": noteID})
	return nil
}

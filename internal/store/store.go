package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// Store is one tenant's isolated partition. Every note transition is a
// conditional write that reports false, without changing anything, when the
// stored note no longer matches the precondition.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	EnsureConference(ctx context.Context, conference Conference) error
	GetConference(ctx context.Context, conferenceID string) (Conference, error)

	InsertParticipant(ctx context.Context, participant Participant) error
	GetParticipant(ctx context.Context, participantID string) (Participant, error)
	GetParticipantByEmail(ctx context.Context, email string) (Participant, error)
	ListParticipants(ctx context.Context) ([]Participant, error)
	UpdateParticipant(ctx context.Context, participantID string, update ParticipantUpdate) (bool, error)
	DeleteParticipant(ctx context.Context, participantID string) (bool, error)

	InsertNote(ctx context.Context, note Note) error
	GetNote(ctx context.Context, noteID string) (Note, error)
	// ListPendingNotes returns waiting notes. A non-empty viewerID hides notes
	// locked by anyone else.
	ListPendingNotes(ctx context.Context, viewerID string) ([]Note, error)
	ListNotesFor(ctx context.Context, participantID string) ([]Note, error)

	// LockNote succeeds while the note is waiting and unlocked or already
	// held by moderatorID.
	LockNote(ctx context.Context, noteID, moderatorID string, at time.Time) (bool, error)
	UnlockNote(ctx context.Context, noteID, moderatorID string) (bool, error)
	// ApproveNote and RejectNote succeed only for the current lock holder of
	// a waiting note.
	ApproveNote(ctx context.Context, noteID, moderatorID string, at time.Time) (bool, error)
	RejectNote(ctx context.Context, noteID, moderatorID, reason string, at time.Time) (bool, error)
	SoftDeleteNote(ctx context.Context, noteID string, at time.Time) (bool, error)
}

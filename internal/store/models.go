package store

import "time"

type NoteStatus string

const (
	NoteWaiting  NoteStatus = "waiting"
	NoteApproved NoteStatus = "approved"
	NoteRejected NoteStatus = "rejected"
)

// MaxNoteBody bounds a note body, counted in runes.
const MaxNoteBody = 2000

type Conference struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type Participant struct {
	ID           string
	ConferenceID string
	Email        string
	DisplayName  string
	Role         string
	Country      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ParticipantUpdate replaces a participant's role and country. ReleaseLocks
// drops any lock the participant holds on a waiting note, for role changes
// that take away moderation.
type ParticipantUpdate struct {
	Role         string
	Country      string
	ReleaseLocks bool
}

// Note is a moderatable message between two participants. SenderRole and
// RecipientRole are captured at creation and never follow later role changes.
type Note struct {
	ID               string
	ConferenceID     string
	SenderID         string
	RecipientID      string
	ParentID         *string
	Body             string
	Status           NoteStatus
	SenderRole       string
	RecipientRole    string
	RequiresApproval bool
	ModeratorID      *string
	RejectionReason  *string
	ApprovedAt       *time.Time
	RejectedAt       *time.Time
	LockedBy         *string
	LockedAt         *time.Time
	DeletedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (n Note) Pending() bool {
	return n.Status == NoteWaiting && n.DeletedAt == nil
}

// LockedByOther reports whether someone other than participantID holds the lock.
func (n Note) LockedByOther(participantID string) bool {
	return n.LockedBy != nil && *n.LockedBy != participantID
}

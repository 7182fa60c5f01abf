package app

import (
	"time"

	"parley/api/internal/rbac"
	"parley/api/internal/store"
)

type NoteView struct {
	ID               string     `json:"id"`
	ConferenceID     string     `json:"conferenceId"`
	SenderID         string     `json:"senderId"`
	RecipientID      string     `json:"recipientId"`
	ParentID         *string    `json:"parentId,omitempty"`
	Body             string     `json:"body,omitempty"`
	Status           string     `json:"status"`
	SenderRole       string     `json:"senderRole"`
	RecipientRole    string     `json:"recipientRole"`
	RequiresApproval bool       `json:"requiresApproval"`
	ModeratorID      *string    `json:"moderatorId,omitempty"`
	RejectionReason  *string    `json:"rejectionReason,omitempty"`
	ApprovedAt       *time.Time `json:"approvedAt,omitempty"`
	RejectedAt       *time.Time `json:"rejectedAt,omitempty"`
	LockedBy         *string    `json:"lockedBy,omitempty"`
	LockedAt         *time.Time `json:"lockedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func noteView(n store.Note) NoteView {
	return NoteView{
		ID:               n.ID,
		ConferenceID:     n.ConferenceID,
		SenderID:         n.SenderID,
		RecipientID:      n.RecipientID,
		ParentID:         n.ParentID,
		Body:             n.Body,
		Status:           string(n.Status),
		SenderRole:       n.SenderRole,
		RecipientRole:    n.RecipientRole,
		RequiresApproval: n.RequiresApproval,
		ModeratorID:      n.ModeratorID,
		RejectionReason:  n.RejectionReason,
		ApprovedAt:       n.ApprovedAt,
		RejectedAt:       n.RejectedAt,
		LockedBy:         n.LockedBy,
		LockedAt:         n.LockedAt,
		CreatedAt:        n.CreatedAt,
		UpdatedAt:        n.UpdatedAt,
	}
}

func noteViews(items []store.Note) []NoteView {
	out := make([]NoteView, 0, len(items))
	for _, item := range items {
		out = append(out, noteView(item))
	}
	return out
}

// noteSummary is what the whole room sees of a note still under review: no
// body, no moderation detail.
func noteSummary(n store.Note) NoteView {
	return NoteView{
		ID:               n.ID,
		ConferenceID:     n.ConferenceID,
		SenderID:         n.SenderID,
		RecipientID:      n.RecipientID,
		ParentID:         n.ParentID,
		Status:           string(n.Status),
		SenderRole:       n.SenderRole,
		RecipientRole:    n.RecipientRole,
		RequiresApproval: n.RequiresApproval,
		CreatedAt:        n.CreatedAt,
		UpdatedAt:        n.UpdatedAt,
	}
}

type ParticipantView struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	Country     string    `json:"country,omitempty"`
	Contactable bool      `json:"contactable"`
	CreatedAt   time.Time `json:"createdAt"`
}

// participantView marks whether viewer may address a note to p.
func participantView(p store.Participant, viewer rbac.Role) ParticipantView {
	role := rbac.Normalize(p.Role)
	return ParticipantView{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Role:        string(role),
		Country:     p.Country,
		Contactable: rbac.CanBeContacted(role) && rbac.CanContact(viewer, role),
		CreatedAt:   p.CreatedAt,
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"parley/api/internal/rbac"
	"parley/api/internal/store"
	"parley/api/internal/util"
)

type AddParticipantInput struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Country     string `json:"country"`
}

// UpdateParticipantInput is a partial update. A nil Country keeps the stored
// one while the participant stays a delegate.
type UpdateParticipantInput struct {
	Role    string  `json:"role"`
	Country *string `json:"country"`
}

func parseRole(value string) (rbac.Role, error) {
	role, ok := rbac.Parse(value)
	if !ok {
		return "", validation(fmt.Sprintf("Unknown role %q", value), map[string]any{"roles": rbac.Roles})
	}
	return role, nil
}

// countryFor keeps a country only for delegates.
func countryFor(role rbac.Role, country string) string {
	if role != rbac.RoleDelegate {
		return ""
	}
	return strings.TrimSpace(country)
}

// ListParticipants returns everyone in the conference, each marked with
// whether the caller may message them.
func (s *Service) ListParticipants(ctx context.Context, code, email string) ([]ParticipantView, error) {
	sc, err := s.scope(ctx, code, email)
	if err != nil {
		return nil, err
	}
	if err := s.require(sc.actor, rbac.ActionListParticipants); err != nil {
		return nil, err
	}
	items, err := sc.store.ListParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	out := make([]ParticipantView, 0, len(items))
	for _, item := range items {
		out = append(out, participantView(item, sc.actor.Role))
	}
	return out, nil
}

func (s *Service) AddParticipant(ctx context.Context, code, email string, in AddParticipantInput) (ParticipantView, error) {
	sc, err := s.scope(ctx, code, email)
	if err != nil {
		return ParticipantView{}, err
	}
	if err := s.require(sc.actor, rbac.ActionManageParticipants); err != nil {
		return ParticipantView{}, err
	}
	address, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return ParticipantView{}, validation("A valid email is required", nil)
	}
	role, err := parseRole(in.Role)
	if err != nil {
		return ParticipantView{}, err
	}
	if !rbac.CanManageRole(sc.actor.Role, role) {
		return ParticipantView{}, forbidden("ROLE_PROTECTED", fmt.Sprintf("A %s cannot grant the %s role", sc.actor.Role, role), nil)
	}

	now := s.now()
	participant := store.Participant{
		ID:           util.NewID("par"),
		ConferenceID: sc.code,
		Email:        strings.ToLower(address.Address),
		DisplayName:  strings.TrimSpace(in.DisplayName),
		Role:         string(role),
		Country:      countryFor(role, in.Country),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if participant.DisplayName == "" {
		participant.DisplayName = address.Name
	}
	if err := sc.store.InsertParticipant(ctx, participant); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return ParticipantView{}, conflict("PARTICIPANT_EXISTS", "This email is already a participant", nil)
		}
		return ParticipantView{}, fmt.Errorf("insert participant: %w", err)
	}
	s.logger.Info("Participant added",
		zap.String("tenant", sc.code),
		zap.String("participant", participant.ID),
		zap.String("role", participant.Role),
		zap.String("by", sc.actor.ID))
	return participantView(participant, sc.actor.Role), nil
}

// loadManaged fetches a participant the caller is about to change and checks
// the protection rule against their current role.
func (s *Service) loadManaged(ctx context.Context, sc scope, participantID string) (store.Participant, error) {
	if err := s.require(sc.actor, rbac.ActionManageParticipants); err != nil {
		return store.Participant{}, err
	}
	target, err := sc.store.GetParticipant(ctx, participantID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Participant{}, notFound("Participant not found")
	}
	if err != nil {
		return store.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	targetRole := rbac.Normalize(target.Role)
	if !rbac.CanManageRole(sc.actor.Role, targetRole) {
		return store.Participant{}, forbidden("ROLE_PROTECTED", fmt.Sprintf("A %s cannot manage a %s", sc.actor.Role, targetRole), nil)
	}
	return target, nil
}

func (s *Service) UpdateParticipant(ctx context.Context, code, email, participantID string, in UpdateParticipantInput) (ParticipantView, error) {
	sc, err := s.scope(ctx, code, email)
	if err != nil {
		return ParticipantView{}, err
	}
	target, err := s.loadManaged(ctx, sc, participantID)
	if err != nil {
		return ParticipantView{}, err
	}
	role := rbac.Normalize(target.Role)
	if in.Role != "" {
		if role, err = parseRole(in.Role); err != nil {
			return ParticipantView{}, err
		}
		if !rbac.CanManageRole(sc.actor.Role, role) {
			return ParticipantView{}, forbidden("ROLE_PROTECTED", fmt.Sprintf("A %s cannot grant the %s role", sc.actor.Role, role), nil)
		}
	}
	if target.ID == sc.actor.ID && role != sc.actor.Role {
		return ParticipantView{}, forbidden("SELF_ROLE_CHANGE", "You cannot change your own role", nil)
	}

	previous := rbac.Normalize(target.Role)
	country := target.Country
	if in.Country != nil {
		country = *in.Country
	}
	country = countryFor(role, country)
	lostModeration := rbac.Can(previous, rbac.ActionModerate) && !rbac.Can(role, rbac.ActionModerate)
	ok, err := sc.store.UpdateParticipant(ctx, target.ID, store.ParticipantUpdate{
		Role:         string(role),
		Country:      country,
		ReleaseLocks: lostModeration,
	})
	if err != nil {
		return ParticipantView{}, fmt.Errorf("update participant: %w", err)
	}
	if !ok {
		return ParticipantView{}, notFound("Participant not found")
	}
	if role != previous {
		s.fanout.Revoke(sc.code, target.ID)
		s.logger.Info("Participant role changed",
			zap.String("tenant", sc.code),
			zap.String("participant", target.ID),
			zap.String("from", string(previous)),
			zap.String("to", string(role)),
			zap.Bool("locks_released", lostModeration),
			zap.String("by", sc.actor.ID))
	}
	target.Role = string(role)
	target.Country = country
	return participantView(target, sc.actor.Role), nil
}

// RemoveParticipant deletes a participant and releases any notes they had
// locked. Notes they sent or received are kept.
func (s *Service) RemoveParticipant(ctx context.Context, code, email, participantID string) error {
	sc, err := s.scope(ctx, code, email)
	if err != nil {
		return err
	}
	if participantID == sc.actor.ID {
		return forbidden("SELF_REMOVAL", "You cannot remove yourself", nil)
	}
	target, err := s.loadManaged(ctx, sc, participantID)
	if err != nil {
		return err
	}
	ok, err := sc.store.DeleteParticipant(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	if !ok {
		return notFound("Participant not found")
	}
	s.fanout.Revoke(sc.code, target.ID)
	s.logger.Info("Participant removed",
		zap.String("tenant", sc.code),
		zap.String("participant", target.ID),
		zap.String("by", sc.actor.ID))
	return nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"parley/api/internal/metrics"
	"parley/api/internal/rbac"
	"parley/api/internal/realtime"
	"parley/api/internal/store"
	"parley/api/internal/tenant"
)

// TenantResolver hands out the shared partition handle for a conference.
type TenantResolver interface {
	Resolve(ctx context.Context, code string) (*tenant.Handle, error)
}

// Publisher is the fan-out side of the service. It must not block.
type Publisher interface {
	Broadcast(conferenceID string, kind realtime.Kind, payload any) int
	BroadcastToRole(conferenceID string, role rbac.Role, kind realtime.Kind, payload any) int
	Publish(conferenceID string, kind realtime.Kind, audience realtime.Audience, full, summary any) int
	// Revoke drops a participant's live subscriptions after their role
	// changes or they leave the conference.
	Revoke(conferenceID, participantID string) int
}

type Service struct {
	tenants TenantResolver
	fanout  Publisher
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(tenants TenantResolver, fanout Publisher, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Service{
		tenants: tenants,
		fanout:  fanout,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Actor is the caller as known to one conference. The role is read from the
// partition on every call, never carried over from an earlier request.
type Actor struct {
	store.Participant
	Role rbac.Role
}

func (a Actor) Can(action rbac.Action) bool {
	return rbac.Can(a.Role, action)
}

type scope struct {
	code  string
	store store.Store
	actor Actor
}

func (s *Service) scope(ctx context.Context, code, email string) (scope, error) {
	handle, err := s.tenants.Resolve(ctx, code)
	if err != nil {
		return scope{}, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return scope{}, unauthorized()
	}
	participant, err := handle.Store.GetParticipantByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return scope{}, forbidden("NOT_A_PARTICIPANT", "You are not a participant of this conference", nil)
	}
	if err != nil {
		return scope{}, fmt.Errorf("load participant: %w", err)
	}
	return scope{
		code:  handle.Code,
		store: handle.Store,
		actor: Actor{Participant: participant, Role: rbac.Normalize(participant.Role)},
	}, nil
}

// Me resolves the caller within a conference.
func (s *Service) Me(ctx context.Context, code, email string) (Actor, error) {
	sc, err := s.scope(ctx, code, email)
	if err != nil {
		return Actor{}, err
	}
	return sc.actor, nil
}

func (s *Service) require(actor Actor, action rbac.Action) error {
	if actor.Can(action) {
		return nil
	}
	s.logger.Debug("Permission denied",
		zap.String("participant", actor.ID),
		zap.String("role", string(actor.Role)),
		zap.String("action", string(action)))
	return forbidden("FORBIDDEN", "Your role does not allow this action", map[string]any{
		"role":   actor.Role,
		"action": action,
	})
}

package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"parley/api/internal/rbac"
	"parley/api/internal/realtime"
	"parley/api/internal/store"
	"parley/api/internal/tenant"
)

const testConference = "CONF"

type staticResolver map[string]*tenant.Handle

func (r staticResolver) Resolve(_ context.Context, code string) (*tenant.Handle, error) {
	if code == "" {
		return nil, tenant.ErrInvalidCode
	}
	h, ok := r[code]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	return h, nil
}

type published struct {
	Conference string
	Role       rbac.Role
	Audience   realtime.Audience
	Kind       realtime.Kind
	Payload    any
	Summary    any
}

// recordingPublisher captures fan-out calls in order.
type recordingPublisher struct {
	mu      sync.Mutex
	events  []published
	revoked []string
}

func (p *recordingPublisher) Broadcast(conferenceID string, kind realtime.Kind, payload any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{Conference: conferenceID, Kind: kind, Payload: payload})
	return 1
}

func (p *recordingPublisher) BroadcastToRole(conferenceID string, role rbac.Role, kind realtime.Kind, payload any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{Conference: conferenceID, Role: role, Kind: kind, Payload: payload})
	return 1
}

func (p *recordingPublisher) Publish(conferenceID string, kind realtime.Kind, audience realtime.Audience, full, summary any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{
		Conference: conferenceID,
		Role:       audience.Role,
		Audience:   audience,
		Kind:       kind,
		Payload:    full,
		Summary:    summary,
	})
	return 1
}

func (p *recordingPublisher) Revoke(_ string, participantID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, participantID)
	return 1
}

func (p *recordingPublisher) kinds() []realtime.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]realtime.Kind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
	p.revoked = nil
}

type fixture struct {
	service *Service
	store   *store.MemoryStore
	fanout  *recordingPublisher
	// ids by email
	ids map[string]string
}

// Seeded participants, one per role plus a second moderator and delegate.
var seedParticipants = []struct {
	email string
	role  rbac.Role
}{
	{"god@example.org", rbac.RoleGod},
	{"owner@example.org", rbac.RoleOwner},
	{"admin@example.org", rbac.RoleAdministrator},
	{"mod1@example.org", rbac.RoleModerator},
	{"mod2@example.org", rbac.RoleModerator},
	{"chair@example.org", rbac.RoleChair},
	{"delegate@example.org", rbac.RoleDelegate},
	{"delegate2@example.org", rbac.RoleDelegate},
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.EnsureConference(ctx, store.Conference{ID: testConference, Name: "Test"}))

	ids := make(map[string]string)
	for i, seed := range seedParticipants {
		id := "par-" + string(seed.role) + "-" + string(rune('a'+i))
		require.NoError(t, st.InsertParticipant(ctx, store.Participant{
			ID:           id,
			ConferenceID: testConference,
			Email:        seed.email,
			DisplayName:  seed.email,
			Role:         string(seed.role),
			CreatedAt:    time.Now().UTC(),
		}))
		ids[seed.email] = id
	}

	fanout := &recordingPublisher{}
	resolver := staticResolver{testConference: {Code: testConference, Store: st, OpenedAt: time.Now()}}
	return &fixture{
		service: NewService(resolver, fanout, nil, nil),
		store:   st,
		fanout:  fanout,
		ids:     ids,
	}
}

// send creates a note and fails the test on error.
func (f *fixture) send(t *testing.T, from, to, body string) store.Note {
	t.Helper()
	note, err := f.service.CreateNote(context.Background(), testConference, from, CreateNoteInput{
		RecipientID: f.ids[to],
		Body:        body,
	})
	require.NoError(t, err)
	return note
}

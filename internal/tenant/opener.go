package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"parley/api/internal/rbac"
	"parley/api/internal/store"
	"parley/api/internal/util"
)

const memoryScheme = "memory://"

// DefaultOpener opens Postgres partitions and, for memory:// descriptors, an
// in-process store. Either way the partition is bootstrapped before the
// handle is published.
func DefaultOpener(pool store.PoolConfig) Opener {
	return func(ctx context.Context, desc Descriptor) (store.Store, error) {
		if strings.HasPrefix(desc.DatabaseURL, memoryScheme) {
			st := store.NewMemoryStore()
			if err := bootstrap(ctx, st, desc); err != nil {
				return nil, err
			}
			return st, nil
		}
		return openPostgres(ctx, desc, pool)
	}
}

func openPostgres(ctx context.Context, desc Descriptor, pool store.PoolConfig) (store.Store, error) {
	db, err := store.Open(ctx, desc.DatabaseURL, pool)
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, db, store.Migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap %s: %w", desc.Code, err)
	}
	st := store.NewPostgresStore(db, desc.Code)
	if err := bootstrap(ctx, st, desc); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// bootstrap creates the conference row and any seeded participant that does
// not exist yet. Existing participants are left untouched.
func bootstrap(ctx context.Context, st store.Store, desc Descriptor) error {
	if err := st.EnsureConference(ctx, store.Conference{ID: desc.Code, Name: desc.Name}); err != nil {
		return fmt.Errorf("bootstrap %s: %w", desc.Code, err)
	}
	for _, seed := range desc.Participants {
		_, err := st.GetParticipantByEmail(ctx, seed.Email)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("bootstrap %s: %w", desc.Code, err)
		}
		role := rbac.Normalize(seed.Role)
		country := ""
		if role == rbac.RoleDelegate {
			country = seed.Country
		}
		now := time.Now().UTC()
		err = st.InsertParticipant(ctx, store.Participant{
			ID:           util.NewID("par"),
			ConferenceID: desc.Code,
			Email:        seed.Email,
			DisplayName:  seed.DisplayName,
			Role:         string(role),
			Country:      country,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil && !errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("bootstrap %s: seed %s: %w", desc.Code, seed.Email, err)
		}
	}
	return nil
}

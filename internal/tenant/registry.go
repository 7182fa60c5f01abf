// Package tenant resolves conference codes to their isolated data partitions.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"parley/api/internal/rbac"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidCode reports whether code is safe to use as a file name and cache key.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// Descriptor is the per-tenant connection configuration. Participants are
// seeded into the partition on first access when missing.
type Descriptor struct {
	Code         string            `yaml:"-" json:"code"`
	Name         string            `yaml:"name" json:"name"`
	DatabaseURL  string            `yaml:"database_url" json:"database_url"`
	Participants []SeedParticipant `yaml:"participants,omitempty" json:"participants,omitempty"`
}

type SeedParticipant struct {
	Email       string `yaml:"email" json:"email"`
	DisplayName string `yaml:"name" json:"name"`
	Role        string `yaml:"role" json:"role"`
	Country     string `yaml:"country,omitempty" json:"country,omitempty"`
}

func (d Descriptor) Validate() error {
	if d.DatabaseURL == "" {
		return fmt.Errorf("%w: %s: descriptor has no database_url", ErrTenantNotFound, d.Code)
	}
	for _, seed := range d.Participants {
		if seed.Email == "" {
			return fmt.Errorf("%w: %s: seeded participant has no email", ErrTenantNotFound, d.Code)
		}
		if _, ok := rbac.Parse(seed.Role); !ok {
			return fmt.Errorf("%w: %s: unknown role %q for %s", ErrTenantNotFound, d.Code, seed.Role, seed.Email)
		}
	}
	return nil
}

// Source is one place tenant descriptors can come from. Lookup must return
// ErrTenantNotFound when the source has no entry for code and
// ErrTenantUnavailable when the source itself cannot be read.
type Source interface {
	Lookup(ctx context.Context, code string) (Descriptor, error)
}

// Registry consults its sources in order; the first one that knows the code
// wins.
type Registry struct {
	sources []Source
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger, sources ...Source) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{sources: sources, logger: logger}
}

func (r *Registry) Lookup(ctx context.Context, code string) (Descriptor, error) {
	if !ValidCode(code) {
		return Descriptor{}, fmt.Errorf("%w: %q is not a valid conference code", ErrTenantNotFound, code)
	}
	for _, source := range r.sources {
		desc, err := source.Lookup(ctx, code)
		if err == nil {
			desc.Code = code
			if err := desc.Validate(); err != nil {
				return Descriptor{}, err
			}
			return desc, nil
		}
		if errors.Is(err, ErrTenantNotFound) {
			r.logger.Debug("Tenant source has no descriptor",
				zap.String("tenant", code),
				zap.String("source", fmt.Sprintf("%T", source)),
				zap.Error(err))
			continue
		}
		return Descriptor{}, err
	}
	return Descriptor{}, fmt.Errorf("%w: %s", ErrTenantNotFound, code)
}

package tenant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/api/internal/store"
)

type mapLookuper map[string]Descriptor

func (m mapLookuper) Lookup(_ context.Context, code string) (Descriptor, error) {
	desc, ok := m[code]
	if !ok {
		return Descriptor{}, ErrTenantNotFound
	}
	desc.Code = code
	return desc, nil
}

type countingOpener struct {
	calls atomic.Int32
	delay time.Duration
	fail  atomic.Bool
}

func (o *countingOpener) open(ctx context.Context, desc Descriptor) (store.Store, error) {
	o.calls.Add(1)
	if o.delay > 0 {
		select {
		case <-time.After(o.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if o.fail.Load() {
		return nil, errors.New("connection refused")
	}
	return store.NewMemoryStore(), nil
}

func tenants() mapLookuper {
	return mapLookuper{
		"A": {Name: "Conference A", DatabaseURL: "memory://a"},
		"B": {Name: "Conference B", DatabaseURL: "memory://b"},
	}
}

func TestResolveReturnsSameHandle(t *testing.T) {
	opener := &countingOpener{}
	m := NewManager(tenants(), opener.open, time.Second, nil, nil)
	ctx := context.Background()

	first, err := m.Resolve(ctx, "A")
	require.NoError(t, err)
	second, err := m.Resolve(ctx, "A")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, opener.calls.Load())
	assert.Equal(t, []string{"A"}, m.Cached())
}

func TestConcurrentFirstAccessOpensOnce(t *testing.T) {
	opener := &countingOpener{delay: 50 * time.Millisecond}
	m := NewManager(tenants(), opener.open, time.Second, nil, nil)

	const callers = 50
	handles := make([]*Handle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := m.Resolve(context.Background(), "A")
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, opener.calls.Load())
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
}

func TestDifferentTenantsOpenInParallel(t *testing.T) {
	opener := &countingOpener{delay: 200 * time.Millisecond}
	m := NewManager(tenants(), opener.open, time.Second, nil, nil)

	started := time.Now()
	var wg sync.WaitGroup
	for _, code := range []string{"A", "B"} {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			_, err := m.Resolve(context.Background(), code)
			assert.NoError(t, err)
		}(code)
	}
	wg.Wait()

	assert.Less(t, time.Since(started), 380*time.Millisecond)
	assert.EqualValues(t, 2, opener.calls.Load())
}

func TestUnknownTenantIsNotCached(t *testing.T) {
	opener := &countingOpener{}
	m := NewManager(tenants(), opener.open, time.Second, nil, nil)

	_, err := m.Resolve(context.Background(), "MISSING")
	assert.ErrorIs(t, err, ErrTenantNotFound)
	assert.Empty(t, m.Cached())
	assert.Zero(t, opener.calls.Load())
}

func TestEmptyCodeIsInvalid(t *testing.T) {
	m := NewManager(tenants(), (&countingOpener{}).open, time.Second, nil, nil)
	_, err := m.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestFailedOpenIsRetried(t *testing.T) {
	opener := &countingOpener{}
	opener.fail.Store(true)
	m := NewManager(tenants(), opener.open, time.Second, nil, nil)
	ctx := context.Background()

	_, err := m.Resolve(ctx, "A")
	assert.ErrorIs(t, err, ErrTenantUnavailable)
	assert.Empty(t, m.Cached())

	opener.fail.Store(false)
	h, err := m.Resolve(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "A", h.Code)
	assert.EqualValues(t, 2, opener.calls.Load())
}

func TestOpenTimeoutIsUnavailable(t *testing.T) {
	opener := &countingOpener{delay: time.Second}
	m := NewManager(tenants(), opener.open, 20*time.Millisecond, nil, nil)

	_, err := m.Resolve(context.Background(), "A")
	assert.ErrorIs(t, err, ErrTenantUnavailable)
	assert.Empty(t, m.Cached())
}

func TestCallerCancellationDoesNotAbortSharedFill(t *testing.T) {
	opener := &countingOpener{delay: 100 * time.Millisecond}
	m := NewManager(tenants(), opener.open, time.Second, nil, nil)

	impatient, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Resolve(impatient, "A")
	assert.ErrorIs(t, err, ErrTenantUnavailable)

	h, err := m.Resolve(context.Background(), "A")
	require.NoError(t, err)
	assert.NotNil(t, h.Store)
	assert.EqualValues(t, 1, opener.calls.Load())
}

func TestCloseReleasesHandles(t *testing.T) {
	m := NewManager(tenants(), (&countingOpener{}).open, time.Second, nil, nil)
	h, err := m.Resolve(context.Background(), "A")
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.Empty(t, m.Cached())
	assert.Error(t, h.Store.Ping(context.Background()))
}

func TestDefaultOpenerBootstrapsMemoryTenant(t *testing.T) {
	open := DefaultOpener(store.PoolConfig{})
	st, err := open(context.Background(), Descriptor{Code: "MEM", Name: "In memory", DatabaseURL: "memory://mem"})
	require.NoError(t, err)

	conf, err := st.GetConference(context.Background(), "MEM")
	require.NoError(t, err)
	assert.Equal(t, "In memory", conf.Name)
}

func TestDefaultOpenerSeedsParticipantsOnce(t *testing.T) {
	desc := Descriptor{
		Code:        "MEM",
		DatabaseURL: "memory://mem",
		Participants: []SeedParticipant{
			{Email: "owner@example.org", DisplayName: "Olive", Role: "Owner"},
			{Email: "d@example.org", Role: "delegate", Country: "NO"},
			{Email: "c@example.org", Role: "chair", Country: "SE"},
		},
	}
	st, err := DefaultOpener(store.PoolConfig{})(context.Background(), desc)
	require.NoError(t, err)
	ctx := context.Background()

	owner, err := st.GetParticipantByEmail(ctx, "owner@example.org")
	require.NoError(t, err)
	assert.Equal(t, "owner", owner.Role)

	delegate, _ := st.GetParticipantByEmail(ctx, "d@example.org")
	assert.Equal(t, "NO", delegate.Country)
	chair, _ := st.GetParticipantByEmail(ctx, "c@example.org")
	assert.Empty(t, chair.Country)

	require.NoError(t, bootstrap(ctx, st, desc))
	all, err := st.ListParticipants(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

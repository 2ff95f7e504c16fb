package core

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistryFixture(t *testing.T, maxViews int, idle time.Duration) (*ViewRegistry, *viewFixture) {
	t.Helper()
	f := newViewFixture(t, "Pending", &scriptedJob{})
	deps := viewDeps{
		sessions: f.svc.Sessions,
		previews: f.svc.Previews,
		runner:   f.svc.Runner,
		observer: nopObserver{},
		interval: 10 * time.Millisecond,
		now:      time.Now,
	}
	reg := NewViewRegistry(maxViews, idle, func(id string) *View { return newView(id, deps) })
	t.Cleanup(reg.CloseAll)
	return reg, f
}

func TestViewRegistry_OpenReusesView(t *testing.T) {
	reg, _ := newRegistryFixture(t, 4, time.Minute)
	ctx := context.Background()

	first, err := reg.Open(ctx, "IMP-0001")
	require.NoError(t, err)
	second, err := reg.Open(ctx, "IMP-0001")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, []string{"IMP-0001"}, reg.SessionIDs())
}

func TestViewRegistry_CloseThenReopen(t *testing.T) {
	reg, _ := newRegistryFixture(t, 4, time.Minute)
	ctx := context.Background()

	first, err := reg.Open(ctx, "IMP-0001")
	require.NoError(t, err)

	assert.True(t, reg.Close("IMP-0001"))
	assert.True(t, first.Closed())
	assert.False(t, reg.Close("IMP-0001"))

	_, ok := reg.Get("IMP-0001")
	assert.False(t, ok)

	second, err := reg.Open(ctx, "IMP-0001")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.False(t, second.Closed())
}

func TestViewRegistry_OpenUnknownSession(t *testing.T) {
	reg, _ := newRegistryFixture(t, 4, time.Minute)

	_, err := reg.Open(context.Background(), "IMP-4040")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	assert.Zero(t, reg.Len())
}

func TestViewRegistry_IdleViewsAreClosed(t *testing.T) {
	reg, _ := newRegistryFixture(t, 4, 30*time.Millisecond)

	v, err := reg.Open(context.Background(), "IMP-0001")
	require.NoError(t, err)

	require.Eventually(t, v.Closed, 2*time.Second, 10*time.Millisecond)
	_, ok := reg.Get("IMP-0001")
	assert.False(t, ok)
}

func TestViewRegistry_CloseAll(t *testing.T) {
	reg, _ := newRegistryFixture(t, 4, time.Minute)

	v, err := reg.Open(context.Background(), "IMP-0001")
	require.NoError(t, err)

	reg.CloseAll()
	assert.True(t, v.Closed())
	assert.Zero(t, reg.Len())
}

package cart

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blankpos/backend/internal/domain"
)

func TestRegistryScopesSessionsToOwner(t *testing.T) {
	reg := NewRegistry(nil)
	session := reg.Create("user-a")

	got, err := reg.Get(session.ID, "user-a")
	require.NoError(t, err)
	assert.Same(t, session, got)

	_, err = reg.Get(session.ID, "user-b")
	assert.ErrorIs(t, err, ErrCartNotFound)

	guest := reg.Create("")
	assert.Equal(t, domain.GuestUserID, guest.OwnerID)
	_, err = reg.Get(guest.ID, "")
	require.NoError(t, err)
}

func TestSessionsHaveIndependentEngines(t *testing.T) {
	reg := NewRegistry(nil)
	a := reg.Create("user-a")
	b := reg.Create("user-a")
	a.Engine.AddItem("Coffee", dec("3"))

	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, b.Engine.IsEmpty())
}

func TestBeginCommitAllowsOneInFlight(t *testing.T) {
	session := NewRegistry(nil).Create("user-a")

	require.NoError(t, session.BeginCommit())
	assert.ErrorIs(t, session.BeginCommit(), ErrCommitInFlight)
	assert.True(t, session.View().CommitInFlight)

	session.EndCommit()
	require.NoError(t, session.BeginCommit())
}

func TestBeginCommitWaitsForRunningMutate(t *testing.T) {
	session := NewRegistry(nil).Create("user-a")
	entered := make(chan struct{})
	release := make(chan struct{})
	mutated := make(chan error, 1)

	go func() {
		mutated <- session.Mutate(func(e *Engine) error {
			close(entered)
			<-release
			e.AddItem("Cake", dec("4"))
			return nil
		})
	}()
	<-entered

	begun := make(chan error, 1)
	go func() { begun <- session.BeginCommit() }()

	select {
	case <-begun:
		t.Fatal("checkout started while a mutation was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-mutated)
	require.NoError(t, <-begun)
	assert.Len(t, session.Engine.Items(), 1)

	err := session.Mutate(func(e *Engine) error {
		e.Clear()
		return nil
	})
	assert.ErrorIs(t, err, ErrCommitInFlight)
	assert.Len(t, session.Engine.Items(), 1)
}

func TestPruneIdleKeepsActiveAndInFlightSessions(t *testing.T) {
	now := time.Date(2024, time.May, 15, 10, 0, 0, 0, time.UTC)
	reg := NewRegistry(func() time.Time { return now })

	stale := reg.Create("user-a")
	busy := reg.Create("user-b")
	require.NoError(t, busy.BeginCommit())

	now = now.Add(3 * time.Hour)
	fresh := reg.Create("user-c")

	removed := reg.PruneIdle(2 * time.Hour)
	assert.Equal(t, 1, removed)

	_, err := reg.Get(stale.ID, "user-a")
	assert.ErrorIs(t, err, ErrCartNotFound)
	_, err = reg.Get(busy.ID, "user-b")
	require.NoError(t, err)
	_, err = reg.Get(fresh.ID, "user-c")
	require.NoError(t, err)
}

func TestViewNeverReturnsNilItems(t *testing.T) {
	view := NewRegistry(nil).Create("user-a").View()
	assert.NotNil(t, view.Items)
	assert.True(t, view.TotalAmount.IsZero())
}

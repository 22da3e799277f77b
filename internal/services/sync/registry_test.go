package sync

import (
	"sort"
	"testing"
	"time"

	"beadboard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issue(id string, priority int) *models.Issue {
	return &models.Issue{ID: id, Title: "title " + id, Priority: priority, UpdatedAt: time.Unix(1000, 0)}
}

func TestApplyItemsComputesMinimalDelta(t *testing.T) {
	r := NewRegistry()
	key := "issues?"

	_, wasPopulated := r.ApplyItems(key, []*models.Issue{
		issue("A", 1), issue("B", 1), issue("C", 1),
	})
	assert.False(t, wasPopulated, "first population")

	// B changes content, C is untouched, A disappears, D is new.
	changedB := issue("B", 1)
	changedB.Title = "changed"
	delta, wasPopulated := r.ApplyItems(key, []*models.Issue{
		changedB, issue("C", 1), issue("D", 1),
	})

	assert.True(t, wasPopulated)
	assert.Equal(t, []string{"D"}, delta.Added)
	assert.Equal(t, []string{"B"}, delta.Updated)
	assert.Equal(t, []string{"A"}, delta.Removed)
}

func TestApplyItemsEmptyDeltaOnIdenticalFetch(t *testing.T) {
	r := NewRegistry()
	key := "issues?"

	r.ApplyItems(key, []*models.Issue{issue("A", 1), issue("B", 2)})
	delta, _ := r.ApplyItems(key, []*models.Issue{issue("A", 1), issue("B", 2)})

	assert.True(t, delta.Empty())
}

func TestAttachDetach(t *testing.T) {
	r := NewRegistry()
	key := "issues?"
	c := &Conn{ID: "c1"}

	r.Attach(key, c)
	r.Attach(key, c) // idempotent
	require.Len(t, r.Subscribers(key), 1)

	assert.True(t, r.Detach(key, c))
	assert.False(t, r.Detach(key, c), "second detach reports absence")
	assert.Empty(t, r.Subscribers(key))

	// The entry survives an empty subscriber set: a re-attach reuses the
	// stored item state instead of starting from scratch.
	r.ApplyItems(key, []*models.Issue{issue("A", 1)})
	r.Attach(key, c)
	_, wasPopulated := r.ApplyItems(key, []*models.Issue{issue("A", 1)})
	assert.True(t, wasPopulated)
}

func TestDetachAll(t *testing.T) {
	r := NewRegistry()
	c1, c2 := &Conn{ID: "c1"}, &Conn{ID: "c2"}

	r.Attach("k1?", c1)
	r.Attach("k2?", c1)
	r.Attach("k1?", c2)

	r.DetachAll(c1)

	assert.Empty(t, r.Subscribers("k2?"))
	require.Len(t, r.Subscribers("k1?"), 1)
	assert.Equal(t, "c2", r.Subscribers("k1?")[0].ID)
}

func TestClearWipesEntries(t *testing.T) {
	r := NewRegistry()
	r.ApplyItems("k1?", []*models.Issue{issue("A", 1)})
	r.Attach("k1?", &Conn{ID: "c1"})

	r.Clear()

	assert.Empty(t, r.Subscribers("k1?"))
	_, wasPopulated := r.ApplyItems("k1?", []*models.Issue{issue("A", 1)})
	assert.False(t, wasPopulated, "cleared entry counts as never populated")
}

func TestWithKeyLockSerializesSameKey(t *testing.T) {
	r := NewRegistry()
	key := "issues?"

	var order []string
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go r.WithKeyLock(key, func(*entry) {
		close(started)
		<-release
		order = append(order, "first")
	})

	<-started
	go func() {
		r.WithKeyLock(key, func(*entry) {
			order = append(order, "second")
		})
		close(done)
	}()

	// The second critical section cannot run until the first releases.
	close(release)
	<-done

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestClearInvalidatesHeldKeyLock(t *testing.T) {
	r := NewRegistry()
	key := "issues?"

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	var before *entry
	go func() {
		r.WithKeyLock(key, func(e *entry) {
			before = e
			close(entered)
			<-release
			// A refresh that raced Clear writes into the entry it locked,
			// which Clear has since retired.
			r.applyLocked(e, []*models.Issue{issue("A", 1)})
		})
		close(done)
	}()

	<-entered
	r.Clear()
	close(release)
	<-done

	// Later lock holders get the live post-Clear entry, not the retired
	// one, and the raced apply never leaks into it.
	var after *entry
	r.WithKeyLock(key, func(e *entry) { after = e })
	require.NotSame(t, before, after)
	assert.Empty(t, r.Items(key))

	_, wasPopulated := r.ApplyItems(key, []*models.Issue{issue("A", 1)})
	assert.False(t, wasPopulated, "state applied into a retired entry stays invisible")
}

func TestWithKeyLockRetriesAcrossClear(t *testing.T) {
	r := NewRegistry()
	key := "issues?"

	holding := make(chan struct{})
	release := make(chan struct{})
	go r.WithKeyLock(key, func(*entry) {
		close(holding)
		<-release
	})
	<-holding

	waiterDone := make(chan struct{})
	go func() {
		// Queued behind the first holder; Clear retires that entry while
		// this call waits, and it must end up on the live replacement.
		r.WithKeyLock(key, func(e *entry) {
			r.applyLocked(e, []*models.Issue{issue("B", 1)})
		})
		close(waiterDone)
	}()

	time.Sleep(10 * time.Millisecond) // let the waiter queue on the lock
	r.Clear()
	close(release)
	<-waiterDone

	items := r.Items(key)
	require.Len(t, items, 1)
	assert.Equal(t, "B", items[0].ID)
}

func TestItemsSnapshot(t *testing.T) {
	r := NewRegistry()
	key := "issues?"
	r.ApplyItems(key, []*models.Issue{issue("B", 1), issue("A", 1)})

	items := r.Items(key)
	ids := []string{items[0].ID, items[1].ID}
	sort.Strings(ids)
	assert.Equal(t, []string{"A", "B"}, ids)
}

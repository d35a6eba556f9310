package tabsgroup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-tabtree/grouptab"
	"github.com/Meander-Cloud/go-tabtree/scheduler"
	"github.com/Meander-Cloud/go-tabtree/tabtree"
)

const testDelay = 50 * time.Millisecond

// countingTree counts evaluations: only Cleanup reads tabs through Get.
type countingTree struct {
	*tabtree.Tree
	gets atomic.Int32
}

func (c *countingTree) Get(id tabtree.TabID) (tabtree.Tab, bool) {
	c.gets.Add(1)
	return c.Tree.Get(id)
}

func newTestScheduler(t *testing.T) *scheduler.Scheduler[tabtree.TabID] {
	t.Helper()
	s := scheduler.NewScheduler[tabtree.TabID](&scheduler.Options{LogPrefix: t.Name()})
	s.RunAsync()
	t.Cleanup(s.Shutdown)
	return s
}

func newTestReclaimer(t *testing.T, h *harness) (*Reclaimer, *countingTree) {
	t.Helper()
	tree := &countingTree{Tree: h.tree}
	r := NewReclaimer(tree, newTestScheduler(t), ReclaimerOptions{Delay: testDelay})
	h.tree.OnRemoved(r.Cancel)
	return r, tree
}

func tabOf(kind tabtree.Kind, children ...tabtree.TabID) tabtree.Tab {
	return tabtree.Tab{ID: 1, Kind: kind, ChildIDs: children}
}

func TestIsNeedless(t *testing.T) {
	passive := tabtree.Kind{Group: true, State: grouptab.StatePassive}
	aggressive := tabtree.Kind{Group: true, State: grouptab.StateAggressive}
	permanent := tabtree.Kind{Group: true, State: grouptab.StateNone}

	tests := []struct {
		name       string
		tab        tabtree.Tab
		firstChild *tabtree.Tab
		want       bool
	}{
		{"empty passive group", tabOf(passive), nil, true},
		{"passive group around a passive group", tabOf(passive, 2), &tabtree.Tab{ID: 2, Kind: passive}, false},
		{"passive group around an aggressive group", tabOf(passive, 2), &tabtree.Tab{ID: 2, Kind: aggressive}, false},
		{"passive group around an ordinary tab", tabOf(passive, 2), &tabtree.Tab{ID: 2}, true},
		{"passive group around a permanent group", tabOf(passive, 2), &tabtree.Tab{ID: 2, Kind: permanent}, true},
		{"passive group with two children", tabOf(passive, 2, 3), &tabtree.Tab{ID: 2}, false},
		{"empty aggressive group", tabOf(aggressive), nil, true},
		{"aggressive group around an ordinary tab", tabOf(aggressive, 2), &tabtree.Tab{ID: 2}, true},
		{"aggressive group with two children", tabOf(aggressive, 2, 3), &tabtree.Tab{ID: 2}, false},
		{"empty permanent group", tabOf(permanent), nil, false},
		{"ordinary tab", tabOf(tabtree.Ordinary), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNeedless(tt.tab, tt.firstChild))
		})
	}
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()

	t.Run("removes a qualifying chain in one batch", func(t *testing.T) {
		h := newHarness(t)
		r := NewReclaimer(h.tree, nil, ReclaimerOptions{})

		outer := h.openGroup(t, grouptab.StateAggressive, tabtree.NoTab)
		inner := h.openGroup(t, grouptab.StatePassive, outer.ID)
		*h.published = nil

		removed, err := r.Cleanup(ctx, []tabtree.TabID{outer.ID, inner.ID})
		require.NoError(t, err)
		assert.Equal(t, []tabtree.TabID{outer.ID, inner.ID}, removed)
		assert.Empty(t, h.tree.Tabs(1))
		assert.Len(t, *h.published, 1)
	})

	t.Run("stops at the first tab that does not qualify", func(t *testing.T) {
		h := newHarness(t)
		r := NewReclaimer(h.tree, nil, ReclaimerOptions{})

		kept := h.openGroup(t, grouptab.StatePassive, tabtree.NoTab)
		h.open(t, "first", kept.ID)
		h.open(t, "second", kept.ID)
		empty := h.openGroup(t, grouptab.StateAggressive, tabtree.NoTab)

		removed, err := r.Cleanup(ctx, []tabtree.TabID{kept.ID, empty.ID})
		require.NoError(t, err)
		assert.Empty(t, removed)
		assert.True(t, h.tree.Exists(kept.ID))
		assert.True(t, h.tree.Exists(empty.ID))
	})

	t.Run("removes only the leading run", func(t *testing.T) {
		h := newHarness(t)
		r := NewReclaimer(h.tree, nil, ReclaimerOptions{})

		first := h.openGroup(t, grouptab.StatePassive, tabtree.NoTab)
		ordinary := h.open(t, "ordinary", tabtree.NoTab)
		last := h.openGroup(t, grouptab.StateAggressive, tabtree.NoTab)

		removed, err := r.Cleanup(ctx, []tabtree.TabID{first.ID, ordinary.ID, last.ID})
		require.NoError(t, err)
		assert.Equal(t, []tabtree.TabID{first.ID}, removed)
		assert.True(t, h.tree.Exists(last.ID))
	})

	t.Run("passive group around an ordinary tab ends the chain", func(t *testing.T) {
		h := newHarness(t)
		r := NewReclaimer(h.tree, nil, ReclaimerOptions{})

		group := h.openGroup(t, grouptab.StatePassive, tabtree.NoTab)
		c := h.open(t, "c", group.ID)
		after := h.openGroup(t, grouptab.StatePassive, tabtree.NoTab)
		h.open(t, "x", after.ID)
		h.open(t, "y", after.ID)

		removed, err := r.Cleanup(ctx, []tabtree.TabID{group.ID, after.ID})
		require.NoError(t, err)
		assert.Equal(t, []tabtree.TabID{group.ID}, removed)
		assert.False(t, h.get(t, c.ID).HasParent())
		assert.True(t, h.tree.Exists(after.ID))
	})

	t.Run("passive group around a temporary group waits", func(t *testing.T) {
		h := newHarness(t)
		r := NewReclaimer(h.tree, nil, ReclaimerOptions{})

		outer := h.openGroup(t, grouptab.StatePassive, tabtree.NoTab)
		inner := h.openGroup(t, grouptab.StateAggressive, outer.ID)

		removed, err := r.Cleanup(ctx, []tabtree.TabID{outer.ID, inner.ID})
		require.NoError(t, err)
		assert.Empty(t, removed)
		assert.True(t, h.tree.Exists(outer.ID))
		assert.True(t, h.tree.Exists(inner.ID))
	})

	t.Run("aggressive group hands its child to its parent", func(t *testing.T) {
		h := newHarness(t)
		r := NewReclaimer(h.tree, nil, ReclaimerOptions{})

		p := h.open(t, "p", tabtree.NoTab)
		group := h.openGroup(t, grouptab.StateAggressive, p.ID)
		c := h.open(t, "c", group.ID)

		removed, err := r.Cleanup(ctx, []tabtree.TabID{group.ID})
		require.NoError(t, err)
		assert.Equal(t, []tabtree.TabID{group.ID}, removed)
		assert.Equal(t, []tabtree.TabID{c.ID}, h.get(t, p.ID).ChildIDs)
	})

	t.Run("nothing to evaluate", func(t *testing.T) {
		h := newHarness(t)
		r := NewReclaimer(h.tree, nil, ReclaimerOptions{})

		removed, err := r.Cleanup(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, removed)
		assert.Empty(t, *h.published)
	})
}

func TestReserveCleanup(t *testing.T) {
	h := newHarness(t)
	r, _ := newTestReclaimer(t, h)

	group := h.openGroup(t, grouptab.StatePassive, tabtree.NoTab)
	r.ReserveCleanup(group.ID)

	assert.True(t, r.Pending(group.ID))
	require.Eventually(t, func() bool {
		return !h.tree.Exists(group.ID)
	}, time.Second, 5*time.Millisecond)
	assert.False(t, r.Pending(group.ID))
}

func TestReserveCleanupReplacesPendingReservation(t *testing.T) {
	h := newHarness(t)
	r, tree := newTestReclaimer(t, h)

	a := h.open(t, "a", tabtree.NoTab)
	r.ReserveCleanup(a.ID)
	r.ReserveCleanup(a.ID)
	r.ReserveCleanup(a.ID)

	require.Eventually(t, func() bool {
		return tree.gets.Load() > 0
	}, time.Second, 5*time.Millisecond)

	time.Sleep(5 * testDelay)
	assert.Equal(t, int32(1), tree.gets.Load())
	assert.True(t, h.tree.Exists(a.ID))
}

func TestReserveCleanupSkipsMissingTabs(t *testing.T) {
	h := newHarness(t)
	r, _ := newTestReclaimer(t, h)

	r.ReserveCleanup(42)
	assert.False(t, r.Pending(42))
}

func TestReserveCleanupAbandonsClosedTab(t *testing.T) {
	h := newHarness(t)
	tree := &countingTree{Tree: h.tree}
	// not wired to OnRemoved, so the timer still fires
	r := NewReclaimer(tree, newTestScheduler(t), ReclaimerOptions{Delay: testDelay})

	group := h.openGroup(t, grouptab.StatePassive, tabtree.NoTab)
	r.ReserveCleanup(group.ID)
	require.NoError(t, h.tree.RemoveTabs(context.Background(), []tabtree.TabID{group.ID}))

	require.Eventually(t, func() bool {
		return !r.Pending(group.ID)
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, tree.gets.Load())
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	r, tree := newTestReclaimer(t, h)

	group := h.openGroup(t, grouptab.StatePassive, tabtree.NoTab)
	r.ReserveCleanup(group.ID)
	r.Cancel(group.ID)
	assert.False(t, r.Pending(group.ID))

	time.Sleep(5 * testDelay)
	assert.True(t, h.tree.Exists(group.ID))
	assert.Zero(t, tree.gets.Load())
}

func TestRemovalCancelsReservation(t *testing.T) {
	h := newHarness(t)
	r, tree := newTestReclaimer(t, h)

	a := h.open(t, "a", tabtree.NoTab)
	r.ReserveCleanup(a.ID)
	require.NoError(t, h.tree.RemoveTabs(context.Background(), []tabtree.TabID{a.ID}))

	assert.False(t, r.Pending(a.ID))
	time.Sleep(5 * testDelay)
	assert.Zero(t, tree.gets.Load())
}

func TestWatchReclaimsEmptiedGroup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	r, _ := newTestReclaimer(t, h)
	r.Watch(h.bus)

	a := h.open(t, "a", tabtree.NoTab)
	group, err := h.grouper.GroupTabs(ctx, []tabtree.TabID{a.ID}, GroupOptions{})
	require.NoError(t, err)

	require.NoError(t, h.tree.RemoveTabs(ctx, []tabtree.TabID{a.ID}))

	require.Eventually(t, func() bool {
		return !h.tree.Exists(group.ID)
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.tree.Tabs(1))
}

func TestWatchKeepsGroupWithContent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	r, _ := newTestReclaimer(t, h)
	r.Watch(h.bus)

	a := h.open(t, "a", tabtree.NoTab)
	b := h.open(t, "b", tabtree.NoTab)
	c := h.open(t, "c", tabtree.NoTab)
	group, err := h.grouper.GroupTabs(ctx, []tabtree.TabID{a.ID, b.ID, c.ID}, GroupOptions{})
	require.NoError(t, err)

	require.NoError(t, h.tree.RemoveTabs(ctx, []tabtree.TabID{a.ID}))

	// the passive group still holds two ordinary tabs
	time.Sleep(5 * testDelay)
	assert.True(t, h.tree.Exists(group.ID))
	assert.False(t, r.Pending(group.ID))
}

func TestPendingAfterShutdown(t *testing.T) {
	h := newHarness(t)
	s := scheduler.NewScheduler[tabtree.TabID](&scheduler.Options{LogPrefix: t.Name()})
	s.RunAsync()
	r := NewReclaimer(h.tree, s, ReclaimerOptions{Delay: time.Minute})

	group := h.openGroup(t, grouptab.StatePassive, tabtree.NoTab)
	r.ReserveCleanup(group.ID)
	require.True(t, r.Pending(group.ID))

	s.Shutdown()

	result := make(chan bool, 1)
	go func() { result <- r.Pending(group.ID) }()
	select {
	case pending := <-result:
		assert.False(t, pending)
	case <-time.After(time.Second):
		t.Fatal("Pending blocked after scheduler shutdown")
	}
}

func TestWatchReclaimsGroupEmptiedByAttach(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	r, _ := newTestReclaimer(t, h)
	r.Watch(h.bus)

	a := h.open(t, "a", tabtree.NoTab)
	b := h.open(t, "b", tabtree.NoTab)
	other := h.open(t, "other", tabtree.NoTab)
	group, err := h.grouper.GroupTabs(ctx, []tabtree.TabID{a.ID, b.ID}, GroupOptions{})
	require.NoError(t, err)

	for _, id := range []tabtree.TabID{a.ID, b.ID} {
		require.NoError(t, h.tree.AttachTabTo(ctx, id, other.ID, tabtree.AttachOptions{Broadcast: true}))
	}

	require.Eventually(t, func() bool {
		return !h.tree.Exists(group.ID)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []tabtree.TabID{a.ID, b.ID}, h.get(t, other.ID).ChildIDs)
}

func TestWatchReclaimsGroupEmptiedByDetach(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	r, _ := newTestReclaimer(t, h)
	r.Watch(h.bus)

	a := h.open(t, "a", tabtree.NoTab)
	b := h.open(t, "b", tabtree.NoTab)
	group, err := h.grouper.GroupTabs(ctx, []tabtree.TabID{a.ID, b.ID}, GroupOptions{})
	require.NoError(t, err)

	require.NoError(t, h.tree.DetachTabsFromTree(ctx, []tabtree.TabID{a.ID, b.ID}, tabtree.DetachOptions{Broadcast: true}))

	require.Eventually(t, func() bool {
		return !h.tree.Exists(group.ID)
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.get(t, a.ID).HasParent())
	assert.False(t, h.get(t, b.ID).HasParent())
}

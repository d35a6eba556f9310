package tabsgroup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Meander-Cloud/go-tabtree/event"
	"github.com/Meander-Cloud/go-tabtree/scheduler"
	"github.com/Meander-Cloud/go-tabtree/tabtree"
)

// DefaultReclaimDelay is how long a tab stays reserved before it is evaluated.
const DefaultReclaimDelay = 100 * time.Millisecond

type ReclaimerOptions struct {
	// Delay between the last reservation of a tab and its evaluation,
	// DefaultReclaimDelay when zero.
	Delay time.Duration

	Logger *slog.Logger
}

// Reclaimer closes temporary group tabs that no longer group anything.
// Reservations are debounced per tab on the scheduler: reserving a tab
// again before its timer fires replaces the pending timer. Timers fire on
// the scheduler's loop goroutine, so evaluations never overlap.
type Reclaimer struct {
	tree      Tree
	scheduler *scheduler.Scheduler[tabtree.TabID]
	delay     time.Duration
	logger    *slog.Logger
}

// NewReclaimer binds a reclaimer to a running (or soon running) scheduler.
// The reclaimer does not own the scheduler's lifecycle.
func NewReclaimer(tree Tree, s *scheduler.Scheduler[tabtree.TabID], options ReclaimerOptions) *Reclaimer {
	delay := options.Delay
	if delay <= 0 {
		delay = DefaultReclaimDelay
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reclaimer{
		tree:      tree,
		scheduler: s,
		delay:     delay,
		logger:    logger,
	}
}

// ReserveCleanup schedules an evaluation of each tab after the reclaim
// delay, replacing any evaluation already pending for it. Tabs that do not
// exist are skipped.
func (r *Reclaimer) ReserveCleanup(ids ...tabtree.TabID) {
	for _, id := range ids {
		if !r.tree.Exists(id) {
			continue
		}

		ok := r.scheduler.ProcessAsync(&scheduler.ScheduleAsyncEvent[tabtree.TabID]{
			ReleaseGroup: true,
			AsyncVariant: scheduler.TimerAsync(
				[]tabtree.TabID{id},
				r.delay,
				func() {
					r.fire(id)
				},
				nil,
			),
		})
		if !ok {
			r.logger.Warn("dropped cleanup reservation", "tab", id)
		}
	}
}

// Cancel drops the pending evaluation of id, if any.
func (r *Reclaimer) Cancel(id tabtree.TabID) {
	r.scheduler.ProcessAsync(&scheduler.ReleaseGroupEvent[tabtree.TabID]{Group: id})
}

// Pending reports whether an evaluation of id is scheduled. It waits for
// the scheduler loop, so it must not be called from inside it. Nothing is
// pending once the scheduler has shut down.
func (r *Reclaimer) Pending(id tabtree.TabID) bool {
	result := make(chan bool, 1)
	ok := r.scheduler.ProcessAsync(&scheduler.FuncEvent{
		Func: func() {
			result <- r.scheduler.GroupSize(id) > 0
		},
	})
	if !ok {
		return false
	}

	select {
	case pending := <-result:
		return pending
	case <-r.scheduler.Done():
		return false
	}
}

// Watch reserves the surviving tabs that lost a child, whether the child
// was closed, detached or attached elsewhere, so a group emptied that way is
// reclaimed. It returns the bus subscription ID.
func (r *Reclaimer) Watch(bus *event.Bus) string {
	return bus.SubscribeAll(func(e event.Event) {
		var parents []int
		switch e := e.(type) {
		case event.TabsRemovedEvent:
			parents = e.FormerParentIDs
		case event.TabsDetachedEvent:
			parents = e.FormerParentIDs
		case event.TabAttachedEvent:
			if e.FormerParentID != e.ParentID {
				parents = []int{e.FormerParentID}
			}
		default:
			return
		}

		for _, parent := range parents {
			if tabtree.TabID(parent) != tabtree.NoTab {
				r.ReserveCleanup(tabtree.TabID(parent))
			}
		}
	})
}

func (r *Reclaimer) fire(id tabtree.TabID) {
	if !r.tree.Exists(id) {
		r.logger.Debug("abandoning cleanup of closed tab", "tab", id)
		return
	}

	if _, err := r.Cleanup(context.Background(), []tabtree.TabID{id}); err != nil {
		r.logger.Error("cleanup failed", "tab", id, "error", err)
	}
}

// Cleanup evaluates ids in order and closes the leading run of needless
// temporary group tabs in one batch. Evaluation stops at the first tab that
// does not qualify. It returns the closed tabs.
func (r *Reclaimer) Cleanup(ctx context.Context, ids []tabtree.TabID) ([]tabtree.TabID, error) {
	r.logger.Debug("trying to cleanup needless temporary group tabs", "tabs", ids)

	var needless []tabtree.TabID
	for _, id := range ids {
		tab, ok := r.tree.Get(id)
		if !ok {
			break
		}
		var firstChild *tabtree.Tab
		if child, ok := r.tree.FirstChild(id); ok {
			firstChild = &child
		}
		if !isNeedless(tab, firstChild) {
			break
		}
		needless = append(needless, id)
	}

	r.logger.Debug("needless temporary group tabs", "tabs", needless)
	if len(needless) == 0 {
		return nil, nil
	}

	if err := r.tree.RemoveTabs(ctx, needless); err != nil {
		return nil, fmt.Errorf("remove needless group tabs: %w", err)
	}
	r.logger.Info("reclaimed needless group tabs", "tabs", needless)
	return needless, nil
}

// isNeedless decides whether tab, whose first child is firstChild (nil when
// childless), can be closed. An aggressive group goes once it holds at most
// one child. A passive group goes when it is empty or wraps a single tab
// that is not a temporary group; an inner temporary group is resolved first.
func isNeedless(tab tabtree.Tab, firstChild *tabtree.Tab) bool {
	switch {
	case tab.Kind.IsTemporaryGroupTab():
		if len(tab.ChildIDs) > 1 {
			return false
		}
		if firstChild != nil &&
			(firstChild.Kind.IsTemporaryGroupTab() || firstChild.Kind.IsTemporaryAggressiveGroupTab()) {
			return false
		}
		return true
	case tab.Kind.IsTemporaryAggressiveGroupTab():
		return len(tab.ChildIDs) <= 1
	default:
		return false
	}
}

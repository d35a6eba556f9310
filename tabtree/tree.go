package tabtree

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/emirpasic/gods/v2/lists/arraylist"

	"github.com/Meander-Cloud/go-tabtree/event"
	"github.com/Meander-Cloud/go-tabtree/grouptab"
)

type Options struct {
	// GroupBaseURI is the page group tabs are opened at, grouptab.DefaultBaseURI when empty.
	GroupBaseURI string

	// CloseParentBehavior applies to the children of a tab removed while it still has children.
	CloseParentBehavior CloseParentBehavior

	// Publisher receives tree change events, may be nil.
	Publisher event.Publisher

	Logger *slog.Logger
}

type node struct {
	id        TabID
	windowID  WindowID
	title     string
	url       string
	parent    TabID
	children  []TabID
	kind      Kind
	collapsed bool
}

// Tree is the in-memory tab tree store. Every primitive takes the tree lock
// for its whole duration, so each one is atomic with respect to the others.
// Events and removal callbacks are delivered after the lock is released.
type Tree struct {
	options Options
	logger  *slog.Logger

	mu      sync.RWMutex
	nextID  TabID
	nodes   map[TabID]*node
	windows map[WindowID]*arraylist.List[TabID]
	active  map[WindowID]TabID

	listenerMu       sync.Mutex
	removedListeners []func(TabID)
}

func New(options Options) *Tree {
	if options.GroupBaseURI == "" {
		options.GroupBaseURI = grouptab.DefaultBaseURI
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Tree{
		options: options,
		logger:  logger,

		nextID:  1,
		nodes:   make(map[TabID]*node),
		windows: make(map[WindowID]*arraylist.List[TabID]),
		active:  make(map[WindowID]TabID),
	}
}

// GroupBaseURI is the base the tree recognizes group tabs by.
func (t *Tree) GroupBaseURI() string {
	return t.options.GroupBaseURI
}

// OnRemoved registers f to be called with the ID of every removed tab.
func (t *Tree) OnRemoved(f func(TabID)) {
	t.listenerMu.Lock()
	defer t.listenerMu.Unlock()
	t.removedListeners = append(t.removedListeners, f)
}

// effects collects what a mutation must announce once the lock is released.
type effects struct {
	events  []event.Event
	removed []TabID
}

func (t *Tree) mutate(ctx context.Context, f func(fx *effects) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fx := &effects{}
	t.mu.Lock()
	err := f(fx)
	t.mu.Unlock()

	if t.options.Publisher != nil {
		for _, ev := range fx.events {
			t.options.Publisher.Publish(ev)
		}
	}
	if len(fx.removed) > 0 {
		t.listenerMu.Lock()
		listeners := slices.Clone(t.removedListeners)
		t.listenerMu.Unlock()
		for _, id := range fx.removed {
			for _, listener := range listeners {
				listener(id)
			}
		}
	}
	return err
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

func (t *Tree) Exists(id TabID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.nodes[id]
	return ok
}

func (t *Tree) Get(id TabID) (Tab, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return Tab{}, false
	}
	return t.snapshot(n), true
}

// Lookup resolves ids in order. Any missing tab fails the whole lookup.
func (t *Tree) Lookup(ids []TabID) ([]Tab, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tabs := make([]Tab, 0, len(ids))
	for _, id := range ids {
		n, ok := t.nodes[id]
		if !ok {
			return nil, fmt.Errorf("lookup tab %d: %w", id, ErrTabNotFound)
		}
		tabs = append(tabs, t.snapshot(n))
	}
	return tabs, nil
}

func (t *Tree) Children(id TabID) []Tab {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	children := make([]Tab, 0, len(n.children))
	for _, child := range n.children {
		children = append(children, t.snapshot(t.nodes[child]))
	}
	return children
}

func (t *Tree) FirstChild(id TabID) (Tab, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok || len(n.children) == 0 {
		return Tab{}, false
	}
	return t.snapshot(t.nodes[n.children[0]]), true
}

// Tabs returns the tabs of a window in window order.
func (t *Tree) Tabs(windowID WindowID) []Tab {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list, ok := t.windows[windowID]
	if !ok {
		return nil
	}
	tabs := make([]Tab, 0, list.Size())
	for _, id := range list.Values() {
		tabs = append(tabs, t.snapshot(t.nodes[id]))
	}
	return tabs
}

func (t *Tree) ActiveTab(windowID WindowID) (Tab, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.active[windowID]
	if !ok {
		return Tab{}, false
	}
	return t.snapshot(t.nodes[id]), true
}

func (t *Tree) snapshot(n *node) Tab {
	return Tab{
		ID:        n.id,
		WindowID:  n.windowID,
		Index:     t.windows[n.windowID].IndexOf(n.id),
		Title:     n.title,
		URL:       n.url,
		ParentID:  n.parent,
		ChildIDs:  slices.Clone(n.children),
		Kind:      n.kind,
		Collapsed: n.collapsed,
		Active:    t.active[n.windowID] == n.id,
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

type OpenOptions struct {
	WindowID WindowID
	// Title of an ordinary tab. Group tabs take theirs from the URI.
	Title        string
	Parent       TabID
	InsertBefore TabID
	InsertAfter  TabID
	InBackground bool
}

// OpenURIInTab opens a new tab at uri. Without an explicit position the tab
// goes after the parent's last descendant, or at the end of the window.
func (t *Tree) OpenURIInTab(ctx context.Context, uri string, opts OpenOptions) (Tab, error) {
	var opened Tab
	err := t.mutate(ctx, func(fx *effects) error {
		for _, ref := range []TabID{opts.Parent, opts.InsertBefore, opts.InsertAfter} {
			if ref == NoTab {
				continue
			}
			n, err := t.node(ref)
			if err != nil {
				return fmt.Errorf("open tab: %w", err)
			}
			if n.windowID != opts.WindowID {
				return fmt.Errorf("open tab near %d: %w", ref, ErrWindowMismatch)
			}
		}

		list, ok := t.windows[opts.WindowID]
		if !ok {
			list = arraylist.New[TabID]()
			t.windows[opts.WindowID] = list
		}

		kind, title := kindOf(t.options.GroupBaseURI, uri)
		if !kind.Group {
			title = opts.Title
		}

		n := &node{
			id:       t.nextID,
			windowID: opts.WindowID,
			title:    title,
			url:      uri,
			kind:     kind,
		}
		t.nextID++
		t.nodes[n.id] = n

		var index int
		switch {
		case opts.InsertBefore != NoTab:
			index = list.IndexOf(opts.InsertBefore)
		case opts.InsertAfter != NoTab:
			index = list.IndexOf(opts.InsertAfter) + 1
		case opts.Parent != NoTab:
			index = t.lastDescendantIndex(t.nodes[opts.Parent], nil) + 1
		default:
			index = list.Size()
		}
		list.Insert(index, n.id)

		if opts.Parent != NoTab {
			t.link(n, t.nodes[opts.Parent], opts.InsertBefore, opts.InsertAfter)
		}

		if _, hasActive := t.active[opts.WindowID]; !opts.InBackground || !hasActive {
			t.active[opts.WindowID] = n.id
		}

		opened = t.snapshot(n)
		t.logger.Debug("opened tab", "tab", n.id, "window", n.windowID, "kind", kind.String(), "parent", n.parent, "index", index)
		return nil
	})
	return opened, err
}

type MoveOptions struct {
	Broadcast bool
}

// MoveTabsAfter places ids right after ref, in the given order. Tree links
// are left alone.
func (t *Tree) MoveTabsAfter(ctx context.Context, ids []TabID, ref TabID, opts MoveOptions) error {
	return t.mutate(ctx, func(fx *effects) error {
		refNode, err := t.node(ref)
		if err != nil {
			return fmt.Errorf("move tabs after %d: %w", ref, err)
		}

		moving := make([]TabID, 0, len(ids))
		for _, id := range ids {
			if id == ref || slices.Contains(moving, id) {
				continue
			}
			n, err := t.node(id)
			if err != nil {
				return fmt.Errorf("move tab %d: %w", id, err)
			}
			if n.windowID != refNode.windowID {
				return fmt.Errorf("move tab %d after %d: %w", id, ref, ErrWindowMismatch)
			}
			moving = append(moving, id)
		}
		if len(moving) == 0 {
			return nil
		}

		list := t.windows[refNode.windowID]
		t.removeFromWindow(list, moving)
		list.Insert(list.IndexOf(ref)+1, moving...)

		t.logger.Debug("moved tabs", "tabs", moving, "after", ref)
		if opts.Broadcast {
			fx.events = append(fx.events, event.NewTabsMovedEvent(Ints(moving), int(ref)))
		}
		return nil
	})
}

// RemoveTabs closes every listed tab that still exists. Missing tabs are
// skipped so that one stale ID does not block the rest of the batch. A tab
// that still has children hands them over per the configured
// CloseParentBehavior.
func (t *Tree) RemoveTabs(ctx context.Context, ids []TabID) error {
	return t.mutate(ctx, func(fx *effects) error {
		var parents []TabID
		for _, id := range ids {
			n, ok := t.nodes[id]
			if !ok {
				t.logger.Debug("skipping removal of missing tab", "tab", id)
				continue
			}

			if len(n.children) > 0 {
				t.dissolveChildren(n, t.options.CloseParentBehavior)
			}
			if n.parent != NoTab && !slices.Contains(parents, n.parent) {
				parents = append(parents, n.parent)
			}
			t.unlink(n)

			list := t.windows[n.windowID]
			index := list.IndexOf(id)
			list.Remove(index)
			delete(t.nodes, id)

			if t.active[n.windowID] == id {
				if next, ok := list.Get(min(index, list.Size()-1)); ok {
					t.active[n.windowID] = next
				} else {
					delete(t.active, n.windowID)
				}
			}
			if list.Empty() {
				delete(t.windows, n.windowID)
			}

			fx.removed = append(fx.removed, id)
		}

		if len(fx.removed) > 0 {
			parents = slices.DeleteFunc(parents, func(id TabID) bool {
				_, alive := t.nodes[id]
				return !alive
			})
			t.logger.Debug("removed tabs", "tabs", fx.removed, "formerParents", parents)
			fx.events = append(fx.events, event.NewTabsRemovedEvent(Ints(fx.removed), Ints(parents)))
		}
		return nil
	})
}

// Activate makes id the active tab of its window.
func (t *Tree) Activate(ctx context.Context, id TabID) error {
	return t.mutate(ctx, func(fx *effects) error {
		n, err := t.node(id)
		if err != nil {
			return fmt.Errorf("activate: %w", err)
		}
		t.active[n.windowID] = id
		return nil
	})
}

func (t *Tree) SetCollapsed(ctx context.Context, id TabID, collapsed bool) error {
	return t.mutate(ctx, func(fx *effects) error {
		n, err := t.node(id)
		if err != nil {
			return fmt.Errorf("set collapsed: %w", err)
		}
		n.collapsed = collapsed
		return nil
	})
}

// SetURL records a navigation and derives the tab's Kind again.
func (t *Tree) SetURL(ctx context.Context, id TabID, uri string) error {
	return t.mutate(ctx, func(fx *effects) error {
		n, err := t.node(id)
		if err != nil {
			return fmt.Errorf("set url: %w", err)
		}
		kind, title := kindOf(t.options.GroupBaseURI, uri)
		n.url = uri
		n.kind = kind
		if kind.Group {
			n.title = title
		}
		return nil
	})
}

// -----------------------------------------------------------------------------
// Internals, called with t.mu held
// -----------------------------------------------------------------------------

func (t *Tree) node(id TabID) (*node, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("tab %d: %w", id, ErrTabNotFound)
	}
	return n, nil
}

// link makes parent the parent of n. n is placed before or after a sibling
// when that sibling is a child of parent, and appended otherwise.
func (t *Tree) link(n, parent *node, before, after TabID) {
	n.parent = parent.id

	index := len(parent.children)
	if i := slices.Index(parent.children, before); before != NoTab && i >= 0 {
		index = i
	} else if i := slices.Index(parent.children, after); after != NoTab && i >= 0 {
		index = i + 1
	}
	parent.children = slices.Insert(parent.children, index, n.id)
}

func (t *Tree) unlink(n *node) {
	if n.parent == NoTab {
		return
	}
	if parent, ok := t.nodes[n.parent]; ok {
		if i := slices.Index(parent.children, n.id); i >= 0 {
			parent.children = slices.Delete(parent.children, i, i+1)
		}
	}
	n.parent = NoTab
}

func (t *Tree) descendants(n *node) []TabID {
	var out []TabID
	for _, child := range n.children {
		out = append(out, child)
		out = append(out, t.descendants(t.nodes[child])...)
	}
	return out
}

// isAncestor reports whether ancestor is above n in the tree.
func (t *Tree) isAncestor(ancestor TabID, n *node) bool {
	for id := n.parent; id != NoTab; {
		if id == ancestor {
			return true
		}
		id = t.nodes[id].parent
	}
	return false
}

// hidden reports whether some ancestor of n is collapsed.
func (t *Tree) hidden(n *node) bool {
	for id := n.parent; id != NoTab; id = t.nodes[id].parent {
		if t.nodes[id].collapsed {
			return true
		}
	}
	return false
}

// lastDescendantIndex is the window index of the last tab in n's subtree,
// ignoring tabs in skip.
func (t *Tree) lastDescendantIndex(n *node, skip []TabID) int {
	list := t.windows[n.windowID]
	last := list.IndexOf(n.id)
	for _, id := range t.descendants(n) {
		if slices.Contains(skip, id) {
			continue
		}
		last = max(last, list.IndexOf(id))
	}
	return last
}

func (t *Tree) removeFromWindow(list *arraylist.List[TabID], ids []TabID) {
	for _, id := range ids {
		if i := list.IndexOf(id); i >= 0 {
			list.Remove(i)
		}
	}
}

// dissolveChildren empties n's children according to behavior and returns
// the children that got a new parent.
func (t *Tree) dissolveChildren(n *node, behavior CloseParentBehavior) []TabID {
	children := slices.Clone(n.children)
	if len(children) == 0 {
		return nil
	}

	parent, hasParent := t.nodes[n.parent]

	var attached []TabID
	switch behavior {
	case PromoteFirstChild:
		first := t.nodes[children[0]]
		t.unlink(first)
		if hasParent {
			t.link(first, parent, n.id, NoTab)
			attached = append(attached, first.id)
		}
		for _, id := range children[1:] {
			child := t.nodes[id]
			t.unlink(child)
			t.link(child, first, NoTab, NoTab)
			attached = append(attached, id)
		}
	case DetachAllChildren:
		for _, id := range children {
			t.unlink(t.nodes[id])
		}
	default:
		for _, id := range children {
			child := t.nodes[id]
			t.unlink(child)
			if hasParent {
				t.link(child, parent, n.id, NoTab)
				attached = append(attached, id)
			}
		}
	}
	return attached
}

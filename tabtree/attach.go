package tabtree

import (
	"context"
	"fmt"
	"slices"

	"github.com/Meander-Cloud/go-tabtree/event"
)

type AttachOptions struct {
	// ForceExpand expands collapsed ancestors so the attached tab stays
	// visible. Without it, an active tab attached under a collapsed tree
	// hands the focus to the collapsed ancestor still shown.
	ForceExpand bool
	// DontMove keeps the tab's window position; only the links change.
	DontMove     bool
	InsertBefore TabID
	InsertAfter  TabID
	Broadcast    bool
}

// AttachTabTo makes parent the parent of child. The child's own subtree
// comes along.
func (t *Tree) AttachTabTo(ctx context.Context, childID, parentID TabID, opts AttachOptions) error {
	return t.mutate(ctx, func(fx *effects) error {
		child, err := t.node(childID)
		if err != nil {
			return fmt.Errorf("attach: %w", err)
		}
		parent, err := t.node(parentID)
		if err != nil {
			return fmt.Errorf("attach to: %w", err)
		}
		if child.windowID != parent.windowID {
			return fmt.Errorf("attach %d to %d: %w", childID, parentID, ErrWindowMismatch)
		}
		if childID == parentID || t.isAncestor(childID, parent) {
			return fmt.Errorf("attach %d to %d: %w", childID, parentID, ErrCycle)
		}

		formerParent := child.parent
		repositioned := formerParent != parentID || opts.InsertBefore != NoTab || opts.InsertAfter != NoTab
		if repositioned {
			t.unlink(child)
			t.link(child, parent, opts.InsertBefore, opts.InsertAfter)
			if !opts.DontMove {
				t.placeSubtree(child)
			}
		}

		if opts.ForceExpand {
			for id := child.parent; id != NoTab; id = t.nodes[id].parent {
				t.nodes[id].collapsed = false
			}
		} else if t.active[child.windowID] == childID && t.hidden(child) {
			t.active[child.windowID] = t.visibleAncestor(child)
		}

		t.logger.Debug("attached tab", "tab", childID, "parent", parentID, "forceExpand", opts.ForceExpand, "dontMove", opts.DontMove)
		if opts.Broadcast && repositioned {
			fx.events = append(fx.events, event.NewTabAttachedEvent(int(childID), int(parentID), int(formerParent), opts.ForceExpand))
		}
		return nil
	})
}

type DetachOptions struct {
	Broadcast bool
}

// DetachTabsFromTree cuts every link between the listed tabs and tabs
// outside the list, keeping the links among the listed tabs. Listed tabs
// whose parent is not listed become roots; unlisted children of listed tabs
// are handed to the nearest unlisted ancestor, or become roots.
func (t *Tree) DetachTabsFromTree(ctx context.Context, ids []TabID, opts DetachOptions) error {
	return t.mutate(ctx, func(fx *effects) error {
		var parents []TabID
		lostChild := func(id TabID) {
			if !slices.Contains(parents, id) {
				parents = append(parents, id)
			}
		}

		members := make(map[TabID]struct{}, len(ids))
		for _, id := range ids {
			if _, err := t.node(id); err != nil {
				return fmt.Errorf("detach: %w", err)
			}
			members[id] = struct{}{}
		}
		listed := func(id TabID) bool {
			_, ok := members[id]
			return ok
		}

		for _, id := range ids {
			n := t.nodes[id]

			top := n
			for top.parent != NoTab && listed(top.parent) {
				top = t.nodes[top.parent]
			}
			outer, hasOuter := t.nodes[top.parent]

			for _, childID := range slices.Clone(n.children) {
				if listed(childID) {
					continue
				}
				child := t.nodes[childID]
				t.unlink(child)
				lostChild(id)
				if hasOuter {
					t.link(child, outer, top.id, NoTab)
				}
			}
		}

		for _, id := range ids {
			n := t.nodes[id]
			if n.parent != NoTab && !listed(n.parent) {
				lostChild(n.parent)
				t.unlink(n)
			}
		}

		t.logger.Debug("detached tabs", "tabs", ids, "formerParents", parents)
		if opts.Broadcast {
			fx.events = append(fx.events, event.NewTabsDetachedEvent(Ints(ids), Ints(parents)))
		}
		return nil
	})
}

type DetachAllOptions struct {
	Behavior  CloseParentBehavior
	Broadcast bool
}

// DetachAllChildren empties the children of id according to opts.Behavior.
// With PromoteAllChildren the children take id's place under id's parent,
// in their order; without a parent they become roots.
func (t *Tree) DetachAllChildren(ctx context.Context, id TabID, opts DetachAllOptions) error {
	return t.mutate(ctx, func(fx *effects) error {
		n, err := t.node(id)
		if err != nil {
			return fmt.Errorf("detach children: %w", err)
		}
		children := slices.Clone(n.children)
		if len(children) == 0 {
			return nil
		}

		attached := t.dissolveChildren(n, opts.Behavior)

		t.logger.Debug("detached all children", "tab", id, "children", children, "behavior", opts.Behavior.String())
		if opts.Broadcast {
			fx.events = append(fx.events, event.NewTabsDetachedEvent(Ints(children), []int{int(id)}))
			for _, childID := range attached {
				fx.events = append(fx.events, event.NewTabAttachedEvent(int(childID), int(t.nodes[childID].parent), int(id), false))
			}
		}
		return nil
	})
}

// placeSubtree moves n and its descendants in the window so they sit
// right before n's next sibling, or after the rest of the parent's subtree.
func (t *Tree) placeSubtree(n *node) {
	block := append([]TabID{n.id}, t.descendants(n)...)
	list := t.windows[n.windowID]
	t.removeFromWindow(list, block)

	parent := t.nodes[n.parent]
	siblings := parent.children
	i := slices.Index(siblings, n.id)

	var index int
	if i+1 < len(siblings) {
		index = list.IndexOf(siblings[i+1])
	} else {
		index = t.lastDescendantIndex(parent, block) + 1
	}
	list.Insert(index, block...)
}

// visibleAncestor is the outermost collapsed ancestor of n.
func (t *Tree) visibleAncestor(n *node) TabID {
	visible := n.id
	for id := n.parent; id != NoTab; id = t.nodes[id].parent {
		if t.nodes[id].collapsed {
			visible = id
		}
	}
	return visible
}

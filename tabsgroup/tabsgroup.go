// Package tabsgroup groups tabs under a synthetic group tab, dissolves such
// groups, and reclaims temporary group tabs that no longer hold anything.
package tabsgroup

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/Meander-Cloud/go-tabtree/event"
	"github.com/Meander-Cloud/go-tabtree/grouptab"
	"github.com/Meander-Cloud/go-tabtree/tabtree"
)

// DefaultLabelFormat builds a group title from the first grouped tab's title.
const DefaultLabelFormat = "%s and more"

// Store is the read side of the tab tree.
type Store interface {
	Exists(id tabtree.TabID) bool
	Get(id tabtree.TabID) (tabtree.Tab, bool)
	Lookup(ids []tabtree.TabID) ([]tabtree.Tab, error)
	FirstChild(id tabtree.TabID) (tabtree.Tab, bool)
}

// Mutator edits parent/child links.
type Mutator interface {
	AttachTabTo(ctx context.Context, childID, parentID tabtree.TabID, opts tabtree.AttachOptions) error
	DetachTabsFromTree(ctx context.Context, ids []tabtree.TabID, opts tabtree.DetachOptions) error
	DetachAllChildren(ctx context.Context, id tabtree.TabID, opts tabtree.DetachAllOptions) error
}

// Lifecycle opens, moves and closes tabs.
type Lifecycle interface {
	OpenURIInTab(ctx context.Context, uri string, opts tabtree.OpenOptions) (tabtree.Tab, error)
	MoveTabsAfter(ctx context.Context, ids []tabtree.TabID, ref tabtree.TabID, opts tabtree.MoveOptions) error
	RemoveTabs(ctx context.Context, ids []tabtree.TabID) error
}

// Tree is everything the grouping operations need from the host.
// *tabtree.Tree satisfies it.
type Tree interface {
	Store
	Mutator
	Lifecycle
}

type Options struct {
	// GroupBaseURI is the page group tabs are opened at, grouptab.DefaultBaseURI when empty.
	GroupBaseURI string

	// LabelFormat is the default group title; "%s" is replaced with the
	// first grouped tab's title. DefaultLabelFormat when empty.
	LabelFormat string

	// DefaultTemporaryState applies when GroupOptions.State is nil.
	DefaultTemporaryState grouptab.TemporaryState

	// Publisher receives grouped/ungrouped events, may be nil.
	Publisher event.Publisher

	Logger *slog.Logger
}

// Grouper runs the group and ungroup operations against a Tree.
type Grouper struct {
	tree    Tree
	options Options
	logger  *slog.Logger
}

func NewGrouper(tree Tree, options Options) *Grouper {
	if options.GroupBaseURI == "" {
		options.GroupBaseURI = grouptab.DefaultBaseURI
	}
	if options.LabelFormat == "" {
		options.LabelFormat = DefaultLabelFormat
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Grouper{
		tree:    tree,
		options: options,
		logger:  logger,
	}
}

type GroupOptions struct {
	Broadcast bool
	// Title overrides the label built from LabelFormat.
	Title string
	// State overrides Options.DefaultTemporaryState.
	State       *grouptab.TemporaryState
	OpenerTabID tabtree.TabID
}

// GroupTabs places the root tabs among ids under a new group tab opened
// right before the first of them, and returns the group tab. It returns
// nil without touching the tree when ids has no root tabs.
//
// A failing step aborts the operation; steps already applied stay applied.
func (g *Grouper) GroupTabs(ctx context.Context, ids []tabtree.TabID, opts GroupOptions) (*tabtree.Tab, error) {
	ids = dedupe(ids)

	tabs, err := g.tree.Lookup(ids)
	if err != nil {
		return nil, fmt.Errorf("group tabs: %w", err)
	}
	roots := tabtree.CollectRootTabs(tabs)
	if len(roots) == 0 {
		return nil, nil
	}
	first := roots[0]

	g.logger.Debug("grouping tabs", "tabs", ids, "roots", tabtree.IDs(roots))

	uri := grouptab.MakeURI(g.options.GroupBaseURI, g.groupTabOptions(first, opts))
	group, err := g.tree.OpenURIInTab(ctx, uri, tabtree.OpenOptions{
		WindowID:     first.WindowID,
		Parent:       first.ParentID,
		InsertBefore: first.ID,
		InBackground: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open group tab: %w", err)
	}

	err = g.tree.DetachTabsFromTree(ctx, ids, tabtree.DetachOptions{Broadcast: opts.Broadcast})
	if err != nil {
		return nil, fmt.Errorf("detach grouped tabs: %w", err)
	}

	if len(ids) > 1 {
		err = g.tree.MoveTabsAfter(ctx, ids[1:], ids[0], tabtree.MoveOptions{Broadcast: opts.Broadcast})
		if err != nil {
			return nil, fmt.Errorf("move grouped tabs: %w", err)
		}
	}

	for _, root := range roots {
		err = g.tree.AttachTabTo(ctx, root.ID, group.ID, tabtree.AttachOptions{
			ForceExpand: true,
			DontMove:    true,
			Broadcast:   opts.Broadcast,
		})
		if err != nil {
			return nil, fmt.Errorf("attach tab %d to group %d: %w", root.ID, group.ID, err)
		}
	}

	if refreshed, ok := g.tree.Get(group.ID); ok {
		group = refreshed
	}

	g.logger.Info("grouped tabs", "group", group.ID, "roots", tabtree.IDs(roots), "state", group.Kind.State.String())
	if opts.Broadcast && g.options.Publisher != nil {
		g.options.Publisher.Publish(event.NewTabsGroupedEvent(int(group.ID), tabtree.Ints(tabtree.IDs(roots)), tabtree.Ints(ids)))
	}
	return &group, nil
}

func (g *Grouper) groupTabOptions(first tabtree.Tab, opts GroupOptions) grouptab.Options {
	state := g.options.DefaultTemporaryState
	if opts.State != nil {
		state = *opts.State
	}

	params := grouptab.TemporaryStateParams(state)
	params.Title = opts.Title
	if params.Title == "" {
		params.Title = strings.Replace(g.options.LabelFormat, "%s", first.Title, 1)
	}
	params.OpenerTabID = int(opts.OpenerTabID)
	return params
}

type UngroupOptions struct {
	Broadcast bool
}

// UngroupTabs dissolves every group tab among ids: their children take
// their place, then the group tabs are closed together. Other tabs, and
// tabs no longer present, are ignored.
func (g *Grouper) UngroupTabs(ctx context.Context, ids []tabtree.TabID, opts UngroupOptions) error {
	var groups []tabtree.TabID
	for _, id := range dedupe(ids) {
		tab, ok := g.tree.Get(id)
		if !ok || !tab.Kind.IsGroupTab() {
			continue
		}
		groups = append(groups, id)
	}
	if len(groups) == 0 {
		return nil
	}

	g.logger.Debug("ungrouping tabs", "groups", groups)

	for _, id := range groups {
		err := g.tree.DetachAllChildren(ctx, id, tabtree.DetachAllOptions{
			Behavior:  tabtree.PromoteAllChildren,
			Broadcast: opts.Broadcast,
		})
		if err != nil {
			return fmt.Errorf("detach children of group %d: %w", id, err)
		}
	}

	if err := g.tree.RemoveTabs(ctx, groups); err != nil {
		return fmt.Errorf("remove group tabs: %w", err)
	}

	g.logger.Info("ungrouped tabs", "groups", groups)
	if opts.Broadcast && g.options.Publisher != nil {
		g.options.Publisher.Publish(event.NewTabsUngroupedEvent(tabtree.Ints(groups)))
	}
	return nil
}

func dedupe(ids []tabtree.TabID) []tabtree.TabID {
	out := make([]tabtree.TabID, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Package tabtree holds the tab tree: tab records with their parent/children
// links, per-window tab order, and the primitives that mutate them.
package tabtree

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Meander-Cloud/go-tabtree/grouptab"
)

// TabID identifies a tab for the lifetime of a browser session.
type TabID int

// NoTab is the zero TabID, used for "no parent" and "no reference tab".
// Real tab IDs start at 1.
const NoTab TabID = 0

// WindowID identifies a browser window.
type WindowID int

var (
	ErrTabNotFound    = errors.New("tab not found")
	ErrWindowMismatch = errors.New("tabs belong to different windows")
	ErrCycle          = errors.New("attach would create a cycle")
)

// Kind is the tagged variant derived once from a tab's URL.
type Kind struct {
	Group       bool
	State       grouptab.TemporaryState
	OpenerTabID TabID
}

// Ordinary is the Kind of every tab not opened at the group page.
var Ordinary = Kind{}

func (k Kind) IsGroupTab() bool {
	return k.Group
}

// IsTemporaryGroupTab reports a passive temporary group tab.
func (k Kind) IsTemporaryGroupTab() bool {
	return k.Group && k.State == grouptab.StatePassive
}

func (k Kind) IsTemporaryAggressiveGroupTab() bool {
	return k.Group && k.State == grouptab.StateAggressive
}

func (k Kind) String() string {
	if !k.Group {
		return "ordinary"
	}
	return "group/" + k.State.String()
}

func kindOf(base, url string) (Kind, string) {
	info, ok := grouptab.Parse(base, url)
	if !ok {
		return Ordinary, ""
	}
	return Kind{Group: true, State: info.State, OpenerTabID: TabID(info.OpenerTabID)}, info.Title
}

// Tab is a point-in-time snapshot of a tab record.
type Tab struct {
	ID       TabID
	WindowID WindowID
	// Index is the position of the tab in its window.
	Index     int
	Title     string
	URL       string
	ParentID  TabID
	ChildIDs  []TabID
	Kind      Kind
	Collapsed bool
	Active    bool
}

func (t Tab) HasParent() bool {
	return t.ParentID != NoTab
}

func (t Tab) String() string {
	return fmt.Sprintf("#%d(%s parent=%d children=%v)", t.ID, t.Kind, t.ParentID, t.ChildIDs)
}

// CollectRootTabs returns the members of tabs whose parent is not itself a
// member, in their original order.
func CollectRootTabs(tabs []Tab) []Tab {
	members := make(map[TabID]struct{}, len(tabs))
	for _, tab := range tabs {
		members[tab.ID] = struct{}{}
	}

	var roots []Tab
	for _, tab := range tabs {
		if _, ok := members[tab.ParentID]; ok {
			continue
		}
		roots = append(roots, tab)
	}
	return roots
}

// IDs returns the IDs of tabs in order.
func IDs(tabs []Tab) []TabID {
	ids := make([]TabID, len(tabs))
	for i, tab := range tabs {
		ids[i] = tab.ID
	}
	return ids
}

// Ints converts ids for event payloads.
func Ints(ids []TabID) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}

// CloseParentBehavior decides what happens to the children of a tab whose
// children are dissolved, or which is closed while it still has children.
type CloseParentBehavior int

const (
	// PromoteAllChildren reattaches every child to the closed tab's parent,
	// in the closed tab's place.
	PromoteAllChildren CloseParentBehavior = iota
	// PromoteFirstChild puts the first child in the closed tab's place and
	// nests the remaining children under it.
	PromoteFirstChild
	// DetachAllChildren turns every child into a root tab.
	DetachAllChildren
)

var closeParentBehaviorNames = []string{
	PromoteAllChildren: "promote_all_children",
	PromoteFirstChild:  "promote_first_child",
	DetachAllChildren:  "detach_all_children",
}

func (b CloseParentBehavior) String() string {
	if int(b) < 0 || int(b) >= len(closeParentBehaviorNames) {
		return fmt.Sprintf("CloseParentBehavior(%d)", int(b))
	}
	return closeParentBehaviorNames[b]
}

// ParseCloseParentBehavior is the inverse of CloseParentBehavior.String.
func ParseCloseParentBehavior(s string) (CloseParentBehavior, error) {
	i := slices.Index(closeParentBehaviorNames, strings.ToLower(strings.TrimSpace(s)))
	if i < 0 {
		return PromoteAllChildren, fmt.Errorf("unknown close parent behavior %q", s)
	}
	return CloseParentBehavior(i), nil
}

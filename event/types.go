// Package event defines the tree-change notifications emitted when tabs are
// grouped, attached, moved or removed, and a bus other contexts subscribe to.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Event types, "category.action".
const (
	TypeTabAttached   = "tree.attached"
	TypeTabsDetached  = "tree.detached"
	TypeTabsMoved     = "tabs.moved"
	TypeTabsRemoved   = "tabs.removed"
	TypeTabsGrouped   = "group.created"
	TypeTabsUngrouped = "group.dissolved"
)

// Event is implemented by every notification published on a Bus.
type Event interface {
	// EventID is unique per published event.
	EventID() string
	EventType() string
	Timestamp() time.Time
}

type baseEvent struct {
	id        string
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventID() string      { return e.id }
func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		id:        uuid.NewString(),
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// TabAttachedEvent is emitted when a tab gets a new parent.
type TabAttachedEvent struct {
	baseEvent
	TabID    int
	ParentID int
	// FormerParentID is the parent the tab had before, 0 for a root.
	FormerParentID int
	// ForceExpand is true when collapsed ancestors were expanded to show the tab.
	ForceExpand bool
}

func NewTabAttachedEvent(tabID, parentID, formerParentID int, forceExpand bool) TabAttachedEvent {
	return TabAttachedEvent{
		baseEvent:      newBaseEvent(TypeTabAttached),
		TabID:          tabID,
		ParentID:       parentID,
		FormerParentID: formerParentID,
		ForceExpand:    forceExpand,
	}
}

// TabsDetachedEvent is emitted when tabs lose their link to a parent
// outside the detached set.
type TabsDetachedEvent struct {
	baseEvent
	TabIDs []int
	// FormerParentIDs are the distinct tabs that lost a child in the detach.
	FormerParentIDs []int
}

func NewTabsDetachedEvent(tabIDs, formerParentIDs []int) TabsDetachedEvent {
	return TabsDetachedEvent{
		baseEvent:       newBaseEvent(TypeTabsDetached),
		TabIDs:          tabIDs,
		FormerParentIDs: formerParentIDs,
	}
}

// TabsMovedEvent is emitted when tabs are repositioned after a reference tab.
type TabsMovedEvent struct {
	baseEvent
	TabIDs         []int
	ReferenceTabID int
}

func NewTabsMovedEvent(tabIDs []int, referenceTabID int) TabsMovedEvent {
	return TabsMovedEvent{
		baseEvent:      newBaseEvent(TypeTabsMoved),
		TabIDs:         tabIDs,
		ReferenceTabID: referenceTabID,
	}
}

// TabsRemovedEvent is emitted after tabs are closed.
type TabsRemovedEvent struct {
	baseEvent
	TabIDs []int
	// FormerParentIDs are the distinct surviving parents the removed tabs had.
	FormerParentIDs []int
}

func NewTabsRemovedEvent(tabIDs, formerParentIDs []int) TabsRemovedEvent {
	return TabsRemovedEvent{
		baseEvent:       newBaseEvent(TypeTabsRemoved),
		TabIDs:          tabIDs,
		FormerParentIDs: formerParentIDs,
	}
}

// TabsGroupedEvent is emitted once a group tab holds the grouped root tabs.
type TabsGroupedEvent struct {
	baseEvent
	GroupTabID int
	RootTabIDs []int
	TabIDs     []int
}

func NewTabsGroupedEvent(groupTabID int, rootTabIDs, tabIDs []int) TabsGroupedEvent {
	return TabsGroupedEvent{
		baseEvent:  newBaseEvent(TypeTabsGrouped),
		GroupTabID: groupTabID,
		RootTabIDs: rootTabIDs,
		TabIDs:     tabIDs,
	}
}

// TabsUngroupedEvent is emitted after group tabs were dissolved and removed.
type TabsUngroupedEvent struct {
	baseEvent
	GroupTabIDs []int
}

func NewTabsUngroupedEvent(groupTabIDs []int) TabsUngroupedEvent {
	return TabsUngroupedEvent{
		baseEvent:   newBaseEvent(TypeTabsUngrouped),
		GroupTabIDs: groupTabIDs,
	}
}

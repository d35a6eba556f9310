package event

import (
	"testing"
)

func TestBus_PublishSpecificThenWildcard(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.SubscribeAll(func(e Event) { order = append(order, "all") })
	bus.Subscribe(TypeTabsGrouped, func(e Event) { order = append(order, "grouped") })
	bus.Subscribe(TypeTabsRemoved, func(e Event) { order = append(order, "removed") })

	bus.Publish(NewTabsGroupedEvent(10, []int{1}, []int{1, 2}))

	if len(order) != 2 || order[0] != "grouped" || order[1] != "all" {
		t.Errorf("order = %v, want [grouped all]", order)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	called := 0
	id := bus.Subscribe(TypeTabsRemoved, func(e Event) { called++ })
	bus.Subscribe(TypeTabsRemoved, func(e Event) {})

	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe should report an existing subscription")
	}
	if bus.Unsubscribe(id) {
		t.Error("second Unsubscribe should report false")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", bus.SubscriptionCount())
	}

	bus.Publish(NewTabsRemovedEvent([]int{3}, nil))
	if called != 0 {
		t.Errorf("unsubscribed handler called %d times", called)
	}
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(nil)

	delivered := false
	bus.Subscribe(TypeTabAttached, func(e Event) { panic("boom") })
	bus.Subscribe(TypeTabAttached, func(e Event) { delivered = true })

	bus.Publish(NewTabAttachedEvent(2, 1, 0, true))

	if !delivered {
		t.Error("handler after a panicking one should still run")
	}
}

func TestEventIDsAreUnique(t *testing.T) {
	a := NewTabsUngroupedEvent([]int{1})
	b := NewTabsUngroupedEvent([]int{1})

	if a.EventID() == "" || a.EventID() == b.EventID() {
		t.Errorf("event IDs %q and %q should be unique and non-empty", a.EventID(), b.EventID())
	}
	if a.EventType() != TypeTabsUngrouped {
		t.Errorf("EventType() = %q, want %q", a.EventType(), TypeTabsUngrouped)
	}
}

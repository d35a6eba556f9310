package scheduler

type Event interface {
	isEvent()
}

type exitEvent struct {
}

func (*exitEvent) isEvent() {}

type ReleaseGroupEvent[G comparable] struct {
	Group G
}

func (*ReleaseGroupEvent[G]) isEvent() {}

type ReleaseGroupSliceEvent[G comparable] struct {
	GroupSlice []G
}

func (*ReleaseGroupSliceEvent[G]) isEvent() {}

type ScheduleAsyncEvent[G comparable] struct {
	// release all outstanding async variants in the variant's groups before adding it
	ReleaseGroup bool

	AsyncVariant *AsyncVariant[G]
}

func (*ScheduleAsyncEvent[G]) isEvent() {}

// FuncEvent runs Func on the process loop goroutine.
type FuncEvent struct {
	Func func()
}

func (*FuncEvent) isEvent() {}

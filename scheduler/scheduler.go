package scheduler

import (
	"log/slog"
	"reflect"
	"slices"
	"sync"

	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"
)

type Options struct {
	// specify length for event channel, if zero default will be used
	EventChannelLength uint16

	// logging prefix
	LogPrefix string

	// enable verbose logging
	LogDebug bool

	// structured logger, slog.Default() when nil
	Logger *slog.Logger
}

type Scheduler[G comparable] struct {
	options *Options
	logger  *slog.Logger

	exitwg   sync.WaitGroup
	eventch  chan Event
	done     chan struct{}
	doneOnce sync.Once

	// group -> context
	groupContextMap map[G]*GroupContext[G]
	// async handle -> async variant
	asyncHandleTree *rbt.Tree[uint16, *AsyncVariant[G]]
	// select index -> async variant
	selectIndexTree *rbt.Tree[uint16, *AsyncVariant[G]]
	// select index -> select case
	selectCaseSlice []reflect.SelectCase
}

func NewScheduler[G comparable](options *Options) *Scheduler[G] {
	var eventChannelLength uint16
	if options.EventChannelLength == 0 {
		eventChannelLength = EventChannelLength
	} else {
		eventChannelLength = options.EventChannelLength
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler[G]{
		options: options,
		logger:  logger.With("prefix", options.LogPrefix),

		exitwg:  sync.WaitGroup{},
		eventch: make(chan Event, eventChannelLength),
		done:    make(chan struct{}),

		groupContextMap: make(map[G]*GroupContext[G]),
		asyncHandleTree: rbt.New[uint16, *AsyncVariant[G]](),
		selectIndexTree: rbt.New[uint16, *AsyncVariant[G]](),
		selectCaseSlice: make([]reflect.SelectCase, 0, 256),
	}
}

func (s *Scheduler[G]) Shutdown() {
	s.logger.Info("synchronized shutdown starting")

	select {
	case s.eventch <- &exitEvent{}:
	default:
		s.logger.Warn("exit already signaled")
	}

	s.exitwg.Wait()
	s.doneOnce.Do(func() { close(s.done) })
	s.logger.Info("synchronized shutdown done")
}

// Done is closed once Shutdown has returned. Events queued but not yet
// processed by then are dropped.
func (s *Scheduler[G]) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler[G]) RunSync() {
	s.exitwg.Add(1)
	defer s.exitwg.Done()

	s.logger.Info("synchronous process loop starting")
	s.processLoop()
	s.logger.Info("synchronous process loop exiting")
}

func (s *Scheduler[G]) RunAsync() {
	s.exitwg.Add(1)

	go func() {
		s.logger.Info("asynchronous process loop starting")

		defer func() {
			s.logger.Info("asynchronous process loop exiting")
			s.exitwg.Done()
		}()

		s.processLoop()
	}()
}

func (s *Scheduler[G]) processLoop() {
	// main event processing loop, will block
	// caller can choose to run synchronously on caller goroutine, or spawn a separate goroutine to run asynchronously

	// zero index must be case eventch
	s.selectCaseSlice = append(
		s.selectCaseSlice[:0],
		reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(s.eventch),
		},
	)

labelFor:
	for {
		if s.options.LogDebug {
			s.logger.Debug(
				"loop state",
				"groups", len(s.groupContextMap),
				"handles", s.asyncHandleTree.Size(),
				"indexes", s.selectIndexTree.Size(),
				"cases", len(s.selectCaseSlice),
			)
		}

		index, received, ok := reflect.Select(s.selectCaseSlice)

		if s.options.LogDebug {
			s.logger.Debug("selected", "index", index, "ok", ok)
		}

		switch index {
		case 0: // corresponds to eventch
			if s.handle(received.Interface()) {
				break labelFor
			}
		default:
			v, found := s.selectIndexTree.Get(uint16(index))
			if !found {
				s.logger.Error("no async variant found", "index", index)
				continue
			}

			v.SelectCount += 1

			if v.selectFunctor != nil {
				if s.options.LogDebug {
					s.logger.Debug("invoking select", s.variantAttrs(v)...)
				}

				s.safeInvoke(v, "select functor", func() {
					v.selectFunctor(s, v, received.Interface())
				})
			}
		}
	}
}

func (s *Scheduler[G]) handle(recv interface{}) bool {
	switch event := recv.(type) {
	case *exitEvent:
		s.releaseAll()
		return true
	case *ReleaseGroupEvent[G]:
		s.releaseGroup(event.Group)
	case *ReleaseGroupSliceEvent[G]:
		s.releaseGroupSlice(event.GroupSlice)
	case *ScheduleAsyncEvent[G]:
		s.scheduleAsyncEvent(event)
	case *FuncEvent:
		s.funcEvent(event)
	default:
		s.logger.Error("unrecognized event", "recv", recv)
	}
	return false
}

func (s *Scheduler[G]) variantAttrs(v *AsyncVariant[G]) []any {
	return []any{
		"handle", v.asyncHandle,
		"index", v.selectIndex,
		"count", v.SelectCount,
		"group", v.GroupSlice,
	}
}

// safeInvoke runs f, recovering and logging any panic with the variant's context.
func (s *Scheduler[G]) safeInvoke(v *AsyncVariant[G], what string, f func()) {
	defer func() {
		rec := recover()
		if rec != nil {
			s.logger.Error(what+" recovered from panic", append(s.variantAttrs(v), "panic", rec)...)
		}
	}()
	f()
}

func (s *Scheduler[G]) addAsyncVariant(v *AsyncVariant[G]) {
	var handle, index uint16

	rightNode := s.asyncHandleTree.Right()
	if rightNode == nil {
		handle = 1
	} else {
		handle = rightNode.Key + 1
	}

	s.selectCaseSlice = append(
		s.selectCaseSlice,
		reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(v.ch),
		},
	)
	index = uint16(len(s.selectCaseSlice) - 1)

	v.asyncHandle = handle
	v.selectIndex = index

	s.asyncHandleTree.Put(handle, v)
	s.selectIndexTree.Put(index, v)

	for _, group := range v.GroupSlice {
		context, found := s.groupContextMap[group]
		if !found {
			context = &GroupContext[G]{
				group: group,

				asyncHandleTree: rbt.New[uint16, *AsyncVariant[G]](),
			}

			s.groupContextMap[group] = context
		}

		context.asyncHandleTree.Put(handle, v)
	}

	if s.options.LogDebug {
		s.logger.Debug("added async variant", s.variantAttrs(v)...)
	}
}

func (s *Scheduler[G]) removeAsyncVariant(v *AsyncVariant[G]) func() {
	handle := v.asyncHandle
	index := v.selectIndex

	if v.inRemove {
		s.logger.Warn("async variant already removed", s.variantAttrs(v)...)
		return func() {}
	}
	v.inRemove = true

	f := func() {
		if v.releaseFunctor == nil {
			return
		}

		if s.options.LogDebug {
			s.logger.Debug("invoking release", s.variantAttrs(v)...)
		}

		s.safeInvoke(v, "release functor", func() {
			v.releaseFunctor(s, v)
		})
	}

	for _, group := range v.GroupSlice {
		context, found := s.groupContextMap[group]
		if !found {
			s.logger.Error("group not found in groupContextMap", "group", group)
			continue
		}

		context.asyncHandleTree.Remove(handle)

		if context.asyncHandleTree.Empty() {
			delete(s.groupContextMap, group)
		}
	}

	s.selectIndexTree.Remove(index)
	s.asyncHandleTree.Remove(handle)

	intIndex := int(index)
	intLen := len(s.selectCaseSlice)
	intLast := intLen - 1

	if intIndex < intLast {
		// swap index with the last element to minimize array shift
		swapIndex := uint16(intLast)
		swapVariant, found := s.selectIndexTree.Get(swapIndex)
		if !found {
			s.logger.Error("no async variant found for swap", "swapIndex", swapIndex)
			return f
		}
		if swapVariant.selectIndex != swapIndex {
			s.logger.Error("swap variant index mismatch", "selectIndex", swapVariant.selectIndex, "swapIndex", swapIndex)
			return f
		}

		s.selectIndexTree.Remove(swapIndex)
		s.selectCaseSlice[index] = s.selectCaseSlice[swapIndex]
		swapVariant.selectIndex = index
		s.selectIndexTree.Put(index, swapVariant)
	}

	// this will also properly zero value the deleted element
	s.selectCaseSlice = slices.Delete(
		s.selectCaseSlice,
		intLast,
		intLen,
	)

	if s.options.LogDebug {
		s.logger.Debug("removed async variant", s.variantAttrs(v)...)
	}

	return f
}

func (s *Scheduler[G]) releaseAsyncVariantByTree(scopedIndexTree *rbt.Tree[uint16, *AsyncVariant[G]]) {
	if scopedIndexTree.Empty() {
		return
	}

	// we start from high -> low index, to minimize selectCaseSlice shift
	it := scopedIndexTree.Iterator()
	it.End()
	for it.Prev() {
		s.removeAsyncVariant(it.Value())()
	}
}

func (s *Scheduler[G]) releaseAll() {
	if s.options.LogDebug {
		s.logger.Debug("release all async variants", "size", s.selectIndexTree.Size())
	}

	scopedIndexTree := rbt.New[uint16, *AsyncVariant[G]]()

	it := s.selectIndexTree.Iterator()
	for it.Next() {
		scopedIndexTree.Put(it.Key(), it.Value())
	}

	s.releaseAsyncVariantByTree(scopedIndexTree)
}

func (s *Scheduler[G]) releaseGroup(group G) {
	s.releaseGroupSlice([]G{group})
}

func (s *Scheduler[G]) releaseGroupSlice(groupSlice []G) {
	scopedIndexTree := rbt.New[uint16, *AsyncVariant[G]]()

	for _, group := range groupSlice {
		context, found := s.groupContextMap[group]
		if !found {
			continue
		}

		it := context.asyncHandleTree.Iterator()
		for it.Next() {
			v := it.Value()

			// note that one async variant may associate with multiple groups, here we collect unique occurrences
			scopedIndexTree.Put(v.selectIndex, v)
		}
	}

	if s.options.LogDebug {
		s.logger.Debug("release group async variants", "group", groupSlice, "size", scopedIndexTree.Size())
	}

	s.releaseAsyncVariantByTree(scopedIndexTree)
}

func (s *Scheduler[G]) scheduleAsyncEvent(event *ScheduleAsyncEvent[G]) {
	if event.ReleaseGroup {
		s.releaseGroupSlice(event.AsyncVariant.GroupSlice)
	}
	s.addAsyncVariant(event.AsyncVariant)
}

func (s *Scheduler[G]) funcEvent(event *FuncEvent) {
	if event.Func == nil {
		return
	}

	defer func() {
		rec := recover()
		if rec != nil {
			s.logger.Error("func event recovered from panic", "panic", rec)
		}
	}()
	event.Func()
}

// must be invoked on same goroutine as processLoop
func (s *Scheduler[G]) ProcessSync(event Event) {
	s.handle(event)
}

// can be invoked on any goroutine, returns false when the event channel is full
// or the scheduler has shut down
func (s *Scheduler[G]) ProcessAsync(event Event) bool {
	select {
	case <-s.done:
		s.logger.Warn("event after shutdown dropped")
		return false
	default:
	}

	select {
	case s.eventch <- event:
		return true
	default:
		s.logger.Error("failed to push to eventch")
		return false
	}
}

// GroupSize reports the number of outstanding async variants in group.
// Must be invoked on same goroutine as processLoop.
func (s *Scheduler[G]) GroupSize(group G) int {
	context, found := s.groupContextMap[group]
	if !found {
		return 0
	}
	return context.Size()
}

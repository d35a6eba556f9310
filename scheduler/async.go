package scheduler

import (
	"time"
)

// AsyncVariant is a channel registered with the process loop, together with
// the groups it can be released by.
type AsyncVariant[G comparable] struct {
	// assigned by addAsyncVariant; asyncHandle is stable, selectIndex moves
	// when other variants are removed
	asyncHandle uint16
	selectIndex uint16

	GroupSlice []G

	ch interface{}

	// times ch was selected
	SelectCount uint32

	selectFunctor  func(*Scheduler[G], *AsyncVariant[G], interface{})
	releaseFunctor func(*Scheduler[G], *AsyncVariant[G])

	inRemove bool
}

// NewAsyncVariant wraps ch. selectFunctor runs on every receive from ch,
// releaseFunctor once when the variant leaves the loop.
func NewAsyncVariant[G comparable](
	groupSlice []G,
	ch interface{},
	selectFunctor func(*Scheduler[G], *AsyncVariant[G], interface{}),
	releaseFunctor func(*Scheduler[G], *AsyncVariant[G]),
) *AsyncVariant[G] {
	return &AsyncVariant[G]{
		GroupSlice:     groupSlice,
		ch:             ch,
		selectFunctor:  selectFunctor,
		releaseFunctor: releaseFunctor,
	}
}

// TimerAsync fires selectFunctor once after d. The variant is removed from the
// loop before selectFunctor runs, so a reservation made from inside the functor
// for the same group is never released by this one. releaseFunctor receives the
// select count: zero means the timer was cancelled before it fired.
func TimerAsync[G comparable](
	groupSlice []G,
	d time.Duration,
	selectFunctor func(),
	releaseFunctor func(uint32),
) *AsyncVariant[G] {
	timer := time.NewTimer(d)
	return NewAsyncVariant[G](
		groupSlice,
		timer.C,
		func(s *Scheduler[G], v *AsyncVariant[G], _ interface{}) {
			// one-shot: leave the loop before the user functor runs
			f := s.removeAsyncVariant(v)

			if selectFunctor != nil {
				s.safeInvoke(v, "user select functor", selectFunctor)
			}

			// invoke release
			f()
		},
		func(s *Scheduler[G], v *AsyncVariant[G]) {
			if v.SelectCount == 0 {
				timer.Stop()
				select {
				case <-timer.C:
				default:
				}
			}

			if releaseFunctor != nil {
				s.safeInvoke(v, "user release functor", func() {
					releaseFunctor(v.SelectCount)
				})
			}
		},
	)
}

// Copyright 2012 Lawrence Kesteloot

package clock

// Scheduler is an unordered set of active pulse requests. It keeps the
// earliest trigger around so that the per-instruction check is a single
// comparison.
type Scheduler struct {
	requests    []*PulseRequest
	nextTrigger uint64

	// Set when a request was expired or moved later, which may have made
	// nextTrigger too early.
	dirty bool
}

// NewScheduler makes an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		nextTrigger: Never,
	}
}

// Add puts the request in the scheduler. A request that's already here
// isn't added twice, and one that's in another scheduler is moved.
func (s *Scheduler) Add(p *PulseRequest) {
	if p.owner != s {
		if p.owner != nil {
			// The old scheduler drops it on its next purge.
			p.owner.dirty = true
		}
		p.owner = s
		s.requests = append(s.requests, p)
	}
	s.noteTrigger(p)
}

// Called when a request's trigger may have changed.
func (s *Scheduler) noteTrigger(p *PulseRequest) {
	if p.active && p.trigger < s.nextTrigger {
		s.nextTrigger = p.trigger
	} else {
		s.dirty = true
	}
}

// NextTrigger is the earliest trigger of any active request, or Never.
func (s *Scheduler) NextTrigger() uint64 {
	if s.dirty {
		s.purge()
	}
	return s.nextTrigger
}

// Len is the number of requests held, including ones waiting to be purged.
func (s *Scheduler) Len() int {
	return len(s.requests)
}

// Advance fires every request whose trigger is before tickCount. Requests
// are visited newest first so that callbacks can add requests without
// disturbing the walk. Requests added by a callback are looked at on the
// next call.
func (s *Scheduler) Advance(tickCount uint64) {
	if tickCount > s.nextTrigger {
		for i := len(s.requests) - 1; i >= 0; i-- {
			if i >= len(s.requests) {
				// A callback cleared the scheduler.
				continue
			}
			p := s.requests[i]
			if p.owner == s && p.active && p.trigger < tickCount {
				p.Execute()
			}
		}
		s.purge()
	} else if s.dirty {
		s.purge()
	}
}

// Drop inactive requests and recompute the earliest trigger.
func (s *Scheduler) purge() {
	next := uint64(Never)
	kept := s.requests[:0]
	for _, p := range s.requests {
		if p.owner != s {
			continue
		}
		if !p.active {
			p.owner = nil
			continue
		}
		if p.trigger < next {
			next = p.trigger
		}
		kept = append(kept, p)
	}

	// Let dropped requests be collected.
	for i := len(kept); i < len(s.requests); i++ {
		s.requests[i] = nil
	}

	s.requests = kept
	s.nextTrigger = next
	s.dirty = false
}

// Clear expires and drops every request.
func (s *Scheduler) Clear() {
	for _, p := range s.requests {
		if p.owner == s {
			p.active = false
			p.trigger = Never
			p.owner = nil
		}
	}
	s.requests = s.requests[:0]
	s.nextTrigger = Never
	s.dirty = false
}

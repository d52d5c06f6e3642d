package sniffer

import (
	"sort"
	"time"
)

// Runtime multiplexes a set of registered sniffers the way Capture's
// single thread does (§4.4): selectable sources participate in a single
// readiness pass (stood in here by "would it return data right now");
// polled sources are scheduled by next-deadline instead.
type Runtime struct {
	sniffers []*Registered
	nextID   int
	deadline map[int]time.Time
}

// NewRuntime creates an empty sniffer runtime.
func NewRuntime() *Runtime {
	return &Runtime{deadline: make(map[int]time.Time)}
}

// Add registers a new sniffer, calling its Start hook and recording the
// Source state it reports back.
func (r *Runtime) Add(s Sniffer, src *Source) (*Registered, error) {
	if err := s.Start(src); err != nil {
		return nil, err
	}
	r.nextID++
	reg := &Registered{ID: r.nextID, Sniffer: s, Source: src}
	r.sniffers = append(r.sniffers, reg)
	if src.Mode == ModePoll {
		r.deadline[reg.ID] = time.Now().Add(src.Interval)
	}
	return reg, nil
}

// Remove stops and unregisters a sniffer.
func (r *Runtime) Remove(id int) error {
	for i, reg := range r.sniffers {
		if reg.ID == id {
			err := reg.Sniffer.Stop()
			r.sniffers = append(r.sniffers[:i], r.sniffers[i+1:]...)
			delete(r.deadline, id)
			return err
		}
	}
	return nil
}

// Ready returns the sniffers that are due for a Next call on this tick:
// every ModeSelect sniffer (readiness is approximated by always trying
// them — Next itself returns 0 when idle), plus any ModePoll sniffer
// whose deadline has passed.
func (r *Runtime) Ready(now time.Time) []*Registered {
	var ready []*Registered
	for _, reg := range r.sniffers {
		if reg.Source.Mode == ModeSelect {
			ready = append(ready, reg)
			continue
		}
		if dl, ok := r.deadline[reg.ID]; ok && !now.Before(dl) {
			ready = append(ready, reg)
			r.deadline[reg.ID] = now.Add(reg.Source.Interval)
		}
	}
	return ready
}

// NextDeadline returns the soonest poll deadline across all polled
// sniffers, used by the caller to size its readiness-loop sleep when no
// selectable sniffer has data.
func (r *Runtime) NextDeadline() (time.Time, bool) {
	var deadlines []time.Time
	for _, d := range r.deadline {
		deadlines = append(deadlines, d)
	}
	if len(deadlines) == 0 {
		return time.Time{}, false
	}
	sort.Slice(deadlines, func(i, j int) bool { return deadlines[i].Before(deadlines[j]) })
	return deadlines[0], true
}

// All returns every registered sniffer.
func (r *Runtime) All() []*Registered { return r.sniffers }

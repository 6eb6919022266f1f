// Package runstate tracks the phase of an exact or fuzzy dedup run and
// rejects out-of-order transitions.
package runstate

import (
	"fmt"
	"sync"
	"time"

	"horse.fit/corpusdedup/internal/globaltime"
)

type Phase string

const (
	Empty Phase = "EMPTY"
	Done  Phase = "DONE"

	Counting      Phase = "COUNTING"
	CountComplete Phase = "COUNT_COMPLETE"
	Filtering     Phase = "FILTERING"

	Signing         Phase = "SIGNING"
	Banding         Phase = "BANDING"
	CandidatesReady Phase = "CANDIDATES_READY"
	Confirming      Phase = "CONFIRMING"
	Clustering      Phase = "CLUSTERING"
)

var (
	exactOrder = []Phase{Empty, Counting, CountComplete, Filtering, Done}
	fuzzyOrder = []Phase{Empty, Signing, Banding, CandidatesReady, Confirming, Clustering, Done}
)

// Timing is how long a finished phase lasted.
type Timing struct {
	Phase     Phase `json:"phase"`
	ElapsedMS int64 `json:"elapsed_ms"`
}

// Machine walks a fixed phase sequence one step at a time.
type Machine struct {
	mu      sync.Mutex
	name    string
	order   []Phase
	current int
	entered time.Time
	timings []Timing
	onEnter func(from, to Phase)
}

func NewExact() *Machine {
	return &Machine{name: "exact", order: exactOrder}
}

func NewFuzzy() *Machine {
	return &Machine{name: "fuzzy", order: fuzzyOrder}
}

// OnTransition registers a hook called after every successful Advance.
func (m *Machine) OnTransition(hook func(from, to Phase)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnter = hook
}

func (m *Machine) Name() string {
	return m.name
}

func (m *Machine) Current() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order[m.current]
}

// Advance moves to the next phase, which must be to.
func (m *Machine) Advance(to Phase) error {
	m.mu.Lock()
	from := m.order[m.current]
	if m.current+1 >= len(m.order) || m.order[m.current+1] != to {
		m.mu.Unlock()
		return fmt.Errorf("%s run: illegal transition %s -> %s", m.name, from, to)
	}
	now := globaltime.Now()
	if from != Empty {
		m.timings = append(m.timings, Timing{Phase: from, ElapsedMS: now.Sub(m.entered).Milliseconds()})
	}
	m.entered = now
	m.current++
	hook := m.onEnter
	m.mu.Unlock()

	if hook != nil {
		hook(from, to)
	}
	return nil
}

// Timings returns the durations of every phase left so far, in order.
func (m *Machine) Timings() []Timing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Timing(nil), m.timings...)
}

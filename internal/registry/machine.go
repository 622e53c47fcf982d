// Package registry implements the document-provenance state machine: role
// assignments, the append-only document store, the per-document access
// ledger, and the read projections over them.
//
// The machine is deterministic. Every mutating transition is evaluated by
// Prepare against committed state, producing a Changeset or an *Error.
// Nothing becomes visible until Commit publishes the changeset as a whole,
// so a rejected transition leaves no trace.
package registry

import (
	"bytes"
	"sync"
)

// Machine holds committed registry state. Transitions must be delivered in
// order by a single writer; reads may run concurrently with each other and
// with Prepare, and never observe a partially committed changeset.
type Machine struct {
	mu sync.RWMutex
	t  *tables
}

// NewMachine returns an uninitialized machine. The first transition it
// accepts is genesis.
func NewMachine() *Machine {
	return &Machine{t: newTables()}
}

// Prepare evaluates tr against committed state and returns its effect
// without applying it.
func (m *Machine) Prepare(tr Transition) (*Changeset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	muts, events, err := prepare(m.t, tr)
	if err != nil {
		return nil, err
	}
	return &Changeset{m: m, base: m.t.height, tr: cloneTransition(tr), muts: muts, events: events}, nil
}

// Commit publishes a changeset produced by this machine's Prepare. It fails
// with OutOfOrder if another changeset was committed in between, and with
// InvalidArgument if the changeset did not come from this machine.
func (m *Machine) Commit(cs *Changeset) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cs == nil || cs.m != m {
		return Receipt{}, newError(KindInvalidArgument, "", "changeset was not prepared by this machine")
	}
	tr := cs.tr
	if cs.base != m.t.height || tr.Height != m.t.height+1 {
		return Receipt{}, newError(KindOutOfOrder, tr.Op, "changeset for height %d, committed height %d", tr.Height, m.t.height)
	}
	for _, mut := range cs.muts {
		if err := m.t.admit(tr.Op, mut); err != nil {
			return Receipt{}, err
		}
	}
	for _, mut := range cs.muts {
		m.t.apply(mut)
	}
	m.t.height = tr.Height
	m.t.timestamp = tr.Timestamp
	m.t.initialized = true

	return Receipt{
		Height:    tr.Height,
		Timestamp: tr.Timestamp,
		Op:        tr.Op,
		Caller:    tr.Caller,
		Events:    cloneEvents(cs.events),
	}, nil
}

// Apply prepares and commits tr in one step.
func (m *Machine) Apply(tr Transition) (Receipt, error) {
	cs, err := m.Prepare(tr)
	if err != nil {
		return Receipt{}, err
	}
	return m.Commit(cs)
}

// Height returns the height of the last committed transition, zero before genesis.
func (m *Machine) Height() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.height
}

// Timestamp returns the logical timestamp of the last committed transition.
func (m *Machine) Timestamp() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.timestamp
}

// Initialized reports whether genesis has been committed.
func (m *Machine) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.initialized
}

func prepare(t *tables, tr Transition) ([]Mutation, []Event, error) {
	if tr.Op == OpGenesis {
		if t.initialized {
			return nil, nil, newError(KindAlreadyInitialized, tr.Op, "registry already has an administrator")
		}
	} else if !t.initialized {
		return nil, nil, newError(KindNotInitialized, tr.Op, "genesis has not been applied")
	}
	if tr.Height != t.height+1 {
		return nil, nil, newError(KindOutOfOrder, tr.Op, "height %d does not follow %d", tr.Height, t.height)
	}
	if tr.Timestamp < t.timestamp {
		return nil, nil, newError(KindOutOfOrder, tr.Op, "timestamp %d precedes %d", tr.Timestamp, t.timestamp)
	}

	var (
		muts   []Mutation
		events []Event
		err    error
	)
	switch tr.Op {
	case OpGenesis:
		muts, events, err = prepareGenesis(tr)
	case OpGrantRole:
		muts, events, err = prepareGrantRole(t, tr)
	case OpRevokeRole:
		muts, events, err = prepareRevokeRole(t, tr)
	case OpRegisterDocumentFor:
		muts, events, err = prepareRegisterDocument(t, tr)
	case OpGrantAccess:
		muts, events, err = prepareGrantAccess(t, tr)
	case OpRevokeAccess:
		muts, events, err = prepareRevokeAccess(t, tr)
	default:
		return nil, nil, newError(KindInvalidArgument, tr.Op, "unknown operation")
	}
	if err != nil {
		return nil, nil, err
	}
	return muts, events, nil
}

func cloneTransition(tr Transition) Transition {
	tr.KeyBlob = bytes.Clone(tr.KeyBlob)
	return tr
}

func cloneEvents(events []Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		e.KeyBlob = bytes.Clone(e.KeyBlob)
		out[i] = e
	}
	return out
}

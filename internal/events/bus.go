package events

import (
	"sync"

	"github.com/ringtail/che/internal/models"
)

// Kind identifies an event family. Subscribers register per kind.
type Kind string

const (
	// KindMachineStatus carries identifiers only, as received from the
	// workspace master.
	KindMachineStatus Kind = "machine.status"
	// KindMachineState is republished after the machine has been resolved.
	KindMachineState     Kind = "machine.state"
	KindWorkspaceStarted Kind = "workspace.started"
	KindWorkspaceStopped Kind = "workspace.stopped"
)

// Event is implemented by every event variant.
type Event interface {
	EventKind() Kind
}

// StatusChanged is an inbound lifecycle signal for a machine.
type StatusChanged struct {
	Phase        models.Status
	WorkspaceID  string
	MachineID    string
	MachineName  string
	ErrorMessage string
}

func (StatusChanged) EventKind() Kind { return KindMachineStatus }

// MachineState is a lifecycle transition for a resolved machine. Seq is the
// dispatch sequence number the transition was issued with.
type MachineState struct {
	Phase   models.Status
	Machine *models.Machine
	Seq     uint64
}

func (MachineState) EventKind() Kind { return KindMachineState }

// WorkspaceChanged signals a workspace start or stop.
type WorkspaceChanged struct {
	Kind        Kind
	WorkspaceID string
}

func (e WorkspaceChanged) EventKind() Kind { return e.Kind }

type Handler func(Event)

type subscription struct {
	id uint64
	h  Handler
}

// Bus is a synchronous multicast bus. Publish invokes handlers on the calling
// goroutine in subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Kind][]subscription
	nextID uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Kind][]subscription)}
}

// Subscribe registers h for the given kinds and returns a function removing it.
func (b *Bus) Subscribe(h Handler, kinds ...Kind) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	for _, k := range kinds {
		b.subs[k] = append(b.subs[k], subscription{id: id, h: h})
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id, kinds) })
	}
}

func (b *Bus) unsubscribe(id uint64, kinds []Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range kinds {
		subs := b.subs[k]
		kept := subs[:0]
		for _, s := range subs {
			if s.id != id {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(b.subs, k)
			continue
		}
		b.subs[k] = kept
	}
}

// Publish delivers ev to every subscriber of its kind.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[ev.EventKind()]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.h(ev)
	}
}

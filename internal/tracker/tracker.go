// Package tracker keeps the in-process view of a workspace's machines: it
// resolves lifecycle signals against workspace snapshots, maintains the
// machine registry and the selection, and drives notifications and the
// display.
package tracker

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ringtail/che/internal/events"
	"github.com/ringtail/che/internal/metrics"
	"github.com/ringtail/che/internal/models"
)

const tracerName = "github.com/ringtail/che/internal/tracker"

// Options configures a Tracker. Fetcher is required.
type Options struct {
	Fetcher  Fetcher
	Display  Display
	Notifier Notifier
	Bus      *events.Bus
	Tracer   trace.Tracer
	Metrics  *metrics.Collector
	Logger   *zap.Logger

	// QueueSize bounds the loop's work queue.
	QueueSize int
}

// Tracker wires the resolver, registry, dispatcher, presenter and selector
// onto one event loop.
type Tracker struct {
	loop       *Loop
	bus        *events.Bus
	registry   *Registry
	resolver   *Resolver
	selector   *Selector
	presenter  *Presenter
	dispatcher *Dispatcher
	display    Display
	log        *zap.Logger
	unsubs     []func()
}

func New(opts Options) (*Tracker, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("tracker: fetcher required")
	}
	if opts.Display == nil {
		opts.Display = nopDisplay{}
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.Named("tracker")

	loop := NewLoop(opts.QueueSize)
	registry := NewRegistry()
	seq := newSequencer()
	resolver := NewResolver(opts.Fetcher, opts.Tracer, opts.Metrics)
	selector := &Selector{
		loop:     loop,
		resolver: resolver,
		registry: registry,
		display:  opts.Display,
		metrics:  opts.Metrics,
		log:      log,
	}
	presenter := &Presenter{
		loop:     loop,
		resolver: resolver,
		registry: registry,
		selector: selector,
		seq:      seq,
		display:  opts.Display,
		metrics:  opts.Metrics,
		log:      log,
	}
	dispatcher := &Dispatcher{
		loop:     loop,
		bus:      opts.Bus,
		resolver: resolver,
		notifier: opts.Notifier,
		seq:      seq,
		metrics:  opts.Metrics,
		log:      log,
	}
	t := &Tracker{
		loop:       loop,
		bus:        opts.Bus,
		registry:   registry,
		resolver:   resolver,
		selector:   selector,
		presenter:  presenter,
		dispatcher: dispatcher,
		display:    opts.Display,
		log:        log,
	}

	t.unsubs = append(t.unsubs,
		t.bus.Subscribe(t.dispatcher.handle, events.KindMachineStatus),
		t.bus.Subscribe(t.presenter.handle, events.KindMachineState, events.KindWorkspaceStarted, events.KindWorkspaceStopped),
	)
	return t, nil
}

// Run processes events until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	t.log.Info("tracker started")
	t.loop.Run(ctx)
	for _, unsub := range t.unsubs {
		unsub()
	}
	t.log.Info("tracker stopped")
	return nil
}

// Bus is the bus the tracker subscribes to. Other components may subscribe to
// it; publishing must go through Publish.
func (t *Tracker) Bus() *events.Bus { return t.bus }

// Publish delivers ev on the loop goroutine.
func (t *Tracker) Publish(ctx context.Context, ev events.Event) error {
	return t.loop.Post(ctx, func() { t.bus.Publish(ev) })
}

// Select selects machineID. A machine unknown to the registry is resolved in
// workspaceID.
func (t *Tracker) Select(ctx context.Context, workspaceID, machineID string) error {
	return t.loop.Call(ctx, func() {
		m, ok := t.registry.Get(machineID)
		if !ok {
			m = &models.Machine{ID: machineID, WorkspaceID: workspaceID}
		} else {
			t.display.SelectNode(t.registry.Node(machineID))
		}
		t.selector.Select(m)
	})
}

// Refresh rebuilds the registry from a fresh snapshot of workspaceID.
func (t *Tracker) Refresh(ctx context.Context, workspaceID string) error {
	return t.loop.Call(ctx, func() { t.presenter.Rebuild(workspaceID) })
}

// Machines lists the registry in discovery order.
func (t *Tracker) Machines(ctx context.Context) ([]*models.Machine, error) {
	var out []*models.Machine
	err := t.loop.Call(ctx, func() { out = t.registry.List() })
	return out, err
}

// Machine returns the registry entry for id.
func (t *Tracker) Machine(ctx context.Context, id string) (*models.Machine, bool, error) {
	var (
		m  *models.Machine
		ok bool
	)
	err := t.loop.Call(ctx, func() { m, ok = t.registry.Get(id) })
	return m, ok, err
}

// DevMachine returns the first known dev machine.
func (t *Tracker) DevMachine(ctx context.Context) (*models.Machine, bool, error) {
	var (
		dev *models.Machine
		ok  bool
	)
	err := t.loop.Call(ctx, func() {
		for _, m := range t.registry.List() {
			if m.Dev {
				dev, ok = m, true
				return
			}
		}
	})
	return dev, ok, err
}

// Resolve looks machineID up in a fresh snapshot of workspaceID without
// touching the registry.
func (t *Tracker) Resolve(ctx context.Context, workspaceID, machineID string) (*models.Machine, error) {
	return t.resolver.Resolve(ctx, workspaceID, machineID)
}

// Selection returns the selection state.
func (t *Tracker) Selection(ctx context.Context) (SelectionState, error) {
	var st SelectionState
	err := t.loop.Call(ctx, func() { st = t.selector.State() })
	return st, err
}

// Tree returns a copy of the machine tree.
func (t *Tracker) Tree(ctx context.Context) (*Node, error) {
	var root *Node
	err := t.loop.Call(ctx, func() { root = t.registry.Tree() })
	return root, err
}

// Sync waits until all in-flight resolutions have been applied.
func (t *Tracker) Sync(ctx context.Context) error {
	return t.loop.Sync(ctx)
}

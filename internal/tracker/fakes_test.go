package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ringtail/che/internal/events"
	"github.com/ringtail/che/internal/metrics"
	"github.com/ringtail/che/internal/models"
)

type fakeFetcher struct {
	mu         sync.Mutex
	workspaces map[string]*models.Workspace
	err        error
	calls      int
	gates      []chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{workspaces: make(map[string]*models.Workspace)}
}

// set replaces the runtime machines of workspace ws.
func (f *fakeFetcher) set(ws string, machines ...models.MachineDescriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workspaces[ws] = &models.Workspace{ID: ws, Runtime: &models.Runtime{Machines: machines}}
}

func (f *fakeFetcher) setWorkspace(w *models.Workspace) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workspaces[w.ID] = w
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// holdNext makes the next fetch block until the returned func is called.
func (f *fakeFetcher) holdNext() func() {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates = append(f.gates, gate)
	f.mu.Unlock()
	return func() { close(gate) }
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	f.mu.Lock()
	f.calls++
	var gate chan struct{}
	if len(f.gates) > 0 {
		gate = f.gates[0]
		f.gates = f.gates[1:]
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ws, ok := f.workspaces[id]
	if !ok {
		return nil, errors.New("workspace not found")
	}
	return ws, nil
}

func desc(id, name string, status models.Status, dev bool) models.MachineDescriptor {
	return models.MachineDescriptor{
		ID:          id,
		WorkspaceID: "ws1",
		Status:      status,
		Config:      models.MachineConfig{Name: name, Dev: dev, Type: "docker"},
	}
}

type fakeDisplay struct {
	root       *Node
	selected   []string
	appliances []string
	stubs      []string
}

func (d *fakeDisplay) SetData(root *Node) { d.root = root }

func (d *fakeDisplay) SelectNode(n *Node) {
	if n != nil {
		d.selected = append(d.selected, n.ID)
	}
}

func (d *fakeDisplay) ShowAppliance(m *models.Machine) {
	d.appliances = append(d.appliances, m.ID)
}

func (d *fakeDisplay) ShowStub(msg string) {
	d.stubs = append(d.stubs, msg)
}

func (d *fakeDisplay) lastSelected() string {
	if len(d.selected) == 0 {
		return ""
	}
	return d.selected[len(d.selected)-1]
}

func (d *fakeDisplay) lastStub() string {
	if len(d.stubs) == 0 {
		return ""
	}
	return d.stubs[len(d.stubs)-1]
}

type fakeNotifier struct {
	sent []models.Notification
}

func (n *fakeNotifier) Notify(msg models.Notification) { n.sent = append(n.sent, msg) }

func (n *fakeNotifier) messages() []string {
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Message)
	}
	return out
}

type harness struct {
	tr       *Tracker
	fetcher  *fakeFetcher
	display  *fakeDisplay
	notifier *fakeNotifier
	metrics  *metrics.Collector
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fetcher:  newFakeFetcher(),
		display:  &fakeDisplay{},
		notifier: &fakeNotifier{},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	tr, err := New(Options{
		Fetcher:  h.fetcher,
		Display:  h.display,
		Notifier: h.notifier,
		Metrics:  h.metrics,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.tr = tr

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) ctx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// publish delivers ev and waits until its resolutions have been applied.
func (h *harness) publish(t *testing.T, ev events.Event) {
	t.Helper()
	if err := h.tr.Publish(h.ctx(t), ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	h.sync(t)
}

// do runs fn on the loop, then waits for every pending resolution.
func (h *harness) do(t *testing.T, fn func()) {
	t.Helper()
	ctx := h.ctx(t)
	if err := h.tr.loop.Call(ctx, fn); err != nil {
		t.Fatalf("loop call: %v", err)
	}
	h.sync(t)
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	if err := h.tr.Sync(h.ctx(t)); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
}

package tracker

import (
	"context"

	"go.uber.org/zap"

	"github.com/ringtail/che/internal/events"
	"github.com/ringtail/che/internal/metrics"
	"github.com/ringtail/che/internal/models"
)

// Presenter applies resolved machine transitions and workspace start/stop to
// the registry, the selection and the display.
type Presenter struct {
	loop     *Loop
	resolver *Resolver
	registry *Registry
	selector *Selector
	seq      *sequencer
	display  Display
	metrics  *metrics.Collector
	log      *zap.Logger

	rebuildGen uint64
}

func (p *Presenter) handle(ev events.Event) {
	switch e := ev.(type) {
	case events.MachineState:
		p.metrics.Event(string(events.KindMachineState), string(e.Phase))
		if e.Machine == nil {
			return
		}
		switch e.Phase {
		case models.StatusCreating:
			p.onCreating(e.Machine)
		case models.StatusRunning:
			p.onRunning(e.Machine)
		case models.StatusDestroyed:
			p.onDestroyed(e.Machine)
		}
	case events.WorkspaceChanged:
		p.metrics.Event(string(e.Kind), "")
		p.Rebuild(e.WorkspaceID)
	}
}

func (p *Presenter) onCreating(m *models.Machine) {
	p.registry.Upsert(m)
	p.selector.mark(m, false)
	p.refresh()
	p.display.SelectNode(p.registry.Node(m.ID))
}

func (p *Presenter) onRunning(m *models.Machine) {
	p.registry.Upsert(m)
	if p.selector.isSelected(m.ID) {
		p.selector.mark(m, true)
	}
	p.refresh()
	if n := p.registry.Node(p.selector.selectedID()); n != nil {
		p.display.SelectNode(n)
	}
}

func (p *Presenter) onDestroyed(m *models.Machine) {
	wasSelected := p.selector.isSelected(m.ID)
	p.registry.Remove(m.ID)
	p.refresh()
	if !wasSelected {
		return
	}
	p.selector.clear()
	p.selectFirst()
}

// Rebuild replaces the registry with a fresh snapshot of workspaceID. When
// rebuilds overlap, only the latest issued one is applied. Lifecycle
// transitions applied while the snapshot was in flight take precedence over
// it.
func (p *Presenter) Rebuild(workspaceID string) {
	p.rebuildGen++
	gen := p.rebuildGen
	mark := p.seq.mark()

	Async(p.loop, func(ctx context.Context) ([]*models.Machine, error) {
		return p.resolver.Snapshot(ctx, workspaceID)
	}, func(machines []*models.Machine, err error) {
		if gen != p.rebuildGen {
			p.metrics.Stale("rebuild")
			return
		}
		if err != nil {
			p.log.Warn("workspace snapshot failed", zap.String("workspace_id", workspaceID), zap.Error(err))
			p.display.ShowStub(MsgUnavailableMachineInfo)
			return
		}

		machines = p.reconcile(machines, mark)
		p.registry.Reset(machines)
		p.refresh()
		if len(machines) == 0 {
			p.selector.clear()
			p.display.ShowStub(MsgUnavailableMachineInfo)
			return
		}
		p.selectFirst()
	})
}

// reconcile merges a snapshot requested at mark with the registry. Machines
// that saw a lifecycle transition after mark keep their registry state, or
// stay out if they were destroyed.
func (p *Presenter) reconcile(snapshot []*models.Machine, mark uint64) []*models.Machine {
	out := make([]*models.Machine, 0, len(snapshot))
	seen := make(map[string]struct{}, len(snapshot))
	for _, m := range snapshot {
		seen[m.ID] = struct{}{}
		if !p.seq.since(m.ID, mark) {
			out = append(out, m)
			continue
		}
		if cur, ok := p.registry.Get(m.ID); ok {
			out = append(out, cur)
		}
	}
	for _, cur := range p.registry.List() {
		if _, ok := seen[cur.ID]; !ok && p.seq.since(cur.ID, mark) {
			out = append(out, cur)
		}
	}
	return out
}

func (p *Presenter) selectFirst() {
	first, ok := p.registry.First()
	if !ok {
		return
	}
	p.display.SelectNode(p.registry.Node(first.ID))
	p.selector.Select(first)
}

func (p *Presenter) refresh() {
	p.metrics.Machines(p.registry.Len())
	p.display.SetData(p.registry.Tree())
}

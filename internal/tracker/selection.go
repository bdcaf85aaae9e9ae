package tracker

import (
	"context"

	"go.uber.org/zap"

	"github.com/ringtail/che/internal/metrics"
	"github.com/ringtail/che/internal/models"
)

// SelectionState is the currently selected machine, if any.
type SelectionState struct {
	Selected    bool   `json:"selected"`
	MachineID   string `json:"machine_id,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	Name        string `json:"name,omitempty"`
	Running     bool   `json:"running"`
}

// Selector tracks the selected machine and shows either its appliance or a
// stub on the display.
type Selector struct {
	loop     *Loop
	resolver *Resolver
	registry *Registry
	display  Display
	metrics  *metrics.Collector
	log      *zap.Logger

	selected *models.Machine
	running  bool
	// gen increases on every selection change; resolutions issued under an
	// older gen no longer own the display.
	gen uint64
}

// Select makes m the selected machine. Running machines already in the cache
// are shown without a fetch.
func (s *Selector) Select(m *models.Machine) {
	s.gen++
	gen := s.gen
	s.selected = m.Clone()

	if cached, ok := s.registry.Cached(m.ID); ok {
		s.metrics.CacheHit()
		s.running = true
		s.selected = cached
		s.display.ShowAppliance(cached)
		return
	}

	Async(s.loop, func(ctx context.Context) (*models.Machine, error) {
		return s.resolver.Resolve(ctx, m.WorkspaceID, m.ID)
	}, func(res *models.Machine, err error) {
		if gen != s.gen {
			s.metrics.Stale("select")
			s.refreshCache(res, err)
			return
		}
		switch {
		case err != nil || res == nil:
			if err != nil {
				s.log.Warn("resolve selected machine failed", zap.String("machine_id", m.ID), zap.Error(err))
			}
			s.running = false
			s.display.ShowStub(msgMachineNotFound(m.ID))
		case res.Status == models.StatusRunning:
			s.running = true
			s.selected = res.Clone()
			s.registry.Cache(res)
			s.display.ShowAppliance(res)
		default:
			s.running = false
			s.selected = res.Clone()
			// The workspace loader covers dev machine startup.
			if !res.Dev {
				s.display.ShowStub(msgMachineStarting(res.DisplayName()))
			}
		}
	})
}

// refreshCache keeps the running result of a superseded selection for
// machines still in the registry.
func (s *Selector) refreshCache(res *models.Machine, err error) {
	if err != nil || res == nil || res.Status != models.StatusRunning {
		return
	}
	if _, ok := s.registry.Get(res.ID); ok {
		s.registry.Cache(res)
	}
}

// mark sets the selection without resolving, as lifecycle events do. Any
// selection resolution in flight loses the display.
func (s *Selector) mark(m *models.Machine, running bool) {
	s.gen++
	s.selected = m.Clone()
	s.running = running
}

func (s *Selector) clear() {
	s.gen++
	s.selected = nil
	s.running = false
}

func (s *Selector) isSelected(id string) bool {
	return s.selected != nil && s.selected.ID == id
}

func (s *Selector) selectedID() string {
	if s.selected == nil {
		return ""
	}
	return s.selected.ID
}

// State returns the current selection.
func (s *Selector) State() SelectionState {
	if s.selected == nil {
		return SelectionState{}
	}
	return SelectionState{
		Selected:    true,
		MachineID:   s.selected.ID,
		WorkspaceID: s.selected.WorkspaceID,
		Name:        s.selected.Name,
		Running:     s.running,
	}
}

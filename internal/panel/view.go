// Package panel is the headless machine panel: it records what the tracker
// asks the display to show and serves it as a snapshot.
package panel

import (
	"sync"
	"time"

	"github.com/ringtail/che/internal/models"
	"github.com/ringtail/che/internal/tracker"
)

// State is a point-in-time copy of the panel.
type State struct {
	Tree      *tracker.Node   `json:"tree"`
	Selected  string          `json:"selected,omitempty"`
	Appliance *models.Machine `json:"appliance,omitempty"`
	Stub      string          `json:"stub,omitempty"`
	Version   uint64          `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// View implements tracker.Display. The tracker writes from its loop goroutine
// while HTTP and gRPC handlers read snapshots.
type View struct {
	mu    sync.RWMutex
	state State
}

func NewView() *View {
	return &View{state: State{Tree: &tracker.Node{Label: tracker.RootLabel}}}
}

func (v *View) SetData(root *tracker.Node) {
	v.update(func(s *State) { s.Tree = root })
}

func (v *View) SelectNode(node *tracker.Node) {
	v.update(func(s *State) {
		s.Selected = ""
		if node != nil {
			s.Selected = node.ID
		}
	})
}

// ShowAppliance replaces any stub with the machine's details.
func (v *View) ShowAppliance(m *models.Machine) {
	v.update(func(s *State) {
		s.Appliance = m.Clone()
		s.Stub = ""
	})
}

// ShowStub replaces the appliance with a placeholder message.
func (v *View) ShowStub(message string) {
	v.update(func(s *State) {
		s.Appliance = nil
		s.Stub = message
	})
}

// Snapshot returns the current state. Tree nodes are shared with the tracker's
// detached copy and must not be modified.
func (v *View) Snapshot() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	st := v.state
	st.Appliance = st.Appliance.Clone()
	return st
}

func (v *View) update(fn func(*State)) {
	v.mu.Lock()
	fn(&v.state)
	v.state.Version++
	v.state.UpdatedAt = time.Now().UTC()
	v.mu.Unlock()
}

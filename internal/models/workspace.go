package models

import "time"

// Workspace is the server-authoritative workspace descriptor returned by the
// workspace API. Runtime is nil while the workspace is stopped.
type Workspace struct {
	ID      string          `json:"id"`
	Status  string          `json:"status,omitempty"`
	Config  WorkspaceConfig `json:"config"`
	Runtime *Runtime        `json:"runtime,omitempty"`
}

type WorkspaceConfig struct {
	Name       string `json:"name"`
	DefaultEnv string `json:"defaultEnv,omitempty"`
}

// Runtime lists the live machines of a running workspace in server order.
type Runtime struct {
	ActiveEnv string              `json:"activeEnv,omitempty"`
	Machines  []MachineDescriptor `json:"machines"`
}

// MachineDescriptor is a machine as reported inside a workspace runtime.
type MachineDescriptor struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspaceId"`
	Status      Status        `json:"status"`
	Config      MachineConfig `json:"config"`
}

type MachineConfig struct {
	Name   string         `json:"name"`
	Dev    bool           `json:"dev"`
	Type   string         `json:"type,omitempty"`
	Source *MachineSource `json:"source,omitempty"`
}

type MachineSource struct {
	Type     string `json:"type"`
	Location string `json:"location"`
}

// Machines returns the runtime machine list, or nil when there is no runtime.
func (w *Workspace) Machines() []MachineDescriptor {
	if w == nil || w.Runtime == nil {
		return nil
	}
	return w.Runtime.Machines
}

// Machine converts the descriptor into a Machine entity. workspaceID fills in
// the owner when the descriptor omits it.
func (d MachineDescriptor) Machine(workspaceID string) *Machine {
	m := &Machine{
		ID:          d.ID,
		WorkspaceID: d.WorkspaceID,
		Name:        d.Config.Name,
		Status:      d.Status,
		Dev:         d.Config.Dev,
		Type:        d.Config.Type,
		UpdatedAt:   time.Now().UTC(),
	}
	if m.WorkspaceID == "" {
		m.WorkspaceID = workspaceID
	}
	if d.Config.Source != nil {
		m.SourceLocation = d.Config.Source.Location
	}
	return m
}

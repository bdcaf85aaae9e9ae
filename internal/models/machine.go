package models

import "time"

// Status is the lifecycle phase of a machine.
type Status string

const (
	StatusCreating   Status = "CREATING"
	StatusRunning    Status = "RUNNING"
	StatusDestroying Status = "DESTROYING"
	StatusDestroyed  Status = "DESTROYED"
	StatusError      Status = "ERROR"
)

// Valid reports whether s is one of the known phases.
func (s Status) Valid() bool {
	switch s {
	case StatusCreating, StatusRunning, StatusDestroying, StatusDestroyed, StatusError:
		return true
	}
	return false
}

// Machine is the core domain object representing a compute unit of a workspace.
// Shared between the tracker, storage and transport layers.
type Machine struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspace_id"`
	Name           string    `json:"name"`
	Status         Status    `json:"status"`
	Dev            bool      `json:"dev"`
	Type           string    `json:"type,omitempty"`
	SourceLocation string    `json:"source_location,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Clone returns an independent copy of m. Nil-safe.
func (m *Machine) Clone() *Machine {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// DisplayName is the machine name, falling back to its id.
func (m *Machine) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

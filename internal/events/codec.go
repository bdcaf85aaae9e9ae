package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ringtail/che/internal/models"
)

var ErrUnknownKind = errors.New("unknown event kind")

// Envelope is the wire form of every event variant.
type Envelope struct {
	Kind         Kind            `json:"kind"`
	Phase        models.Status   `json:"phase,omitempty"`
	WorkspaceID  string          `json:"workspace_id,omitempty"`
	MachineID    string          `json:"machine_id,omitempty"`
	MachineName  string          `json:"machine_name,omitempty"`
	ErrorMessage string          `json:"error,omitempty"`
	Machine      *models.Machine `json:"machine,omitempty"`
	Seq          uint64          `json:"seq,omitempty"`
}

// Encode marshals ev into its JSON envelope.
func Encode(ev Event) ([]byte, error) {
	env, err := ToEnvelope(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func ToEnvelope(ev Event) (Envelope, error) {
	switch e := ev.(type) {
	case StatusChanged:
		return Envelope{
			Kind:         KindMachineStatus,
			Phase:        e.Phase,
			WorkspaceID:  e.WorkspaceID,
			MachineID:    e.MachineID,
			MachineName:  e.MachineName,
			ErrorMessage: e.ErrorMessage,
		}, nil
	case MachineState:
		env := Envelope{Kind: KindMachineState, Phase: e.Phase, Machine: e.Machine, Seq: e.Seq}
		if e.Machine != nil {
			env.WorkspaceID = e.Machine.WorkspaceID
			env.MachineID = e.Machine.ID
			env.MachineName = e.Machine.Name
		}
		return env, nil
	case WorkspaceChanged:
		return Envelope{Kind: e.Kind, WorkspaceID: e.WorkspaceID}, nil
	}
	return Envelope{}, fmt.Errorf("encode %T: %w", ev, ErrUnknownKind)
}

// Decode parses a JSON envelope into its event variant.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return env.Event()
}

// Event validates the envelope and returns the matching variant.
func (env Envelope) Event() (Event, error) {
	switch env.Kind {
	case KindMachineStatus:
		if err := checkPhase(env.Phase); err != nil {
			return nil, err
		}
		if env.Phase != models.StatusError && env.MachineID == "" {
			return nil, errors.New("machine_id required")
		}
		return StatusChanged{
			Phase:        env.Phase,
			WorkspaceID:  env.WorkspaceID,
			MachineID:    env.MachineID,
			MachineName:  env.MachineName,
			ErrorMessage: env.ErrorMessage,
		}, nil
	case KindMachineState:
		if err := checkPhase(env.Phase); err != nil {
			return nil, err
		}
		m := env.Machine
		if m == nil {
			m = &models.Machine{ID: env.MachineID, WorkspaceID: env.WorkspaceID, Name: env.MachineName, Status: env.Phase}
		}
		return MachineState{Phase: env.Phase, Machine: m, Seq: env.Seq}, nil
	case KindWorkspaceStarted, KindWorkspaceStopped:
		if env.WorkspaceID == "" {
			return nil, errors.New("workspace_id required")
		}
		return WorkspaceChanged{Kind: env.Kind, WorkspaceID: env.WorkspaceID}, nil
	}
	return nil, fmt.Errorf("%q: %w", env.Kind, ErrUnknownKind)
}

func checkPhase(p models.Status) error {
	switch p {
	case models.StatusCreating, models.StatusRunning, models.StatusDestroyed, models.StatusError:
		return nil
	}
	return fmt.Errorf("unsupported lifecycle phase %q", p)
}

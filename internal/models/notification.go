package models

import "time"

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityFail    Severity = "fail"
	SeverityInfo    Severity = "info"
)

// DisplayMode tells the notification surface how to present a message.
type DisplayMode string

const (
	ModeEmerge DisplayMode = "emerge"
	ModeFloat  DisplayMode = "float"
)

// Notification is a user-facing message produced by the tracker.
type Notification struct {
	ID       string      `json:"id"`
	Message  string      `json:"message"`
	Severity Severity    `json:"severity"`
	Mode     DisplayMode `json:"mode"`
	Time     time.Time   `json:"time"`
}

// EventRecord is one applied lifecycle transition as kept in the journal.
type EventRecord struct {
	ID          string    `json:"id"`
	Seq         uint64    `json:"seq"`
	MachineID   string    `json:"machine_id"`
	WorkspaceID string    `json:"workspace_id"`
	MachineName string    `json:"machine_name"`
	Phase       Status    `json:"phase"`
	At          time.Time `json:"at"`
}

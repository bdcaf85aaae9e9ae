package tracker

import (
	"context"

	"github.com/ringtail/che/internal/models"
)

// Fetcher returns the current snapshot of a workspace.
type Fetcher interface {
	GetWorkspace(ctx context.Context, workspaceID string) (*models.Workspace, error)
}

// Display receives the panel state. Calls are fire-and-forget and happen on
// the loop goroutine.
type Display interface {
	SetData(root *Node)
	SelectNode(node *Node)
	ShowAppliance(m *models.Machine)
	ShowStub(message string)
}

// Notifier surfaces user-facing notifications. Fire-and-forget.
type Notifier interface {
	Notify(n models.Notification)
}

type nopDisplay struct{}

func (nopDisplay) SetData(*Node) {}
func (nopDisplay) SelectNode(*Node) {}
func (nopDisplay) ShowAppliance(*models.Machine) {}
func (nopDisplay) ShowStub(string) {}

type nopNotifier struct{}

func (nopNotifier) Notify(models.Notification) {}

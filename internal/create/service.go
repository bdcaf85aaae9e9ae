package create

import (
	"context"

	"go.uber.org/zap"

	"github.com/ringtail/che/internal/models"
)

// Client is the slice of the workspace API used for machine creation.
type Client interface {
	SearchRecipes(ctx context.Context, tags []string, recipeType string, skip, max int) ([]models.Recipe, error)
	StartMachine(ctx context.Context, workspaceID string, cfg models.MachineConfig) (*models.MachineDescriptor, error)
	DestroyMachine(ctx context.Context, workspaceID, machineID string) error
}

// Machines locates the current dev machine and checks it against the server.
type Machines interface {
	DevMachine(ctx context.Context) (*models.Machine, bool, error)
	Resolve(ctx context.Context, workspaceID, machineID string) (*models.Machine, error)
}

type Service struct {
	client      Client
	machines    Machines
	workspaceID string
	log         *zap.Logger
}

func NewService(client Client, machines Machines, workspaceID string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		client:      client,
		machines:    machines,
		workspaceID: workspaceID,
		log:         log.Named("create"),
	}
}

// SearchRecipes returns docker recipes carrying tags. No tags clears the
// result without a remote call.
func (s *Service) SearchRecipes(ctx context.Context, tags []string) ([]models.Recipe, error) {
	if len(tags) == 0 {
		return []models.Recipe{}, nil
	}
	return s.client.SearchRecipes(ctx, tags, RecipeType, searchSkip, searchMax)
}

// Create starts a regular machine from the form.
func (s *Service) Create(ctx context.Context, f Form) (*models.MachineDescriptor, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	d, err := s.client.StartMachine(ctx, s.workspaceID, machineConfig(f, false))
	if err != nil {
		return nil, err
	}
	s.log.Info("machine start requested", zap.String("name", f.Name), zap.String("machine_id", d.ID))
	return d, nil
}

// ReplaceDevMachine destroys the current dev machine, if the server still
// knows it, and starts a new dev machine from the form.
func (s *Service) ReplaceDevMachine(ctx context.Context, f Form) (*models.MachineDescriptor, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	dev, ok, err := s.machines.DevMachine(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		s.destroyIfPresent(ctx, dev)
	}

	d, err := s.client.StartMachine(ctx, s.workspaceID, machineConfig(f, true))
	if err != nil {
		return nil, err
	}
	s.log.Info("dev machine start requested", zap.String("name", f.Name), zap.String("machine_id", d.ID))
	return d, nil
}

func (s *Service) destroyIfPresent(ctx context.Context, dev *models.Machine) {
	m, err := s.machines.Resolve(ctx, dev.WorkspaceID, dev.ID)
	if err != nil {
		s.log.Warn("resolve dev machine", zap.String("machine_id", dev.ID), zap.Error(err))
		return
	}
	if m == nil {
		return
	}
	if err := s.client.DestroyMachine(ctx, m.WorkspaceID, m.ID); err != nil {
		s.log.Warn("destroy dev machine", zap.String("machine_id", m.ID), zap.Error(err))
	}
}

func machineConfig(f Form, dev bool) models.MachineConfig {
	return models.MachineConfig{
		Name: f.Name,
		Dev:  dev,
		Type: RecipeType,
		Source: &models.MachineSource{
			Type:     sourceType,
			Location: f.RecipeURL,
		},
	}
}

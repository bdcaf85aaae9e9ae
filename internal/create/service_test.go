package create

import (
	"context"
	"errors"
	"testing"

	"github.com/ringtail/che/internal/models"
)

type fakeClient struct {
	searches  int
	started   []models.MachineConfig
	destroyed []string
	recipes   []models.Recipe
}

func (c *fakeClient) SearchRecipes(_ context.Context, tags []string, recipeType string, skip, max int) ([]models.Recipe, error) {
	c.searches++
	if recipeType != RecipeType || skip != 0 || max != 100 {
		return nil, errors.New("unexpected search parameters")
	}
	return c.recipes, nil
}

func (c *fakeClient) StartMachine(_ context.Context, workspaceID string, cfg models.MachineConfig) (*models.MachineDescriptor, error) {
	c.started = append(c.started, cfg)
	return &models.MachineDescriptor{ID: "new", WorkspaceID: workspaceID, Status: models.StatusCreating, Config: cfg}, nil
}

func (c *fakeClient) DestroyMachine(_ context.Context, _ string, machineID string) error {
	c.destroyed = append(c.destroyed, machineID)
	return nil
}

type fakeMachines struct {
	dev      *models.Machine
	remote   *models.Machine
	resolveE error
}

func (m *fakeMachines) DevMachine(context.Context) (*models.Machine, bool, error) {
	return m.dev, m.dev != nil, nil
}

func (m *fakeMachines) Resolve(context.Context, string, string) (*models.Machine, error) {
	return m.remote, m.resolveE
}

func TestValidRecipeURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"http://example.com/recipe/1/script", true},
		{"https://www.codenvy.io:8080/api/recipe/abc/script?x=1#top", true},
		{"ftp://10.0.0.1/file", true},
		{"http://localhost:8080/api/recipe/r1/script", true},
		{"example.com/recipe", false},
		{"", false},
		{"mailto:someone@example.com", false},
	}
	for _, tt := range tests {
		if got := ValidRecipeURL(tt.in); got != tt.want {
			t.Errorf("ValidRecipeURL(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormCanCreate(t *testing.T) {
	url := "http://localhost/api/recipe/r1/script"
	if !(Form{Name: "db", RecipeURL: url}).CanCreate() {
		t.Fatal("valid form rejected")
	}
	if (Form{RecipeURL: url}).CanCreate() {
		t.Fatal("form without a name accepted")
	}
	err := Form{Name: "db", RecipeURL: "nope"}.Validate()
	if !errors.Is(err, ErrInvalidForm) {
		t.Fatalf("Validate() error = %v, want ErrInvalidForm", err)
	}
}

func TestParseTags(t *testing.T) {
	got := ParseTags(" java, maven  ubuntu,")
	want := []string{"java", "maven", "ubuntu"}
	if len(got) != len(want) {
		t.Fatalf("ParseTags() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ParseTags() = %v, want %v", got, want)
		}
	}
}

func TestSearchRecipesEmptyTagsClears(t *testing.T) {
	c := &fakeClient{recipes: []models.Recipe{{ID: "r1"}}}
	s := NewService(c, &fakeMachines{}, "ws1", nil)

	rs, err := s.SearchRecipes(context.Background(), nil)
	if err != nil || len(rs) != 0 || rs == nil {
		t.Fatalf("SearchRecipes(nil) = %v, %v", rs, err)
	}
	if c.searches != 0 {
		t.Fatal("empty tags reached the server")
	}

	rs, err = s.SearchRecipes(context.Background(), []string{"java"})
	if err != nil || len(rs) != 1 {
		t.Fatalf("SearchRecipes(java) = %v, %v", rs, err)
	}
}

func TestCreateStartsRegularMachine(t *testing.T) {
	c := &fakeClient{}
	s := NewService(c, &fakeMachines{}, "ws1", nil)

	if _, err := s.Create(context.Background(), Form{Name: "db"}); !errors.Is(err, ErrInvalidForm) {
		t.Fatalf("Create(invalid) error = %v", err)
	}
	d, err := s.Create(context.Background(), Form{Name: "db", RecipeURL: "http://localhost/r"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if d.WorkspaceID != "ws1" || len(c.started) != 1 {
		t.Fatalf("descriptor = %+v, started = %v", d, c.started)
	}
	cfg := c.started[0]
	if cfg.Dev || cfg.Type != "docker" || cfg.Source.Location != "http://localhost/r" {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestReplaceDevMachine(t *testing.T) {
	form := Form{Name: "dev2", RecipeURL: "http://localhost/r"}
	dev := &models.Machine{ID: "m1", WorkspaceID: "ws1", Dev: true}

	tests := []struct {
		name          string
		machines      *fakeMachines
		wantDestroyed int
	}{
		{"present", &fakeMachines{dev: dev, remote: dev}, 1},
		{"gone from server", &fakeMachines{dev: dev}, 0},
		{"resolve fails", &fakeMachines{dev: dev, resolveE: errors.New("boom")}, 0},
		{"no dev machine", &fakeMachines{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeClient{}
			s := NewService(c, tt.machines, "ws1", nil)
			if _, err := s.ReplaceDevMachine(context.Background(), form); err != nil {
				t.Fatalf("ReplaceDevMachine() error = %v", err)
			}
			if len(c.destroyed) != tt.wantDestroyed {
				t.Fatalf("destroyed = %v, want %d", c.destroyed, tt.wantDestroyed)
			}
			if len(c.started) != 1 || !c.started[0].Dev {
				t.Fatalf("started = %+v, want one dev machine", c.started)
			}
		})
	}
}

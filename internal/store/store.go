package store

import (
	"context"
	"time"
)

// Workspace groups the services of one project root. Deleting a workspace
// cascades to its services.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RootPath  string    `json:"rootPath"`
	CreatedAt time.Time `json:"createdAt"`
}

// ServiceConfig is the durable definition of one managed service. ID is
// immutable once created. EnvVars override the inherited environment;
// Port 0 means unset.
type ServiceConfig struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspaceId"`
	Name        string            `json:"name"`
	RepoPath    string            `json:"repoPath"`
	Command     string            `json:"command"`
	Port        int               `json:"port,omitempty"`
	EnvVars     map[string]string `json:"envVars,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// ServicePatch is a partial update of a ServiceConfig. Nil fields are left
// unchanged; EnvVars replaces the whole map when set.
type ServicePatch struct {
	Name     *string            `json:"name,omitempty"`
	RepoPath *string            `json:"repoPath,omitempty"`
	Command  *string            `json:"command,omitempty"`
	Port     *int               `json:"port,omitempty"`
	EnvVars  *map[string]string `json:"envVars,omitempty"`
}

// Empty reports whether the patch sets no fields.
func (p ServicePatch) Empty() bool {
	return p.Name == nil && p.RepoPath == nil && p.Command == nil &&
		p.Port == nil && p.EnvVars == nil
}

// Store is the durable configuration contract: workspaces and the service
// definitions they own. Lookups report existence with a bool instead of an
// error so callers decide what "missing" means.
type Store interface {
	EnsureSchema(ctx context.Context) error

	CreateWorkspace(ctx context.Context, ws Workspace) error
	Workspace(ctx context.Context, id string) (Workspace, bool, error)
	// Workspaces lists all workspaces, oldest first.
	Workspaces(ctx context.Context) ([]Workspace, error)
	// DeleteWorkspace removes a workspace and all of its services in one
	// transaction; false when the id is unknown.
	DeleteWorkspace(ctx context.Context, id string) (bool, error)

	CreateService(ctx context.Context, cfg ServiceConfig) error
	Service(ctx context.Context, id string) (ServiceConfig, bool, error)
	// Services lists service definitions, oldest first. An empty workspaceID
	// lists across all workspaces.
	Services(ctx context.Context, workspaceID string) ([]ServiceConfig, error)
	// UpdateService applies a partial update; false when the patch is empty
	// or the id is unknown.
	UpdateService(ctx context.Context, id string, patch ServicePatch) (bool, error)
	// DeleteService removes one service definition; false when unknown.
	DeleteService(ctx context.Context, id string) (bool, error)

	Close() error
}

// Package template generates starter service definitions for common local
// dev stacks. Generated JSON matches the /api/services create payload, so a
// template can be edited and handed straight to the API or the CLI.
package template

import (
	"encoding/json"
	"fmt"
)

// Type selects the kind of service a template describes.
type Type string

const (
	TypeWeb      Type = "web"
	TypeFrontend Type = "frontend"
	TypeAPI      Type = "api"
	TypeBackend  Type = "backend"
	TypeWorker   Type = "worker"
	TypeQueue    Type = "queue"
	TypeDatabase Type = "database"
	TypeDB       Type = "db"
	TypeStatic   Type = "static"
	TypeSimple   Type = "simple"
	TypeBasic    Type = "basic"
)

// ServiceTemplate is a starter service definition. Field names line up with
// the service create request, minus the workspace reference.
type ServiceTemplate struct {
	Name     string            `json:"name"`
	RepoPath string            `json:"repoPath,omitempty"`
	Command  string            `json:"command"`
	Port     int               `json:"port,omitempty"`
	EnvVars  map[string]string `json:"envVars,omitempty"`
}

// Generator provides template generation functionality.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates a service template for the given type and name.
func (g *Generator) Generate(t Type, name string) (*ServiceTemplate, error) {
	switch t {
	case TypeWeb, TypeFrontend:
		return g.webTemplate(name), nil
	case TypeAPI, TypeBackend:
		return g.apiTemplate(name), nil
	case TypeWorker, TypeQueue:
		return g.workerTemplate(name), nil
	case TypeDatabase, TypeDB:
		return g.databaseTemplate(name), nil
	case TypeStatic:
		return g.staticTemplate(name), nil
	case TypeSimple, TypeBasic:
		return g.simpleTemplate(name), nil
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: web, api, worker, database, static, simple)", t)
	}
}

// GenerateJSON renders a template as indented JSON.
func (g *Generator) GenerateJSON(t Type, name string) ([]byte, error) {
	tmpl, err := g.Generate(t, name)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(tmpl, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return data, nil
}

// SupportedTypes returns the primary name of every template type.
func (g *Generator) SupportedTypes() []string {
	return []string{
		string(TypeWeb),
		string(TypeAPI),
		string(TypeWorker),
		string(TypeDatabase),
		string(TypeStatic),
		string(TypeSimple),
	}
}

func (g *Generator) webTemplate(name string) *ServiceTemplate {
	return &ServiceTemplate{
		Name:     name,
		RepoPath: "./" + name,
		Command:  "npm run dev",
		Port:     3000,
		EnvVars: map[string]string{
			"NODE_ENV": "development",
			"PORT":     "3000",
		},
	}
}

func (g *Generator) apiTemplate(name string) *ServiceTemplate {
	return &ServiceTemplate{
		Name:     name,
		RepoPath: "./" + name,
		Command:  "uvicorn main:app --reload --port 8000",
		Port:     8000,
		EnvVars: map[string]string{
			"PYTHONUNBUFFERED": "1",
			"LOG_LEVEL":        "debug",
		},
	}
}

func (g *Generator) workerTemplate(name string) *ServiceTemplate {
	return &ServiceTemplate{
		Name:     name,
		RepoPath: "./" + name,
		Command:  "python3 worker.py",
		EnvVars: map[string]string{
			"PYTHONUNBUFFERED": "1",
			"QUEUE":            "default",
		},
	}
}

func (g *Generator) databaseTemplate(name string) *ServiceTemplate {
	return &ServiceTemplate{
		Name:    name,
		Command: "postgres -D ./pgdata -p 5432",
		Port:    5432,
		EnvVars: map[string]string{
			"PGDATA": "./pgdata",
		},
	}
}

func (g *Generator) staticTemplate(name string) *ServiceTemplate {
	return &ServiceTemplate{
		Name:     name,
		RepoPath: "./" + name,
		Command:  "python3 -m http.server 8080",
		Port:     8080,
	}
}

func (g *Generator) simpleTemplate(name string) *ServiceTemplate {
	return &ServiceTemplate{
		Name:    name,
		Command: fmt.Sprintf("while true; do echo %s heartbeat; sleep 5; done", name),
	}
}

package main

import "time"

// Flag structs decouple cobra wiring from command logic for testing.

// GlobalFlags holds the persistent flags of the root command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags carry the daemon connection settings shared by client commands.
type APIFlags struct {
	URL     string
	Timeout time.Duration
	Token   string
}

type ServeFlags struct {
	ConfigPath string
}

type WorkspaceCreateFlags struct {
	Name     string
	RootPath string
	APIFlags
}

// WorkspaceFlags address one workspace by id (get/delete/start/stop).
type WorkspaceFlags struct {
	ID string
	APIFlags
}

type ServiceCreateFlags struct {
	WorkspaceID string
	Name        string
	RepoPath    string
	Command     string
	Port        int
	Env         []string
	FromFile    string
	APIFlags
}

// TemplateCreateFlags configure starter definition generation. Purely
// local, no daemon connection involved.
type TemplateCreateFlags struct {
	Type   string
	Name   string
	Output string
	Force  bool
}

type ServiceListFlags struct {
	WorkspaceID string
	APIFlags
}

// ServiceFlags address one service by id (get/delete/checks).
type ServiceFlags struct {
	ID string
	APIFlags
}

type ServiceUpdateFlags struct {
	ID       string
	Name     string
	RepoPath string
	Command  string
	Port     int
	Env      []string
	APIFlags
}

// LifecycleFlags drive start/stop of one service.
type LifecycleFlags struct {
	ServiceID string
	APIFlags
}

type StatusFlags struct {
	ServiceID   string
	WorkspaceID string
	APIFlags
}

type TailFlags struct {
	ServiceID string
	Lines     int
	APIFlags
}

type HistoryFlags struct {
	ServiceID string
	SessionID int64
	Level     string
	Search    string
	Limit     int
	Offset    int
	APIFlags
}

type StatsFlags struct {
	ServiceID string
	APIFlags
}

type SessionsFlags struct {
	ServiceID string
	Limit     int
	APIFlags
}

type SessionFlags struct {
	ID     int64
	Delete bool
	APIFlags
}

type ClearFlags struct {
	ServiceID string
	APIFlags
}

type PurgeFlags struct {
	Days int
	APIFlags
}

type EventsFlags struct {
	ServiceID string
	APIFlags
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentobs

import "time"

// Machine is a host agents run on.
type Machine struct {
	ID          int64          `json:"id"`
	MachineID   string         `json:"machineId"`
	Hostname    string         `json:"hostname"`
	Username    string         `json:"username"`
	OSType      string         `json:"osType"`
	OSVersion   string         `json:"osVersion,omitempty"`
	MachineType string         `json:"machineType"`
	IPAddress   string         `json:"ipAddress,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	LastSeenAt  time.Time      `json:"lastSeenAt"`
}

// MachineInput registers or refreshes a machine. Hostname, Username
// and OSType are only written when the machine is first seen or when
// non-empty.
type MachineInput struct {
	MachineID   string         `json:"machineId"`
	Hostname    string         `json:"hostname"`
	Username    string         `json:"username"`
	OSType      string         `json:"osType"`
	OSVersion   string         `json:"osVersion,omitempty"`
	MachineType string         `json:"machineType,omitempty"`
	IPAddress   string         `json:"ipAddress,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Workspace is a working directory on one machine bound to one
// project.
type Workspace struct {
	ID            int64     `json:"id"`
	WorkspaceID   string    `json:"workspaceId"`
	ProjectID     int64     `json:"projectId"`
	MachineRef    int64     `json:"machineRef"`
	WorkspacePath string    `json:"workspacePath"`
	WorkspaceType string    `json:"workspaceType"`
	Branch        string    `json:"branch,omitempty"`
	Commit        string    `json:"commit,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
}

// WorkspaceInput registers or refreshes a workspace. ProjectID and
// MachineRef bind only on creation; later upserts never move a
// workspace.
type WorkspaceInput struct {
	WorkspaceID   string `json:"workspaceId"`
	ProjectID     int64  `json:"projectId"`
	MachineRef    int64  `json:"machineRef"`
	WorkspacePath string `json:"workspacePath"`
	WorkspaceType string `json:"workspaceType,omitempty"`
	Branch        string `json:"branch,omitempty"`
	Commit        string `json:"commit,omitempty"`
}

// Project is the read-side view of a project owned by the CRUD
// application.
type Project struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

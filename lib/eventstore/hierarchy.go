// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"context"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/codervisor/devlog-sub006/lib/observeerr"
	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

// UnknownOSType is stored for machines registered without an OS type.
// A later upsert that names the OS type replaces it.
const UnknownOSType = "unknown"

const machineColumns = "id, machine_id, hostname, username, os_type, os_version, " +
	"machine_type, ip_address, metadata, created_at, last_seen_at"

const workspaceColumns = "id, workspace_id, project_id, machine_ref, workspace_path, " +
	"workspace_type, branch, commit_hash, created_at, last_seen_at"

// UpsertMachine creates the machine on first sight and otherwise
// refreshes last_seen_at plus any non-empty descriptive fields.
func (s *Store) UpsertMachine(ctx context.Context, input agentobs.MachineInput) (*agentobs.Machine, error) {
	if input.MachineID == "" {
		return nil, observeerr.Validation([]string{"machineId"}, "machine id is required")
	}

	conn, err := s.take(ctx, "upsert machine")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	machineType := input.MachineType
	if machineType == "" {
		machineType = "local"
	}
	osType := input.OSType
	if osType == "" {
		osType = UnknownOSType
	}
	metadataJSON, err := encodeJSON(input.Metadata)
	if err != nil {
		return nil, fmt.Errorf("event store: marshal machine metadata: %w", err)
	}
	now := nanos(s.clock.Now())

	var machine *agentobs.Machine
	err = sqlitex.Execute(conn, `INSERT INTO machines
		(machine_id, hostname, username, os_type, os_version, machine_type,
		 ip_address, metadata, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(machine_id) DO UPDATE SET
			last_seen_at = excluded.last_seen_at,
			hostname     = CASE WHEN excluded.hostname != '' THEN excluded.hostname ELSE hostname END,
			username     = CASE WHEN excluded.username != '' THEN excluded.username ELSE username END,
			os_type      = CASE WHEN excluded.os_type != '`+UnknownOSType+`' THEN excluded.os_type ELSE os_type END,
			os_version   = CASE WHEN excluded.os_version != '' THEN excluded.os_version ELSE os_version END,
			ip_address   = CASE WHEN excluded.ip_address != '' THEN excluded.ip_address ELSE ip_address END,
			metadata     = COALESCE(excluded.metadata, metadata)
		RETURNING `+machineColumns, &sqlitex.ExecOptions{
		Args: []any{
			input.MachineID, input.Hostname, input.Username, osType,
			input.OSVersion, machineType, input.IPAddress, metadataJSON, now, now,
		},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			scanned, err := scanMachine(stmt)
			if err != nil {
				return err
			}
			machine = &scanned
			return nil
		},
	})
	if err != nil {
		return nil, s.fail("upsert machine", err)
	}
	return machine, nil
}

// GetMachine returns the machine with the given external id.
func (s *Store) GetMachine(ctx context.Context, machineID string) (*agentobs.Machine, error) {
	machines, err := s.listMachines(ctx, "get machine", "WHERE machine_id = ?", machineID)
	if err != nil {
		return nil, err
	}
	if len(machines) == 0 {
		return nil, observeerr.NotFound("machine", "machine %s not found", machineID)
	}
	return &machines[0], nil
}

// ListMachines returns every machine, most recently seen first.
func (s *Store) ListMachines(ctx context.Context) ([]agentobs.Machine, error) {
	return s.listMachines(ctx, "list machines", "")
}

func (s *Store) listMachines(ctx context.Context, operation, where string, args ...any) ([]agentobs.Machine, error) {
	conn, err := s.take(ctx, operation)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query := "SELECT " + machineColumns + " FROM machines " + where + " ORDER BY last_seen_at DESC, id ASC"
	var machines []agentobs.Machine
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			machine, err := scanMachine(stmt)
			if err != nil {
				return err
			}
			machines = append(machines, machine)
			return nil
		},
	})
	if err != nil {
		return nil, s.fail(operation, err)
	}
	return machines, nil
}

func scanMachine(stmt *sqlite.Stmt) (agentobs.Machine, error) {
	machine := agentobs.Machine{
		ID:          stmt.ColumnInt64(0),
		MachineID:   stmt.ColumnText(1),
		Hostname:    stmt.ColumnText(2),
		Username:    stmt.ColumnText(3),
		OSType:      stmt.ColumnText(4),
		OSVersion:   stmt.ColumnText(5),
		MachineType: stmt.ColumnText(6),
		IPAddress:   stmt.ColumnText(7),
		CreatedAt:   fromNanos(stmt.ColumnInt64(9)),
		LastSeenAt:  fromNanos(stmt.ColumnInt64(10)),
	}
	if err := decodeJSONColumn(stmt, 8, &machine.Metadata); err != nil {
		return machine, fmt.Errorf("decoding metadata of machine %s: %w", machine.MachineID, err)
	}
	return machine, nil
}

// UpsertWorkspace creates the workspace on first sight. Later upserts
// refresh last_seen_at and the path, plus branch and commit when given.
// The owning project and machine never change once bound.
func (s *Store) UpsertWorkspace(ctx context.Context, input agentobs.WorkspaceInput) (*agentobs.Workspace, error) {
	var missing []string
	if input.WorkspaceID == "" {
		missing = append(missing, "workspaceId")
	}
	if input.ProjectID <= 0 {
		missing = append(missing, "projectId")
	}
	if input.MachineRef <= 0 {
		missing = append(missing, "machineRef")
	}
	if len(missing) > 0 {
		return nil, observeerr.Validation(missing, "invalid workspace")
	}

	conn, err := s.take(ctx, "upsert workspace")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	workspaceType := input.WorkspaceType
	if workspaceType == "" {
		workspaceType = "folder"
	}
	now := nanos(s.clock.Now())

	var workspace *agentobs.Workspace
	err = sqlitex.Execute(conn, `INSERT INTO workspaces
		(workspace_id, project_id, machine_ref, workspace_path, workspace_type,
		 branch, commit_hash, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id) DO UPDATE SET
			last_seen_at   = excluded.last_seen_at,
			workspace_path = CASE WHEN excluded.workspace_path != '' THEN excluded.workspace_path ELSE workspace_path END,
			branch         = CASE WHEN excluded.branch != '' THEN excluded.branch ELSE branch END,
			commit_hash    = CASE WHEN excluded.commit_hash != '' THEN excluded.commit_hash ELSE commit_hash END
		RETURNING `+workspaceColumns, &sqlitex.ExecOptions{
		Args: []any{
			input.WorkspaceID, input.ProjectID, input.MachineRef, input.WorkspacePath,
			workspaceType, input.Branch, input.Commit, now, now,
		},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			scanned := scanWorkspace(stmt)
			workspace = &scanned
			return nil
		},
	})
	if err != nil {
		return nil, s.fail("upsert workspace", err)
	}
	return workspace, nil
}

// GetWorkspace returns the workspace with the given external id.
func (s *Store) GetWorkspace(ctx context.Context, workspaceID string) (*agentobs.Workspace, error) {
	workspaces, err := s.listWorkspaces(ctx, "get workspace", []string{"workspace_id = ?"}, []any{workspaceID})
	if err != nil {
		return nil, err
	}
	if len(workspaces) == 0 {
		return nil, observeerr.NotFound("workspace", "workspace %s not found", workspaceID)
	}
	return &workspaces[0], nil
}

// ListWorkspaces returns workspaces, optionally restricted to one
// project, most recently seen first.
func (s *Store) ListWorkspaces(ctx context.Context, projectID int64) ([]agentobs.Workspace, error) {
	var conditions []string
	var args []any
	if projectID > 0 {
		conditions = append(conditions, "project_id = ?")
		args = append(args, projectID)
	}
	return s.listWorkspaces(ctx, "list workspaces", conditions, args)
}

func (s *Store) listWorkspaces(ctx context.Context, operation string, conditions []string, args []any) ([]agentobs.Workspace, error) {
	conn, err := s.take(ctx, operation)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query := "SELECT " + workspaceColumns + " FROM workspaces"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY last_seen_at DESC, id ASC"

	var workspaces []agentobs.Workspace
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			workspaces = append(workspaces, scanWorkspace(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, s.fail(operation, err)
	}
	return workspaces, nil
}

func scanWorkspace(stmt *sqlite.Stmt) agentobs.Workspace {
	return agentobs.Workspace{
		ID:            stmt.ColumnInt64(0),
		WorkspaceID:   stmt.ColumnText(1),
		ProjectID:     stmt.ColumnInt64(2),
		MachineRef:    stmt.ColumnInt64(3),
		WorkspacePath: stmt.ColumnText(4),
		WorkspaceType: stmt.ColumnText(5),
		Branch:        stmt.ColumnText(6),
		Commit:        stmt.ColumnText(7),
		CreatedAt:     fromNanos(stmt.ColumnInt64(8)),
		LastSeenAt:    fromNanos(stmt.ColumnInt64(9)),
	}
}

// PutProject writes a project row, replacing any existing one. The CRUD
// application owns projects; this exists for seeding and tests.
func (s *Store) PutProject(ctx context.Context, project agentobs.Project) error {
	conn, err := s.take(ctx, "put project")
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	metadataJSON, err := encodeJSON(project.Metadata)
	if err != nil {
		return fmt.Errorf("event store: marshal project metadata: %w", err)
	}
	createdAt := project.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock.Now()
	}
	err = sqlitex.Execute(conn, `INSERT INTO projects (id, name, metadata, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, metadata = excluded.metadata`, &sqlitex.ExecOptions{
		Args: []any{project.ID, project.Name, metadataJSON, nanos(createdAt)},
	})
	if err != nil {
		return s.fail("put project", err)
	}
	return nil
}

// GetProject returns one project.
func (s *Store) GetProject(ctx context.Context, id int64) (*agentobs.Project, error) {
	conn, err := s.take(ctx, "get project")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var project *agentobs.Project
	err = sqlitex.Execute(conn, "SELECT id, name, metadata, created_at FROM projects WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			scanned := agentobs.Project{
				ID:        stmt.ColumnInt64(0),
				Name:      stmt.ColumnText(1),
				CreatedAt: fromNanos(stmt.ColumnInt64(3)),
			}
			if err := decodeJSONColumn(stmt, 2, &scanned.Metadata); err != nil {
				return fmt.Errorf("decoding metadata of project %d: %w", scanned.ID, err)
			}
			project = &scanned
			return nil
		},
	})
	if err != nil {
		return nil, s.fail("get project", err)
	}
	if project == nil {
		return nil, observeerr.NotFound("project", "project %d not found", id)
	}
	return project, nil
}

// EnsureProject creates a placeholder row for an unknown project id,
// marked autoCreated in its metadata. Reports whether a row was
// created.
func (s *Store) EnsureProject(ctx context.Context, id int64) (bool, error) {
	conn, err := s.take(ctx, "ensure project")
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO projects (id, name, metadata, created_at)
		VALUES (?, ?, '{"autoCreated":true}', ?)
		ON CONFLICT(id) DO NOTHING`, &sqlitex.ExecOptions{
		Args: []any{id, fmt.Sprintf("project-%d", id), nanos(s.clock.Now())},
	})
	if err != nil {
		return false, s.fail("ensure project", err)
	}
	return conn.Changes() > 0, nil
}

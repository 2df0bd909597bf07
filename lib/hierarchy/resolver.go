// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hierarchy links events to the machines and workspaces they
// came from. Agent collectors embed machine and workspace identity in
// every event's context; the Resolver turns those identities into
// stored rows, upserting each distinct machine and workspace once per
// call.
//
// Resolution is lenient about missing data and strict about storage:
// an event without identity fields simply stays unlinked, while a
// store failure is returned so the caller can fail the ingestion and
// let the collector retry.
package hierarchy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

// Store is the persistence the Resolver needs. *eventstore.Store
// satisfies it.
type Store interface {
	UpsertMachine(ctx context.Context, input agentobs.MachineInput) (*agentobs.Machine, error)
	UpsertWorkspace(ctx context.Context, input agentobs.WorkspaceInput) (*agentobs.Workspace, error)
}

// Resolution maps external identities to internal row ids.
type Resolution struct {
	Machines   map[string]int64
	Workspaces map[string]int64
}

// Link sets MachineRef and WorkspaceRef on each event whose identities
// resolved.
func (r Resolution) Link(events []agentobs.AgentEvent) {
	for i := range events {
		eventContext := &events[i].Context
		if id, ok := r.Machines[eventContext.MachineID]; ok {
			events[i].MachineRef = id
		}
		if id, ok := r.Workspaces[eventContext.WorkspaceID]; ok {
			events[i].WorkspaceRef = id
		}
	}
}

// Resolver upserts the hierarchy referenced by events.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver returns a Resolver backed by store.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

type workspaceCandidate struct {
	input     agentobs.WorkspaceInput
	machineID string
}

// Resolve upserts every machine, then every workspace, referenced by
// events. Each distinct machineId and workspaceId is written once; when
// several events name the same workspace the first one decides its
// project and owning machine. A workspace whose machine did not resolve
// is skipped.
func (r *Resolver) Resolve(ctx context.Context, events []agentobs.AgentEvent) (Resolution, error) {
	resolution := Resolution{
		Machines:   make(map[string]int64),
		Workspaces: make(map[string]int64),
	}

	var machines []agentobs.MachineInput
	seenMachines := make(map[string]bool)
	var workspaces []workspaceCandidate
	seenWorkspaces := make(map[string]bool)

	for i := range events {
		event := &events[i]
		eventContext := event.Context

		if machine, ok := machineInput(eventContext); ok {
			if !seenMachines[machine.MachineID] {
				seenMachines[machine.MachineID] = true
				machines = append(machines, machine)
			}
		} else if eventContext.MachineID != "" {
			r.logger.Debug("skipping machine with incomplete identity",
				"machine_id", eventContext.MachineID,
				"event_id", event.ID,
			)
		}

		if eventContext.WorkspaceID == "" || seenWorkspaces[eventContext.WorkspaceID] {
			continue
		}
		if eventContext.MachineID == "" || event.ProjectID <= 0 {
			r.logger.Debug("skipping workspace with incomplete identity",
				"workspace_id", eventContext.WorkspaceID,
				"event_id", event.ID,
			)
			continue
		}
		seenWorkspaces[eventContext.WorkspaceID] = true
		path := eventContext.WorkspacePath
		if path == "" {
			path = eventContext.WorkingDirectory
		}
		workspaces = append(workspaces, workspaceCandidate{
			input: agentobs.WorkspaceInput{
				WorkspaceID:   eventContext.WorkspaceID,
				ProjectID:     event.ProjectID,
				WorkspacePath: path,
				WorkspaceType: eventContext.WorkspaceType,
				Branch:        eventContext.Branch,
				Commit:        eventContext.Commit,
			},
			machineID: eventContext.MachineID,
		})
	}

	for _, input := range machines {
		machine, err := r.store.UpsertMachine(ctx, input)
		if err != nil {
			return resolution, fmt.Errorf("hierarchy: upserting machine %s: %w", input.MachineID, err)
		}
		resolution.Machines[input.MachineID] = machine.ID
	}

	for _, candidate := range workspaces {
		machineRef, ok := resolution.Machines[candidate.machineID]
		if !ok {
			r.logger.Debug("skipping workspace with unresolved machine",
				"workspace_id", candidate.input.WorkspaceID,
				"machine_id", candidate.machineID,
			)
			continue
		}
		candidate.input.MachineRef = machineRef
		workspace, err := r.store.UpsertWorkspace(ctx, candidate.input)
		if err != nil {
			return resolution, fmt.Errorf("hierarchy: upserting workspace %s: %w", candidate.input.WorkspaceID, err)
		}
		resolution.Workspaces[candidate.input.WorkspaceID] = workspace.ID
	}

	return resolution, nil
}

// machineInput extracts a machine identity from an event context. A
// machine needs its id plus hostname and username to be registered; the
// store fills in an unknown OS type.
func machineInput(eventContext agentobs.EventContext) (agentobs.MachineInput, bool) {
	if eventContext.MachineID == "" || eventContext.Hostname == "" || eventContext.Username == "" {
		return agentobs.MachineInput{}, false
	}
	return agentobs.MachineInput{
		MachineID: eventContext.MachineID,
		Hostname:  eventContext.Hostname,
		Username:  eventContext.Username,
		OSType:    eventContext.OSType,
		OSVersion: eventContext.OSVersion,
	}, true
}

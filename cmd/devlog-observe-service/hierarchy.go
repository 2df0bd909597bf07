// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

// Collectors may register their machine and workspace up front instead
// of relying on resolution from event contexts. Both upserts are
// idempotent.

func (a *api) handleUpsertMachine(w http.ResponseWriter, r *http.Request) {
	var input agentobs.MachineInput
	if err := decodeBody(r, &input); err != nil {
		a.writeError(w, err)
		return
	}
	machine, err := a.store.UpsertMachine(r.Context(), input)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, machine)
}

func (a *api) handleListMachines(w http.ResponseWriter, r *http.Request) {
	machines, err := a.store.ListMachines(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, nonNil(machines))
}

func (a *api) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	machine, err := a.store.GetMachine(r.Context(), mux.Vars(r)["machineId"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, machine)
}

func (a *api) handleUpsertWorkspace(w http.ResponseWriter, r *http.Request) {
	var input agentobs.WorkspaceInput
	if err := decodeBody(r, &input); err != nil {
		a.writeError(w, err)
		return
	}
	workspace, err := a.store.UpsertWorkspace(r.Context(), input)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, workspace)
}

func (a *api) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	q := newQueryParams(r.URL.Query())
	projectID := q.integer64("projectId")
	if err := q.err(); err != nil {
		a.writeError(w, err)
		return
	}
	workspaces, err := a.store.ListWorkspaces(r.Context(), projectID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, nonNil(workspaces))
}

func (a *api) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	workspace, err := a.store.GetWorkspace(r.Context(), mux.Vars(r)["workspaceId"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeResponse(w, r, http.StatusOK, workspace)
}

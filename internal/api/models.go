package api

import (
	"encoding/json"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
)

// AddTaskRequest describes one task to enqueue. Only kinds a client may
// start directly are accepted; receive and part upload tasks are created
// by the executors.
type AddTaskRequest struct {
	Kind    domain.Kind     `json:"kind"    validate:"required,oneof=DUMMY INVENTORY_REQUEST ARCHIVE_REQUEST ARCHIVE_UPLOAD"`
	Name    string          `json:"name"    validate:"max=512"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// AddTasksRequest defines the payload for POST /api/tasks. All tasks are
// accepted or none is.
type AddTasksRequest struct {
	Tasks []AddTaskRequest `json:"tasks" validate:"required,min=1,max=1000,dive"`
}

// TaskResponse is the client view of a queued task.
type TaskResponse struct {
	ID         string          `json:"id"`
	GroupID    string          `json:"group_id"`
	Name       string          `json:"name"`
	Kind       domain.Kind     `json:"kind"`
	Category   domain.Category `json:"category"`
	Priority   int             `json:"priority"`
	StartAfter *time.Time      `json:"start_after,omitempty"`
	Created    time.Time       `json:"created"`
	Executing  bool            `json:"executing"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// TasksResponse wraps a list of tasks.
type TasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

// DeleteTasksRequest defines the payload for DELETE /api/tasks.
type DeleteTasksRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

// DeleteTasksResponse reports how many queued tasks were removed.
type DeleteTasksResponse struct {
	Deleted int64 `json:"deleted"`
}

// CancelTasksRequest defines the payload for POST /api/tasks/cancel. Either
// explicit ids or a whole group can be cancelled.
type CancelTasksRequest struct {
	IDs     []string `json:"ids"      validate:"required_without=GroupID,dive,required"`
	GroupID string   `json:"group_id" validate:"required_without=IDs"`
}

// CancelTasksResponse reports how many tasks a cancel request touched.
type CancelTasksResponse struct {
	Cancelled int `json:"cancelled"`
}

// StatusResponse summarizes the runner.
type StatusResponse struct {
	InFlight int `json:"in_flight"`
	Ready    int `json:"ready"`
}

// VaultsResponse lists remote vaults.
type VaultsResponse struct {
	Vaults []domain.VaultInfo `json:"vaults"`
}

// ArchivesResponse lists inventory records.
type ArchivesResponse struct {
	Archives []domain.ArchiveRecord `json:"archives"`
}

// RetrieveRequest defines the payload for POST /api/retrievals: every
// archive whose virtual path starts with Prefix is downloaded into SaveDir,
// recreating the directory structure below the prefix's parent.
type RetrieveRequest struct {
	VaultARN string      `json:"vault_arn" validate:"required"`
	Prefix   string      `json:"prefix"    validate:"required"`
	SaveDir  string      `json:"save_dir"  validate:"required"`
	Tier     domain.Tier `json:"tier"      validate:"required,oneof=Expedited Standard Bulk"`
}

func taskToResponse(t domain.Task, executing bool) TaskResponse {
	resp := TaskResponse{
		ID:        t.ID,
		GroupID:   t.GroupID,
		Name:      t.Name,
		Kind:      t.Kind,
		Category:  t.Category,
		Priority:  t.Priority,
		Created:   t.Created,
		Executing: executing,
		Payload:   t.Payload,
	}
	if !t.StartAfter.IsZero() {
		startAfter := t.StartAfter
		resp.StartAfter = &startAfter
	}
	return resp
}

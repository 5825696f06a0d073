package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/coldstore/internal/api/shared"
	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/platform/logger"
)

// eventBuffer is the per-client event buffer of the event stream. Slow
// clients lose events rather than stall the runner.
const eventBuffer = 256

// TaskService is the part of the task runner driven over HTTP.
type TaskService interface {
	Add(ctx context.Context, tasks ...domain.Task) error
	Find(ctx context.Context, filter domain.TaskFilter) ([]domain.QueuedTask, error)
	Delete(ctx context.Context, ids []string) (int64, error)
	Cancel(ids ...string)
	CancelGroup(ctx context.Context, groupID string) (int, error)
	Subscribe(buffer int) (<-chan domain.OutputEvent, func())
	InFlight() int
	Ready(ctx context.Context) (int, error)
}

// TaskHandler handles task queue requests
type TaskHandler struct {
	tasks TaskService
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(tasks TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// AddTasks handles POST /api/tasks requests
func (h *TaskHandler) AddTasks(w http.ResponseWriter, r *http.Request) {
	var req AddTasksRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	tasks := make([]domain.Task, 0, len(req.Tasks))
	for _, item := range req.Tasks {
		t, err := domain.NewSubmittedTask(item.Kind, item.Name, item.Payload)
		if err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
		tasks = append(tasks, t)
	}

	if err := h.tasks.Add(r.Context(), tasks...); err != nil {
		HandleAPIError(w, r, err, "Failed to add tasks")
		return
	}

	logger.FromContext(r.Context()).Info("tasks submitted", slog.Int("count", len(tasks)))

	resp := TasksResponse{Tasks: make([]TaskResponse, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, taskToResponse(t, false))
	}

	// Accepted: the tasks reach the store asynchronously
	shared.RespondWithJSON(w, r, http.StatusAccepted, resp)
}

// ListTasks handles GET /api/tasks requests
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := taskFilterFromQuery(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	found, err := h.tasks.Find(r.Context(), filter)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}

	resp := TasksResponse{Tasks: make([]TaskResponse, 0, len(found))}
	for _, qt := range found {
		resp.Tasks = append(resp.Tasks, taskToResponse(qt.Task, qt.Executing))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// DeleteTasks handles DELETE /api/tasks requests. Running tasks are removed
// from the queue but keep running; cancel them first.
func (h *TaskHandler) DeleteTasks(w http.ResponseWriter, r *http.Request) {
	var req DeleteTasksRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	n, err := h.tasks.Delete(r.Context(), req.IDs)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to delete tasks")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, DeleteTasksResponse{Deleted: n})
}

// CancelTasks handles POST /api/tasks/cancel requests
func (h *TaskHandler) CancelTasks(w http.ResponseWriter, r *http.Request) {
	var req CancelTasksRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 && req.GroupID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid ids: required field")
		return
	}

	cancelled := 0
	if len(req.IDs) > 0 {
		h.tasks.Cancel(req.IDs...)
		cancelled += len(req.IDs)
	}

	if req.GroupID != "" {
		n, err := h.tasks.CancelGroup(r.Context(), req.GroupID)
		if err != nil {
			HandleAPIError(w, r, err, "Failed to cancel group")
			return
		}
		cancelled += n
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, CancelTasksResponse{Cancelled: cancelled})
}

// Status handles GET /api/status requests
func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	ready, err := h.tasks.Ready(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read queue status")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, StatusResponse{
		InFlight: h.tasks.InFlight(),
		Ready:    ready,
	})
}

// StreamEvents handles GET /api/events requests. Output events are written
// as newline delimited JSON until the client disconnects. The optional
// task_id and group_id parameters narrow the stream.
func (h *TaskHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	groupID := r.URL.Query().Get("group_id")

	stream, err := shared.NewEventStream(w)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Streaming not supported", err)
		return
	}

	events, unsubscribe := h.tasks.Subscribe(eventBuffer)
	defer unsubscribe()

	log := logger.FromContext(r.Context())
	log.Debug("event stream opened", slog.String("task_id", taskID), slog.String("group_id", groupID))

	for {
		select {
		case <-r.Context().Done():
			log.Debug("event stream closed by client")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if taskID != "" && ev.Task.ID != taskID {
				continue
			}
			if groupID != "" && ev.Task.GroupID != groupID {
				continue
			}
			if err := stream.Send(ev); err != nil {
				log.Debug("event stream write failed", slog.Any("error", err))
				return
			}
		}
	}
}

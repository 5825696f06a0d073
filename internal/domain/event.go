package domain

// Status is the lifecycle state reported in an OutputEvent.
type Status string

// Event statuses
const (
	StatusCreated         Status = "CREATED"
	StatusWaiting         Status = "WAITING"
	StatusActive          Status = "ACTIVE"
	StatusSuccess         Status = "SUCCESS"
	StatusError           Status = "ERROR"
	StatusRemovedSilently Status = "REMOVED_SILENTLY"
	StatusCancelled       Status = "CANCELLED"
)

// Terminal reports whether no further events are expected for the task.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusRemovedSilently, StatusCancelled:
		return true
	}
	return false
}

// OutputEvent is a progress or lifecycle notification about one task.
// Events are never persisted.
type OutputEvent struct {
	Task    Task    `json:"task"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
	Status  Status  `json:"status"`
}

// NewOutputEvent builds an event for t.
func NewOutputEvent(t Task, status Status, percent float64, message string) OutputEvent {
	return OutputEvent{
		Task:    t,
		Percent: percent,
		Message: message,
		Status:  status,
	}
}

package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies which executor runs a task. The set is closed.
type Kind string

// Task kinds
const (
	KindDummy             Kind = "DUMMY"
	KindInventoryRequest  Kind = "INVENTORY_REQUEST"
	KindInventoryReceive  Kind = "INVENTORY_RECEIVE"
	KindArchiveRequest    Kind = "ARCHIVE_REQUEST"
	KindArchiveReceive    Kind = "ARCHIVE_RECEIVE"
	KindArchiveUpload     Kind = "ARCHIVE_UPLOAD"
	KindArchivePartUpload Kind = "ARCHIVE_PART_UPLOAD"
)

// Kinds returns every task kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindDummy,
		KindInventoryRequest,
		KindInventoryReceive,
		KindArchiveRequest,
		KindArchiveReceive,
		KindArchiveUpload,
		KindArchivePartUpload,
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Category groups tasks by the kind of traffic they generate.
type Category string

// Task categories
const (
	CategoryDownload Category = "DOWNLOAD"
	CategoryUpload   Category = "UPLOAD"
	CategoryMeta     Category = "META"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryDownload, CategoryUpload, CategoryMeta:
		return true
	}
	return false
}

// Scheduling priorities. Lower values run first.
const (
	PriorityMeta            = 0
	PriorityCreateDirectory = 10
	PriorityDownloadFile    = 20
	PriorityUploadFile      = 20
	PriorityInitiateUpload  = 30
)

// Task is one unit of durable work. Tasks are immutable once queued: a task
// that needs to continue later is replaced by one or more successors with
// fresh ids.
type Task struct {
	ID         string          `json:"id"`
	GroupID    string          `json:"group_id"`
	Name       string          `json:"name"`
	Kind       Kind            `json:"kind"`
	Priority   int             `json:"priority"`
	Category   Category        `json:"category"`
	StartAfter time.Time       `json:"start_after"`
	Created    time.Time       `json:"created"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewTask builds a task with a fresh id and group id. The payload is
// serialized as JSON; a nil payload leaves the task without data.
func NewTask(name string, kind Kind, category Category, priority int, payload any) (Task, error) {
	t := Task{
		ID:       NewTaskID(),
		GroupID:  NewGroupID(name),
		Name:     name,
		Kind:     kind,
		Priority: priority,
		Category: category,
		Created:  time.Now().UTC(),
	}

	if err := t.SetPayload(payload); err != nil {
		return Task{}, err
	}

	if err := t.Validate(); err != nil {
		return Task{}, err
	}

	return t, nil
}

// Successor returns a follow-up task that inherits the display name,
// group and creation time of t but carries its own id, kind and payload.
func (t Task) Successor(kind Kind, category Category, priority int, startAfter time.Time, payload any) (Task, error) {
	next := Task{
		ID:         NewTaskID(),
		GroupID:    t.GroupID,
		Name:       t.Name,
		Kind:       kind,
		Priority:   priority,
		Category:   category,
		StartAfter: startAfter.UTC(),
		Created:    t.Created,
	}

	if err := next.SetPayload(payload); err != nil {
		return Task{}, err
	}

	if err := next.Validate(); err != nil {
		return Task{}, err
	}

	return next, nil
}

// Retry returns a copy of t with a new id that becomes visible at
// startAfter. It is used when a remote job is not ready yet.
func (t Task) Retry(startAfter time.Time) Task {
	next := t
	next.ID = NewTaskID()
	next.StartAfter = startAfter.UTC()
	return next
}

// SetPayload serializes v as the task payload.
func (t *Task) SetPayload(v any) error {
	if v == nil {
		t.Payload = nil
		return nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: payload: %v", ErrInvalidFormat, err)
	}

	t.Payload = raw
	return nil
}

// DecodePayload unmarshals the task payload into v.
func (t Task) DecodePayload(v any) error {
	if len(t.Payload) == 0 {
		return fmt.Errorf("%w: task %s has no payload", ErrInvalidFormat, t.ID)
	}

	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("%w: payload of task %s: %v", ErrInvalidFormat, t.ID, err)
	}

	return nil
}

// Delayed reports whether the task is not yet eligible to run at now.
func (t Task) Delayed(now time.Time) bool {
	return t.StartAfter.After(now)
}

// Validate checks that the task can be stored and dispatched.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: task id is empty", ErrInvalidID)
	}

	if t.GroupID == "" {
		return fmt.Errorf("%w: group id is empty", ErrInvalidID)
	}

	if !t.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, t.Kind)
	}

	if !t.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, t.Category)
	}

	if t.Priority < 0 {
		return fmt.Errorf("%w: negative priority %d", ErrValidation, t.Priority)
	}

	return nil
}

// TaskFilter selects queued tasks. Nil and empty fields match everything.
type TaskFilter struct {
	ID        string    `json:"id,omitempty"`
	GroupID   string    `json:"group_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Kind      Kind      `json:"kind,omitempty"`
	Category  Category  `json:"category,omitempty"`
	Priority  *int      `json:"priority,omitempty"`
	Executing *bool     `json:"executing,omitempty"`
	Delayed   *bool     `json:"delayed,omitempty"`
	Now       time.Time `json:"-"`
}

// QueuedTask is a task together with its queue bookkeeping.
type QueuedTask struct {
	Task
	Executing bool `json:"executing"`
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// GroupSeparator joins a display name and a fresh task id into a group id.
const GroupSeparator = " --- "

// NewTaskID returns a globally unique task id: a random UUID followed by the
// UTC creation instant. Ids are never reused, even across restarts.
func NewTaskID() string {
	return uuid.NewString() + "@" + time.Now().UTC().Format(time.RFC3339Nano)
}

// NewGroupID returns a group id for tasks that belong to one logical
// operation, such as all parts of one multipart upload.
func NewGroupID(name string) string {
	return name + GroupSeparator + NewTaskID()
}

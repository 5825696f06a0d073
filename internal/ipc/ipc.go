// Package ipc defines the line protocol between the server and a task
// process. The parent writes the task as one JSON document to the child's
// stdin; the child answers with newline-delimited JSON messages on stdout.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/phrazzld/coldstore/internal/domain"
)

// MessageType identifies the content of a Message.
type MessageType string

// Message types
const (
	TypeEvent      MessageType = "event"
	TypeSuccessors MessageType = "successors"
)

// ErrUnknownMessage is returned by the decoder for lines it cannot interpret.
var ErrUnknownMessage = errors.New("unknown ipc message")

// Message is one line of child output.
type Message struct {
	Type       MessageType         `json:"type"`
	Event      *domain.OutputEvent `json:"event,omitempty"`
	Successors []domain.Task       `json:"successors,omitempty"`
}

// Encoder writes messages. It is safe for concurrent use.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// WriteEvent sends an output event to the parent.
func (e *Encoder) WriteEvent(ev domain.OutputEvent) error {
	return e.write(Message{Type: TypeEvent, Event: &ev})
}

// WriteSuccessors sends the continuation of the running task.
func (e *Encoder) WriteSuccessors(tasks []domain.Task) error {
	return e.write(Message{Type: TypeSuccessors, Successors: tasks})
}

func (e *Encoder) write(m Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(m); err != nil {
		return fmt.Errorf("failed to write %s message: %w", m.Type, err)
	}
	return nil
}

// Decoder reads messages written by an Encoder.
type Decoder struct {
	dec *json.Decoder
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: json.NewDecoder(r)}
}

// Next returns the next message, or io.EOF at the end of the stream.
func (d *Decoder) Next() (Message, error) {
	var m Message
	if err := d.dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("failed to decode ipc message: %w", err)
	}

	switch m.Type {
	case TypeEvent:
		if m.Event == nil {
			return Message{}, fmt.Errorf("%w: event message without event", ErrUnknownMessage)
		}
	case TypeSuccessors:
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}

	return m, nil
}

// WriteTask sends the task to run.
func WriteTask(w io.Writer, t domain.Task) error {
	if err := json.NewEncoder(w).Encode(t); err != nil {
		return fmt.Errorf("failed to write task %s: %w", t.ID, err)
	}
	return nil
}

// ReadTask reads and validates the task to run.
func ReadTask(r io.Reader) (domain.Task, error) {
	var t domain.Task
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return domain.Task{}, fmt.Errorf("failed to read task: %w", err)
	}
	if err := t.Validate(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Package types defines the task domain model shared by the broker,
// the storage backends, and the CLI.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted:
		return true
	default:
		return false
	}
}

// AllStatuses lists every lifecycle state in dispatch order.
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted}

// ExtraArgs is a flat mapping of generation parameters (seed, cfg scale,
// sampler name, ...) passed through to workers untouched. Values must be
// JSON scalars; nested objects and arrays are rejected at the API boundary.
type ExtraArgs map[string]any

// Validate returns an error naming the first key whose value is not a
// JSON scalar (string, number, or bool).
func (e ExtraArgs) Validate() error {
	for k, v := range e {
		switch v.(type) {
		case nil, string, bool, float64, int, int64:
		case json.Number:
		default:
			return fmt.Errorf("extra_args[%q]: value must be a scalar, got %T", k, v)
		}
	}
	return nil
}

// ScalarString renders a scalar extra_args value the way JSON would,
// without quotes. Used when a task_id is supplied through extra_args.
func ScalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Task is a single unit of image-generation work.
type Task struct {
	// ID is the surrogate row id; zero until persisted.
	ID int64 `json:"-"`

	// TaskID is the public identity, unique across the queue.
	TaskID string `json:"task_id"`

	Prompt    string    `json:"prompt"`
	ExtraArgs ExtraArgs `json:"extra_args"`
	Status    Status    `json:"status"`

	// CreatedAt drives FIFO dispatch ordering and is never updated.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ImagePath is the artifact reference relative to the images root.
	// Empty unless Status is completed.
	ImagePath string `json:"image_path,omitempty"`
}

// MarshalExtraArgs serializes ExtraArgs for the extra_args column.
// A nil map persists as the empty object so old and new rows read alike.
func (t *Task) MarshalExtraArgs() (string, error) {
	if len(t.ExtraArgs) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(t.ExtraArgs)
	if err != nil {
		return "", fmt.Errorf("marshal extra_args: %w", err)
	}
	return string(raw), nil
}

// UnmarshalExtraArgs populates ExtraArgs from the extra_args column.
// NULL and the empty string both decode to an empty map.
func (t *Task) UnmarshalExtraArgs(raw string) error {
	if raw == "" || raw == "null" {
		t.ExtraArgs = ExtraArgs{}
		return nil
	}
	var args ExtraArgs
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return fmt.Errorf("parse extra_args: %w", err)
	}
	if args == nil {
		args = ExtraArgs{}
	}
	t.ExtraArgs = args
	return nil
}

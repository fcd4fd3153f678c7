package client

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when the server has no process with the given id.
var ErrNotFound = errors.New("process not found")

// APIError is an error envelope returned by the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// State is the answer of /get_process_state. Reaped processes report
// State "gone" and Alive false.
type State struct {
	ProcessID     string    `json:"process_id"`
	State         string    `json:"state"`
	Alive         bool      `json:"alive"`
	CreatedAt     time.Time `json:"created_at"`
	LastRefreshAt time.Time `json:"last_refresh_at"`
	Error         string    `json:"error"`
}

// Gone reports whether the process has left the server's registry.
func (s State) Gone() bool { return s.State == "gone" }

// Finished reports whether the worker has stopped, successfully or not.
func (s State) Finished() bool { return s.State == "success" || s.State == "failed" }

// Update is one message of the output stream. Output holds the whole
// retained output when Update is true and is empty otherwise.
type Update struct {
	Update bool   `json:"update"`
	Output string `json:"output"`
}

type envelope struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ProcessID string `json:"process_id"`
	Output    string `json:"output"`
	Accepted  bool   `json:"accepted"`
}

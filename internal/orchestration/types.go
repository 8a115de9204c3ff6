// ABOUTME: Plan and result types exchanged between director, workers, and summarizer
// ABOUTME: WorkerName is a closed enum so unknown workers are an enumerable error

package orchestration

import (
	"fmt"
	"strings"
)

// WorkerName identifies one specialist worker.
type WorkerName int

const (
	WorkerResponse WorkerName = iota + 1
	WorkerSearch
	WorkerTokenLaunch
	WorkerDeveloper
)

var workerNames = map[WorkerName]string{
	WorkerResponse:    "response",
	WorkerSearch:      "search",
	WorkerTokenLaunch: "token_launch",
	WorkerDeveloper:   "developer",
}

// Workers lists every known worker in declaration order.
var Workers = []WorkerName{WorkerResponse, WorkerSearch, WorkerTokenLaunch, WorkerDeveloper}

func (w WorkerName) String() string {
	if s, ok := workerNames[w]; ok {
		return s
	}
	return fmt.Sprintf("worker(%d)", int(w))
}

// Valid reports whether w is one of the known workers.
func (w WorkerName) Valid() bool {
	_, ok := workerNames[w]
	return ok
}

// ParseWorkerName accepts "token_launch", "TokenLaunch", "token-launch" and similar.
func ParseWorkerName(s string) (WorkerName, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", "", "-", "", " ", "").Replace(norm)
	switch norm {
	case "response":
		return WorkerResponse, nil
	case "search":
		return WorkerSearch, nil
	case "tokenlaunch":
		return WorkerTokenLaunch, nil
	case "developer":
		return WorkerDeveloper, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownWorker, s)
}

func (w WorkerName) MarshalText() ([]byte, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownWorker, int(w))
	}
	return []byte(w.String()), nil
}

func (w *WorkerName) UnmarshalText(text []byte) error {
	v, err := ParseWorkerName(string(text))
	if err != nil {
		return err
	}
	*w = v
	return nil
}

// Assignment is one delegated task.
type Assignment struct {
	Worker WorkerName `json:"worker"`
	Task   string     `json:"task"`
}

// SwarmSpec is the director's plan for one message.
type SwarmSpec struct {
	Assignments []Assignment `json:"assignments"`
	DirectReply bool         `json:"direct_reply"`
	Reply       string       `json:"reply,omitempty"`
}

// ResultStatus is "ok" or "error".
type ResultStatus string

const (
	StatusOK    ResultStatus = "ok"
	StatusError ResultStatus = "error"
)

// WorkerResult is the outcome of one assignment.
type WorkerResult struct {
	Worker      WorkerName   `json:"worker"`
	Output      string       `json:"output"`
	Status      ResultStatus `json:"status"`
	ErrorDetail string       `json:"error_detail,omitempty"`
}

// OK reports whether the worker succeeded.
func (r WorkerResult) OK() bool {
	return r.Status == StatusOK
}

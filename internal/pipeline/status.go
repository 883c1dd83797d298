package pipeline

// State is the pipeline run state vocabulary.
type State string

const (
	StateStarting State = "STARTING"
	StatePending  State = "PENDING"
	StateRunning  State = "RUNNING"
	StateDone     State = "DONE"
	StateFailed   State = "FAILED"
	StateUnknown  State = "UNKNOWN"
)

// RunStatus is the polled record for one pipeline run. Output and Error
// are opaque payloads present once the run reaches a terminal state.
type RunStatus struct {
	State  State          `json:"state"`
	Output map[string]any `json:"output,omitempty"`
	Error  map[string]any `json:"error,omitempty"`
}

// Terminal reports whether no further state transition is expected.
func (r RunStatus) Terminal() bool {
	return r.State == StateDone || r.State == StateFailed
}

// StartResult is the response to a pipeline start request. Some backend
// versions report the initial state under "status" instead of "state";
// RunState folds the two together.
type StartResult struct {
	RunID   string `json:"runId"`
	State   State  `json:"state,omitempty"`
	Status  State  `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// RunState returns the reported initial state regardless of which field
// carried it.
func (r StartResult) RunState() State {
	if r.State != "" {
		return r.State
	}
	return r.Status
}

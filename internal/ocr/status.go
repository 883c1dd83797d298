package ocr

// Status is the OCR task status vocabulary.
type Status string

const (
	StatusStarting   Status = "STARTING"
	StatusProcessing Status = "PROCESSING"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// TaskStatus is the polled record for one OCR task. Result and Error
// are opaque payloads the backend populates once the task reaches a
// terminal state.
type TaskStatus struct {
	Status Status         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  map[string]any `json:"error,omitempty"`
}

// Terminal reports whether no further state transition is expected.
func (t TaskStatus) Terminal() bool {
	switch t.Status {
	case StatusSucceeded, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

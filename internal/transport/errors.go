package transport

import "errors"

// SubmitError labels a failed submission with its family-specific
// prefix, e.g. "Upload failed: Pipeline not found".
type SubmitError struct {
	Label string
	Err   error
}

func (e *SubmitError) Error() string {
	return e.Label + ": " + e.Err.Error()
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// WrapSubmit applies the family label to application-level failures.
// Transport errors (no response at all) pass through with their
// original message.
func WrapSubmit(label string, err error) error {
	var se *StatusError
	if errors.As(err, &se) {
		return &SubmitError{Label: label, Err: se}
	}
	return err
}

package control

import "fmt"

// ClampFloat clamps value between min and max
func ClampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// CollaboratorError names the collaborator whose failure stopped the loop.
type CollaboratorError struct {
	Collaborator string
	Op           string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Cause lets github.com/pkg/errors.Cause see through the wrapper.
func (e *CollaboratorError) Cause() error { return e.Err }

func collaboratorErr(collaborator, op string, err error) error {
	return &CollaboratorError{Collaborator: collaborator, Op: op, Err: err}
}

// Package hardware holds the pieces shared by the motor and encoder collaborators.
package hardware

import "github.com/pkg/errors"

// Direction selects which way positive motion is counted or driven.
type Direction int

const (
	NormalDir   Direction = 0
	ReversedDir Direction = 1
)

// Sign is +1 for NormalDir and -1 for ReversedDir.
func (d Direction) Sign() float64 {
	if d == ReversedDir {
		return -1
	}
	return 1
}

func (d Direction) String() string {
	switch d {
	case NormalDir:
		return "normal"
	case ReversedDir:
		return "reversed"
	default:
		return "invalid"
	}
}

// Validate rejects anything but NormalDir and ReversedDir.
func (d Direction) Validate() error {
	if d != NormalDir && d != ReversedDir {
		return errors.Errorf("direction must be %d (normal) or %d (reversed), got %d", NormalDir, ReversedDir, int(d))
	}
	return nil
}

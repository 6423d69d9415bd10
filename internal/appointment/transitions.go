package appointment

import "fmt"

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  nil,
	StatusFailed:     nil,
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidStatusTransition for any pair outside the table.
func CheckTransition(from, to AppointmentStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
	}
	return nil
}

// PathTo returns the forward steps needed to reach target from current.
// A confirmation for a PENDING appointment walks through PROCESSING.
func PathTo(current, target AppointmentStatus) ([]AppointmentStatus, error) {
	if CanTransition(current, target) {
		return []AppointmentStatus{target}, nil
	}
	if current == StatusPending && target == StatusCompleted {
		return []AppointmentStatus{StatusProcessing, StatusCompleted}, nil
	}
	return nil, CheckTransition(current, target)
}

// Terminal statuses accept no further transition.
func (s AppointmentStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

package trip

import (
	"errors"
	"strings"
)

// Status is a trip status as stored in the `trips` table.
type Status string

const (
	StatusRequested  Status = "REQUESTED"
	StatusMatching   Status = "MATCHING"
	StatusAssigned   Status = "ASSIGNED"
	StatusPriced     Status = "PRICED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusUnmatched  Status = "UNMATCHED"
)

var ErrInvalidStatus = errors.New("invalid trip status")

// ParseStatus normalizes (uppercases+trims) and validates a status string.
func ParseStatus(in string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(in)))
	if status.Valid() {
		return status, nil
	}
	return "", ErrInvalidStatus
}

// Valid reports whether status is one of the allowed trip status constants.
func (status Status) Valid() bool {
	switch status {
	case StatusRequested, StatusMatching, StatusAssigned, StatusPriced,
		StatusInProgress, StatusCompleted, StatusCancelled, StatusUnmatched:
		return true
	default:
		return false
	}
}

// String returns the string representation of the Status.
func (status Status) String() string {
	return string(status)
}

// CanTransitionTo specifies if the status can transition to the next status.
func (status Status) CanTransitionTo(next Status) bool {
	switch status {
	case StatusRequested:
		return next == StatusMatching || next == StatusCancelled

	case StatusMatching:
		return next == StatusAssigned || next == StatusUnmatched || next == StatusCancelled

	case StatusAssigned:
		return next == StatusPriced || next == StatusCancelled

	case StatusPriced:
		return next == StatusInProgress || next == StatusCancelled

	case StatusInProgress:
		return next == StatusCompleted

	case StatusCompleted, StatusCancelled, StatusUnmatched:
		return false

	default:
		return false
	}
}

// Terminal indicates if the status is in a terminal state: no further transition is permitted.
func (status Status) Terminal() bool {
	return status == StatusCompleted || status == StatusCancelled || status == StatusUnmatched
}

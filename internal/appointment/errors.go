package appointment

import "errors"

var (
	ErrValidation          = errors.New("invalid input")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrRequestNotFound     = errors.New("service request not found")
	ErrForbidden           = errors.New("actor not permitted for this operation")
	ErrInvalidTransition   = errors.New("transition not allowed from current status")
	ErrProviderNotAssigned = errors.New("provider has no accepted proposal for this request")
	ErrWindowConflict      = errors.New("window overlaps another appointment or blackout")
	ErrConflict            = errors.New("appointment was modified concurrently, refetch and retry")
)

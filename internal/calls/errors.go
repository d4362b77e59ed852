package calls

import "errors"

var (
	ErrNotFound          = errors.New("calls: call not found")
	ErrForbidden         = errors.New("calls: not permitted for this party")
	ErrInvalidTransition = errors.New("calls: invalid transition")
	ErrInvalidArgument   = errors.New("calls: invalid argument")
	ErrIssuance          = errors.New("calls: credential issuance failed")

	// ErrConflict is the repository-level status guard failure. The service
	// reports it to callers as ErrInvalidTransition.
	ErrConflict  = errors.New("calls: status changed concurrently")
	ErrDuplicate = errors.New("calls: duplicate call id")
)

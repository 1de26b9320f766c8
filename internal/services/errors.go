package services

import (
	"errors"
	"fmt"

	"github.com/swarmbet/backend/internal/repository"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrValidation         = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrNotActive          = errors.New("poll is not active")
	ErrConflict           = errors.New("conflict")
	ErrAdapterUnavailable = errors.New("external adapter unavailable")
	ErrStorage            = errors.New("storage failure")
)

// errLostRace aborts a transaction whose conditional transition matched no row.
var errLostRace = errors.New("lost race to a concurrent writer")

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storageError hides the driver error from callers while keeping it in the message for logs.
func storageError(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

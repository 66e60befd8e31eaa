package access

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredential indicates a malformed or unverifiable credential.
	ErrInvalidCredential = errors.New("access: invalid credential")
	// ErrExpired indicates a credential past its validity window.
	ErrExpired = errors.New("access: credential expired")
	// ErrNotFound indicates that the requested permission entry does not exist.
	ErrNotFound = errors.New("access: not found")
	// ErrPersistence indicates a store failure; the mutation was not applied.
	ErrPersistence = errors.New("access: persistence failure")
	// ErrInvalidEntry indicates a triple that can never be stored.
	ErrInvalidEntry    = errors.New("access: invalid entry")
	ErrUnknownFacility = errors.New("access: unknown facility")
	ErrUnknownRole     = errors.New("access: unknown role")
)

// persistenceError tags err as ErrPersistence unless it already carries a
// sentinel the caller must see unchanged.
func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidEntry) || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

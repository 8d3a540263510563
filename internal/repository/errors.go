// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the auth
// service and handlers to distinguish "nothing there" from "the store is
// broken".
package repository

import (
	"errors"
	"fmt"
)

// ErrPersistence wraps every storage failure (connection loss, constraint
// violation, timeout). Callers must treat the operation as not performed;
// nothing in this package retries.
var ErrPersistence = errors.New("persistence error")

// ErrUserNotFound is returned when no user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// persistenceErr tags err with ErrPersistence while keeping the driver error
// reachable through errors.Is / errors.As.
func persistenceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

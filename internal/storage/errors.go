package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every backend. Callers match them with
// errors.Is through the StorageError wrapper.
var (
	ErrNotFound     = errors.New("storage: object not found")
	ErrKeyExists    = errors.New("storage: key already exists")
	ErrInvalidKey   = errors.New("storage: invalid key")
	ErrTooLarge     = errors.New("storage: object too large")
	ErrAccessDenied = errors.New("storage: access denied")
)

// StorageError carries the operation and key alongside the cause.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

package db

import "errors"

// Sentinel errors returned by the persistence layer. CreateUser and
// CreateWallet return ErrConflict on a unique-constraint violation; nothing
// in this package returns ErrNotFound (lookups return a nil record instead).
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("unique constraint violated")
)

package repository

import "errors"

// ErrNotFound indicates the requested record does not exist in the store,
// whether it was never written, deleted, or expired by the store itself.
var ErrNotFound = errors.New("record not found")

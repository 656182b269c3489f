package store

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("optimistic lock failed")
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrAlreadyExists   = errors.New("already exists")
)

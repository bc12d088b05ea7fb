package models

import "errors"

// Failure classes shared by every layer. Repositories and services wrap these
// with context; the HTTP layer maps them onto response codes.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("invalid input")
)

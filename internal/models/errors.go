package models

import "errors"

var (
	ErrValidation         = errors.New("validation error")
	ErrInvalidID          = errors.New("invalid id")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("request is not in the required state")
	ErrConflict           = errors.New("conflicting operation")
)

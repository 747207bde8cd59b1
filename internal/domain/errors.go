package domain

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrUserNotFound      = errors.New("user not found")
	ErrUnknownEndpoint   = errors.New("unknown endpoint")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrSnapshotNotFound  = errors.New("acl snapshot not found")
)

package auth

import "errors"

var (
	ErrMissingSecret = errors.New("auth secret cannot be empty")
	ErrMissingToken  = errors.New("missing bearer token")
	ErrMissingUserID = errors.New("token has no user id")
)

package database

import "errors"

var (
	ErrManagerClosed   = errors.New("database manager is closed")
	ErrWriteTimeout    = errors.New("write operation timeout")
	ErrInvalidField    = errors.New("invalid predicate field")
	ErrEmptyCollection = errors.New("collection name cannot be empty")
	ErrUnknownWriteOp  = errors.New("unknown write operation")
)

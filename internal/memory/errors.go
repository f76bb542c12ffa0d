package memory

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid context store configuration")
	ErrInvalidDriver = errors.New("invalid context store driver")
)

package commonerrors

import "errors"

var (
	ErrInvalidJWTSecret  = errors.New("JWT_SECRET must be at least 32 bytes")
	ErrInvalidConfigFile = errors.New("invalid config file")
	ErrEmptyUUID         = errors.New("uuid cannot be empty")
)

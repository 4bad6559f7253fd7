package writecache

import "errors"

var (
	ErrPersist       = errors.New("write-cache persist failed")
	ErrUnknownScheme = errors.New("unsupported write-cache backend scheme")
	ErrInvalidDSN    = errors.New("invalid write-cache dsn")
)

package usecase

import "errors"

// Sentinel errors for use case layer
var (
	ErrEmptyMessage   = errors.New("message text is empty")
	ErrMemoryNotFound = errors.New("memory not found")
	ErrInvalidToken   = errors.New("invalid access token")
	ErrNoAuthToken    = errors.New("access token is required")
)

// Context keys for error values
const (
	OwnerKey    = "owner"
	MemoryIDKey = "memory_id"
	RequestKey  = "request_id"
)

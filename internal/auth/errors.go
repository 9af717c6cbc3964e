package auth

import "errors"

// Domain-specific errors for credential handling.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidConnectionString is returned when a connection string is
	// malformed or missing required fields.
	ErrInvalidConnectionString = errors.New("auth: invalid connection string")

	// ErrInvalidKey is returned when a shared access key is not valid base64.
	ErrInvalidKey = errors.New("auth: invalid shared access key")

	// ErrCertificate is returned when a client certificate cannot be loaded.
	ErrCertificate = errors.New("auth: cannot load client certificate")
)

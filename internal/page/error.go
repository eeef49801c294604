package page

import "errors"

// Local sentinels. The root digby package maps these onto its public
// error kinds at the API boundary via errors.Is; kept local here so this
// package has no dependency on anything above it.
var (
	ErrIntegrity  = errors.New("page: integrity check failed")
	ErrFormat     = errors.New("page: unsupported format")
	ErrInvalidKey = errors.New("page: invalid key")
)

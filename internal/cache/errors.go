package cache

import "errors"

// Domain-specific errors for cache operations.
var (
	// ErrCacheDirUnavailable is returned when the cache directory cannot
	// be created or written. Fatal at startup when caching is requested.
	ErrCacheDirUnavailable = errors.New("cache: directory unavailable")
)

package rate

import "errors"

var (
	// ErrRateLimited is returned when a refresh counter exceeds its budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable is returned when the backing store cannot be reached.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

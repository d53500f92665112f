package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrMalformedMarket = errors.New("malformed market")
	ErrNoMarkets       = errors.New("no markets available")
	ErrStaleGeneration = errors.New("stale fetch generation")
	ErrLockHeld        = errors.New("lock already held")
)

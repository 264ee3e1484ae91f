package ama

import "errors"

var (
	// ErrNetwork means a request to the remote service could not complete successfully.
	ErrNetwork = errors.New("network error")
	// ErrDecode means a response body or live frame did not have the expected shape.
	ErrDecode = errors.New("decode error")
	// ErrValidation means input was rejected locally before any network call.
	ErrValidation = errors.New("validation error")
	// ErrChannelDropped means the live push channel was lost and could not be restored.
	ErrChannelDropped = errors.New("live channel dropped")
)

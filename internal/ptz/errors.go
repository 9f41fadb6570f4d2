package ptz

import "errors"

var (
	// ErrTransport means the request never got a usable answer from the device.
	ErrTransport = errors.New("transport error")
	// ErrParse means the device answered with malformed or incomplete XML.
	ErrParse = errors.New("parse error")
	// ErrValidation means the input was rejected before any request was made.
	ErrValidation = errors.New("validation error")
	// ErrStorageUnavailable means the settings backend cannot be used.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrStaleEndpoint means a result arrived after the active camera changed.
	ErrStaleEndpoint = errors.New("stale endpoint")
	ErrUnknownCamera = errors.New("unknown camera")
)

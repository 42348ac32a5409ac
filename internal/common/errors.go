// Package common contains shared constants and sentinel errors used across
// inspectsync components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Upload errors. ErrUploadRejected is wrapped together with the HTTP
	// status code returned by the receiving endpoint.
	ErrUploadRejected = errors.New("upload rejected")

	// Status transition errors. Retry is only legal from the failed state.
	ErrNotRetryable = errors.New("record is not in a retryable state")
)

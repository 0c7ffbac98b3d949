package scan

import "errors"

// Classified remote failures. The repository client maps raw API errors to
// these; everything else is treated as transient.
var (
	ErrNotFound     = errors.New("remote object not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("invalid authorization")
)

// ErrInterrupted marks a run that was cancelled and checkpointed. The
// process exits cleanly and the user can resume.
var ErrInterrupted = errors.New("scan interrupted, progress saved")

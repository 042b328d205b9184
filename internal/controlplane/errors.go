package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrReinstallFailed = errors.New("validator reinstall failed")
	ErrNoHistory       = errors.New("run history not configured")
)

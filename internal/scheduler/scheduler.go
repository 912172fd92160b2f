// Package scheduler registers the enforcer as a recurring system job.
package scheduler

import "context"

// Scheduler installs and removes the recurring enforcer job. Unregister
// is idempotent: an absent job is not an error, which lets the enforcer
// deregister itself on every expired pass until it succeeds.
type Scheduler interface {
	Register(ctx context.Context) error
	Unregister(ctx context.Context) error
	Registered(ctx context.Context) (bool, error)
}

// Job describes the enforcer job independent of the backend.
type Job struct {
	Label       string
	DisplayName string
	Description string
	Program     string
	Arguments   []string
	// IntervalSeconds is the StartInterval for launchd. Service backends
	// keep the process running and tick internally instead.
	IntervalSeconds int
	LogPath         string
}

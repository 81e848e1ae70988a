// Package jobs runs periodic background maintenance.
package jobs

import "context"

// Job is one unit of background work run by the Scheduler.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Package revision implements the Revision Engine (§4.5): periodic
// immutable snapshots of a document, and restoring a document to one of
// them. Trigger evaluation follows the teacher's trigger-condition-then-execute
// idiom (services/automation's checkAndExecuteTriggers/executeTrigger), here
// evaluated inline after every applied update plus a robfig/cron sweep that
// catches documents gone quiet without a triggering edit.
package revision

import "time"

type Config struct {
	UpdateThreshold        int
	TimeThreshold          time.Duration
	IdleThreshold          time.Duration
	PruneUpdatesOnSnapshot bool
	SweepSchedule          string // cron expression, seconds field included
}

func DefaultConfig() Config {
	return Config{
		UpdateThreshold:        50,
		TimeThreshold:          10 * time.Minute,
		IdleThreshold:          2 * time.Minute,
		PruneUpdatesOnSnapshot: true,
		SweepSchedule:          "*/30 * * * * *",
	}
}

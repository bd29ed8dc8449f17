// Package schedule drives unattended pipeline runs from a cron expression.
//
// Jobs run one at a time; a tick that fires while the previous job is still
// running is skipped rather than queued.
package schedule

// Package scheduler triggers periodic jobs for the daemon, mainly the spool
// flush of every configured runner.
//
// Schedules accept cron expressions (5 or 6 fields, descriptors like
// "@hourly"), Go durations, "@every <duration>" and HH:MM intervals. Interval
// jobs get a random startup spread of up to 30s.
package scheduler

// Package spool persists events a forwarder could not deliver, so the next
// run (or the daemon) can flush them oldest first.
package spool

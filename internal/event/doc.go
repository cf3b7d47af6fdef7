// Package event defines the data flowing through forwarder and eventhandler
// runs: the raw event taken from the command line, and the formatted or
// decided event produced from it.
package event

// Package version holds the release identifier baked into both executables.
package version

// Version is overridden at link time (-ldflags "-X notificationforwarder/internal/version.Version=...").
var Version = "2.6.2.2"

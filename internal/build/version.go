// Package build holds build-time metadata injected via ldflags.
package build

// Version is the application version, overridden at build time.
var Version = "dev"

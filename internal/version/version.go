// Package version holds the build-time version string stamped onto
// evidence packs and DoctorInfo responses.
package version

// Version is overridden at build time via -ldflags, the same convention
// the daemon's RPC server uses for its own version string.
var Version = "0.1.0"

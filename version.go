// Package cblt holds shared metadata for the cblt web server.
package cblt

// Version is the release version of cblt, overridable at build time with
// -ldflags "-X github.com/dabevlohn/cblt.Version=...".
var Version = "0.1.0"

// Package version holds the engine's build-time version token. The websocket
// handshake compares this token against the one baked into the client page,
// so it doubles as the protocol version.
package version

import (
	"fmt"
	"runtime"
)

// Version is overridden by the Go linker on release builds.
var Version = "1.0.0"

// String returns the line printed by `elm-watch version`.
func String() string {
	return fmt.Sprintf("elm-watch %s (%s %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

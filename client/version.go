package client

import (
	"fmt"
	"runtime"
)

// Version is the library version.
const Version = "1.0.0"

// DefaultUserAgent identifies the library, its version and the Go runtime.
func DefaultUserAgent() string {
	return fmt.Sprintf("mystbin-go (https://github.com/tombowditch/mystbin-go %s) Go/%s", Version, runtime.Version())
}

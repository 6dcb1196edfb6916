//go:build !linux && !windows

package notify

import (
	"fmt"
	"runtime"
)

// Native reports that this platform has no native binding.
func Native() (Backend, error) {
	return nil, fmt.Errorf("%w: no native backend on %s", ErrUnknownBackend, runtime.GOOS)
}

// Default returns the fsnotify backend on platforms without a native binding.
func Default() Backend {
	return FSNotify()
}

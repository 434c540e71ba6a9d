//go:build !linux || !(amd64 || 386)

package native

import "github.com/TritonDataCenter/mdb-go/pkg/target"

// Process is a live process. It can not be created on this platform.
type Process struct {
	target.Process
}

// Attach returns ErrNotSupported.
func Attach(pid int, exePath string) (*Process, error) {
	return nil, ErrNotSupported
}

// Package native inspects live processes. Only Linux on amd64 and 386 is
// supported; elsewhere Attach returns ErrNotSupported.
package native

import "errors"

// ErrNotSupported is returned by Attach on platforms without a native
// backend.
var ErrNotSupported = errors.New("attaching to processes is not supported on this platform")

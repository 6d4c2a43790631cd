//go:build !linux

package loadcore

import (
	"context"
	"net"

	"github.com/loadcore/loadcore/internal/errors"
)

// dialVsock is unsupported outside Linux: AF_VSOCK is a Linux-only
// address family, with no equivalent to fall back to on other platforms.
func dialVsock(ctx context.Context, addr string) (net.Conn, error) {
	return nil, errors.New(errors.KindIO, "vsock transport is only supported on linux")
}

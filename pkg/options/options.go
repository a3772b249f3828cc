// Package options collects the per-concern configuration structs shared
// across this module's binaries (HTTP server binding, S3-compatible
// backing store credentials, ...). Each concern implements IOptions so an
// aggregate Options struct can compose them uniformly, the way
// cmd/reconcilerd/app/options.ReconcilerOptions does.
package options

import (
	"fmt"
	"net"

	"github.com/spf13/pflag"
)

// IOptions is implemented by every per-concern options struct in this
// package.
type IOptions interface {
	Validate() []error
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// ValidateAddress checks that addr is a well-formed "host:port" pair.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address must not be empty")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return nil
}

package app

import (
	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// IOptions is implemented by every per-concern options struct
// (SchedulerOptions, AIGatewayOptions, DeployTargetOptions, ...), mirroring
// the teacher's pkg/options.IOptions contract.
type IOptions interface {
	Validate() []error
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// AggregateErrors flattens the []error slices returned by a set of
// IOptions.Validate() calls into a single error, the same way every
// teacher *Options.Validate() aggregate does via utilerrors.NewAggregate.
func AggregateErrors(errSlices ...[]error) error {
	var all []error
	for _, errs := range errSlices {
		all = append(all, errs...)
	}
	return utilerrors.NewAggregate(all)
}

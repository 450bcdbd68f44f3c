package placement

import (
	"context"
	"errors"

	"github.com/cuemby/fleetlb/pkg/types"
)

// ErrBundleSplitUnsupported is returned by DoNamespaceBundleSplit: automatic
// bundle splitting is an explicit non-goal, kept as a stub hook rather than
// omitted entirely.
var ErrBundleSplitUnsupported = errors.New("placement: namespace bundle splitting is not implemented")

// DoNamespaceBundleSplit is the hook a future bundle-splitting feature would
// implement; it is out of scope for this module and always fails.
func (p *Pipeline) DoNamespaceBundleSplit(_ context.Context, _ types.ServiceUnit) error {
	return ErrBundleSplitUnsupported
}

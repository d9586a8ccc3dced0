package boulder

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// ErrSwapchainOutOfDate reports that the surface no longer matches the
// swapchain. It is the recreation trigger, not a failure: the caller skips
// the frame and the next BeginFrame rebuilds the chain.
var ErrSwapchainOutOfDate = errors.New("swapchain out of date")

// ErrDeviceLost reports an unrecoverable device condition. Recovery means a
// full teardown and re-init of the device context, which is the caller's
// job, not this package's.
var ErrDeviceLost = errors.New("device lost")

// fatal wraps a driver failure, marking it as ErrDeviceLost when the result
// code says so. Waits in this package are unbounded, so a timeout result is
// treated the same way: an unresponsive device is gone, not slow.
func fatal(op string, res common.VkResult, err error) error {
	if err == nil {
		return nil
	}
	if res == core1_0.VKErrorDeviceLost || res == core1_0.VKTimeout {
		return errors.Mark(errors.Wrap(err, op), ErrDeviceLost)
	}
	return errors.Wrap(err, op)
}

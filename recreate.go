package boulder

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// maxRecreateAttempts bounds how many times one recreation pass will chase a
// surface that keeps changing underneath it. Hitting the cap is not an
// error; the request flag stays set and the next frame tries again.
const maxRecreateAttempts = 3

// recreateOps is what the recreation protocol needs from the device layer.
// The renderer implements it with driver calls; tests implement it with
// fakes.
type recreateOps interface {
	// drawableSize returns the window's current pixel size. Zero in either
	// dimension means minimized.
	drawableSize() (width, height int)
	// rebuild waits for the device to go idle, replaces the swapchain and
	// its dependents, and returns the extent actually built.
	rebuild(width, height int) (builtWidth, builtHeight int, err error)
	// surfaceExtent re-queries the surface's current extent. Negative
	// values mean the platform leaves the extent undefined and the built
	// chain is authoritative.
	surfaceExtent() (width, height int, err error)
}

// recreationState tracks whether and how urgently the swapchain needs to be
// rebuilt. All access happens on the render thread.
type recreationState struct {
	// needsRecreate is the sticky request flag. It survives minimized
	// windows and capped retry passes, so the rebuild happens as soon as
	// conditions allow.
	needsRecreate bool
	// isRecreating guards against re-entry while a rebuild is running.
	isRecreating bool
	// resizeDuringRecreate records a resize event that arrived mid-rebuild,
	// which invalidates the extent the rebuild was started with.
	resizeDuringRecreate bool
}

// request flags the swapchain for recreation. Safe to call at any time,
// including from resize handlers firing while a rebuild is in progress.
func (s *recreationState) request() {
	s.needsRecreate = true
	if s.isRecreating {
		s.resizeDuringRecreate = true
	}
}

// run performs the recreation protocol if a rebuild is pending. It retries
// when the surface changed while rebuilding, up to maxRecreateAttempts.
// Returning nil with needsRecreate still set means the rebuild was skipped
// (minimized window) or gave up for now (retry cap); both resolve on a
// later frame.
func (s *recreationState) run(ops recreateOps, log logrus.FieldLogger) error {
	if !s.needsRecreate {
		return nil
	}
	if s.isRecreating {
		return nil
	}
	s.isRecreating = true
	defer func() { s.isRecreating = false }()

	for attempt := 0; attempt < maxRecreateAttempts; attempt++ {
		s.resizeDuringRecreate = false

		width, height := ops.drawableSize()
		if width == 0 || height == 0 {
			log.Debug("swapchain recreation deferred: window minimized")
			return nil
		}

		builtWidth, builtHeight, err := ops.rebuild(width, height)
		if err != nil {
			return errors.Wrap(err, "rebuild swapchain")
		}

		surfaceWidth, surfaceHeight, err := ops.surfaceExtent()
		if err != nil {
			return errors.Wrap(err, "re-query surface extent")
		}

		// A platform-defined extent that no longer matches what was built
		// means the surface moved again mid-rebuild.
		surfaceMoved := surfaceWidth >= 0 && surfaceHeight >= 0 &&
			(surfaceWidth != builtWidth || surfaceHeight != builtHeight)

		if surfaceMoved || s.resizeDuringRecreate {
			log.WithFields(logrus.Fields{
				"built":   [2]int{builtWidth, builtHeight},
				"surface": [2]int{surfaceWidth, surfaceHeight},
				"attempt": attempt + 1,
			}).Debug("surface changed during swapchain rebuild, retrying")
			continue
		}

		s.needsRecreate = false
		log.WithFields(logrus.Fields{
			"width":  builtWidth,
			"height": builtHeight,
		}).Info("swapchain recreated")
		return nil
	}

	log.Warn("swapchain recreation gave up after repeated surface changes; will retry next frame")
	return nil
}

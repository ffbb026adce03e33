// Package layer provides the invertible transforms that a flow is composed
// of. Each transform maps a (batch, channel, height, width) grid to another
// grid of the same shape, carries an exact log-determinant for the mapping,
// and can be run in reverse.
package layer

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Float is the element type new transforms are constructed with. Grids fed
// to a transform must match the dtype it was constructed with.
var Float = tensor.Float64

// statFloor is the smallest per-channel standard deviation ActNorm will take
// the log of when seeding. It keeps constant channels from producing an
// infinite scale.
const statFloor = 1e-6

var (
	// ErrShapeMismatch is the cause of all input validation failures.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrSingularWeight is the cause returned when a mixing weight cannot
	// be inverted. It's fatal for the call. No repair is attempted here -
	// recovering (reinitializing the weight, rolling back to an earlier
	// snapshot) is the caller's business.
	ErrSingularWeight = errors.New("singular mixing weight")
)

// initState tracks ActNorm's one-way transition from unseeded to seeded.
type initState byte

const (
	uninitialized initState = iota
	initialized
)

func (s initState) String() string {
	if s == initialized {
		return "initialized"
	}
	return "uninitialized"
}

// checkFloat rejects element types the kernels don't handle.
func checkFloat() error {
	if Float != tensor.Float64 && Float != tensor.Float32 {
		return errors.Errorf("unsupported element type %v - only float64 and float32 are handled", Float)
	}
	return nil
}

// checkGrid validates that grid is 4D (batch, channel, height, width), has
// the expected channel count and the expected dtype.
func checkGrid(grid *tensor.Dense, channels int, dt tensor.Dtype) error {
	if grid == nil {
		return errors.Wrap(ErrShapeMismatch, "nil grid")
	}
	if grid.Dims() != 4 {
		return errors.Wrapf(ErrShapeMismatch, "grid must be 4D (batch, channel, height, width), got %v", grid.Shape())
	}
	if c := grid.Shape()[1]; c != channels {
		return errors.Wrapf(ErrShapeMismatch, "grid has %d channels, transform was built for %d", c, channels)
	}
	if grid.Dtype() != dt {
		return errors.Wrapf(ErrShapeMismatch, "grid is %v, transform parameters are %v", grid.Dtype(), dt)
	}
	return nil
}

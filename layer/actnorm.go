package layer

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ActNorm is a per-channel affine transform. Forward maps x to
// exp(LogScale)·(x + Shift); reverse maps y to y·exp(-LogScale) - Shift.
// Shift and LogScale start out unset and are seeded from the statistics of
// the first grid the transform sees, so that that grid comes out with zero
// mean and unit standard deviation per channel. After seeding they are
// ordinary learnable parameters and the batch statistics are never consulted
// again.
type ActNorm struct {
	Shift    *tensor.Dense // (C)
	LogScale *tensor.Dense // (C)

	c     int
	mu    sync.Mutex // guards state and the seeding writes
	state initState
}

// NewActNorm creates an unseeded ActNorm over the given channel count.
func NewActNorm(channels int) (*ActNorm, error) {
	if channels < 1 {
		return nil, errors.Errorf("channels must be at least 1, got %d", channels)
	}
	if err := checkFloat(); err != nil {
		return nil, err
	}
	return &ActNorm{
		Shift:    tensor.New(tensor.Of(Float), tensor.WithShape(channels)),
		LogScale: tensor.New(tensor.Of(Float), tensor.WithShape(channels)),
		c:        channels,
	}, nil
}

// Name implements a printable name for graph dumps.
func (l *ActNorm) Name() string { return "actnorm" }

// Channels returns the channel count the transform was built for.
func (l *ActNorm) Channels() int { return l.c }

// Parameters returns the learnable parameters: Shift then LogScale.
func (l *ActNorm) Parameters() []*tensor.Dense {
	return []*tensor.Dense{l.Shift, l.LogScale}
}

// Initialized reports whether the data dependent seeding has happened.
func (l *ActNorm) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == initialized
}

func (l *ActNorm) dtype() tensor.Dtype { return l.Shift.Dtype() }

// Apply runs the transform over a (B, C, H, W) grid and returns the new grid
// along with the accumulated log-determinant. Forward adds
// H·W·ΣLogScale to logdet; reverse subtracts the same amount and undoes the
// affine map, so applying forward then reverse is an identity on both grid
// and accumulator (up to float noise).
//
// The very first call - in either direction - seeds Shift and LogScale from
// the input. The seeding is a raw write, not part of any gradient flow, and
// happens exactly once per instance even when goroutines race on the first
// batch: the loser just reads the winner's statistics.
func (l *ActNorm) Apply(grid *tensor.Dense, logdet float64, reverse bool) (*tensor.Dense, float64, error) {
	if err := checkGrid(grid, l.c, l.dtype()); err != nil {
		return nil, 0, errors.Wrap(err, "actnorm")
	}
	l.seed(grid)

	shp := grid.Shape()
	area := float64(shp[2] * shp[3])

	shift := asF64(l.Shift)
	logScale := asF64(l.LogScale)
	scale := expOf(l.LogScale)

	var sum float64
	for _, ls := range logScale {
		sum += ls
	}
	dlogdet := area * sum

	mul := make([]float64, l.c)
	add := make([]float64, l.c)
	retVal := grid.Clone().(*tensor.Dense)
	if reverse {
		for i := range mul {
			mul[i] = 1 / scale[i]
			add[i] = -shift[i]
		}
		scaleShift(retVal, mul, add)
		return retVal, logdet - dlogdet, nil
	}
	for i := range mul {
		mul[i] = scale[i]
		add[i] = shift[i] * scale[i]
	}
	scaleShift(retVal, mul, add)
	return retVal, logdet + dlogdet, nil
}

// seed performs the one way uninitialized→initialized transition, setting
// Shift to the negated per-channel mean and LogScale to the negated log of
// the per-channel standard deviation. Constant channels are floored at
// statFloor so the log stays finite.
func (l *ActNorm) seed(grid *tensor.Dense) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == initialized {
		return
	}
	mean, std := channelStats(grid)
	shift := make([]float64, l.c)
	logScale := make([]float64, l.c)
	for i := range mean {
		shift[i] = -mean[i]
		logScale[i] = -math.Log(math.Max(std[i], statFloor))
	}
	fillF64(l.Shift, shift)
	fillF64(l.LogScale, logScale)
	l.state = initialized
}

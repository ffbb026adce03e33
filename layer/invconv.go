package layer

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// InvConv mixes channels with a learned invertible linear map - the 1×1
// convolution of the Glow architecture. The same (C, C) weight multiplies
// the channel vector at every one of the H·W spatial positions, so the
// transform's log-determinant is H·W·ln|det W|.
type InvConv struct {
	Weight *tensor.Dense // (C, C)

	c int
}

// NewInvConv creates an InvConv whose weight is a random orthogonal matrix,
// the QR factor of a Gaussian draw. Orthogonal means invertible from the
// start, with |det W| = 1, so a fresh transform contributes nothing to the
// log-determinant.
func NewInvConv(channels int) (*InvConv, error) {
	if channels < 1 {
		return nil, errors.Errorf("channels must be at least 1, got %d", channels)
	}
	if err := checkFloat(); err != nil {
		return nil, err
	}
	return &InvConv{
		Weight: fromMat(orthogonal(channels), Float),
		c:      channels,
	}, nil
}

// Name implements a printable name for graph dumps.
func (l *InvConv) Name() string { return "invconv" }

// Channels returns the channel count the transform was built for.
func (l *InvConv) Channels() int { return l.c }

// Parameters returns the learnable parameters - just the weight.
func (l *InvConv) Parameters() []*tensor.Dense {
	return []*tensor.Dense{l.Weight}
}

// Apply runs the transform over a (B, C, H, W) grid. Forward multiplies
// every channel vector by the weight and adds H·W·ln|det W| to logdet;
// reverse multiplies by the inverse weight and subtracts the same amount.
// Reversing through a weight that has drifted singular fails with
// ErrSingularWeight; forward through one still runs, the accumulator just
// takes whatever ln|det| the factorization yields: -Inf on an exactly zero
// pivot, otherwise a very large negative value.
func (l *InvConv) Apply(grid *tensor.Dense, logdet float64, reverse bool) (*tensor.Dense, float64, error) {
	if err := checkGrid(grid, l.c, l.Weight.Dtype()); err != nil {
		return nil, 0, errors.Wrap(err, "invconv")
	}
	shp := grid.Shape()
	area := float64(shp[2] * shp[3])
	dlogdet := area * logAbsDet(l.Weight)

	if reverse {
		winv, err := l.inverse()
		if err != nil {
			return nil, 0, err
		}
		retVal, err := applyWeight(winv, grid)
		if err != nil {
			return nil, 0, err
		}
		return retVal, logdet - dlogdet, nil
	}

	retVal, err := applyWeight(l.Weight, grid)
	if err != nil {
		return nil, 0, err
	}
	return retVal, logdet + dlogdet, nil
}

// inverse computes W⁻¹ in float64, narrowing back to the parameter dtype.
func (l *InvConv) inverse() (*tensor.Dense, error) {
	w, done := asMat(l.Weight)
	defer done()
	var inv mat.Dense
	if err := inv.Inverse(w); err != nil {
		return nil, errors.Wrapf(ErrSingularWeight, "cannot reverse %d×%d mixing weight: %v", l.c, l.c, err)
	}
	return fromMat(&inv, l.Weight.Dtype()), nil
}

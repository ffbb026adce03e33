package layer

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// InvConvLU is InvConv with the weight held in permuted LU form,
//
//	W = P · L · (U + diag(s))
//
// where P is a fixed permutation, L is unit lower triangular, U is strictly
// upper triangular and s is the diagonal scale. The permutation and the
// signs of s are frozen at construction; L, U and log|s| are the learnable
// parameters. Per application this turns the log-determinant into the
// length-C sum H·W·Σlog|s| instead of a fresh O(C³) factorization, which is
// the point of the parameterization.
//
// Only the strict triangles of L and U are ever read, so stray writes to
// their other elements (an optimizer touching the whole tensor, say) don't
// change the transform.
type InvConvLU struct {
	L    *tensor.Dense // (C, C), strictly lower triangular, unit diagonal implied
	U    *tensor.Dense // (C, C), strictly upper triangular
	LogS *tensor.Dense // (C), log magnitudes of the diagonal scale

	perm  []int     // row i of W is row perm[i] of L·(U+diag(s))
	signS []float64 // fixed signs of the diagonal scale
	c     int
}

// NewInvConvLU creates an InvConvLU by drawing a random orthogonal weight
// and LU-decomposing it, so it starts out equivalent to a fresh InvConv:
// invertible, with |det W| = 1.
func NewInvConvLU(channels int) (*InvConvLU, error) {
	if channels < 1 {
		return nil, errors.Errorf("channels must be at least 1, got %d", channels)
	}
	if err := checkFloat(); err != nil {
		return nil, err
	}

	w := orthogonal(channels)
	var lu mat.LU
	lu.Factorize(w)
	var lt, ut mat.TriDense
	lu.LTo(&lt)
	lu.UTo(&ut)

	c := channels
	strictL := make([]float64, c*c)
	strictU := make([]float64, c*c)
	logS := make([]float64, c)
	signS := make([]float64, c)
	for i := 0; i < c; i++ {
		for j := 0; j < i; j++ {
			strictL[i*c+j] = lt.At(i, j)
		}
		for j := i + 1; j < c; j++ {
			strictU[i*c+j] = ut.At(i, j)
		}
		d := ut.At(i, i)
		signS[i] = 1
		if d < 0 {
			signS[i] = -1
		}
		logS[i] = math.Log(math.Abs(d))
	}

	// gonum's factorization pivots rows, so L·U is W with its rows shuffled.
	// Match rows to recover the permutation.
	var prod mat.Dense
	prod.Mul(&lt, &ut)
	perm := matchRows(w, &prod)

	return &InvConvLU{
		L:     denseFrom(strictL, Float, c, c),
		U:     denseFrom(strictU, Float, c, c),
		LogS:  denseFrom(logS, Float, c),
		perm:  perm,
		signS: signS,
		c:     c,
	}, nil
}

// Name implements a printable name for graph dumps.
func (l *InvConvLU) Name() string { return "invconv(lu)" }

// Channels returns the channel count the transform was built for.
func (l *InvConvLU) Channels() int { return l.c }

// Parameters returns the learnable parameters: L, U, then LogS.
func (l *InvConvLU) Parameters() []*tensor.Dense {
	return []*tensor.Dense{l.L, l.U, l.LogS}
}

// Weight recomposes and returns the dense mixing weight. The result is a
// fresh tensor; mutating it does not touch the factors.
func (l *InvConvLU) Weight() *tensor.Dense {
	return fromMat(l.compose(), l.L.Dtype())
}

// Apply runs the transform over a (B, C, H, W) grid, exactly like
// InvConv.Apply except that the log-determinant is read off the diagonal
// scale instead of being computed by factorization.
func (l *InvConvLU) Apply(grid *tensor.Dense, logdet float64, reverse bool) (*tensor.Dense, float64, error) {
	if err := checkGrid(grid, l.c, l.L.Dtype()); err != nil {
		return nil, 0, errors.Wrap(err, "invconv(lu)")
	}
	shp := grid.Shape()
	area := float64(shp[2] * shp[3])

	var sum float64
	for _, v := range asF64(l.LogS) {
		sum += v
	}
	dlogdet := area * sum

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

	retVal, err := applyWeight(fromMat(l.compose(), l.L.Dtype()), grid)
	if err != nil {
		return nil, 0, err
	}
	return retVal, logdet + dlogdet, nil
}

// compose rebuilds the dense weight W = P·L·(U+diag(s)) in float64, reading
// only the strict triangles of the factor tensors.
func (l *InvConvLU) compose() *mat.Dense {
	c := l.c
	ldata := asF64(l.L)
	udata := asF64(l.U)
	logS := asF64(l.LogS)

	lt := mat.NewDense(c, c, nil)
	uf := mat.NewDense(c, c, nil)
	for i := 0; i < c; i++ {
		lt.Set(i, i, 1)
		uf.Set(i, i, l.signS[i]*math.Exp(logS[i]))
		for j := 0; j < i; j++ {
			lt.Set(i, j, ldata[i*c+j])
		}
		for j := i + 1; j < c; j++ {
			uf.Set(i, j, udata[i*c+j])
		}
	}

	var prod mat.Dense
	prod.Mul(lt, uf)
	retVal := mat.NewDense(c, c, nil)
	for i := 0; i < c; i++ {
		retVal.SetRow(i, prod.RawRowView(l.perm[i]))
	}
	return retVal
}

// inverse inverts through the factors rather than the recomposed weight:
// W⁻¹ = (U+diag(s))⁻¹ · L⁻¹ · Pᵀ, two triangular inverses.
func (l *InvConvLU) inverse() (*tensor.Dense, error) {
	c := l.c
	ldata := asF64(l.L)
	udata := asF64(l.U)
	logS := asF64(l.LogS)

	lt := mat.NewTriDense(c, mat.Lower, nil)
	ut := mat.NewTriDense(c, mat.Upper, nil)
	for i := 0; i < c; i++ {
		lt.SetTri(i, i, 1)
		ut.SetTri(i, i, l.signS[i]*math.Exp(logS[i]))
		for j := 0; j < i; j++ {
			lt.SetTri(i, j, ldata[i*c+j])
		}
		for j := i + 1; j < c; j++ {
			ut.SetTri(i, j, udata[i*c+j])
		}
	}

	var linv, uinv mat.TriDense
	if err := linv.InverseTri(lt); err != nil {
		return nil, errors.Wrapf(ErrSingularWeight, "cannot reverse lower factor: %v", err)
	}
	if err := uinv.InverseTri(ut); err != nil {
		return nil, errors.Wrapf(ErrSingularWeight, "cannot reverse diagonal scale: %v", err)
	}

	var prod mat.Dense
	prod.Mul(&uinv, &linv)
	// right-multiplying by Pᵀ gathers columns: column j of W⁻¹ is column
	// perm[j] of (U+diag(s))⁻¹·L⁻¹.
	retVal := mat.NewDense(c, c, nil)
	for j := 0; j < c; j++ {
		for i := 0; i < c; i++ {
			retVal.Set(i, j, prod.At(i, l.perm[j]))
		}
	}
	return fromMat(retVal, l.L.Dtype()), nil
}

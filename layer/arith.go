package layer

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
	"gorgonia.org/vecf64"
)

// blockOf wraps a contiguous region of a backing slice as a dense tensor.
// No copying happens - writes to the result are writes to the backing.
func blockOf(backing interface{}, from, to int, shape ...int) *tensor.Dense {
	switch data := backing.(type) {
	case []float64:
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data[from:to]))
	case []float32:
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data[from:to]))
	}
	panic("unreachable")
}

// asMat exposes a square weight tensor to gonum as float64. float64 backings
// are wrapped in place; float32 backings are widened into pooled scratch,
// which done releases. The result is read-only either way.
func asMat(t *tensor.Dense) (w *mat.Dense, done func()) {
	r, c := t.Shape()[0], t.Shape()[1]
	switch data := t.Data().(type) {
	case []float64:
		return mat.NewDense(r, c, data), func() {}
	case []float32:
		buf := borrowF64(r * c)
		for i, v := range data {
			buf[i] = float64(v)
		}
		return mat.NewDense(r, c, buf), func() { returnF64(buf) }
	}
	panic("unreachable")
}

// fromMat materializes a gonum matrix as a dense tensor of the given dtype.
func fromMat(m mat.Matrix, dt tensor.Dtype) *tensor.Dense {
	r, c := m.Dims()
	switch dt {
	case tensor.Float64:
		data := make([]float64, r*c)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				data[i*c+j] = m.At(i, j)
			}
		}
		return tensor.New(tensor.WithShape(r, c), tensor.WithBacking(data))
	case tensor.Float32:
		data := make([]float32, r*c)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				data[i*c+j] = float32(m.At(i, j))
			}
		}
		return tensor.New(tensor.WithShape(r, c), tensor.WithBacking(data))
	}
	panic("unreachable")
}

// denseFrom materializes float64 values as a dense tensor of the given dtype.
func denseFrom(vals []float64, dt tensor.Dtype, shape ...int) *tensor.Dense {
	switch dt {
	case tensor.Float64:
		data := make([]float64, len(vals))
		copy(data, vals)
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	case tensor.Float32:
		data := make([]float32, len(vals))
		for i, v := range vals {
			data[i] = float32(v)
		}
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	}
	panic("unreachable")
}

// asF64 copies a parameter tensor's elements out as float64.
func asF64(t *tensor.Dense) []float64 {
	switch data := t.Data().(type) {
	case []float64:
		retVal := make([]float64, len(data))
		copy(retVal, data)
		return retVal
	case []float32:
		retVal := make([]float64, len(data))
		for i, v := range data {
			retVal[i] = float64(v)
		}
		return retVal
	}
	panic("unreachable")
}

// fillF64 writes float64 values into a parameter tensor, narrowing if needed.
func fillF64(t *tensor.Dense, vals []float64) {
	switch data := t.Data().(type) {
	case []float64:
		copy(data, vals)
	case []float32:
		for i, v := range vals {
			data[i] = float32(v)
		}
	}
}

// expOf exponentiates a parameter vector elementwise in its own dtype -
// float32 parameters get float32 exp, same as the rest of the float32
// kernels - then widens the result.
func expOf(t *tensor.Dense) []float64 {
	switch data := t.Data().(type) {
	case []float64:
		retVal := make([]float64, len(data))
		for i, v := range data {
			retVal[i] = math.Exp(v)
		}
		return retVal
	case []float32:
		retVal := make([]float64, len(data))
		for i, v := range data {
			retVal[i] = float64(math32.Exp(v))
		}
		return retVal
	}
	panic("unreachable")
}

// applyWeight multiplies every channel vector of grid by the (C, C) weight.
// Each batch element occupies a contiguous block of the backing, so it can
// be treated as a (C, H*W) matrix without copying and the whole thing
// becomes B matrix multiplications.
func applyWeight(w, grid *tensor.Dense) (*tensor.Dense, error) {
	shp := grid.Shape()
	b, c, hw := shp[0], shp[1], shp[2]*shp[3]
	retVal := tensor.New(tensor.Of(grid.Dtype()), tensor.WithShape(shp.Clone()...))
	for i := 0; i < b; i++ {
		x := blockOf(grid.Data(), i*c*hw, (i+1)*c*hw, c, hw)
		y := blockOf(retVal.Data(), i*c*hw, (i+1)*c*hw, c, hw)
		if _, err := w.MatMul(x, tensor.WithReuse(y)); err != nil {
			return nil, errors.Wrapf(err, "mixing channels of batch element %d", i)
		}
	}
	return retVal, nil
}

// channelStats computes the per-channel mean and population standard
// deviation of a (B, C, H, W) grid over all batch and spatial positions.
func channelStats(grid *tensor.Dense) (mean, std []float64) {
	shp := grid.Shape()
	b, c, hw := shp[0], shp[1], shp[2]*shp[3]
	mean = make([]float64, c)
	std = make([]float64, c)

	switch data := grid.Data().(type) {
	case []float64:
		n := float64(b * hw)
		for i := 0; i < b; i++ {
			for j := 0; j < c; j++ {
				block := data[(i*c+j)*hw : (i*c+j+1)*hw]
				for _, v := range block {
					mean[j] += v
				}
			}
		}
		for j := range mean {
			mean[j] /= n
		}
		for i := 0; i < b; i++ {
			for j := 0; j < c; j++ {
				block := data[(i*c+j)*hw : (i*c+j+1)*hw]
				for _, v := range block {
					d := v - mean[j]
					std[j] += d * d
				}
			}
		}
		for j := range std {
			std[j] = math.Sqrt(std[j] / n)
		}
	case []float32:
		n := float32(b * hw)
		mean32 := make([]float32, c)
		std32 := make([]float32, c)
		for i := 0; i < b; i++ {
			for j := 0; j < c; j++ {
				block := data[(i*c+j)*hw : (i*c+j+1)*hw]
				for _, v := range block {
					mean32[j] += v
				}
			}
		}
		for j := range mean32 {
			mean32[j] /= n
		}
		for i := 0; i < b; i++ {
			for j := 0; j < c; j++ {
				block := data[(i*c+j)*hw : (i*c+j+1)*hw]
				for _, v := range block {
					d := v - mean32[j]
					std32[j] += d * d
				}
			}
		}
		for j := range std32 {
			mean[j] = float64(mean32[j])
			std[j] = float64(math32.Sqrt(std32[j] / n))
		}
	}
	return mean, std
}

// scaleShift rescales every channel block of t in place:
// block = block*mul[c] + add[c].
func scaleShift(t *tensor.Dense, mul, add []float64) {
	shp := t.Shape()
	b, c, hw := shp[0], shp[1], shp[2]*shp[3]
	switch data := t.Data().(type) {
	case []float64:
		for i := 0; i < b; i++ {
			for j := 0; j < c; j++ {
				block := data[(i*c+j)*hw : (i*c+j+1)*hw]
				vecf64.Scale(block, mul[j])
				vecf64.Trans(block, add[j])
			}
		}
	case []float32:
		for i := 0; i < b; i++ {
			for j := 0; j < c; j++ {
				block := data[(i*c+j)*hw : (i*c+j+1)*hw]
				vecf32.Scale(block, float32(mul[j]))
				vecf32.Trans(block, float32(add[j]))
			}
		}
	}
}

// orthogonal draws a square Gaussian matrix and returns its QR orthogonal
// factor. Always float64 - narrowing happens when the parameter tensor is
// built.
func orthogonal(c int) *mat.Dense {
	backing := G.Gaussian(0, 1)(tensor.Float64, c, c).([]float64)
	var qr mat.QR
	qr.Factorize(mat.NewDense(c, c, backing))
	var q mat.Dense
	qr.QTo(&q)
	return &q
}

// logAbsDet returns ln|det W| of a square weight. An exactly singular weight
// comes back as -Inf, not an error; a nearly singular one merely comes back
// very negative.
func logAbsDet(w *tensor.Dense) float64 {
	m, done := asMat(w)
	defer done()
	var lu mat.LU
	lu.Factorize(m)
	retVal, _ := lu.LogDet()
	return retVal
}

// matchRows maps each row of w to the nearest row of m. w is a row
// permutation of m up to floating point noise, so greedy nearest-unused
// matching recovers the permutation exactly.
func matchRows(w, m *mat.Dense) []int {
	r, c := w.Dims()
	retVal := make([]int, r)
	used := make([]bool, r)
	for i := 0; i < r; i++ {
		best, bestDist := -1, math.Inf(1)
		for j := 0; j < r; j++ {
			if used[j] {
				continue
			}
			var dist float64
			for k := 0; k < c; k++ {
				d := w.At(i, k) - m.At(j, k)
				dist += d * d
			}
			if dist < bestDist {
				best, bestDist = j, dist
			}
		}
		retVal[i] = best
		used[best] = true
	}
	return retVal
}

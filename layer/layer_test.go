package layer

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func randGrid(b, c, h, w int) *tensor.Dense {
	return tensor.New(
		tensor.WithShape(b, c, h, w),
		tensor.WithBacking(G.Gaussian(0, 1)(Float, b, c, h, w)),
	)
}

func maxAbsDiff(a, b *tensor.Dense) float64 {
	var retVal float64
	switch ad := a.Data().(type) {
	case []float64:
		bd := b.Data().([]float64)
		for i := range ad {
			if d := math.Abs(ad[i] - bd[i]); d > retVal {
				retVal = d
			}
		}
	case []float32:
		bd := b.Data().([]float32)
		for i := range ad {
			if d := math.Abs(float64(ad[i] - bd[i])); d > retVal {
				retVal = d
			}
		}
	}
	return retVal
}

var badGrids = []struct {
	name string
	grid *tensor.Dense
}{
	{"nil grid", nil},
	{"3D grid", tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(2, 3, 4))},
	{"5D grid", tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(2, 3, 4, 4, 1))},
	{"wrong channels", tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(2, 4, 4, 4))},
	{"wrong dtype", tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(2, 3, 4, 4))},
}

func TestCheckGrid(t *testing.T) {
	for _, c := range badGrids {
		err := checkGrid(c.grid, 3, tensor.Float64)
		if errors.Cause(err) != ErrShapeMismatch {
			t.Errorf("%v: expected ErrShapeMismatch, got %v", c.name, err)
		}
	}

	ok := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(2, 3, 4, 4))
	if err := checkGrid(ok, 3, tensor.Float64); err != nil {
		t.Errorf("expected a well formed grid to pass validation, got %v", err)
	}
}

// the smallest case: one channel, one spatial position. Length-1 parameter
// tensors stay slice backed and every transform still round trips.
func TestSingleChannel(t *testing.T) {
	assert := assert.New(t)
	norm, err := NewActNorm(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	mix, err := NewInvConv(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	mixLU, err := NewInvConvLU(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.IsType([]float64{}, norm.Shift.Data())
	assert.IsType([]float64{}, norm.LogScale.Data())
	assert.IsType([]float64{}, mixLU.LogS.Data())

	x := tensor.New(tensor.WithShape(1, 1, 1, 1), tensor.WithBacking([]float64{3}))
	steps := []interface {
		Apply(*tensor.Dense, float64, bool) (*tensor.Dense, float64, error)
	}{norm, mix, mixLU}
	for i, step := range steps {
		y, logdet, err := step.Apply(x, 0, false)
		if err != nil {
			t.Fatalf("transform %d: %+v", i, err)
		}
		back, logdet, err := step.Apply(y, logdet, true)
		if err != nil {
			t.Fatalf("transform %d: %+v", i, err)
		}
		assert.InDelta(0, maxAbsDiff(x, back), 1e-9, "transform %d must round trip", i)
		assert.InDelta(0, logdet, 1e-9, "transform %d must restore the accumulator", i)
	}
}
